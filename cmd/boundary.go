package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/geodata-tw/doorplate/internal/boundary"
	"github.com/geodata-tw/doorplate/internal/store"
)

var boundaryShpPath string

var boundaryCmd = &cobra.Command{
	Use:   "boundary",
	Short: "Load village boundary shapefiles",
}

var boundaryLoadCmd = &cobra.Command{
	Use:   "load",
	Short: "Load a TWD97 village boundary shapefile into PostGIS",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		s, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		pg, ok := s.(*store.PostgresStore)
		if !ok || !pg.SupportsSpatialIndex() {
			return eris.New("boundary load requires a Postgres store with PostGIS")
		}
		if err := pg.Migrate(ctx); err != nil {
			return err
		}

		sum, err := boundary.Load(ctx, pg.DBPool(), boundaryShpPath)
		if err != nil {
			return err
		}

		zap.L().Info("boundary load complete",
			zap.String("shapefile", boundaryShpPath),
			zap.Int("read", sum.Read),
			zap.Int("loaded", sum.Loaded),
			zap.Int("skipped", sum.Skipped),
		)
		return nil
	},
}

func init() {
	boundaryLoadCmd.Flags().StringVar(&boundaryShpPath, "shp", "", "path to .shp file (required)")
	_ = boundaryLoadCmd.MarkFlagRequired("shp")
	boundaryCmd.AddCommand(boundaryLoadCmd)
	rootCmd.AddCommand(boundaryCmd)
}
