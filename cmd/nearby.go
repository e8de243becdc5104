package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/geodata-tw/doorplate/internal/query"
)

var (
	nearbyLat    float64
	nearbyLng    float64
	nearbyRadius float64
	nearbyLimit  int
)

var nearbyCmd = &cobra.Command{
	Use:   "nearby",
	Short: "Find addresses within a radius of a point",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		s, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		out, err := query.New(s, cfg.Query).Nearby(ctx, nearbyLat, nearbyLng, nearbyRadius, nearbyLimit)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func init() {
	nearbyCmd.Flags().Float64Var(&nearbyLat, "lat", 0, "latitude of the center point (required)")
	nearbyCmd.Flags().Float64Var(&nearbyLng, "lng", 0, "longitude of the center point (required)")
	nearbyCmd.Flags().Float64Var(&nearbyRadius, "radius", 500, "search radius in meters")
	nearbyCmd.Flags().IntVar(&nearbyLimit, "limit", 0, "maximum results (default from config)")
	_ = nearbyCmd.MarkFlagRequired("lat")
	_ = nearbyCmd.MarkFlagRequired("lng")
	rootCmd.AddCommand(nearbyCmd)
}
