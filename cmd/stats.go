package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/geodata-tw/doorplate/internal/query"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Manage the statistics cache",
}

var statsRebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Rebuild the statistics cache from the addresses table",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		s, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		if err := s.RebuildStats(ctx); err != nil {
			return err
		}

		zap.L().Info("statistics cache rebuilt")
		return nil
	},
}

var statsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print dataset totals and the per-district breakdown",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		s, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		o, err := query.New(s, cfg.Query).Overview(ctx)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(o)
	},
}

func init() {
	statsCmd.AddCommand(statsRebuildCmd)
	statsCmd.AddCommand(statsShowCmd)
	rootCmd.AddCommand(statsCmd)
}
