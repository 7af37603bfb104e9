package main

import (
	"encoding/json"

	"github.com/caffeineduck/gorex/extract"
	"github.com/caffeineduck/gorex/metrics"
	"github.com/caffeineduck/gorex/pool"
	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Describe the extractor module and the warm pool",
	Long: `Load the extractor, pre-warm the pool, and print the guest's own
description, its supported modes, a health probe and the pool metrics.`,
	Args: cobra.NoArgs,
	RunE: runInfo,
}

func init() {
	rootCmd.AddCommand(infoCmd)
}

type infoOutput struct {
	Guest     string               `json:"guest"`
	Info      extract.Info         `json:"info"`
	Modes     []string             `json:"modes"`
	Health    extract.HealthStatus `json:"health"`
	Pool      metrics.PoolMetrics  `json:"pool"`
	Instances []pool.InstanceStats `json:"instances"`
}

func runInfo(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd, metrics.Nop{})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	out := infoOutput{Guest: a.svc.Guest()}
	if out.Info, err = a.svc.Info(ctx); err != nil {
		return err
	}
	if out.Modes, err = a.svc.Modes(ctx); err != nil {
		return err
	}
	if out.Health, err = a.svc.Health(ctx); err != nil {
		return err
	}
	out.Pool = a.svc.Metrics()
	out.Instances = a.svc.Instances()

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
