// Package plan implements the plan command, printing the hardware inventory
// and the worker-loading plan without starting anything.
package plan

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/pictora/pictora-go/internal/conf"
	"github.com/pictora/pictora-go/internal/hardware"
	"github.com/pictora/pictora-go/internal/planner"
)

// Command returns the plan command.
func Command(settings *conf.Settings) *cobra.Command {
	var strategy string

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show the hardware inventory and the vision worker plan",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, settings, strategy)
		},
	}
	cmd.Flags().StringVar(&strategy, "strategy", "", "Planning strategy (cpu_only, specific, all_gpus, single_best, auto)")
	return cmd
}

func run(cmd *cobra.Command, settings *conf.Settings, strategy string) error {
	if strategy == "" {
		strategy = settings.Vision.Strategy
	}

	inventory, err := hardware.Snapshot(cmd.Context())
	if err != nil {
		return fmt.Errorf("hardware snapshot failed: %w", err)
	}

	limits := planner.LimitsFromConfig(&settings.Vision)
	entries := planner.Plan(planner.Strategy(strategy), inventory, limits)

	report := struct {
		Strategy  string             `yaml:"strategy"`
		Inventory hardware.Inventory `yaml:"inventory"`
		Plan      []planner.Entry    `yaml:"plan"`
		Total     int                `yaml:"total_instances"`
	}{
		Strategy:  strategy,
		Inventory: inventory,
		Plan:      entries,
		Total:     planner.TotalInstances(entries),
	}

	out, err := yaml.Marshal(&report)
	if err != nil {
		return err
	}
	cmd.Println(string(out))
	return nil
}
