package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/coreswarm/swarm/internal/config"
	"github.com/coreswarm/swarm/internal/persistence"
	"github.com/coreswarm/swarm/internal/plan"
)

// newPlanCommand creates the plan command group: approve and reject
// act on the pending plan a prior `swarm run --plan-mode` left queued.
func newPlanCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Inspect and resolve a pending plan left by a plan-mode run",
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", ".swarm/config.yaml", "path to config file")

	cmd.AddCommand(newPlanShowCommand(&configPath))
	cmd.AddCommand(newPlanApproveCommand(&configPath))
	cmd.AddCommand(newPlanRejectCommand(&configPath))

	return cmd
}

func openPlanStore(configPath string) (*config.SwarmConfig, *persistence.Store, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	store, err := persistence.New(cfg.Persistence.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open persistence store: %w", err)
	}
	return cfg, store, nil
}

func loadPlan(ctx context.Context, store *persistence.Store, planID string) (*plan.Manager, error) {
	mgr := plan.New()
	if err := mgr.Load(ctx, store, planID); err != nil {
		return nil, fmt.Errorf("load plan %s: %w", planID, err)
	}
	return mgr, nil
}

func newPlanShowCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "show <plan-id>",
		Short: "Show a pending plan's queued changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			_, store, err := openPlanStore(*configPath)
			if err != nil {
				return err
			}
			defer store.Close()

			mgr, err := loadPlan(c.Context(), store, args[0])
			if err != nil {
				return err
			}
			current, _ := mgr.Current()
			fmt.Printf("plan %s (%s) for: %s\n", current.ID, current.Status, current.Task)
			for i, change := range current.ProposedChanges {
				fmt.Printf("  [%d] %s %v -- %s\n", i, change.Tool, change.Args, change.Reason)
			}
			return nil
		},
	}
}

func newPlanApproveCommand(configPath *string) *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "approve <plan-id>",
		Short: "Approve some or all of a pending plan's queued changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			_, store, err := openPlanStore(*configPath)
			if err != nil {
				return err
			}
			defer store.Close()

			mgr, err := loadPlan(c.Context(), store, args[0])
			if err != nil {
				return err
			}

			var n *int
			if count > 0 {
				n = &count
			}
			approved, err := mgr.Approve(n)
			if err != nil {
				return fmt.Errorf("approve: %w", err)
			}
			if err := mgr.Save(c.Context(), store); err != nil {
				return fmt.Errorf("save plan: %w", err)
			}
			fmt.Printf("approved %d change(s)\n", len(approved))
			return nil
		},
	}
	cmd.Flags().IntVar(&count, "count", 0, "approve only the first N queued changes (0 = all)")
	return cmd
}

func newPlanRejectCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "reject <plan-id>",
		Short: "Reject a pending plan and clear its queued changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			_, store, err := openPlanStore(*configPath)
			if err != nil {
				return err
			}
			defer store.Close()

			mgr, err := loadPlan(c.Context(), store, args[0])
			if err != nil {
				return err
			}
			if err := mgr.Reject(); err != nil {
				return fmt.Errorf("reject: %w", err)
			}
			if err := mgr.Save(c.Context(), store); err != nil {
				return fmt.Errorf("save plan: %w", err)
			}
			fmt.Println("plan rejected")
			return nil
		},
	}
}
