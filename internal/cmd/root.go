// Package cmd wires the swarm CLI's cobra commands: run, plan, and
// audit, each thin over the internal/orchestrator, internal/plan, and
// internal/audit packages.
package cmd

import (
	"github.com/spf13/cobra"
)

// NewRootCommand creates and returns the root cobra command for swarm.
func NewRootCommand(version string) *cobra.Command {
	root := &cobra.Command{
		Use:   "swarm",
		Short: "Execution control plane for a multi-agent code-modification swarm",
		Long: `swarm decomposes a goal into subtasks, schedules them into
dependency-respecting waves, and dispatches each wave to a pool of
worker agents under budget, loop-detection, quality, and approval
gates, recording every consequential step to an audit ledger.`,
		Version:      version,
		SilenceUsage: true,
	}

	root.AddCommand(newRunCommand())
	root.AddCommand(newPlanCommand())
	root.AddCommand(newAuditCommand())

	return root
}
