package cmd

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/coreswarm/swarm/internal/audit"
	"github.com/coreswarm/swarm/internal/config"
	"github.com/coreswarm/swarm/internal/persistence"
)

// newAuditCommand creates the audit command group.
func newAuditCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Query a session's recorded audit ledger entries",
	}
	cmd.AddCommand(newAuditQueryCommand())
	return cmd
}

func newAuditQueryCommand() *cobra.Command {
	var configPath string
	var sessionID string
	var actorID string
	var actionType string
	var format string

	cmd := &cobra.Command{
		Use:   "query",
		Short: "List audit ledger entries for a session",
		Long: `Query the audit ledger saved by a prior run.

--format text prints a plain table (the default). --format md emits a
markdown table. --format html renders that same markdown table to HTML
via goldmark, for embedding in a report.`,
		RunE: func(c *cobra.Command, args []string) error {
			if sessionID == "" {
				return fmt.Errorf("--session is required")
			}

			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			store, err := persistence.New(cfg.Persistence.DBPath)
			if err != nil {
				return fmt.Errorf("open persistence store: %w", err)
			}
			defer store.Close()

			ledger := audit.New(nil)
			if err := ledger.Load(c.Context(), store, sessionID); err != nil {
				return fmt.Errorf("load audit ledger for session %s: %w", sessionID, err)
			}

			entries := ledger.Query(audit.Query{SessionID: sessionID, ActorID: actorID, ActionType: actionType})

			switch format {
			case "md":
				fmt.Print(renderMarkdownTable(entries))
			case "html":
				html, err := renderHTMLTable(entries)
				if err != nil {
					return fmt.Errorf("render html: %w", err)
				}
				fmt.Print(html)
			default:
				renderTextTable(entries)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", ".swarm/config.yaml", "path to config file")
	cmd.Flags().StringVar(&sessionID, "session", "", "session id to query (required)")
	cmd.Flags().StringVar(&actorID, "actor", "", "filter to entries for this actor id")
	cmd.Flags().StringVar(&actionType, "action", "", "filter to entries matching this action type")
	cmd.Flags().StringVar(&format, "format", "text", "output format: text, md, or html")

	return cmd
}

func renderTextTable(entries []audit.Entry) {
	for _, e := range entries {
		fmt.Printf("%s  %-20s  %-10s  %-20s  reversible=%v\n",
			e.Timestamp.Format("2006-01-02T15:04:05"), e.EventType, e.ActorID, e.ActionType, e.Reversible)
	}
}

func renderMarkdownTable(entries []audit.Entry) string {
	var b strings.Builder
	b.WriteString("| Timestamp | Event | Actor | Action | Reversible |\n")
	b.WriteString("|---|---|---|---|---|\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %v |\n",
			e.Timestamp.Format("2006-01-02T15:04:05"), e.EventType, e.ActorID, e.ActionType, e.Reversible)
	}
	return b.String()
}

func renderHTMLTable(entries []audit.Entry) (string, error) {
	markdown := renderMarkdownTable(entries)
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	var buf bytes.Buffer
	if err := md.Convert([]byte(markdown), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}
