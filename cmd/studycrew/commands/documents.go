package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/54b3r/studycrew-go/internal/logging"
	"github.com/54b3r/studycrew-go/internal/service"
)

// NewDocumentsCmd constructs the `studycrew documents` command group.
func NewDocumentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "documents",
		Aliases: []string{"docs"},
		Short:   "List or delete ingested documents",
	}
	cmd.AddCommand(newDocumentsListCmd(), newDocumentsDeleteCmd())
	return cmd
}

func newDocumentsListCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List known documents, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()
			ctx := logging.WithLogger(cmd.Context(), log)

			a, err := buildApp(ctx, log, nil)
			if err != nil {
				return fmt.Errorf("documents: %w", err)
			}
			defer a.Close()

			docs, err := a.svc.ListDocuments(ctx)
			if err != nil {
				return err //nolint:wrapcheck // CLI entry point, error goes directly to cobra
			}
			if asJSON {
				if docs == nil {
					docs = []service.DocumentInfo{}
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(docs)
			}
			return printDocuments(cmd.OutOrStdout(), docs)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print documents as JSON")

	return cmd
}

func newDocumentsDeleteCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "delete [name]",
		Short: "Delete a document's index, upload and catalog entry",
		Long: `Delete one document by name, or every document with --all.

Examples:
  studycrew documents delete biology
  studycrew documents delete --all`,
		Args: func(cmd *cobra.Command, args []string) error {
			if all {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New()
			ctx := logging.WithLogger(cmd.Context(), log)

			a, err := buildApp(ctx, log, nil)
			if err != nil {
				return fmt.Errorf("documents: %w", err)
			}
			defer a.Close()

			if all {
				n, err := a.svc.DeleteAll(ctx)
				if err != nil {
					return err //nolint:wrapcheck // CLI entry point, error goes directly to cobra
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %d documents\n", n)
				return nil
			}
			if err := a.svc.Delete(ctx, args[0]); err != nil {
				return err //nolint:wrapcheck // CLI entry point, error goes directly to cobra
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Delete every document")

	return cmd
}

// printDocuments writes docs as an aligned table.
func printDocuments(w io.Writer, docs []service.DocumentInfo) error {
	if len(docs) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("no documents"))
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSTATUS\tCHUNKS\tQUERYABLE\tUPLOADED")
	for _, d := range docs {
		status := string(d.Status)
		if d.Error != "" {
			status += " (" + d.Error + ")"
		}
		uploaded := "-"
		if !d.UploadedAt.IsZero() {
			uploaded = d.UploadedAt.Local().Format(time.DateTime)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%t\t%s\n", d.Name, status, d.Chunks, d.Queryable, uploaded)
	}
	return tw.Flush()
}
