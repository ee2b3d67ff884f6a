package commands

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/54b3r/studycrew-go/internal/ingestion"
	"github.com/54b3r/studycrew-go/internal/logging"
)

// NewIngestCmd constructs the `studycrew ingest` command, which extracts,
// chunks and indexes local files so they can be queried.
func NewIngestCmd() *cobra.Command {
	var concurrency int

	cmd := &cobra.Command{
		Use:   "ingest <file>...",
		Short: "Ingest PDF, DOCX or TXT files into the document index",
		Long: `Extract text from each file, split it into overlapping chunks, embed the
chunks and register the resulting index under the file's base name.

Re-ingesting a file with the same base name replaces its index. A file
that yields no text is reported as failed and is not registered.

Examples:
  studycrew ingest notes/biology.pdf
  studycrew ingest --concurrency 4 lectures/*.docx
  EMBEDDING_PROVIDER=local studycrew ingest syllabus.txt`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New()
			ctx := logging.WithLogger(cmd.Context(), log)

			a, err := buildApp(ctx, log, nil)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer a.Close()

			results := make([]ingestion.Result, len(args))
			g, gctx := errgroup.WithContext(ctx)
			g.SetLimit(max(concurrency, 1))
			for i, path := range args {
				g.Go(func() error {
					results[i] = a.svc.IngestFile(gctx, path)
					return nil
				})
			}
			_ = g.Wait()

			failed := printResults(cmd.OutOrStdout(), args, results)
			if failed > 0 {
				log.Warn("ingest: some files failed", slog.Int("failed", failed), slog.Int("total", len(args)))
				return fmt.Errorf("ingest: %d of %d files failed", failed, len(args))
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&concurrency, "concurrency", "c", ingestion.DefaultConcurrency, "Files ingested in parallel")

	return cmd
}

// printResults writes one line per file and returns the number of failures.
func printResults(w io.Writer, paths []string, results []ingestion.Result) int {
	failed := 0
	for i, res := range results {
		if res.Err != nil {
			failed++
			fmt.Fprintln(w, warningStyle.Render(fmt.Sprintf("✗ %s: %v", paths[i], res.Err)))
			continue
		}
		fmt.Fprintf(w, "%s %s %s\n",
			headerStyle.Render("✓ "+res.Name),
			mutedStyle.Render(fmt.Sprintf("%d chunks", res.Chunks)),
			mutedStyle.Render(res.Duration.Round(time.Millisecond).String()))
	}
	return failed
}
