package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/54b3r/studycrew-go/internal/logging"
	"github.com/54b3r/studycrew-go/internal/service"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	roleStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	answerStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

// NewAskCmd constructs the `studycrew ask` command, which answers one
// question against an ingested document and prints the result.
func NewAskCmd() *cobra.Command {
	var (
		doc      string
		strategy string
		topK     int
		experts  bool
		passages bool
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask the study crew a question about a document",
		Long: `Ask a question about an ingested document.

Passages are retrieved with the chosen strategy (similarity, mmr, detailed or
smart), answered by each expert, and condensed into one final answer.
Without --doc the most recently uploaded document is used.

Examples:
  studycrew ask "what is osmosis?"
  studycrew ask --doc biology --strategy mmr "compare mitosis and meiosis"
  studycrew ask --experts --top-k 8 "explain the krebs cycle"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New()
			ctx := logging.WithLogger(cmd.Context(), log)

			a, err := buildApp(ctx, log, nil)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer a.Close()

			q := service.Query{
				Document: doc,
				Question: strings.Join(args, " "),
				Strategy: strategy,
			}
			if cmd.Flags().Changed("top-k") {
				q.TopK = &topK
			}
			ans, err := a.svc.Query(ctx, q)
			if err != nil {
				return err //nolint:wrapcheck // CLI entry point, error goes directly to cobra
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(ans)
			}
			renderAnswer(cmd.OutOrStdout(), ans, experts, passages)
			return nil
		},
	}

	cmd.Flags().StringVarP(&doc, "doc", "d", "", "Document to ask about (default: most recent upload)")
	cmd.Flags().StringVarP(&strategy, "strategy", "s", "", "Retrieval strategy: similarity, mmr, detailed or smart (default from SEARCH_METHOD)")
	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "Number of passages to retrieve (default from TOP_K_DOCUMENTS)")
	cmd.Flags().BoolVar(&experts, "experts", false, "Also print each expert's answer")
	cmd.Flags().BoolVar(&passages, "passages", false, "Also print the retrieved passages")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full answer as JSON")

	return cmd
}

// renderAnswer writes a human-readable answer to w.
func renderAnswer(w io.Writer, ans *service.Answer, showExperts, showPassages bool) {
	summary := fmt.Sprintf("%s · %s · %d passages · %s",
		ans.Document, ans.Strategy, len(ans.Passages), ans.Duration.Round(time.Millisecond))
	fmt.Fprintln(w, headerStyle.Render("Answer"))
	fmt.Fprintln(w, mutedStyle.Render(summary))
	if ans.FellBack {
		fmt.Fprintln(w, warningStyle.Render(fmt.Sprintf("%s unavailable, fell back to %s", ans.Requested, ans.Strategy)))
	}

	if showPassages {
		fmt.Fprintln(w)
		fmt.Fprintln(w, headerStyle.Render("Passages"))
		for _, p := range ans.Passages {
			label := fmt.Sprintf("#%d distance %.3f", p.Position, p.Distance)
			if p.Tier != "" {
				label += " " + p.Tier
			}
			fmt.Fprintln(w, mutedStyle.Render(label))
			fmt.Fprintln(w, p.Content)
		}
	}

	if showExperts {
		for _, e := range ans.Experts {
			fmt.Fprintln(w)
			fmt.Fprintln(w, roleStyle.Render(e.Role)+" "+mutedStyle.Render(e.Duration.Round(time.Millisecond).String()))
			fmt.Fprintln(w, e.Output)
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, answerStyle.Render(strings.TrimSpace(ans.FinalAnswer)))
}
