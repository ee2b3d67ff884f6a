package commands

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/54b3r/studycrew-go/internal/agent"
	"github.com/54b3r/studycrew-go/internal/ingestion"
	"github.com/54b3r/studycrew-go/internal/retriever"
	"github.com/54b3r/studycrew-go/internal/service"
	"github.com/54b3r/studycrew-go/internal/store"
	"github.com/54b3r/studycrew-go/internal/version"
)

func sampleAnswer() *service.Answer {
	return &service.Answer{
		Document:  "biology",
		Strategy:  retriever.Similarity,
		Requested: retriever.MMR,
		FellBack:  true,
		Passages: []retriever.Passage{
			{Content: "Osmosis moves water across a membrane.", Position: 3, Distance: 0.42, Tier: "high"},
		},
		Experts: []agent.ExpertOutput{
			{Role: agent.RoleTutor, Output: "tutor says", Duration: time.Second},
			{Role: agent.RoleCoach, Output: "coach says", Duration: 2 * time.Second},
		},
		FinalAnswer: "  Water diffuses toward higher solute concentration.\n",
		Duration:    3 * time.Second,
	}
}

// ---------------------------------------------------------------------------
// renderAnswer
// ---------------------------------------------------------------------------

func TestRenderAnswer(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		experts  bool
		passages bool
		want     []string
		absent   []string
	}{
		{
			name:   "final answer only",
			want:   []string{"Answer", "biology", "Water diffuses", "fell back to similarity"},
			absent: []string{"tutor says", "Osmosis moves"},
		},
		{
			name:    "with experts",
			experts: true,
			want:    []string{"Tutor", "tutor says", "Coach", "coach says"},
			absent:  []string{"Osmosis moves"},
		},
		{
			name:     "with passages",
			passages: true,
			want:     []string{"Passages", "#3 distance 0.420 high", "Osmosis moves"},
			absent:   []string{"tutor says"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var buf bytes.Buffer
			renderAnswer(&buf, sampleAnswer(), tt.experts, tt.passages)
			out := buf.String()
			for _, s := range tt.want {
				if !strings.Contains(out, s) {
					t.Errorf("output missing %q:\n%s", s, out)
				}
			}
			for _, s := range tt.absent {
				if strings.Contains(out, s) {
					t.Errorf("output unexpectedly contains %q", s)
				}
			}
		})
	}
}

// ---------------------------------------------------------------------------
// printResults / printDocuments
// ---------------------------------------------------------------------------

func TestPrintResults_CountsFailures(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	failed := printResults(&buf, []string{"a.txt", "b.pdf"}, []ingestion.Result{
		{Name: "a", Status: store.StatusQueryable, Chunks: 7, Duration: time.Second},
		{Name: "b", Status: store.StatusFailed, Err: errors.New("no text")},
	})
	if failed != 1 {
		t.Errorf("failed = %d, want 1", failed)
	}
	out := buf.String()
	if !strings.Contains(out, "7 chunks") || !strings.Contains(out, "b.pdf: no text") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestPrintDocuments(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	err := printDocuments(&buf, []service.DocumentInfo{
		{Name: "biology", Status: store.StatusQueryable, Chunks: 12, Queryable: true, UploadedAt: time.Now()},
		{Name: "blank", Status: store.StatusFailed, Error: "no text"},
	})
	if err != nil {
		t.Fatalf("printDocuments: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("want header plus 2 rows, got %d lines:\n%s", len(lines), buf.String())
	}
	if !strings.HasPrefix(lines[0], "NAME") {
		t.Errorf("header: %q", lines[0])
	}
	if !strings.Contains(lines[2], "failed (no text)") || !strings.HasSuffix(lines[2], "-") {
		t.Errorf("failed row: %q", lines[2])
	}
}

func TestPrintDocuments_Empty(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if err := printDocuments(&buf, nil); err != nil {
		t.Fatalf("printDocuments: %v", err)
	}
	if !strings.Contains(buf.String(), "no documents") {
		t.Errorf("got %q", buf.String())
	}
}

// ---------------------------------------------------------------------------
// command tree
// ---------------------------------------------------------------------------

func TestRootCmd_Subcommands(t *testing.T) {
	t.Parallel()

	root := NewRootCmd()
	for _, name := range []string{"ask", "serve", "ingest", "documents", "version"} {
		if c, _, err := root.Find([]string{name}); err != nil || c.Name() != name {
			t.Errorf("subcommand %q not registered", name)
		}
	}
}

func TestVersionCmd(t *testing.T) {
	t.Parallel()

	cmd := NewVersionCmd()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetArgs(nil)
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if strings.TrimSpace(buf.String()) != version.String() {
		t.Errorf("got %q, want %q", buf.String(), version.String())
	}
}

func TestDocumentsDeleteArgs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		args    []string
		all     bool
		wantErr bool
	}{
		{name: "one name", args: []string{"biology"}},
		{name: "missing name", wantErr: true},
		{name: "all", all: true},
		{name: "all with name", args: []string{"biology"}, all: true, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cmd := newDocumentsDeleteCmd()
			if tt.all {
				if err := cmd.Flags().Set("all", "true"); err != nil {
					t.Fatalf("set --all: %v", err)
				}
			}
			err := cmd.Args(cmd, tt.args)
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
