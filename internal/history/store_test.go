package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/sectorlab/mbrlab/internal/aggregator"
	"github.com/sectorlab/mbrlab/internal/supervisor"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleReport(id string, startedAt time.Time) aggregator.RunReport {
	code := 0
	return aggregator.RunReport{
		ID:         id,
		StartedAt:  startedAt,
		FinishedAt: startedAt.Add(30 * time.Second),
		Results: []supervisor.ExecutionResult{
			{
				VariantName: "custom_message",
				Outcome:     supervisor.OutcomeCompleted,
				Elapsed:     12 * time.Second,
				ExitCode:    &code,
				StderrTail:  "",
			},
			{
				VariantName: "empty",
				Outcome:     supervisor.OutcomeTimedOut,
				Elapsed:     5 * time.Second,
			},
			{
				VariantName: "memz",
				Outcome:     supervisor.OutcomeBuildFailed,
				StderrTail:  "boot.asm:9: invalid combination of opcode and operands",
			},
		},
		Succeeded: 2,
		Failed:    1,
	}
}

func TestRecordAndReadBack(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	report := sampleReport("run-1", time.Now())
	if err := store.Record(ctx, report); err != nil {
		t.Fatalf("record: %v", err)
	}

	summaries, err := store.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("got %d summaries", len(summaries))
	}
	got := summaries[0]
	if got.ID != "run-1" || got.Succeeded != 2 || got.Failed != 1 {
		t.Errorf("summary = %+v", got)
	}

	results, err := store.Results(ctx, "run-1")
	if err != nil {
		t.Fatalf("results: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results", len(results))
	}
	if results[0].VariantName != "custom_message" || results[0].Outcome != supervisor.OutcomeCompleted {
		t.Errorf("first result = %+v", results[0])
	}
	if results[0].ExitCode == nil || *results[0].ExitCode != 0 {
		t.Errorf("first exit code = %v", results[0].ExitCode)
	}
	if results[1].ExitCode != nil {
		t.Error("timed-out result should have no exit code")
	}
	if results[1].Elapsed != 5*time.Second {
		t.Errorf("elapsed = %s", results[1].Elapsed)
	}
	if results[2].StderrTail == "" {
		t.Error("build diagnostic not persisted")
	}
}

func TestRecentOrdersNewestFirst(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	for i, id := range []string{"old", "mid", "new"} {
		report := sampleReport(id, base.Add(time.Duration(i)*time.Minute))
		if err := store.Record(ctx, report); err != nil {
			t.Fatalf("record %s: %v", id, err)
		}
	}

	summaries, err := store.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("got %d summaries with limit 2", len(summaries))
	}
	if summaries[0].ID != "new" || summaries[1].ID != "mid" {
		t.Errorf("order = %s, %s", summaries[0].ID, summaries[1].ID)
	}
}

func TestRecordDuplicateRunFails(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	report := sampleReport("run-1", time.Now())
	if err := store.Record(ctx, report); err != nil {
		t.Fatalf("first record: %v", err)
	}
	if err := store.Record(ctx, report); err == nil {
		t.Error("recording the same run id twice should fail")
	}
}

func TestResultsUnknownRun(t *testing.T) {
	store := openTestStore(t)

	results, err := store.Results(context.Background(), "no-such-run")
	if err != nil {
		t.Fatalf("results: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results for unknown run", len(results))
	}
}
