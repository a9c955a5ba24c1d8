package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), filepath.Join(t.TempDir(), "state", "reset_history.db"))
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRecordAndRecent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	runs := []Run{
		{Hostname: "h", DeviceKey: "0000:01:00.0", Family: "wormhole", Outcome: "success", FinishedAt: base},
		{Hostname: "h", DeviceKey: "0000:02:00.0", Family: "blackhole", Outcome: "failed", Detail: "unrecoverable after 3 attempts", ExitCode: 1, FinishedAt: base.Add(time.Minute)},
	}
	for _, r := range runs {
		if err := store.Record(ctx, r); err != nil {
			t.Fatalf("Record returned error: %v", err)
		}
	}

	got, err := store.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent returned error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Recent returned %d runs, want 2", len(got))
	}
	if got[0].DeviceKey != "0000:02:00.0" {
		t.Fatalf("newest run first: got %s", got[0].DeviceKey)
	}
	if got[0].RunID == "" {
		t.Fatalf("run id was not assigned")
	}
	if got[0].ExitCode != 1 || got[0].Outcome != "failed" {
		t.Fatalf("unexpected run: %+v", got[0])
	}
}

func TestLastSuccess(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if run, err := store.LastSuccess(ctx, "0000:01:00.0"); err != nil || run != nil {
		t.Fatalf("LastSuccess on empty store = %v, %v; want nil, nil", run, err)
	}

	base := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	for i, outcome := range []string{"success", "failed", "success"} {
		err := store.Record(ctx, Run{
			Hostname: "h", DeviceKey: "0000:01:00.0", Family: "wormhole",
			Outcome: outcome, FinishedAt: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("Record returned error: %v", err)
		}
	}

	run, err := store.LastSuccess(ctx, "0000:01:00.0")
	if err != nil {
		t.Fatalf("LastSuccess returned error: %v", err)
	}
	if run == nil || !run.FinishedAt.Equal(base.Add(2*time.Minute)) {
		t.Fatalf("LastSuccess = %+v, want the newest successful run", run)
	}
}
