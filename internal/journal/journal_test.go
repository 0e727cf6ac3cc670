package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"storecast/internal/migrate"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(context.Background(), filepath.Join(t.TempDir(), "nested", "journal.db"))
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestRecordAndLatest(t *testing.T) {
	j := openTestJournal(t)
	j.Now = func() time.Time { return time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC) }
	ctx := context.Background()

	if err := j.Record(ctx, TypeDistributionCreated, "op-1", "channel-1", Payload{"title": "Holiday Hours", "targets": 2}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := j.Record(ctx, TypeFanoutFinished, "op-1", "", nil); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := j.Record(ctx, TypeDistributionDeleted, "", "channel-1", nil); err != nil {
		t.Fatalf("record: %v", err)
	}

	latest, err := j.Latest(ctx, 2)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if len(latest) != 2 || latest[0].Type != TypeDistributionDeleted || latest[1].Type != TypeFanoutFinished {
		t.Fatalf("unexpected entries %+v", latest)
	}
	if latest[0].OperationID.Valid || !latest[0].DistributionID.Valid {
		t.Fatalf("unexpected null handling %+v", latest[0])
	}

	ops, err := j.ForOperation(ctx, "op-1")
	if err != nil {
		t.Fatalf("for operation: %v", err)
	}
	if len(ops) != 2 || ops[0].TS != "2024-02-03T04:05:06Z" {
		t.Fatalf("unexpected operation entries %+v", ops)
	}
	if got := ops[0].Payload(); got["title"] != "Holiday Hours" || got["targets"] != float64(2) {
		t.Fatalf("unexpected payload %v", got)
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	j := openTestJournal(t)
	version, err := migrate.Migrate(context.Background(), j.DB)
	if err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	all, _ := migrate.Load()
	if version != all[len(all)-1].Version {
		t.Fatalf("expected version %d, got %d", all[len(all)-1].Version, version)
	}
}

func TestDiscard(t *testing.T) {
	var r Recorder = Discard{}
	if err := r.Record(context.Background(), TypeCreateFailed, "op", "", nil); err != nil {
		t.Fatalf("discard returned %v", err)
	}
}
