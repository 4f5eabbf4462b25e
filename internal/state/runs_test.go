package state

import (
	"context"
	"testing"
	"time"

	"github.com/ShayCichocki/taskpilot/pkg/models"
)

func TestRecordAndListRuns(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	runs := []Run{
		{ID: "r1", Project: "api", Slot: 0, TaskID: "T-1", Outcome: models.OutcomeSucceeded, StartedAt: base, FinishedAt: base.Add(time.Minute)},
		{ID: "r2", Project: "api", Slot: 1, TaskID: "T-2", Outcome: models.OutcomeStalled, Error: "worker stalled", StartedAt: base, FinishedAt: base.Add(2 * time.Minute)},
		{ID: "r3", Project: "web", Slot: 0, Outcome: models.OutcomeNoWork, StartedAt: base, FinishedAt: base.Add(3 * time.Minute)},
	}
	for _, r := range runs {
		if err := db.RecordRun(ctx, r); err != nil {
			t.Fatalf("RecordRun(%s) failed: %v", r.ID, err)
		}
	}

	got, err := db.RecentRuns(ctx, "api", 10)
	if err != nil {
		t.Fatalf("RecentRuns failed: %v", err)
	}
	if len(got) != 2 || got[0].ID != "r2" {
		t.Fatalf("RecentRuns(api) = %+v", got)
	}
	if got[0].Outcome != models.OutcomeStalled || got[0].Error != "worker stalled" {
		t.Errorf("run = %+v", got[0])
	}
	if got[0].Duration() != 2*time.Minute {
		t.Errorf("Duration() = %s", got[0].Duration())
	}

	all, err := db.RecentRuns(ctx, "", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 || all[0].ID != "r3" {
		t.Errorf("RecentRuns(all, 2) = %+v", all)
	}
}
