package history_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"aoi/internal/history"
	"aoi/internal/testsupport"
)

func TestRecordAndSummarizeSessions(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenHistory(t, cfg)
	ctx := context.Background()

	base := time.Date(2025, 10, 19, 9, 0, 0, 0, time.UTC)
	records := []history.ImageRecord{
		{Serial: "SN1", Date: "20251019", Step: "Step1", CameraID: 1, Operator: "op", Path: "/x/1.jpg", Bytes: 10, RecordedAt: base},
		{Serial: "SN1", Date: "20251019", Step: "Step1", CameraID: 2, Operator: "op", Error: "disk full", RecordedAt: base.Add(time.Second)},
		{Serial: "SN2", Date: "20251019", Step: "Step1", CameraID: 1, Operator: "op", Path: "/x/2.jpg", Bytes: 12, RecordedAt: base.Add(time.Minute)},
	}
	for _, rec := range records {
		if err := store.RecordImage(ctx, rec); err != nil {
			t.Fatalf("RecordImage: %v", err)
		}
	}
	if err := store.RecordCheck(ctx, history.CheckRecord{Serial: "SN1", Date: "20251019", Expected: 8, Count: 1, Result: "incomplete"}); err != nil {
		t.Fatalf("RecordCheck: %v", err)
	}

	sessions, err := store.Sessions(ctx, 10)
	if err != nil {
		t.Fatalf("Sessions: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %+v", sessions)
	}
	if sessions[0].Serial != "SN2" {
		t.Fatalf("expected newest session first, got %+v", sessions)
	}
	sn1 := sessions[1]
	if sn1.Images != 1 || sn1.Failures != 1 || sn1.LastResult != "incomplete" {
		t.Fatalf("unexpected SN1 summary: %+v", sn1)
	}

	images, err := store.SessionImages(ctx, "SN1", "20251019")
	if err != nil {
		t.Fatalf("SessionImages: %v", err)
	}
	if len(images) != 2 || images[1].Error != "disk full" || images[0].Path != "/x/1.jpg" {
		t.Fatalf("unexpected images: %+v", images)
	}
	if !images[0].RecordedAt.Equal(base) {
		t.Fatalf("recorded_at = %v", images[0].RecordedAt)
	}
}

func TestOpenReusesExistingDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	first, err := history.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := first.RecordImage(context.Background(), history.ImageRecord{Serial: "A", Date: "20250101", Step: "Step1", CameraID: 1}); err != nil {
		t.Fatal(err)
	}
	first.Close()

	second, err := history.Open(path)
	if err != nil {
		if errors.Is(err, history.ErrSchemaMismatch) {
			t.Fatalf("unexpected schema mismatch: %v", err)
		}
		t.Fatalf("reopen: %v", err)
	}
	defer second.Close()
	sessions, err := second.Sessions(context.Background(), 0)
	if err != nil || len(sessions) != 1 {
		t.Fatalf("sessions after reopen = %+v, %v", sessions, err)
	}
}
