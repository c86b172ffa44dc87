package imagestore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"aoi/internal/logging"
	"aoi/internal/workflow"
)

func TestSaveWritesDeterministicPath(t *testing.T) {
	root := t.TempDir()
	store := NewStore(root)
	img := Image{Serial: " SN01 ", Operator: "op3", Step: workflow.Step1, CameraID: 2, Date: "20251019", Data: []byte{0xDE, 0xAD, 0xBE, 0xEF}}

	path, err := store.Save(context.Background(), img)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	want := filepath.Join(root, "20251019", "SN01", "Step1_2_op3.jpg")
	if path != want {
		t.Fatalf("path = %q, want %q", path, want)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(img.Data) {
		t.Fatalf("content = %x", got)
	}

	img.Data = []byte{1}
	if _, err := store.Save(context.Background(), img); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	n, err := store.Count("SN01", "20251019")
	if err != nil || n != 1 {
		t.Fatalf("count after overwrite = %d, %v", n, err)
	}
}

func TestSaveRejectsBlankAndUnsafeNames(t *testing.T) {
	store := NewStore(t.TempDir())
	_, err := store.Save(context.Background(), Image{Serial: "  ", Step: workflow.Step1, CameraID: 1, Date: "20251019"})
	if !errors.Is(err, ErrBlankSerial) {
		t.Fatalf("blank serial: err = %v", err)
	}
	_, err = store.Save(context.Background(), Image{Serial: "../etc", Step: workflow.Step1, CameraID: 1, Date: "20251019"})
	if !errors.Is(err, ErrUnsafeName) {
		t.Fatalf("unsafe serial: err = %v", err)
	}
	_, err = store.Save(context.Background(), Image{Serial: "SN", Operator: "a/b", Step: workflow.Step1, CameraID: 1, Date: "20251019"})
	if !errors.Is(err, ErrUnsafeName) {
		t.Fatalf("unsafe operator: err = %v", err)
	}
}

func TestDateKeyUsesLocalTime(t *testing.T) {
	ts := time.Date(2025, 10, 19, 12, 0, 0, 0, time.Local)
	if got := DateKey(ts); got != "20251019" {
		t.Fatalf("DateKey = %q", got)
	}
}

func TestWriterRunsFollowUpsBeforeQueuedJobs(t *testing.T) {
	store := NewStore(t.TempDir())
	var (
		mu    sync.Mutex
		order []string
	)
	handler := func(res Result) []Job {
		mu.Lock()
		defer mu.Unlock()
		if res.Err != nil {
			t.Errorf("job failed: %v", res.Err)
		}
		switch res.Job.Kind {
		case JobSave:
			order = append(order, "save:"+string(res.Job.Image.Step))
			if res.Job.Image.Step == workflow.Step3 {
				return []Job{{Kind: JobCount, Serial: res.Job.Image.Serial, Date: res.Job.Image.Date}}
			}
		case JobCount:
			order = append(order, "count")
		}
		return nil
	}

	w := NewWriter(store, 4, handler, logging.NewNop())
	base := Image{Serial: "SN", Operator: "op", CameraID: 1, Date: "20251019", Data: []byte("x")}
	step3 := base
	step3.Step = workflow.Step3
	step1 := base
	step1.Step = workflow.Step1

	ctx := context.Background()
	if err := w.Enqueue(ctx, Job{Kind: JobSave, Image: step3}); err != nil {
		t.Fatal(err)
	}
	if err := w.Enqueue(ctx, Job{Kind: JobSave, Image: step1}); err != nil {
		t.Fatal(err)
	}
	w.Start()
	w.Close()

	want := []string{"save:Step3", "count", "save:Step1"}
	if len(order) != len(want) {
		t.Fatalf("order = %v", order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
	if err := w.Enqueue(ctx, Job{}); !errors.Is(err, ErrWriterClosed) {
		t.Fatalf("enqueue after close: %v", err)
	}
}

func TestWriterEnqueueHonoursContext(t *testing.T) {
	w := NewWriter(NewStore(t.TempDir()), 1, nil, nil)
	if err := w.Enqueue(context.Background(), Job{Kind: JobCount, Serial: "a", Date: "20250101"}); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := w.Enqueue(ctx, Job{Kind: JobCount, Serial: "a", Date: "20250101"}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded on full queue, got %v", err)
	}
	w.Start()
	w.Close()
}
