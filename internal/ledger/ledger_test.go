package ledger

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/satindergrewal/surroundmix/internal/audio"
	"github.com/satindergrewal/surroundmix/internal/session"
)

type stubIO struct{}

func (stubIO) LoadStems(string) (audio.StemSet, error) { return audio.StemSet{}, nil }
func (stubIO) WriteWAV(string, []float64, int) error   { return nil }
func (stubIO) WriteFLAC(string, []float64, int) error  { return nil }

func openTest(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "data", "ledger.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestBatchLifecycle(t *testing.T) {
	l := openTest(t)
	clock := time.Unix(1700000000, 0)
	l.now = func() time.Time { return clock }

	b := session.Batch{ID: "b1", InputDir: "/in", OutputDir: "/out", Hardware: "gpu", ChannelCount: 7}
	if err := l.BatchStarted(b); err != nil {
		t.Fatal(err)
	}

	hist, err := l.History(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 1 || hist[0].Status != "processing" || hist[0].FinishedAt != nil {
		t.Fatalf("history = %+v", hist)
	}

	clock = clock.Add(time.Minute)
	if err := l.BatchFinished("b1", session.StatusReady, 3, 1); err != nil {
		t.Fatal(err)
	}
	hist, _ = l.History(10)
	r := hist[0]
	if r.Status != "ready" || r.Jobs != 3 || r.Failures != 1 || r.ChannelCount != 7 {
		t.Errorf("record = %+v", r)
	}
	if r.FinishedAt == nil || !r.FinishedAt.Equal(clock) {
		t.Errorf("FinishedAt = %v, want %v", r.FinishedAt, clock)
	}
}

func TestHistoryNewestFirst(t *testing.T) {
	l := openTest(t)
	base := time.Unix(1700000000, 0)
	for i, id := range []string{"old", "mid", "new"} {
		at := base.Add(time.Duration(i) * time.Hour)
		l.now = func() time.Time { return at }
		if err := l.BatchStarted(session.Batch{ID: id, ChannelCount: 5}); err != nil {
			t.Fatal(err)
		}
	}
	hist, err := l.History(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 2 || hist[0].ID != "new" || hist[1].ID != "mid" {
		t.Errorf("history = %+v, want new, mid", hist)
	}
}

func TestExportsAndFailures(t *testing.T) {
	l := openTest(t)
	l.BatchStarted(session.Batch{ID: "b1", ChannelCount: 5})
	l.JobExported("b1", "a", "/out/a_5.1.flac", 5)
	l.JobExported("b1", "a", "/out/a_5.1.flac", 5)
	l.JobExported("b2", "z", "/out/z_5.1.flac", 5)
	l.JobFailed("b1", "bad.mp3", "separate", "exit 1")

	exports, err := l.Exports("b1")
	if err != nil {
		t.Fatal(err)
	}
	if len(exports) != 2 || exports[0].Job != "a" || exports[0].Path != "/out/a_5.1.flac" {
		t.Errorf("exports = %+v", exports)
	}
	failures, err := l.Failures("b1")
	if err != nil {
		t.Fatal(err)
	}
	if len(failures) != 1 || failures[0].Stage != "separate" || failures[0].Detail != "exit 1" {
		t.Errorf("failures = %+v", failures)
	}
}

func TestReopenKeepsHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	l, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	l.BatchStarted(session.Batch{ID: "b1", ChannelCount: 5})
	l.Close()

	l, err = Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	hist, _ := l.History(5)
	if len(hist) != 1 || hist[0].ID != "b1" {
		t.Errorf("history after reopen = %+v", hist)
	}
}

func TestRecorderWiredToSession(t *testing.T) {
	l := openTest(t)
	s := session.New(stubIO{}, t.TempDir())
	s.SetRecorder(l)
	if err := s.Begin(session.Batch{ID: "b9", InputDir: "/in", OutputDir: "/out", ChannelCount: 5}); err != nil {
		t.Fatal(err)
	}
	s.AddFailure("x.mp3", "boom")
	s.Finish()

	hist, _ := l.History(1)
	if len(hist) != 1 || hist[0].Status != "ready" || hist[0].Failures != 1 {
		t.Errorf("history = %+v", hist)
	}
	failures, _ := l.Failures("b9")
	if len(failures) != 1 || failures[0].Job != "x.mp3" {
		t.Errorf("failures = %+v", failures)
	}
}
