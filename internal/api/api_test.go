package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/satindergrewal/surroundmix/internal/audio"
	"github.com/satindergrewal/surroundmix/internal/batch"
	"github.com/satindergrewal/surroundmix/internal/ledger"
	"github.com/satindergrewal/surroundmix/internal/separator"
	"github.com/satindergrewal/surroundmix/internal/session"
)

// memIO serves the same synthetic stems for every job and records writes.
type memIO struct {
	mu     sync.Mutex
	writes map[string]int
}

func (m *memIO) LoadStems(dir string) (audio.StemSet, error) {
	samples := make([]int16, 2*audio.FrameSize*4)
	for i := range samples {
		samples[i] = int16((i % 100) * 50)
	}
	return audio.StemSet{
		audio.Vocals: audio.NewStem(audio.Vocals, 2, samples),
		audio.Drums:  audio.NewStem(audio.Drums, 2, samples),
	}, nil
}

func (m *memIO) WriteWAV(path string, samples []float64, channels int) error {
	m.record(path, channels)
	return os.WriteFile(path, []byte("RIFF"), 0o644)
}

func (m *memIO) WriteFLAC(path string, samples []float64, channels int) error {
	m.record(path, channels)
	return nil
}

func (m *memIO) record(path string, channels int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes[path] = channels
}

// stemRunner writes a vocals.wav placeholder for every input file.
type stemRunner struct{}

func (stemRunner) Run(ctx context.Context, req separator.Request) (<-chan separator.Event, error) {
	entries, err := os.ReadDir(req.InputDir)
	if err != nil {
		return nil, err
	}
	events := make(chan separator.Event, 1)
	go func() {
		defer close(events)
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			dir := filepath.Join(req.StoreDir, strings.TrimSuffix(e.Name(), filepath.Ext(e.Name())))
			os.MkdirAll(dir, 0o755)
			os.WriteFile(filepath.Join(dir, "vocals.wav"), []byte("RIFF"), 0o644)
		}
		events <- separator.Event{Kind: separator.EventExit}
	}()
	return events, nil
}

type fakePlayer struct {
	mu      sync.Mutex
	clips   []audio.Clip
	stopped int
}

func (p *fakePlayer) Play(c audio.Clip) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clips = append(p.clips, c)
}

func (p *fakePlayer) played() []audio.Clip {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]audio.Clip(nil), p.clips...)
}

func (p *fakePlayer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped++
}

func (p *fakePlayer) Status() (string, time.Duration, time.Duration) {
	return "", 0, 0
}

func (p *fakePlayer) CrossfadeDuration() time.Duration {
	return 2 * time.Second
}

type env struct {
	srv    *Server
	ts     *httptest.Server
	io     *memIO
	player *fakePlayer
	in     string
	out    string
}

func newEnv(t *testing.T, files ...string) *env {
	t.Helper()
	root := t.TempDir()
	e := &env{
		io:     &memIO{writes: map[string]int{}},
		player: &fakePlayer{},
		in:     filepath.Join(root, "in"),
		out:    filepath.Join(root, "out"),
	}
	os.MkdirAll(e.in, 0o755)
	for _, f := range files {
		os.WriteFile(filepath.Join(e.in, f), []byte("x"), 0o644)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	sess := session.New(e.io, root)
	strategy := separator.Strategy{separator.GPU: stemRunner{}, separator.CPU: stemRunner{}}
	proc := batch.NewProcessor(sess, strategy, filepath.Join(root, "work"))
	e.srv = New(ctx, sess, proc)
	e.srv.SetAudition(e.player, nil)
	e.srv.pushInterval = 10 * time.Millisecond
	e.ts = httptest.NewServer(e.srv.Handler())
	t.Cleanup(e.ts.Close)
	return e
}

func (e *env) do(t *testing.T, method, path, body string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, e.ts.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out map[string]any
	json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

// process starts a batch and waits until it is ready.
func (e *env) process(t *testing.T) {
	t.Helper()
	body := `{"inputDir":"` + e.in + `","outputDir":"` + e.out + `","hardware":"1","channel":"1"}`
	code, resp := e.do(t, http.MethodPost, "/api/start_processing", body)
	if code != http.StatusOK || resp["status"] != "ok" {
		t.Fatalf("start = %d %v", code, resp)
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		_, st := e.do(t, http.MethodGet, "/api/processing_status", "")
		if st["status"] == "ready" {
			return
		}
		if st["status"] == "error" || time.Now().After(deadline) {
			t.Fatalf("processing status = %v", st)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestStartRequiresDirs(t *testing.T) {
	e := newEnv(t)
	code, resp := e.do(t, http.MethodPost, "/api/start_processing", `{"inputDir":""}`)
	if code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 (%v)", code, resp)
	}
}

func TestStartRejectsUnknownHardware(t *testing.T) {
	e := newEnv(t)
	code, _ := e.do(t, http.MethodPost, "/api/start_processing", `{"inputDir":"a","outputDir":"b","hardware":"tpu"}`)
	if code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	e := newEnv(t)
	for _, path := range []string{"/api/start_processing", "/api/preview", "/api/export_all", "/api/shutdown"} {
		if code, _ := e.do(t, http.MethodGet, path, ""); code != http.StatusMethodNotAllowed {
			t.Errorf("GET %s = %d, want 405", path, code)
		}
	}
}

func TestPreviewBeforeReady(t *testing.T) {
	e := newEnv(t)
	code, resp := e.do(t, http.MethodPost, "/api/preview", "")
	if code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", code)
	}
	if resp["error"] == nil {
		t.Error("response should carry an error")
	}
}

func TestMixerWorkflow(t *testing.T) {
	e := newEnv(t, "one.mp3", "two.mp3")
	e.process(t)

	_, st := e.do(t, http.MethodGet, "/api/status", "")
	if st["is_ready"] != true || st["channel_count"].(float64) != 5 {
		t.Fatalf("status = %v", st)
	}
	if files := st["audio_files"].([]any); len(files) != 2 {
		t.Fatalf("audio_files = %v", files)
	}

	code, sel := e.do(t, http.MethodPost, "/api/select_audio/1", "")
	if code != http.StatusOK || sel["name"] != "two" {
		t.Fatalf("select = %d %v", code, sel)
	}
	if code, _ := e.do(t, http.MethodPost, "/api/select_audio/9", ""); code != http.StatusBadRequest {
		t.Errorf("select out of range = %d, want 400", code)
	}

	_, cfg := e.do(t, http.MethodGet, "/api/config", "")
	if cfg["current_audio_name"] != "two" {
		t.Errorf("config = %v", cfg)
	}
	topo, _ := json.Marshal(cfg["channel_config"])

	code, _ = e.do(t, http.MethodPost, "/api/config", `{"channel_config":`+string(topo)+`}`)
	if code != http.StatusOK {
		t.Errorf("update config = %d", code)
	}

	code, prev := e.do(t, http.MethodPost, "/api/preview", "")
	if code != http.StatusOK || prev["channels"].(float64) != 6 {
		t.Fatalf("preview = %d %v", code, prev)
	}
	if clips := e.player.played(); len(clips) != 1 || clips[0].Name != "two" {
		t.Errorf("player clips = %d", len(clips))
	}
	resp, err := http.Get(e.ts.URL + "/api/preview_audio")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "audio/wav" {
		t.Errorf("preview_audio = %d %s", resp.StatusCode, resp.Header.Get("Content-Type"))
	}

	code, exp := e.do(t, http.MethodPost, "/api/export", "")
	if code != http.StatusOK || exp["all_exported"] != false {
		t.Fatalf("export = %d %v", code, exp)
	}
	if want := filepath.Join(e.out, "two_5.1.flac"); exp["output_file"] != want {
		t.Errorf("output_file = %v, want %s", exp["output_file"], want)
	}

	code, all := e.do(t, http.MethodPost, "/api/export_all", "")
	if code != http.StatusOK || all["all_exported"] != true {
		t.Fatalf("export_all = %d %v", code, all)
	}
	results := all["results"].([]any)
	if results[0].(map[string]any)["status"] != "ok" || results[1].(map[string]any)["status"] != "already_exported" {
		t.Errorf("results = %v", results)
	}

	code, sw := e.do(t, http.MethodPost, "/api/switch_channel_mode", `{"channel_count":7}`)
	if code != http.StatusOK || sw["channel_count"].(float64) != 7 {
		t.Fatalf("switch = %d %v", code, sw)
	}
	_, st = e.do(t, http.MethodGet, "/api/status", "")
	if st["all_exported"] != false {
		t.Error("switching layouts should clear export state")
	}

	// The old 5.1 routing no longer fits the session.
	code, _ = e.do(t, http.MethodPost, "/api/config", `{"channel_config":`+string(topo)+`}`)
	if code != http.StatusBadRequest {
		t.Errorf("mismatched config = %d, want 400", code)
	}

	code, ap := e.do(t, http.MethodPost, "/api/apply_config_to_remaining", "")
	if code != http.StatusOK || ap["applied_to"].(float64) != 2 {
		t.Errorf("apply remaining = %d %v", code, ap)
	}
}

func TestSwitchChannelModeInvalid(t *testing.T) {
	e := newEnv(t)
	code, _ := e.do(t, http.MethodPost, "/api/switch_channel_mode", `{"channel_count":6}`)
	if code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", code)
	}
}

func TestSourceAudio(t *testing.T) {
	e := newEnv(t, "one.mp3")
	e.process(t)
	resp, err := http.Get(e.ts.URL + "/api/source_audio/vocals")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("vocals = %d, want 200", resp.StatusCode)
	}
	for _, name := range []string{"bass", "kazoo"} {
		if code, _ := e.do(t, http.MethodGet, "/api/source_audio/"+name, ""); code != http.StatusNotFound {
			t.Errorf("%s = %d, want 404", name, code)
		}
	}
}

type fakeHistory []ledger.BatchRecord

func (h fakeHistory) History(limit int) ([]ledger.BatchRecord, error) {
	if limit < len(h) {
		return h[:limit], nil
	}
	return h, nil
}

func (h fakeHistory) Exports(batchID string) ([]ledger.ExportRecord, error) {
	if batchID != "a" {
		return nil, nil
	}
	return []ledger.ExportRecord{{BatchID: "a", Job: "song", Path: "/out/song_5.1.flac", ChannelCount: 5}}, nil
}

func (h fakeHistory) Failures(batchID string) ([]ledger.FailureRecord, error) {
	if batchID != "a" {
		return nil, nil
	}
	return []ledger.FailureRecord{{BatchID: "a", Job: "bad.mp3", Stage: "separate", Detail: "exit 1"}}, nil
}

func TestHistory(t *testing.T) {
	e := newEnv(t)
	if code, _ := e.do(t, http.MethodGet, "/api/history", ""); code != http.StatusNotFound {
		t.Errorf("disabled history = %d, want 404", code)
	}
	e.srv.SetHistory(fakeHistory{{ID: "a"}, {ID: "b"}})
	_, resp := e.do(t, http.MethodGet, "/api/history?limit=1", "")
	if b := resp["batches"].([]any); len(b) != 1 {
		t.Errorf("batches = %v", b)
	}

	_, resp = e.do(t, http.MethodGet, "/api/history?batch=a", "")
	if resp["batch_id"] != "a" {
		t.Errorf("batch_id = %v, want a", resp["batch_id"])
	}
	if x := resp["exports"].([]any); len(x) != 1 {
		t.Errorf("exports = %v", x)
	}
	if x := resp["failures"].([]any); len(x) != 1 {
		t.Errorf("failures = %v", x)
	}

	_, resp = e.do(t, http.MethodGet, "/api/history?batch=missing", "")
	if x := resp["exports"].([]any); len(x) != 0 {
		t.Errorf("unknown batch exports = %v, want empty", x)
	}
}

func TestShutdown(t *testing.T) {
	e := newEnv(t)
	got := make(chan bool, 1)
	e.srv.SetShutdown(func(removeTemp bool) { got <- removeTemp })
	code, resp := e.do(t, http.MethodPost, "/api/shutdown", `{"delete_temp":true}`)
	if code != http.StatusOK || resp["status"] != "shutting down" {
		t.Fatalf("shutdown = %d %v", code, resp)
	}
	select {
	case v := <-got:
		if !v {
			t.Error("delete_temp not passed through")
		}
	case <-time.After(time.Second):
		t.Fatal("shutdown func not called")
	}
}

func TestWebsocketPushesStatus(t *testing.T) {
	e := newEnv(t, "one.mp3")
	url := "ws" + strings.TrimPrefix(e.ts.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	var msg statusMessage
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("first message: %v", err)
	}
	if msg.Processing.Status != session.StatusIdle {
		t.Errorf("initial status = %q, want idle", msg.Processing.Status)
	}

	e.process(t)
	deadline := time.Now().Add(3 * time.Second)
	for msg.Processing.Status != session.StatusReady {
		conn.SetReadDeadline(deadline)
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("waiting for ready: %v", err)
		}
	}
	if len(msg.Session.Jobs) != 1 {
		t.Errorf("jobs = %d, want 1", len(msg.Session.Jobs))
	}
}

func TestAuditionStatusAndStop(t *testing.T) {
	e := newEnv(t)
	code, resp := e.do(t, http.MethodGet, "/api/audition", "")
	if code != http.StatusOK || resp["enabled"] != true {
		t.Fatalf("audition = %d %v", code, resp)
	}
	if resp["crossfade"] != 2.0 {
		t.Errorf("crossfade = %v, want 2", resp["crossfade"])
	}

	if code, _ := e.do(t, http.MethodGet, "/api/audition/stop", ""); code != http.StatusMethodNotAllowed {
		t.Errorf("GET stop = %d, want 405", code)
	}
	code, resp = e.do(t, http.MethodPost, "/api/audition/stop", "")
	if code != http.StatusOK || resp["status"] != "stopped" {
		t.Errorf("stop = %d %v", code, resp)
	}
	e.player.mu.Lock()
	stopped := e.player.stopped
	e.player.mu.Unlock()
	if stopped != 1 {
		t.Errorf("Stop calls = %d, want 1", stopped)
	}
}
