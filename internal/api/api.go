// Package api is the HTTP/JSON surface the mixer UI talks to.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/satindergrewal/surroundmix/internal/audio"
	"github.com/satindergrewal/surroundmix/internal/batch"
	"github.com/satindergrewal/surroundmix/internal/ledger"
	"github.com/satindergrewal/surroundmix/internal/mix"
	"github.com/satindergrewal/surroundmix/internal/separator"
	"github.com/satindergrewal/surroundmix/internal/session"
	"github.com/satindergrewal/surroundmix/internal/stream"
)

// Auditioner plays rendered previews to stream listeners.
type Auditioner interface {
	Play(c audio.Clip)
	Stop()
	Status() (name string, position, duration time.Duration)
	CrossfadeDuration() time.Duration
}

// HistorySource lists past batches and what each one exported.
type HistorySource interface {
	History(limit int) ([]ledger.BatchRecord, error)
	Exports(batchID string) ([]ledger.ExportRecord, error)
	Failures(batchID string) ([]ledger.FailureRecord, error)
}

// Server holds the handlers' dependencies.
type Server struct {
	ctx  context.Context // batches outlive the request that started them
	sess *session.Session
	proc *batch.Processor

	player      Auditioner
	broadcaster *stream.Broadcaster
	history     HistorySource
	shutdown    func(removeTemp bool)

	defaultHardware separator.HardwareMode

	upgrader     websocket.Upgrader
	pushInterval time.Duration
}

// New creates the API server. ctx bounds background batch work.
func New(ctx context.Context, sess *session.Session, proc *batch.Processor) *Server {
	return &Server{
		ctx:             ctx,
		sess:            sess,
		proc:            proc,
		defaultHardware: separator.GPU,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		pushInterval: 500 * time.Millisecond,
	}
}

// SetAudition enables preview audition through p, reporting listener
// stats from b. Either may be nil.
func (s *Server) SetAudition(p Auditioner, b *stream.Broadcaster) {
	s.player = p
	s.broadcaster = b
}

// SetDefaultHardware is used when a batch request names no hardware mode.
func (s *Server) SetDefaultHardware(hw separator.HardwareMode) {
	s.defaultHardware = hw
}

// SetHistory enables /api/history.
func (s *Server) SetHistory(h HistorySource) {
	s.history = h
}

// SetShutdown sets what /api/shutdown does.
func (s *Server) SetShutdown(fn func(removeTemp bool)) {
	s.shutdown = fn
}

// Register adds every API route to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/start_processing", post(s.handleStart))
	mux.HandleFunc("/api/processing_status", s.handleProcessingStatus)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/audio_files", s.handleAudioFiles)
	mux.HandleFunc("/api/select_audio/{index}", post(s.handleSelect))
	mux.HandleFunc("/api/config", s.handleConfig)
	mux.HandleFunc("/api/default_config", s.handleDefaultConfig)
	mux.HandleFunc("/api/switch_channel_mode", post(s.handleSwitchChannels))
	mux.HandleFunc("/api/apply_config_to_all", post(s.handleApply(false)))
	mux.HandleFunc("/api/apply_config_to_remaining", post(s.handleApply(true)))
	mux.HandleFunc("/api/reset_to_default", post(s.handleReset))
	mux.HandleFunc("/api/preview", post(s.handlePreview))
	mux.HandleFunc("/api/preview_audio", s.handlePreviewAudio)
	mux.HandleFunc("/api/source_audio/{source}", s.handleSourceAudio)
	mux.HandleFunc("/api/export", post(s.handleExport))
	mux.HandleFunc("/api/export/{index}", post(s.handleExportIndex))
	mux.HandleFunc("/api/export_all", post(s.handleExportAll))
	mux.HandleFunc("/api/audition", s.handleAudition)
	mux.HandleFunc("/api/audition/stop", post(s.handleAuditionStop))
	mux.HandleFunc("/api/history", s.handleHistory)
	mux.HandleFunc("/api/ws", s.handleWS)
	mux.HandleFunc("/api/shutdown", post(s.handleShutdown))
}

// Handler returns a mux with only the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.Register(mux)
	return mux
}

func post(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST required", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// writeError maps session errors to HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrBusy), errors.Is(err, session.ErrStale):
		code = http.StatusConflict
	case errors.Is(err, session.ErrNotReady), errors.Is(err, session.ErrConfiguration):
		code = http.StatusBadRequest
	}
	writeJSON(w, code, map[string]any{"error": err.Error()})
}

// decodeOptional decodes a JSON body into v, treating an empty body as {}.
func decodeOptional(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

type startRequest struct {
	InputDir     string `json:"inputDir"`
	OutputDir    string `json:"outputDir"`
	Hardware     string `json:"hardware"`
	Channel      string `json:"channel"` // "1" = 5.1, "2" = 7.1
	ChannelCount int    `json:"channel_count"`
}

func (req startRequest) channelCount(fallback int) int {
	switch {
	case req.ChannelCount != 0:
		return req.ChannelCount
	case req.Channel == "1":
		return 5
	case req.Channel == "2":
		return 7
	}
	return fallback
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"status": "error", "error": "invalid request"})
		return
	}
	hw := s.defaultHardware
	if req.Hardware != "" {
		var err error
		if hw, err = separator.ParseHardwareMode(req.Hardware); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"status": "error", "error": err.Error()})
			return
		}
	}

	id, err := s.proc.Start(s.ctx, batch.Request{
		InputDir:     req.InputDir,
		OutputDir:    req.OutputDir,
		Hardware:     hw,
		ChannelCount: req.channelCount(s.sess.ChannelCount()),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "batch_id": id})
}

func (s *Server) handleProcessingStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sess.Progress())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sess.Info())
}

func (s *Server) handleAudioFiles(w http.ResponseWriter, r *http.Request) {
	info := s.sess.Info()
	writeJSON(w, http.StatusOK, map[string]any{
		"audio_files":   info.Jobs,
		"current_index": info.CurrentIndex,
		"total":         len(info.Jobs),
	})
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	i, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		writeError(w, session.ErrOutOfRange)
		return
	}
	sel, err := s.sess.Select(i)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"name":           sel.Name,
		"channel_config": sel.Topology,
		"is_loaded":      sel.Loaded,
	})
}

// configRequest carries an optional topology, as sent by the mixer UI.
type configRequest struct {
	Topology *mix.Topology `json:"channel_config"`
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		resp := map[string]any{
			"channel_count":  s.sess.ChannelCount(),
			"default_config": s.sess.Defaults(),
		}
		if t, err := s.sess.Topology(); err == nil {
			resp["channel_config"] = t
			resp["current_audio_name"] = s.sess.Info().CurrentName
		}
		writeJSON(w, http.StatusOK, resp)
	case http.MethodPost:
		var req configRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Topology == nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "channel_config required"})
			return
		}
		if err := s.sess.UpdateTopology(*req.Topology); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	default:
		http.Error(w, "GET or POST required", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleDefaultConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"default_config": s.sess.Defaults(),
		"channel_count":  s.sess.ChannelCount(),
	})
}

func (s *Server) handleSwitchChannels(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ChannelCount int `json:"channel_count"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, session.ErrInvalidChannelCount)
		return
	}
	defaults, err := s.sess.SwitchChannelCount(req.ChannelCount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"channel_count":  req.ChannelCount,
		"channel_config": defaults,
		"default_config": defaults,
	})
}

func (s *Server) handleApply(remainingOnly bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req configRequest
		if err := decodeOptional(r, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid channel_config"})
			return
		}
		apply := s.sess.ApplyToAll
		if remainingOnly {
			apply = s.sess.ApplyToRemaining
		}
		n, err := apply(req.Topology)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "applied_to": n})
	}
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	t, err := s.sess.ResetActiveToDefault()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "channel_config": t})
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	var req configRequest
	if err := decodeOptional(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid channel_config"})
		return
	}
	p, err := s.sess.Preview(req.Topology)
	if err != nil {
		writeError(w, err)
		return
	}
	if s.player != nil {
		s.player.Play(audio.Clip{Name: p.Job, Samples: audio.FoldDown(p.Buffer.Samples, p.Buffer.Channels)})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"preview_url": "/api/preview_audio",
		"channels":    p.Channels,
		"frames":      p.Frames,
	})
}

func (s *Server) handlePreviewAudio(w http.ResponseWriter, r *http.Request) {
	serveWAV(w, r, s.sess.PreviewPath(), "preview file not found")
}

func (s *Server) handleSourceAudio(w http.ResponseWriter, r *http.Request) {
	name, err := audio.ParseStemName(r.PathValue("source"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": err.Error()})
		return
	}
	path, err := s.sess.SourcePath(name)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": err.Error()})
		return
	}
	serveWAV(w, r, path, "source file not found")
}

func serveWAV(w http.ResponseWriter, r *http.Request, path, missing string) {
	if info, err := os.Stat(path); err != nil || info.IsDir() {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": missing})
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	http.ServeFile(w, r, path)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	var req configRequest
	if err := decodeOptional(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid channel_config"})
		return
	}
	res, err := s.sess.Export(req.Topology)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"output_file":  res.OutputPath,
		"all_exported": s.sess.Info().AllExported,
	})
}

func (s *Server) handleExportIndex(w http.ResponseWriter, r *http.Request) {
	i, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		writeError(w, session.ErrOutOfRange)
		return
	}
	res, err := s.sess.ExportIndex(i)
	if err != nil && res.Status == "" {
		writeError(w, err)
		return
	}
	code := http.StatusOK
	switch res.Status {
	case session.ExportFailed:
		code = http.StatusInternalServerError
	case session.ExportStale:
		code = http.StatusConflict
	}
	writeJSON(w, code, res)
}

func (s *Server) handleExportAll(w http.ResponseWriter, r *http.Request) {
	results, err := s.sess.ExportAll()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"results":      results,
		"all_exported": s.sess.Info().AllExported,
	})
}

func (s *Server) handleAudition(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"enabled": s.player != nil}
	if s.player != nil {
		name, pos, dur := s.player.Status()
		resp["clip"] = name
		resp["position"] = pos.Seconds()
		resp["duration"] = dur.Seconds()
		resp["crossfade"] = s.player.CrossfadeDuration().Seconds()
	}
	if s.broadcaster != nil {
		resp["stream"] = s.broadcaster.Stats()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAuditionStop(w http.ResponseWriter, r *http.Request) {
	if s.player == nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "audition disabled"})
		return
	}
	s.player.Stop()
	writeJSON(w, http.StatusOK, map[string]any{"status": "stopped"})
}

// handleHistory lists recent batches, or with ?batch=<id> the exports and
// failures of one batch.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "history disabled"})
		return
	}
	if id := r.URL.Query().Get("batch"); id != "" {
		s.handleBatchHistory(w, id)
		return
	}
	limit := 20
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = v
	}
	records, err := s.history.History(limit)
	if err != nil {
		log.Printf("History: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	if records == nil {
		records = []ledger.BatchRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"batches": records})
}

func (s *Server) handleBatchHistory(w http.ResponseWriter, id string) {
	exports, err := s.history.Exports(id)
	if err != nil {
		log.Printf("History %s: %v", id, err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	failures, err := s.history.Failures(id)
	if err != nil {
		log.Printf("History %s: %v", id, err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	if exports == nil {
		exports = []ledger.ExportRecord{}
	}
	if failures == nil {
		failures = []ledger.FailureRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"batch_id": id, "exports": exports, "failures": failures})
}

func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeleteTemp bool `json:"delete_temp"`
	}
	if err := decodeOptional(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid request"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "shutting down"})
	if s.shutdown != nil {
		log.Printf("Shutdown requested (delete temp: %v)", req.DeleteTemp)
		go s.shutdown(req.DeleteTemp)
	}
}
