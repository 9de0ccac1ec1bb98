package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/satindergrewal/surroundmix/internal/api"
	"github.com/satindergrewal/surroundmix/internal/audio"
	"github.com/satindergrewal/surroundmix/internal/batch"
	"github.com/satindergrewal/surroundmix/internal/config"
	"github.com/satindergrewal/surroundmix/internal/ledger"
	"github.com/satindergrewal/surroundmix/internal/separator"
	"github.com/satindergrewal/surroundmix/internal/session"
	"github.com/satindergrewal/surroundmix/internal/stream"
)

func main() {
	cfg := config.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Println("surroundmix starting up...")

	hw, err := separator.ParseHardwareMode(cfg.Hardware)
	if err != nil {
		log.Fatalf("Invalid SURROUNDMIX_HARDWARE: %v", err)
	}
	if err := os.MkdirAll(cfg.WorkDir, 0o755); err != nil {
		log.Fatalf("Work dir: %v", err)
	}

	// Session: one live batch, previews under the work dir
	sess := session.New(audio.NewFiles(cfg.FFmpegPath), cfg.WorkDir)
	if cfg.ChannelCount != sess.ChannelCount() {
		if _, err := sess.SwitchChannelCount(cfg.ChannelCount); err != nil {
			log.Fatalf("Invalid SURROUNDMIX_CHANNELS: %v", err)
		}
	}

	// Separation strategy: GPU and CPU variants of the same command
	strategy := separator.NewStrategy(separator.Command{
		Python:     cfg.SeparatorPython,
		Script:     cfg.SeparatorScript,
		ModelType:  cfg.SeparatorModelType,
		ConfigPath: cfg.SeparatorConfigPath,
		Checkpoint: cfg.SeparatorCheckpoint,
	})
	proc := batch.NewProcessor(sess, strategy, cfg.WorkDir)

	// Audition: player -> broadcaster -> HTTP/WebRTC listeners
	player := audio.NewPlayer(cfg.AuditionCrossfade)
	go player.Run(ctx)
	broadcaster := stream.NewBroadcaster()
	go broadcaster.Run(ctx, player.Frames())
	webrtcHandler := stream.NewWebRTCHandler(broadcaster)

	var removeTemp atomic.Bool
	srv := api.New(ctx, sess, proc)
	srv.SetDefaultHardware(hw)
	srv.SetAudition(player, broadcaster)
	srv.SetShutdown(func(deleteTemp bool) {
		removeTemp.Store(deleteTemp)
		cancel()
	})

	// Export ledger (optional)
	if cfg.LedgerPath != "" {
		l, err := ledger.Open(cfg.LedgerPath)
		if err != nil {
			log.Printf("Ledger disabled: %v", err)
		} else {
			defer l.Close()
			sess.SetRecorder(l)
			srv.SetHistory(l)
			log.Printf("Ledger: %s", cfg.LedgerPath)
		}
	} else {
		log.Println("Ledger not configured (set SURROUNDMIX_LEDGER_PATH to record history)")
	}

	mux := http.NewServeMux()
	srv.Register(mux)
	mux.Handle("/stream", stream.NewHTTPHandler(broadcaster, cfg.FFmpegPath))
	mux.Handle("/offer", webrtcHandler)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"service":       "surroundmix",
			"status":        sess.Progress().Status,
			"channel_count": sess.ChannelCount(),
			"hardware":      hw,
		})
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		log.Println("Shutting down...")
		webrtcHandler.Close()
		server.Close()
	}()

	log.Printf("surroundmix listening on %s (%d.1, %s)", addr, sess.ChannelCount(), hw)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("HTTP server error: %v", err)
	}

	if err := proc.Cleanup(removeTemp.Load()); err != nil {
		log.Printf("Cleanup: %v", err)
	}
}
