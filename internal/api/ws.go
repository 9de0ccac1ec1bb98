package api

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/satindergrewal/surroundmix/internal/session"
)

// statusMessage is pushed to websocket clients whenever it changes.
type statusMessage struct {
	Processing session.ProgressInfo `json:"processing"`
	Session    session.Info         `json:"session"`
}

const writeWait = 5 * time.Second

// handleWS pushes status snapshots so the UI does not have to poll.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Websocket upgrade: %v", err)
		return
	}
	defer conn.Close()

	// Drain reads so close frames are processed.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	var last []byte
	push := func() error {
		msg, err := json.Marshal(statusMessage{Processing: s.sess.Progress(), Session: s.sess.Info()})
		if err != nil {
			return err
		}
		if bytes.Equal(msg, last) {
			return nil
		}
		last = msg
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteMessage(websocket.TextMessage, msg)
	}

	if err := push(); err != nil {
		return
	}
	ticker := time.NewTicker(s.pushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-closed:
			return
		case <-s.ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait))
			return
		case <-ticker.C:
			if err := push(); err != nil {
				return
			}
		}
	}
}
