package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/panbeh/pkg/agent"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// StreamFrame is one websocket frame in either direction.
type StreamFrame struct {
	Type    string         `json:"type"`
	Text    string         `json:"text,omitempty"`
	Message *agent.Message `json:"message,omitempty"`
	Typing  *bool          `json:"typing,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// handleStream pushes session messages and typing indicators over a
// websocket and accepts {"type":"send","text":...} frames.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to upgrade connection")
		return
	}

	events, unsubscribe := sess.Subscribe()
	defer unsubscribe()

	logger := s.logger.With().Str("session_id", sess.ID()).Logger()
	logger.Debug().Msg("Stream connected")

	outbound := make(chan StreamFrame, 8)
	done := make(chan struct{})

	go s.writeStream(conn, events, outbound, done)

	conn.SetReadLimit(maxBodyBytes)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	turnCtx := context.WithoutCancel(r.Context())
	for {
		var frame StreamFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn().Err(err).Msg("Stream read failed")
			}
			break
		}

		if frame.Type != "send" {
			s.queueFrame(outbound, done, StreamFrame{Type: "error", Error: "unsupported frame type"})
			continue
		}

		go func(text string) {
			if _, err := sess.Send(turnCtx, text); err != nil {
				msg := err.Error()
				if errors.Is(err, agent.ErrBusy) {
					msg = "busy"
				}
				s.queueFrame(outbound, done, StreamFrame{Type: "error", Error: msg})
			}
		}(frame.Text)
	}

	close(done)
	logger.Debug().Msg("Stream disconnected")
}

func (s *Server) queueFrame(outbound chan<- StreamFrame, done <-chan struct{}, frame StreamFrame) {
	select {
	case outbound <- frame:
	case <-done:
	}
}

func (s *Server) writeStream(conn *websocket.Conn, events <-chan agent.Message, outbound <-chan StreamFrame, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	write := func(frame StreamFrame) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		data, err := json.Marshal(frame)
		if err != nil {
			return true
		}
		return conn.WriteMessage(websocket.TextMessage, data) == nil
	}

	for {
		select {
		case msg, ok := <-events:
			if !ok {
				return
			}
			frame := StreamFrame{Type: "message", Message: &msg}
			if msg.Kind == agent.KindTyping {
				typing := msg.Typing
				frame = StreamFrame{Type: "typing", Typing: &typing}
			}
			if !write(frame) {
				return
			}
		case frame := <-outbound:
			if !write(frame) {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
