package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/go-go-golems/parley/pkg/attachments"
	"github.com/go-go-golems/parley/pkg/events"
	"github.com/go-go-golems/parley/pkg/session"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

// command is what a websocket client sends.
type command struct {
	Type        string   `json:"type"`
	ID          string   `json:"id,omitempty"`
	Text        string   `json:"text,omitempty"`
	Images      []string `json:"images,omitempty"`
	Attachments []string `json:"attachments,omitempty"`
}

type commandError struct {
	Type    string `json:"type"`
	Command string `json:"command"`
	Error   string `json:"error"`
}

// wsConn serializes writes; gorilla allows a single concurrent writer.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) write(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteMessage(messageType, data)
}

func (c *wsConn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteJSON(v)
}

func (s *Server) upgrader() websocket.Upgrader {
	origin := s.settings.CORSOrigin
	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			if origin == "" || origin == "*" {
				return true
			}
			return r.Header.Get("Origin") == origin
		},
	}
}

// handleWebSocket streams the session's events as JSON text frames and
// accepts submit, edit, regenerate and cancel commands.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	m, err := s.session(r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if s.router == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "event streaming is disabled"})
		return
	}

	// subscribe before upgrading so no event after the handshake is missed
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()
	msgs, err := s.router.Subscribe(ctx, events.TopicChat)
	if err != nil {
		writeError(w, r, errors.Wrap(err, "could not subscribe to events"))
		return
	}

	upgrader := s.upgrader()
	raw, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("session_id", m.ID()).Msg("websocket upgrade failed")
		return
	}
	conn := &wsConn{conn: raw}
	defer func() {
		_ = raw.Close()
	}()

	log.Debug().Str("session_id", m.ID()).Msg("websocket connected")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer func() {
			// unblocks the reader below
			_ = raw.Close()
		}()
		defer cancel()
		s.pushEvents(ctx, conn, m.ID(), msgs)
	}()

	for {
		var cmd command
		if err := raw.ReadJSON(&cmd); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Err(err).Str("session_id", m.ID()).Msg("websocket read failed")
			}
			break
		}
		if err := s.dispatch(ctx, m, cmd); err != nil {
			if werr := conn.writeJSON(commandError{Type: "command_error", Command: cmd.Type, Error: err.Error()}); werr != nil {
				break
			}
		}
	}

	cancel()
	wg.Wait()
	log.Debug().Str("session_id", m.ID()).Msg("websocket disconnected")
}

func (s *Server) pushEvents(ctx context.Context, conn *wsConn, sessionID string, msgs <-chan *message.Message) {
	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			if err := conn.write(websocket.PingMessage, nil); err != nil {
				return
			}
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			msg.Ack()
			if msg.Metadata.Get(events.MetadataKeySessionID) != sessionID {
				continue
			}
			if err := conn.write(websocket.TextMessage, msg.Payload); err != nil {
				log.Debug().Err(err).Str("session_id", sessionID).Msg("websocket write failed")
				return
			}
		}
	}
}

func (s *Server) dispatch(ctx context.Context, m *session.Manager, cmd command) error {
	switch cmd.Type {
	case "submit":
		var options []session.SubmitOption
		for _, url := range cmd.Images {
			options = append(options, session.WithImageURL(url))
		}
		for _, a := range cmd.Attachments {
			data, err := attachments.DecodeDataURI(a)
			if err != nil {
				return err
			}
			options = append(options, session.WithAttachment(data))
		}
		_, err := m.Submit(ctx, cmd.Text, options...)
		return err
	case "edit":
		_, err := m.Edit(ctx, cmd.ID, cmd.Text)
		return err
	case "regenerate":
		_, err := m.Regenerate(ctx)
		return err
	case "cancel":
		return m.Cancel()
	default:
		return errors.Errorf("unknown command %q", cmd.Type)
	}
}
