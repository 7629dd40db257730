package ws

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"parley.ai/internal/game"
	"parley.ai/internal/protocol"
)

// Server exposes the engine's Player capability to remote players over a
// websocket. Each accepted connection becomes one RemotePlayer registered
// with the engine.
type Server struct {
	engine     *game.Engine
	log        *log.Logger
	ackTimeout time.Duration

	upgrader   websocket.Upgrader
	nextPlayer atomic.Int64
}

func NewServer(e *game.Engine, logger *log.Logger, ackTimeout time.Duration) *Server {
	if ackTimeout <= 0 {
		ackTimeout = 30 * time.Second
	}
	return &Server{
		engine:     e,
		log:        logger,
		ackTimeout: ackTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		player := s.handshake(conn)
		if player == nil {
			return
		}
		defer player.close()

		if err := s.engine.AddPlayer(r.Context(), player); err != nil {
			s.log.Printf("add player %s: %v", player.ID(), err)
			return
		}
		s.log.Printf("player %s connected", player.ID())

		// Writer goroutine.
		done := make(chan struct{})
		go func() {
			defer close(done)
			for b := range player.out {
				_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
					return
				}
			}
		}()

		// Reader loop: only REACT messages are expected after the handshake.
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil || base.Type != protocol.TypeReact {
				continue
			}
			var react protocol.ReactMsg
			if err := json.Unmarshal(msg, &react); err != nil {
				continue
			}
			if react.ProtocolVersion != protocol.Version {
				continue
			}
			player.deliver(react)
		}

		player.close()
		<-done
		s.log.Printf("player %s disconnected", player.ID())
	}
}

func (s *Server) handshake(conn *websocket.Conn) *RemotePlayer {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil
	}
	_ = conn.SetReadDeadline(time.Time{})

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return nil
	}

	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return nil
	}
	if hello.ProtocolVersion != protocol.Version {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"), time.Now().Add(time.Second))
		return nil
	}
	name := strings.TrimSpace(hello.PlayerName)
	if name == "" {
		name = "player"
	}

	id := fmt.Sprintf("%s_%d", name, s.nextPlayer.Add(1))
	player := newRemotePlayer(id, s.engine.IDs(), s.ackTimeout, s.log)

	cfg := s.engine.Config()
	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		PlayerID:        id,
		GameID:          s.engine.ID(),
		GameParams: protocol.GameParams{
			MaxReactionsPerEvent:    cfg.MaxReactionsPerEvent,
			MaxSuccessiveInterrupts: cfg.MaxSuccessiveInterrupts,
		},
	}
	if err := writeJSON(conn, welcome); err != nil {
		return nil
	}
	return player
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
