package observer

import (
	"encoding/json"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"parley.ai/internal/game"
	"parley.ai/internal/observerproto"
	"parley.ai/internal/protocol"
)

// Server streams processed events to read-only observers. It implements
// game.EventSink: install it next to the persistence sinks and every
// finished event is fanned out to all subscribed connections. Observers
// never feed back into the game, so a slow one just loses frames.
type Server struct {
	engine *game.Engine
	log    *log.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64

	mu   sync.Mutex
	subs map[uint64]*subscriber
}

type subscriber struct {
	out chan []byte

	mu    sync.Mutex
	kinds map[string]bool // nil means every kind
}

func (s *subscriber) wants(kind string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kinds == nil || s.kinds[kind]
}

func (s *subscriber) setKinds(kinds []string) {
	var m map[string]bool
	if len(kinds) > 0 {
		m = make(map[string]bool, len(kinds))
		for _, k := range kinds {
			m[k] = true
		}
	}
	s.mu.Lock()
	s.kinds = m
	s.mu.Unlock()
}

func NewServer(e *game.Engine, logger *log.Logger) *Server {
	return &Server{
		engine: e,
		log:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		subs: make(map[uint64]*subscriber),
	}
}

// RecordEvent implements game.EventSink. Frames are dropped per observer
// when its outbound buffer is full.
func (s *Server) RecordEvent(rec game.EventRecord) {
	b, err := json.Marshal(observerproto.EventMsg{
		Type:            "EVENT",
		ProtocolVersion: observerproto.Version,
		Event:           rec,
	})
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subs {
		if !sub.wants(rec.Kind) {
			continue
		}
		select {
		case sub.out <- b:
		default:
		}
	}
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		cfg := s.engine.Config()
		resp := observerproto.BootstrapResponse{
			ProtocolVersion: observerproto.Version,
			GameID:          s.engine.ID(),
			Stage:           string(s.engine.Stage()),
			Players:         s.engine.PlayerCount(),
			Events:          len(s.engine.History()),
			GameParams: protocol.GameParams{
				MaxReactionsPerEvent:    cfg.MaxReactionsPerEvent,
				MaxSuccessiveInterrupts: cfg.MaxSuccessiveInterrupts,
			},
		}

		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var subMsg observerproto.SubscribeMsg
		if err := json.Unmarshal(msg, &subMsg); err != nil {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad subscribe"), time.Now().Add(time.Second))
			return
		}
		if subMsg.Type != "SUBSCRIBE" || subMsg.ProtocolVersion != observerproto.Version {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"), time.Now().Add(time.Second))
			return
		}

		sub := &subscriber{out: make(chan []byte, 4096)}
		sub.setKinds(subMsg.Kinds)

		if subMsg.Backlog {
			s.queueBacklog(sub)
		}

		id := s.nextID.Add(1)
		s.mu.Lock()
		s.subs[id] = sub
		s.mu.Unlock()
		defer func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		}()

		// Writer goroutine.
		done := make(chan struct{})
		stop := make(chan struct{})
		go func() {
			defer close(done)
			for {
				select {
				case <-stop:
					return
				case b := <-sub.out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						return
					}
				}
			}
		}()

		// Reader loop: allow SUBSCRIBE updates to change the kind filter.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			var upd observerproto.SubscribeMsg
			if err := json.Unmarshal(msg, &upd); err != nil {
				continue
			}
			if upd.Type != "SUBSCRIBE" || upd.ProtocolVersion != observerproto.Version {
				continue
			}
			sub.setKinds(upd.Kinds)
		}

		close(stop)
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
		<-done
	}
}

// queueBacklog preloads the subscriber's buffer with the history so far.
// Done before registration, so no live frame can interleave ahead of it.
func (s *Server) queueBacklog(sub *subscriber) {
	for _, ev := range s.engine.History() {
		rec := game.RecordOf(ev)
		if !sub.wants(rec.Kind) {
			continue
		}
		b, err := json.Marshal(observerproto.EventMsg{
			Type:            "EVENT",
			ProtocolVersion: observerproto.Version,
			Event:           rec,
		})
		if err != nil {
			continue
		}
		select {
		case sub.out <- b:
		default:
			s.log.Printf("observer backlog truncated at event %d", rec.ID)
			return
		}
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
