package ws

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"parley.ai/internal/game"
	"parley.ai/internal/protocol"
)

// RemotePlayer implements the engine's Player capability over a websocket
// connection. Tentative acknowledgments wait for the client's REACT reply
// with a deadline; on expiry the player is treated as having returned no
// reactions (fail-open) so one stalled client cannot wedge the run.
type RemotePlayer struct {
	id      string
	ids     *game.IDSource
	timeout time.Duration
	log     *log.Logger

	out chan []byte

	mu      sync.Mutex
	waiters map[int64]chan protocol.ReactMsg
	closed  bool
}

func newRemotePlayer(id string, ids *game.IDSource, timeout time.Duration, logger *log.Logger) *RemotePlayer {
	return &RemotePlayer{
		id:      id,
		ids:     ids,
		timeout: timeout,
		log:     logger,
		out:     make(chan []byte, 64),
		waiters: make(map[int64]chan protocol.ReactMsg),
	}
}

func (p *RemotePlayer) ID() string { return p.id }

func (p *RemotePlayer) AckTentative(ctx context.Context, e game.Event, pol game.ReactPolicy) ([]game.Event, error) {
	eventID := e.EventCore().ID
	reply := make(chan protocol.ReactMsg, 1)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, nil
	}
	p.waiters[eventID] = reply
	p.mu.Unlock()
	defer p.dropWaiter(eventID)

	msg := protocol.EventMsg{
		Type:            protocol.TypeEvent,
		ProtocolVersion: protocol.Version,
		Phase:           protocol.PhaseTentative,
		Event:           payloadOf(e),
		Policy:          &protocol.ReactPolicy{CanReact: pol.CanReact, CanInterrupt: pol.CanInterrupt},
	}
	if !p.send(msg) {
		return nil, nil
	}

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		p.log.Printf("player %s: tentative ack of event %d timed out", p.id, eventID)
		return nil, nil
	case react, ok := <-reply:
		if !ok {
			return nil, nil
		}
		return p.buildReactions(e, react), nil
	}
}

func (p *RemotePlayer) AckFinalized(ctx context.Context, e game.Event) error {
	msg := protocol.EventMsg{
		Type:            protocol.TypeEvent,
		ProtocolVersion: protocol.Version,
		Phase:           protocol.PhaseFinal,
		Event:           payloadOf(e),
	}
	p.send(msg)
	return nil
}

// buildReactions turns the client's reaction specs into events. The server
// assigns ids and stamps source and blocks, so a client cannot violate
// those parts of the contract.
func (p *RemotePlayer) buildReactions(e game.Event, react protocol.ReactMsg) []game.Event {
	var out []game.Event
	for _, spec := range react.Reactions {
		switch spec.Kind {
		case string(game.KindSpeech):
			sp := game.NewSpeech(p.ids, p.id, spec.Audience, spec.Content)
			out = append(out, game.React(sp, e))
		case string(game.KindInterrupt):
			in := game.NewInterrupt(p.ids, p.id, spec.Audience, spec.Content, spec.TargetPrefix)
			out = append(out, game.React(in, e))
		default:
			p.log.Printf("player %s: dropping reaction with kind %q", p.id, spec.Kind)
		}
	}
	return out
}

// send enqueues one outbound frame. A full buffer means the writer is
// stalled or gone; the frame is dropped so the engine is never blocked on
// a dead connection.
func (p *RemotePlayer) send(v any) bool {
	b, err := json.Marshal(v)
	if err != nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	select {
	case p.out <- b:
		return true
	default:
		p.log.Printf("player %s: outbound queue stalled, dropping frame", p.id)
		return false
	}
}

func (p *RemotePlayer) deliver(react protocol.ReactMsg) {
	p.mu.Lock()
	ch, ok := p.waiters[react.AckFor]
	p.mu.Unlock()
	if !ok {
		p.log.Printf("player %s: REACT for unknown event %d", p.id, react.AckFor)
		return
	}
	select {
	case ch <- react:
	default:
	}
}

func (p *RemotePlayer) dropWaiter(eventID int64) {
	p.mu.Lock()
	delete(p.waiters, eventID)
	p.mu.Unlock()
}

// close marks the player gone. It stays registered with the engine — the
// engine has no leave semantics — but all later acks fail open.
func (p *RemotePlayer) close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	for id, ch := range p.waiters {
		close(ch)
		delete(p.waiters, id)
	}
	close(p.out)
	p.mu.Unlock()
}

func payloadOf(e game.Event) protocol.EventPayload {
	c := e.EventCore()
	pl := protocol.EventPayload{
		ID:       c.ID,
		Kind:     string(e.Kind()),
		Source:   c.Source,
		Blocks:   c.Blocks,
		Requires: c.Requires,
	}
	switch e := e.(type) {
	case *game.Interrupt:
		pl.Audience = e.Audience
		pl.Content = e.Content
		pl.TargetPrefix = e.TargetPrefix
	case *game.Speech:
		pl.Audience = e.Audience
		pl.Content = e.Content
	}
	return pl
}
