package game

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"parley.ai/internal/group"
)

// AllPlayersGroup is the per-game group every registered player joins.
const AllPlayersGroup = "all"

// Engine drains the event queue one event at a time, fanning out to
// viewers concurrently inside each event's processing. Reactions are
// resolved depth-first: a reaction selected while processing event X is
// fully processed before the loop dequeues the next top-level event.
type Engine struct {
	id  string
	cfg Config
	log Logger

	ids    IDSource
	queue  *Queue
	groups *group.Store
	sink   EventSink
	rng    *rand.Rand

	mu      sync.Mutex
	st      state
	players map[string]Player
	order   []string // registration order
	pending map[string]Player
}

// New builds an engine named id. groups must not be nil; logger and sink
// may be.
func New(id string, cfg Config, groups *group.Store, logger Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = NopLogger{}
	}
	return &Engine{
		id:      id,
		cfg:     cfg,
		log:     logger,
		queue:   NewQueue(cfg.QueueSize),
		groups:  groups,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		st:      state{stage: StageWaiting},
		players: make(map[string]Player),
		pending: make(map[string]Player),
	}, nil
}

func (e *Engine) ID() string           { return e.id }
func (e *Engine) IDs() *IDSource       { return &e.ids }
func (e *Engine) Config() Config       { return e.cfg }
func (e *Engine) Groups() *group.Store { return e.groups }

// SetSink installs the processed-event sink. Call before Start.
func (e *Engine) SetSink(s EventSink) { e.sink = s }

// GID scopes a group name to this game: GID("all") -> "g:<game>/all".
func (e *Engine) GID(name string) string { return group.ID(e.id, name) }

func (e *Engine) Stage() Stage {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.st.stage
}

func (e *Engine) PlayerCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.players)
}

// History returns the events processed so far, in completion order.
func (e *Engine) History() []Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Event, len(e.st.history))
	copy(out, e.st.history)
	return out
}

// AddPlayer registers p. While WAITING the registration is immediate;
// once ONGOING it is enqueued as a PlayerJoin event and takes effect when
// that event is processed.
func (e *Engine) AddPlayer(ctx context.Context, p Player) error {
	e.mu.Lock()
	stage := e.st.stage
	if stage == StageEnded {
		e.mu.Unlock()
		return ErrGameEnded
	}
	if stage == StageWaiting {
		e.registerLocked(p)
		e.mu.Unlock()
		e.infof("player %s registered", p.ID())
		return nil
	}
	e.pending[p.ID()] = p
	e.mu.Unlock()

	return e.Enqueue(ctx, NewPlayerJoin(&e.ids, e.id, p.ID()))
}

func (e *Engine) registerLocked(p Player) {
	if _, ok := e.players[p.ID()]; ok {
		return
	}
	e.players[p.ID()] = p
	e.order = append(e.order, p.ID())
	e.groups.Add(e.GID(AllPlayersGroup), p.ID(), group.Inc)
}

// Enqueue inserts ev into the event queue at the fixed priority band.
// Events with no source are treated as environmental and stamped with the
// game's own id.
func (e *Engine) Enqueue(ctx context.Context, ev Event) error {
	c := ev.EventCore()
	if c.Source == "" {
		c.Source = e.id
	}
	if err := e.queue.Put(ctx, DefaultPriority, ev); err != nil {
		return err
	}
	e.infof("enqueued %s id=%d src=%s", ev.Kind(), c.ID, c.Source)
	return nil
}

// End enqueues a GameEnd event; the run loop exits once it is processed.
func (e *Engine) End(ctx context.Context) error {
	return e.Enqueue(ctx, NewGameEnd(&e.ids, e.id))
}

// Start moves the game from WAITING to ONGOING, enqueues GameStart, and
// drains the queue until a GameEnd event (or a fatal error) ends the run.
// The error that stopped the run is returned; a clean GameEnd returns nil.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.st.stage != StageWaiting {
		e.mu.Unlock()
		return ErrNotWaiting
	}
	e.st.stage = StageOngoing
	e.mu.Unlock()
	e.infof("game %s: waiting -> ongoing", e.id)

	if err := e.Enqueue(ctx, NewGameStart(&e.ids, e.id)); err != nil {
		return err
	}

	err := e.runLoop(ctx)

	e.mu.Lock()
	e.st.stage = StageEnded
	e.mu.Unlock()
	e.infof("game %s: ended", e.id)
	return err
}

func (e *Engine) runLoop(ctx context.Context) error {
	for e.ongoing() {
		ev, err := e.queue.Get(ctx)
		if err != nil {
			return err
		}
		e.infof("dequeued %s id=%d", ev.Kind(), ev.EventCore().ID)
		if err := e.processEvent(ctx, ev, 0); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) ongoing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.st.stage == StageOngoing
}

// processEvent runs the per-event pipeline: tentative fan-out, reaction
// validation, reaction selection (recursing into selected reactions),
// kind-specific handling, finalized fan-out. interrupts counts the chain
// of interrupts above ev, used to cap successive interruptions.
func (e *Engine) processEvent(ctx context.Context, ev Event, interrupts int) error {
	viewers := e.viewersOf(ev)

	pol := ReactPolicy{
		CanReact:     e.cfg.MaxReactionsPerEvent != 0,
		CanInterrupt: e.interruptAllowed(ev, interrupts),
	}
	reactions, err := e.announceTentative(ctx, ev, viewers, pol)
	if err != nil {
		return err
	}

	if err := e.validateReactions(ev, viewers, reactions); err != nil {
		e.log.Error(err.Error())
		return err
	}

	if err := e.selectAndProcess(ctx, ev, viewers, reactions, interrupts); err != nil {
		return err
	}

	if err := e.handle(ev); err != nil {
		return err
	}

	e.announceFinalized(ctx, ev)

	e.mu.Lock()
	e.st.history = append(e.st.history, ev)
	e.mu.Unlock()
	if e.sink != nil {
		e.sink.RecordEvent(RecordOf(ev))
	}
	return nil
}

func (e *Engine) interruptAllowed(ev Event, interrupts int) bool {
	if !isSpeechKind(ev.Kind()) {
		return false
	}
	limit := e.cfg.MaxSuccessiveInterrupts
	return limit == -1 || interrupts < limit
}

// viewersOf resolves the event's visibility to concrete players. A nil
// Visible means every currently registered player; an explicit list is
// taken as-is, skipping ids with no registered player.
func (e *Engine) viewersOf(ev Event) []Player {
	e.mu.Lock()
	defer e.mu.Unlock()

	c := ev.EventCore()
	if c.Visible == nil {
		out := make([]Player, 0, len(e.order))
		for _, id := range e.order {
			out = append(out, e.players[id])
		}
		return out
	}
	out := make([]Player, 0, len(c.Visible))
	for _, id := range c.Visible {
		p, ok := e.players[id]
		if !ok {
			e.log.Warn(fmt.Sprintf("event %d visible to unknown player %s", c.ID, id))
			continue
		}
		out = append(out, p)
	}
	return out
}

// announceTentative fans out the tentative acknowledgment to every viewer
// concurrently and waits for all of them (a synchronous barrier). Results
// keep viewer order.
func (e *Engine) announceTentative(ctx context.Context, ev Event, viewers []Player, pol ReactPolicy) ([][]Event, error) {
	results := make([][]Event, len(viewers))
	errs := make([]error, len(viewers))

	var wg sync.WaitGroup
	for i, p := range viewers {
		wg.Add(1)
		go func(i int, p Player) {
			defer wg.Done()
			results[i], errs[i] = p.AckTentative(ctx, ev, pol)
		}(i, p)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("tentative ack of event %d by %s: %w", ev.EventCore().ID, viewers[i].ID(), err)
		}
	}
	return results, nil
}

func (e *Engine) validateReactions(ev Event, viewers []Player, reactions [][]Event) error {
	id := ev.EventCore().ID
	for i, p := range viewers {
		for _, r := range reactions[i] {
			rc := r.EventCore()
			if rc.Source != p.ID() {
				return &ValidationError{Code: SourceMismatch, Viewer: p.ID(), EventID: id, Reaction: rc.ID}
			}
			if !containsID(rc.Blocks, id) {
				return &ValidationError{Code: BlocksMismatch, Viewer: p.ID(), EventID: id, Reaction: rc.ID}
			}
			if intr, ok := r.(*Interrupt); ok {
				sp, ok := asSpeech(ev)
				if !ok || !strings.HasPrefix(sp.Content, intr.TargetPrefix) {
					return &ValidationError{Code: InvalidInterrupt, Viewer: p.ID(), EventID: id, Reaction: rc.ID}
				}
			}
		}
	}
	return nil
}

// selectAndProcess applies the reaction-selection policy and recursively
// processes each selected reaction, appending its id to ev.Requires.
func (e *Engine) selectAndProcess(ctx context.Context, ev Event, viewers []Player, reactions [][]Event, interrupts int) error {
	if sp, ok := asSpeech(ev); ok {
		return e.selectForSpeech(ctx, ev, sp, reactions, interrupts)
	}
	return e.selectCapped(ctx, ev, reactions)
}

// selectForSpeech: at most one interrupt (the one with the shortest
// delivered prefix) or else one random speech; everything that is neither
// is processed unconditionally.
func (e *Engine) selectForSpeech(ctx context.Context, ev Event, sp *Speech, reactions [][]Event, interrupts int) error {
	var intrs []*Interrupt
	var speeches []Event
	var other []Event
	for _, rs := range reactions {
		for _, r := range rs {
			switch r := r.(type) {
			case *Interrupt:
				intrs = append(intrs, r)
			case *Speech:
				speeches = append(speeches, r)
			default:
				other = append(other, r)
			}
		}
	}

	if len(intrs) > 0 && !e.interruptAllowed(ev, interrupts) {
		e.warnf("event %d: %d interrupt(s) ignored, successive-interrupt cap reached", ev.EventCore().ID, len(intrs))
		intrs = nil
	}

	switch {
	case len(intrs) > 0:
		chosen := intrs[0]
		for _, in := range intrs[1:] {
			if len(in.TargetPrefix) < len(chosen.TargetPrefix) {
				chosen = in
			}
		}
		sp.Content = chosen.TargetPrefix
		e.infof("speech %d interrupted by %d at %q", ev.EventCore().ID, chosen.ID, chosen.TargetPrefix)
		if err := e.processReaction(ctx, ev, chosen, interrupts+1); err != nil {
			return err
		}
	case len(speeches) > 0:
		chosen := speeches[e.rng.Intn(len(speeches))]
		if err := e.processReaction(ctx, ev, chosen, 0); err != nil {
			return err
		}
	}

	for _, r := range other {
		if err := e.processReaction(ctx, ev, r, 0); err != nil {
			return err
		}
	}
	return nil
}

// selectCapped: process everything if it fits under the cap; otherwise
// narrow to one reaction per viewer (the first each returned) and, if
// still over, a uniform sample of exactly cap of those.
func (e *Engine) selectCapped(ctx context.Context, ev Event, reactions [][]Event) error {
	var all []Event
	for _, rs := range reactions {
		all = append(all, rs...)
	}

	limit := e.cfg.MaxReactionsPerEvent
	selected := all
	if limit != -1 && len(all) > limit {
		var candidates []Event
		for _, rs := range reactions {
			if len(rs) > 0 {
				candidates = append(candidates, rs[0])
			}
		}
		selected = candidates
		if len(candidates) > limit {
			idx := e.rng.Perm(len(candidates))[:limit]
			sort.Ints(idx)
			selected = make([]Event, 0, limit)
			for _, i := range idx {
				selected = append(selected, candidates[i])
			}
		}
	}

	for _, r := range selected {
		if err := e.processReaction(ctx, ev, r, 0); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) processReaction(ctx context.Context, cause Event, r Event, interrupts int) error {
	c := cause.EventCore()
	c.Requires = append(c.Requires, r.EventCore().ID)
	return e.processEvent(ctx, r, interrupts)
}

// handle dispatches the event's kind-specific effect. The kind set is
// closed; anything else is fatal.
func (e *Engine) handle(ev Event) error {
	switch ev := ev.(type) {
	case *GameStart:
		// No effect.
	case *GameEnd:
		e.mu.Lock()
		e.st.stage = StageEnded
		e.mu.Unlock()
		e.infof("game %s: ongoing -> ended", e.id)
	case *Interrupt, *Speech:
		// Delivery happens through the acknowledgment fan-outs.
	case *PlayerJoin:
		e.mu.Lock()
		p, ok := e.pending[ev.PlayerID]
		if ok {
			delete(e.pending, ev.PlayerID)
			e.registerLocked(p)
		}
		e.mu.Unlock()
		if !ok {
			e.warnf("player join %d: no pending player %s", ev.ID, ev.PlayerID)
		} else {
			e.infof("player %s registered", ev.PlayerID)
		}
	default:
		return fmt.Errorf("event %d kind %q: %w", ev.EventCore().ID, ev.Kind(), ErrUnknownEventKind)
	}
	return nil
}

// announceFinalized fans out the finalized acknowledgment to the current
// viewers. Failures are logged, never propagated: these are notifications.
func (e *Engine) announceFinalized(ctx context.Context, ev Event) {
	viewers := e.viewersOf(ev)

	var wg sync.WaitGroup
	for _, p := range viewers {
		wg.Add(1)
		go func(p Player) {
			defer wg.Done()
			if err := p.AckFinalized(ctx, ev); err != nil {
				e.warnf("finalized ack of event %d by %s: %v", ev.EventCore().ID, p.ID(), err)
			}
		}(p)
	}
	wg.Wait()
}

func asSpeech(ev Event) (*Speech, bool) {
	switch ev := ev.(type) {
	case *Interrupt:
		return &ev.Speech, true
	case *Speech:
		return ev, true
	}
	return nil, false
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func (e *Engine) infof(format string, args ...any) { e.log.Info(fmt.Sprintf(format, args...)) }
func (e *Engine) warnf(format string, args ...any) { e.log.Warn(fmt.Sprintf(format, args...)) }
