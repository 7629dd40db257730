package game

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"parley.ai/internal/group"
)

// scriptPlayer is an in-process player driven by a reaction callback.
type scriptPlayer struct {
	id    string
	react func(e Event, pol ReactPolicy) []Event

	mu        sync.Mutex
	tentative []Event
	policies  []ReactPolicy
	finalized []Event
}

func (p *scriptPlayer) ID() string { return p.id }

func (p *scriptPlayer) AckTentative(ctx context.Context, e Event, pol ReactPolicy) ([]Event, error) {
	p.mu.Lock()
	p.tentative = append(p.tentative, e)
	p.policies = append(p.policies, pol)
	p.mu.Unlock()
	if p.react == nil {
		return nil, nil
	}
	return p.react(e, pol), nil
}

func (p *scriptPlayer) AckFinalized(ctx context.Context, e Event) error {
	p.mu.Lock()
	p.finalized = append(p.finalized, e)
	p.mu.Unlock()
	return nil
}

func (p *scriptPlayer) finalizedKinds() []Kind {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Kind, 0, len(p.finalized))
	for _, e := range p.finalized {
		out = append(out, e.Kind())
	}
	return out
}

func newTestEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	e, err := New("g1", cfg, group.NewStore(nil), nil)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return e
}

func unlimited() Config {
	return Config{MaxReactionsPerEvent: -1, MaxSuccessiveInterrupts: -1}
}

func TestConfigValidate(t *testing.T) {
	if _, err := New("g1", Config{MaxReactionsPerEvent: -2}, group.NewStore(nil), nil); err == nil {
		t.Fatalf("max_reactions_per_event=-2 should be rejected")
	}
	if _, err := New("g1", Config{MaxSuccessiveInterrupts: -5}, group.NewStore(nil), nil); err == nil {
		t.Fatalf("max_successive_interrupts=-5 should be rejected")
	}
}

func TestAddPlayerImmediateWhileWaiting(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, unlimited())
	p1 := &scriptPlayer{id: "p1"}

	if err := e.AddPlayer(ctx, p1); err != nil {
		t.Fatalf("add player: %v", err)
	}
	if e.PlayerCount() != 1 {
		t.Fatalf("want 1 player, got %d", e.PlayerCount())
	}
	all := e.Groups().Children(e.GID(AllPlayersGroup))
	if all["p1"] != group.Inc {
		t.Fatalf("p1 missing from the all-players group: %v", all)
	}
}

func TestAddPlayerQueuedWhileOngoing(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, unlimited())
	e.st.stage = StageOngoing

	p1 := &scriptPlayer{id: "p1"}
	if err := e.AddPlayer(ctx, p1); err != nil {
		t.Fatalf("add player: %v", err)
	}
	if e.PlayerCount() != 0 {
		t.Fatalf("player registered before the join event was processed")
	}
	if e.queue.Len() != 1 {
		t.Fatalf("want 1 queued event, got %d", e.queue.Len())
	}

	ev, err := e.queue.Get(ctx)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	join, ok := ev.(*PlayerJoin)
	if !ok || join.PlayerID != "p1" {
		t.Fatalf("want PlayerJoin for p1, got %T %v", ev, ev)
	}
	if err := e.processEvent(ctx, ev, 0); err != nil {
		t.Fatalf("process join: %v", err)
	}
	if e.PlayerCount() != 1 {
		t.Fatalf("p1 not registered after processing the join event")
	}
	if e.Groups().Children(e.GID(AllPlayersGroup))["p1"] != group.Inc {
		t.Fatalf("p1 missing from the all-players group")
	}
}

func TestEnqueueStampsEnvironmentalSource(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, unlimited())

	ev := NewGameEnd(e.IDs(), "")
	if err := e.Enqueue(ctx, ev); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if ev.Source != "g1" {
		t.Fatalf("want game id as source, got %q", ev.Source)
	}
}

func TestInterruptSelectionShortestPrefixWins(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, unlimited())

	sp := NewSpeech(e.IDs(), "p1", nil, "hello world")

	p1 := &scriptPlayer{id: "p1"}
	p2 := &scriptPlayer{id: "p2"}
	p3 := &scriptPlayer{id: "p3"}
	p2.react = func(ev Event, pol ReactPolicy) []Event {
		if ev.EventCore().ID != sp.ID {
			return nil
		}
		in := NewInterrupt(e.IDs(), "p2", nil, "wait!", "hello")
		return []Event{React(in, ev)}
	}
	var chosenID int64
	p3.react = func(ev Event, pol ReactPolicy) []Event {
		if ev.EventCore().ID != sp.ID {
			return nil
		}
		in := NewInterrupt(e.IDs(), "p3", nil, "stop right there", "hel")
		chosenID = in.ID
		return []Event{React(in, ev)}
	}
	for _, p := range []*scriptPlayer{p1, p2, p3} {
		if err := e.AddPlayer(ctx, p); err != nil {
			t.Fatalf("add player: %v", err)
		}
	}

	if err := e.processEvent(ctx, sp, 0); err != nil {
		t.Fatalf("process: %v", err)
	}

	if sp.Content != "hel" {
		t.Fatalf("speech not truncated to the shortest prefix: %q", sp.Content)
	}
	if len(sp.Requires) != 1 || sp.Requires[0] != chosenID {
		t.Fatalf("want requires=[%d], got %v", chosenID, sp.Requires)
	}

	// Depth-first: the interrupt is finalized before the speech it cut off.
	kinds := p1.finalizedKinds()
	if len(kinds) != 2 || kinds[0] != KindInterrupt || kinds[1] != KindSpeech {
		t.Fatalf("want [INTERRUPT SPEECH] finalization order, got %v", kinds)
	}
}

func TestSpeechSelectsOneRandomSpeechReaction(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, unlimited())

	sp := NewSpeech(e.IDs(), "p1", nil, "any thoughts?")

	mkReactor := func(id string) *scriptPlayer {
		p := &scriptPlayer{id: id}
		p.react = func(ev Event, pol ReactPolicy) []Event {
			if ev.EventCore().ID != sp.ID {
				return nil
			}
			return []Event{React(NewSpeech(e.IDs(), id, nil, "me!"), ev)}
		}
		return p
	}
	p1 := &scriptPlayer{id: "p1"}
	for _, p := range []*scriptPlayer{p1, mkReactor("p2"), mkReactor("p3")} {
		if err := e.AddPlayer(ctx, p); err != nil {
			t.Fatalf("add player: %v", err)
		}
	}

	if err := e.processEvent(ctx, sp, 0); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(sp.Requires) != 1 {
		t.Fatalf("exactly one speech reaction should be selected, got %v", sp.Requires)
	}
}

func TestReactionCapOnePerViewerThenSample(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Config{MaxReactionsPerEvent: 2, MaxSuccessiveInterrupts: -1})

	start := NewGameStart(e.IDs(), "g1")
	for i := 0; i < 5; i++ {
		id := string(rune('a' + i))
		p := &scriptPlayer{id: id}
		p.react = func(ev Event, pol ReactPolicy) []Event {
			if ev.EventCore().ID != start.ID {
				return nil
			}
			return []Event{React(NewSpeech(e.IDs(), id, nil, "reaction"), ev)}
		}
		if err := e.AddPlayer(ctx, p); err != nil {
			t.Fatalf("add player: %v", err)
		}
	}

	if err := e.processEvent(ctx, start, 0); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(start.Requires) != 2 {
		t.Fatalf("cap=2 with 5 one-reaction viewers: want 2 processed, got %d", len(start.Requires))
	}
}

func TestReactionCapUnlimitedProcessesAll(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, unlimited())

	start := NewGameStart(e.IDs(), "g1")
	for _, id := range []string{"p1", "p2", "p3"} {
		id := id
		p := &scriptPlayer{id: id}
		p.react = func(ev Event, pol ReactPolicy) []Event {
			if ev.EventCore().ID != start.ID {
				return nil
			}
			return []Event{React(NewSpeech(e.IDs(), id, nil, "hi"), ev)}
		}
		if err := e.AddPlayer(ctx, p); err != nil {
			t.Fatalf("add player: %v", err)
		}
	}

	if err := e.processEvent(ctx, start, 0); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(start.Requires) != 3 {
		t.Fatalf("unlimited cap: want all 3 processed, got %d", len(start.Requires))
	}
}

func TestValidationSourceMismatch(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, unlimited())

	start := NewGameStart(e.IDs(), "g1")
	p := &scriptPlayer{id: "p1"}
	p.react = func(ev Event, pol ReactPolicy) []Event {
		if ev.EventCore().ID != start.ID {
			return nil
		}
		return []Event{React(NewSpeech(e.IDs(), "someone_else", nil, "hi"), ev)}
	}
	if err := e.AddPlayer(ctx, p); err != nil {
		t.Fatalf("add player: %v", err)
	}

	err := e.processEvent(ctx, start, 0)
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Code != SourceMismatch {
		t.Fatalf("want SourceMismatch, got %v", err)
	}
}

func TestValidationBlocksMismatch(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, unlimited())

	start := NewGameStart(e.IDs(), "g1")
	p := &scriptPlayer{id: "p1"}
	p.react = func(ev Event, pol ReactPolicy) []Event {
		if ev.EventCore().ID != start.ID {
			return nil
		}
		// Missing React(): Blocks stays empty.
		return []Event{NewSpeech(e.IDs(), "p1", nil, "hi")}
	}
	if err := e.AddPlayer(ctx, p); err != nil {
		t.Fatalf("add player: %v", err)
	}

	err := e.processEvent(ctx, start, 0)
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Code != BlocksMismatch {
		t.Fatalf("want BlocksMismatch, got %v", err)
	}
}

func TestValidationInvalidInterrupt(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, unlimited())

	sp := NewSpeech(e.IDs(), "p1", nil, "hello world")
	p1 := &scriptPlayer{id: "p1"}
	p2 := &scriptPlayer{id: "p2"}
	p2.react = func(ev Event, pol ReactPolicy) []Event {
		if ev.EventCore().ID != sp.ID {
			return nil
		}
		// "goodbye" is not a prefix of "hello world".
		return []Event{React(NewInterrupt(e.IDs(), "p2", nil, "no", "goodbye"), ev)}
	}
	for _, p := range []*scriptPlayer{p1, p2} {
		if err := e.AddPlayer(ctx, p); err != nil {
			t.Fatalf("add player: %v", err)
		}
	}

	err := e.processEvent(ctx, sp, 0)
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Code != InvalidInterrupt {
		t.Fatalf("want InvalidInterrupt, got %v", err)
	}
}

type bogusEvent struct{ Core }

func (*bogusEvent) Kind() Kind { return Kind("BOGUS") }

func TestUnknownEventKindIsFatal(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, unlimited())

	err := e.processEvent(ctx, &bogusEvent{Core{ID: e.IDs().Next(), Source: "g1"}}, 0)
	if !errors.Is(err, ErrUnknownEventKind) {
		t.Fatalf("want ErrUnknownEventKind, got %v", err)
	}
}

func TestSuccessiveInterruptCap(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Config{MaxReactionsPerEvent: -1, MaxSuccessiveInterrupts: 1})

	sp := NewSpeech(e.IDs(), "p1", nil, "hello world")

	p1 := &scriptPlayer{id: "p1"}
	p2 := &scriptPlayer{id: "p2"}
	p3 := &scriptPlayer{id: "p3"}

	var firstInterrupt *Interrupt
	p2.react = func(ev Event, pol ReactPolicy) []Event {
		if ev.EventCore().ID != sp.ID {
			return nil
		}
		firstInterrupt = NewInterrupt(e.IDs(), "p2", nil, "stop", "hello")
		return []Event{React(firstInterrupt, ev)}
	}
	p3.react = func(ev Event, pol ReactPolicy) []Event {
		// Only chain off p2's interrupt, never the root speech.
		if ev.Kind() != KindInterrupt || ev.EventCore().Source != "p2" {
			return nil
		}
		return []Event{React(NewInterrupt(e.IDs(), "p3", nil, "no, you stop", "st"), ev)}
	}
	for _, p := range []*scriptPlayer{p1, p2, p3} {
		if err := e.AddPlayer(ctx, p); err != nil {
			t.Fatalf("add player: %v", err)
		}
	}

	if err := e.processEvent(ctx, sp, 0); err != nil {
		t.Fatalf("process: %v", err)
	}

	// The first interrupt lands; the interrupt-of-the-interrupt is past the
	// cap and must be ignored.
	if sp.Content != "hello" {
		t.Fatalf("root speech should be truncated once: %q", sp.Content)
	}
	if firstInterrupt.Content != "stop" {
		t.Fatalf("chained interrupt past the cap still landed: %q", firstInterrupt.Content)
	}
	if len(firstInterrupt.Requires) != 0 {
		t.Fatalf("ignored interrupt was still processed: %v", firstInterrupt.Requires)
	}

	// Viewers of the first interrupt were told interrupting is not allowed.
	p3.mu.Lock()
	defer p3.mu.Unlock()
	for i, ev := range p3.tentative {
		if ev.EventCore().ID == firstInterrupt.ID && p3.policies[i].CanInterrupt {
			t.Fatalf("policy for the capped interrupt should forbid interrupts")
		}
	}
}

func TestExplicitVisibility(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, unlimited())

	p1 := &scriptPlayer{id: "p1"}
	p2 := &scriptPlayer{id: "p2"}
	for _, p := range []*scriptPlayer{p1, p2} {
		if err := e.AddPlayer(ctx, p); err != nil {
			t.Fatalf("add player: %v", err)
		}
	}

	sp := NewSpeech(e.IDs(), "p1", []string{"p1"}, "just us")
	sp.Visible = []string{"p1"}
	if err := e.processEvent(ctx, sp, 0); err != nil {
		t.Fatalf("process: %v", err)
	}

	p2.mu.Lock()
	defer p2.mu.Unlock()
	if len(p2.tentative) != 0 || len(p2.finalized) != 0 {
		t.Fatalf("p2 saw an event it is not a viewer of")
	}
}

func TestEndToEndRun(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	e := newTestEngine(t, unlimited())
	p1 := &scriptPlayer{id: "p1"}
	p2 := &scriptPlayer{id: "p2"}
	for _, p := range []*scriptPlayer{p1, p2} {
		if err := e.AddPlayer(ctx, p); err != nil {
			t.Fatalf("add player: %v", err)
		}
	}

	done := make(chan error, 1)
	go func() { done <- e.Start(ctx) }()

	// Wait for GameStart to finish processing, then end the game.
	deadline := time.Now().Add(2 * time.Second)
	for len(e.History()) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("GameStart was never processed")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err := e.End(ctx); err != nil {
		t.Fatalf("end: %v", err)
	}

	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
	if e.Stage() != StageEnded {
		t.Fatalf("want ENDED, got %s", e.Stage())
	}

	hist := e.History()
	if len(hist) != 2 || hist[0].Kind() != KindGameStart || hist[1].Kind() != KindGameEnd {
		kinds := make([]Kind, 0, len(hist))
		for _, ev := range hist {
			kinds = append(kinds, ev.Kind())
		}
		t.Fatalf("want [GAME_START GAME_END], got %v", kinds)
	}
	for _, p := range []*scriptPlayer{p1, p2} {
		kinds := p.finalizedKinds()
		if len(kinds) != 2 || kinds[0] != KindGameStart || kinds[1] != KindGameEnd {
			t.Fatalf("player %s finalized %v", p.id, kinds)
		}
	}

	if err := e.Start(ctx); !errors.Is(err, ErrNotWaiting) {
		t.Fatalf("restarting an ended game: want ErrNotWaiting, got %v", err)
	}
}

func TestHistoryRecordsReactionsBeforeCause(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, unlimited())

	sp := NewSpeech(e.IDs(), "p1", nil, "base")
	p1 := &scriptPlayer{id: "p1"}
	p2 := &scriptPlayer{id: "p2"}
	p2.react = func(ev Event, pol ReactPolicy) []Event {
		if ev.EventCore().ID != sp.ID {
			return nil
		}
		return []Event{React(NewSpeech(e.IDs(), "p2", nil, "reply"), ev)}
	}
	for _, p := range []*scriptPlayer{p1, p2} {
		if err := e.AddPlayer(ctx, p); err != nil {
			t.Fatalf("add player: %v", err)
		}
	}

	if err := e.processEvent(ctx, sp, 0); err != nil {
		t.Fatalf("process: %v", err)
	}
	hist := e.History()
	if len(hist) != 2 {
		t.Fatalf("want 2 history entries, got %d", len(hist))
	}
	if hist[0].EventCore().ID <= sp.ID {
		t.Fatalf("reaction id %d should be after cause id %d", hist[0].EventCore().ID, sp.ID)
	}
	if hist[1] != Event(sp) {
		t.Fatalf("cause should complete after its reaction")
	}
}
