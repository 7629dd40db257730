package game

import "time"

// EventRecord is the flattened form of a processed event, handed to sinks
// (journal, index) once processing finishes.
type EventRecord struct {
	ID       int64    `json:"id"`
	Kind     string   `json:"kind"`
	Source   string   `json:"source"`
	Blocks   []int64  `json:"blocks,omitempty"`
	Requires []int64  `json:"requires,omitempty"`
	Visible  []string `json:"visible,omitempty"`
	Content  string   `json:"content,omitempty"`
	At       string   `json:"at"`
}

// EventSink receives a record for every fully processed event. Sink
// failures must not stall the engine; implementations buffer or drop.
type EventSink interface {
	RecordEvent(rec EventRecord)
}

// RecordOf flattens a processed event into its sink form.
func RecordOf(ev Event) EventRecord {
	c := ev.EventCore()
	rec := EventRecord{
		ID:       c.ID,
		Kind:     string(ev.Kind()),
		Source:   c.Source,
		Blocks:   c.Blocks,
		Requires: c.Requires,
		Visible:  c.Visible,
		At:       time.Now().UTC().Format(time.RFC3339Nano),
	}
	switch e := ev.(type) {
	case *Interrupt:
		rec.Content = e.Content
	case *Speech:
		rec.Content = e.Content
	}
	return rec
}
