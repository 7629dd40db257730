package log

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"

	"parley.ai/internal/game"
)

func readJournal(t *testing.T, dir string) []game.EventRecord {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "events", "events-*.jsonl.zst"))
	if err != nil || len(matches) != 1 {
		t.Fatalf("want one journal file, got %v (err %v)", matches, err)
	}
	f, err := os.Open(matches[0])
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		t.Fatalf("zstd: %v", err)
	}
	defer dec.Close()

	var out []game.EventRecord
	sc := bufio.NewScanner(dec)
	for sc.Scan() {
		var rec game.EventRecord
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			t.Fatalf("decode line %q: %v", sc.Text(), err)
		}
		out = append(out, rec)
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}
	return out
}

func TestEventJournalRoundTrip(t *testing.T) {
	dir := t.TempDir()
	j := NewEventJournal(dir, func(err error) { t.Errorf("journal: %v", err) })

	recs := []game.EventRecord{
		{ID: 1, Kind: "GAME_START", Source: "g1", At: "2026-01-01T00:00:00Z"},
		{ID: 2, Kind: "SPEECH", Source: "p1", Requires: []int64{3}, Content: "hel", At: "2026-01-01T00:00:01Z"},
		{ID: 3, Kind: "INTERRUPT", Source: "p2", Blocks: []int64{2}, Content: "wait", At: "2026-01-01T00:00:01Z"},
	}
	for _, rec := range recs {
		j.RecordEvent(rec)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	got := readJournal(t, dir)
	if len(got) != len(recs) {
		t.Fatalf("want %d records, got %d", len(recs), len(got))
	}
	for i, rec := range recs {
		if got[i].ID != rec.ID || got[i].Kind != rec.Kind || got[i].Content != rec.Content {
			t.Fatalf("record %d: want %+v, got %+v", i, rec, got[i])
		}
	}
	if got[2].Blocks[0] != 2 {
		t.Fatalf("blocks lost in round trip: %+v", got[2])
	}
}

func TestEventJournalErrorCallback(t *testing.T) {
	// A file where the journal expects a directory forces rotate to fail.
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "events"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	var calls int
	j := NewEventJournal(dir, func(err error) { calls++ })
	j.RecordEvent(game.EventRecord{ID: 1, Kind: "SPEECH"})
	if calls != 1 {
		t.Fatalf("want 1 error callback, got %d", calls)
	}
}
