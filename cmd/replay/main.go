package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"

	"parley.ai/internal/game"
)

// Reads a game's event journal and verifies its integrity: every reaction
// an event requires must have been journaled before the event itself,
// since reactions finish processing first.
func main() {
	var (
		eventsDir = flag.String("events", "", "events dir containing events-*.jsonl.zst")
		kind      = flag.String("kind", "", "only print events of this kind (optional)")
		print     = flag.Bool("print", false, "print each event as JSON")
		verify    = flag.Bool("verify", true, "verify requires-before-event ordering")
	)
	flag.Parse()

	if *eventsDir == "" {
		fmt.Fprintln(os.Stderr, "missing -events")
		os.Exit(2)
	}

	files, err := listEventFiles(*eventsDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list events:", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no events files found in", *eventsDir)
		os.Exit(1)
	}

	seen := make(map[int64]bool)
	perKind := make(map[string]int)
	var total int

	for _, path := range files {
		if err := readFile(path, func(rec game.EventRecord) error {
			total++
			perKind[rec.Kind]++

			if *verify {
				for _, req := range rec.Requires {
					if !seen[req] {
						return fmt.Errorf("event %d requires %d, which was not journaled before it", rec.ID, req)
					}
				}
				if seen[rec.ID] {
					return fmt.Errorf("event %d journaled twice", rec.ID)
				}
				seen[rec.ID] = true
			}

			if *print && (*kind == "" || rec.Kind == *kind) {
				b, _ := json.Marshal(rec)
				fmt.Println(string(b))
			}
			return nil
		}); err != nil {
			fmt.Fprintln(os.Stderr, "replay:", err)
			os.Exit(1)
		}
	}

	kinds := make([]string, 0, len(perKind))
	for k := range perKind {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		fmt.Printf("%-12s %d\n", k, perKind[k])
	}
	fmt.Printf("replay ok: %d events in %d files\n", total, len(files))
}

func listEventFiles(dir string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, "events-") && strings.HasSuffix(name, ".jsonl.zst") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, filepath.Join(dir, name))
	}
	return out, nil
}

func readFile(path string, fn func(game.EventRecord) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for sc.Scan() {
		var rec game.EventRecord
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			return fmt.Errorf("%s: unmarshal: %w", filepath.Base(path), err)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return sc.Err()
}
