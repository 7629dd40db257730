package main

import (
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	gameID := fs.String("game", "", "game id (required unless -db)")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	kind := fs.String("kind", "", "kind filter (events)")
	source := fs.String("source", "", "source filter (events)")
	limit := fs.Int("limit", 20, "result limit")
	_ = fs.Parse(args)

	q := "counts"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		if strings.TrimSpace(*gameID) == "" {
			fmt.Fprintln(os.Stderr, "missing -game or -db")
			os.Exit(2)
		}
		path = filepath.Join(*dataDir, *gameID, "index.db")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	switch q {
	case "counts":
		rows, err := db.Query(`SELECT kind, COUNT(*) FROM events GROUP BY kind ORDER BY kind`)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Kind  string `json:"kind"`
				Count int    `json:"count"`
			}
			if err := rows.Scan(&r.Kind, &r.Count); err != nil {
				fmt.Fprintln(os.Stderr, "scan:", err)
				os.Exit(1)
			}
			printJSON(r)
		}
		if err := rows.Err(); err != nil {
			fmt.Fprintln(os.Stderr, "rows:", err)
			os.Exit(1)
		}

	case "events":
		if *limit <= 0 {
			*limit = 20
		}
		query := `SELECT id,kind,source,at,blocks,requires,content FROM events`
		var conds []string
		var qargs []any
		if strings.TrimSpace(*kind) != "" {
			conds = append(conds, "kind = ?")
			qargs = append(qargs, strings.TrimSpace(*kind))
		}
		if strings.TrimSpace(*source) != "" {
			conds = append(conds, "source = ?")
			qargs = append(qargs, strings.TrimSpace(*source))
		}
		if len(conds) > 0 {
			query += " WHERE " + strings.Join(conds, " AND ")
		}
		query += " ORDER BY id DESC LIMIT ?"
		qargs = append(qargs, *limit)

		rows, err := db.Query(query, qargs...)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				ID       int64  `json:"id"`
				Kind     string `json:"kind"`
				Source   string `json:"source"`
				At       string `json:"at"`
				Blocks   string `json:"blocks,omitempty"`
				Requires string `json:"requires,omitempty"`
				Content  string `json:"content,omitempty"`
			}
			if err := rows.Scan(&r.ID, &r.Kind, &r.Source, &r.At, &r.Blocks, &r.Requires, &r.Content); err != nil {
				fmt.Fprintln(os.Stderr, "scan:", err)
				os.Exit(1)
			}
			printJSON(r)
		}
		if err := rows.Err(); err != nil {
			fmt.Fprintln(os.Stderr, "rows:", err)
			os.Exit(1)
		}

	default:
		fmt.Fprintln(os.Stderr, "unknown query:", q)
		fmt.Fprintln(os.Stderr, "usage: admin db [-data ./data] [-game GAME|-db PATH] [-kind K] [-source S] [-limit N] counts|events")
		os.Exit(2)
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
