package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"parley.ai/internal/config"
	"parley.ai/internal/game"
	"parley.ai/internal/group"
	"parley.ai/internal/persistence/indexdb"
	persistlog "parley.ai/internal/persistence/log"
	"parley.ai/internal/transport/observer"
	"parley.ai/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", "", "http listen address (overrides config)")
		configPath = flag.String("config", "./configs/game.yaml", "game config path")
		dataDir    = flag.String("data", "", "runtime data directory (overrides config)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite event index")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	obs := game.StdLogger{L: logger}
	groups := group.NewStore(obs)
	engine, err := game.New(cfg.GameID, game.Config{
		MaxReactionsPerEvent:    cfg.MaxReactionsPerEvent,
		MaxSuccessiveInterrupts: cfg.MaxSuccessiveInterrupts,
		QueueSize:               cfg.QueueSize,
	}, groups, obs)
	if err != nil {
		logger.Fatalf("new engine: %v", err)
	}

	gameDir := filepath.Join(cfg.DataDir, cfg.GameID)
	journal := persistlog.NewEventJournal(gameDir, func(err error) { logger.Printf("%v", err) })
	defer journal.Close()

	sinks := []game.EventSink{journal}
	if !*disableDB {
		idx, err := indexdb.OpenSQLite(filepath.Join(gameDir, "index.db"))
		if err != nil {
			logger.Fatalf("open index: %v", err)
		}
		defer idx.Close()
		sinks = append(sinks, idx)
	}
	obsServer := observer.NewServer(engine, logger)
	sinks = append(sinks, obsServer)
	engine.SetSink(multiSink(sinks))

	wsServer := ws.NewServer(engine, logger, cfg.AckTimeout())

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/ws", wsServer.Handler())
	mux.HandleFunc("/v1/observe", obsServer.WSHandler())
	mux.HandleFunc("/admin/v1/observer/bootstrap", obsServer.BootstrapHandler())
	mux.HandleFunc("/v1/admin/end", func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(rw, "POST only", http.StatusMethodNotAllowed)
			return
		}
		if err := engine.End(r.Context()); err != nil {
			http.Error(rw, err.Error(), http.StatusConflict)
			return
		}
		rw.WriteHeader(http.StatusAccepted)
	})
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok"))
	})

	httpSrv := &http.Server{Addr: cfg.Addr, Handler: mux}
	httpErr := make(chan error, 1)
	go func() {
		logger.Printf("listening on %s", cfg.Addr)
		httpErr <- httpSrv.ListenAndServe()
	}()

	gameDone := make(chan error, 1)
	go func() {
		gameDone <- runGame(ctx, engine, cfg.AutostartPlayers, logger)
	}()

	select {
	case <-ctx.Done():
		logger.Printf("shutting down")
	case err := <-httpErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("http server: %v", err)
		}
	case err := <-gameDone:
		if err != nil {
			logger.Printf("game exited: %v", err)
		} else {
			logger.Printf("game finished")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
}

// runGame waits for enough players, then runs the engine loop to
// completion. With autostart disabled it blocks until the process stops.
func runGame(ctx context.Context, engine *game.Engine, autostart int, logger *log.Logger) error {
	if autostart <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for engine.PlayerCount() < autostart {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	logger.Printf("%d players joined, starting game", engine.PlayerCount())
	return engine.Start(ctx)
}

// multiSink fans one event record out to several sinks.
type multiSink []game.EventSink

func (m multiSink) RecordEvent(rec game.EventRecord) {
	for _, s := range m {
		s.RecordEvent(rec)
	}
}
