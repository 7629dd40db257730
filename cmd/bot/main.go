package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"

	"github.com/gorilla/websocket"

	"parley.ai/internal/protocol"
)

// A scripted player for manual runs: joins, acknowledges every event, and
// optionally greets the table when the game starts.
func main() {
	var (
		url    = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name   = flag.String("name", "bot", "player name")
		chatty = flag.Bool("chatty", false, "speak in reaction to GAME_START")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		PlayerName:      *name,
	}
	if err := conn.WriteJSON(hello); err != nil {
		logger.Fatalf("send HELLO: %v", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	playerID := ""
	for {
		select {
		case <-stop:
			return
		default:
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		switch base.Type {
		case protocol.TypeWelcome:
			var w protocol.WelcomeMsg
			if err := json.Unmarshal(msg, &w); err != nil {
				continue
			}
			playerID = w.PlayerID
			logger.Printf("WELCOME player_id=%s game_id=%s max_reactions=%d", w.PlayerID, w.GameID, w.GameParams.MaxReactionsPerEvent)

		case protocol.TypeEvent:
			var ev protocol.EventMsg
			if err := json.Unmarshal(msg, &ev); err != nil {
				continue
			}
			handleEvent(conn, logger, playerID, &ev, *chatty)
		}
	}
}

func handleEvent(conn *websocket.Conn, logger *log.Logger, playerID string, ev *protocol.EventMsg, chatty bool) {
	logger.Printf("%s event %d kind=%s src=%s content=%q", ev.Phase, ev.Event.ID, ev.Event.Kind, ev.Event.Source, ev.Event.Content)
	if ev.Phase != protocol.PhaseTentative {
		return
	}

	react := protocol.ReactMsg{
		Type:            protocol.TypeReact,
		ProtocolVersion: protocol.Version,
		AckFor:          ev.Event.ID,
	}
	if chatty && ev.Event.Kind == "GAME_START" && ev.Policy != nil && ev.Policy.CanReact {
		react.Reactions = []protocol.ReactionSpec{
			{Kind: "SPEECH", Content: fmt.Sprintf("%s has arrived.", playerID)},
		}
	}
	_ = conn.WriteJSON(react)
}
