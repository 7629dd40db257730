// Package config loads the server's game configuration from YAML.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	GameID  string `yaml:"game_id"`
	Addr    string `yaml:"addr"`
	DataDir string `yaml:"data_dir"`

	// -1 unlimited, 0 forbidden, n > 0 a cap.
	MaxReactionsPerEvent    int `yaml:"max_reactions_per_event"`
	MaxSuccessiveInterrupts int `yaml:"max_successive_interrupts"`

	// AutostartPlayers is how many players must join before the game
	// starts on its own. 0 disables autostart.
	AutostartPlayers int `yaml:"autostart_players"`

	// QueueSize bounds the event queue; 0 means unbounded.
	QueueSize int `yaml:"queue_size"`

	// AckTimeoutSec caps how long the engine waits for a remote player's
	// tentative acknowledgment before treating it as empty.
	AckTimeoutSec int `yaml:"ack_timeout_sec"`
}

// Load reads path (or returns defaults when path is empty), then
// normalizes and validates.
func Load(path string) (Config, error) {
	cfg := defaults()
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("game.yaml: %w", err)
		}
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("game.yaml: %w", err)
	}
	return cfg, nil
}

func defaults() Config {
	return Config{
		GameID:                  "game_1",
		Addr:                    ":8080",
		DataDir:                 "./data",
		MaxReactionsPerEvent:    -1,
		MaxSuccessiveInterrupts: -1,
		AutostartPlayers:        2,
		QueueSize:               0,
		AckTimeoutSec:           30,
	}
}

func (c *Config) Normalize() {
	c.GameID = strings.TrimSpace(c.GameID)
	c.Addr = strings.TrimSpace(c.Addr)
	if c.GameID == "" {
		c.GameID = "game_1"
	}
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.AckTimeoutSec <= 0 {
		c.AckTimeoutSec = 30
	}
}

func (c Config) Validate() error {
	if c.MaxReactionsPerEvent < -1 {
		return fmt.Errorf("max_reactions_per_event must be >= -1, got %d", c.MaxReactionsPerEvent)
	}
	if c.MaxSuccessiveInterrupts < -1 {
		return fmt.Errorf("max_successive_interrupts must be >= -1, got %d", c.MaxSuccessiveInterrupts)
	}
	if c.AutostartPlayers < 0 {
		return fmt.Errorf("autostart_players must be >= 0, got %d", c.AutostartPlayers)
	}
	if c.QueueSize < 0 {
		return fmt.Errorf("queue_size must be >= 0, got %d", c.QueueSize)
	}
	return nil
}

func (c Config) AckTimeout() time.Duration {
	return time.Duration(c.AckTimeoutSec) * time.Second
}
