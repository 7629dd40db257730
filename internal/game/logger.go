package game

import "log"

// Logger is the observer surface the engine reports to. The engine never
// depends on a concrete logging backend.
type Logger interface {
	Info(msg string)
	Warn(msg string)
	Error(msg string)
}

// StdLogger adapts a stdlib *log.Logger.
type StdLogger struct {
	L *log.Logger
}

func (l StdLogger) Info(msg string)  { l.L.Printf("INFO %s", msg) }
func (l StdLogger) Warn(msg string)  { l.L.Printf("WARN %s", msg) }
func (l StdLogger) Error(msg string) { l.L.Printf("ERROR %s", msg) }

// NopLogger discards everything.
type NopLogger struct{}

func (NopLogger) Info(string)  {}
func (NopLogger) Warn(string)  {}
func (NopLogger) Error(string) {}
