// Package transcript provides asynchronous NDJSON logging of assessment
// conversations for offline review.
package transcript

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pdnlabs/pdn-chat/internal/domain"
)

// Config controls transcript logging.
type Config struct {
	Enabled       bool
	Dir           string // per-user NDJSON files: <dir>/<user_id>.ndjson
	GlobalEnabled bool
	GlobalPath    string // single combined NDJSON stream
	QueueSize     int
}

// Entry is one logged conversation event.
type Entry struct {
	Time    time.Time      `json:"time"`
	UserID  string         `json:"user_id"`
	Stage   domain.StageID `json:"stage"`
	Role    domain.Role    `json:"role"`
	Content string         `json:"content"`
}

// Logger writes transcript entries off the request path. Record never blocks;
// entries are dropped with a warning when the queue is full.
type Logger struct {
	cfg       Config
	ch        chan Entry
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a transcript logger and starts its writer goroutine. A disabled
// config returns a logger whose Record is a no-op.
func New(cfg Config) (*Logger, error) {
	l := &Logger{cfg: cfg}
	if !cfg.Enabled && !cfg.GlobalEnabled {
		return l, nil
	}

	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
		l.cfg.QueueSize = 1000
	}
	if cfg.Enabled {
		if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
			return nil, fmt.Errorf("create transcript directory: %w", err)
		}
	}
	if cfg.GlobalEnabled {
		if err := os.MkdirAll(filepath.Dir(cfg.GlobalPath), 0755); err != nil {
			return nil, fmt.Errorf("create transcript directory: %w", err)
		}
	}

	l.ch = make(chan Entry, l.cfg.QueueSize)
	l.done = make(chan struct{})
	go l.writeLoop()
	return l, nil
}

// Record enqueues an entry without blocking the caller.
func (l *Logger) Record(e Entry) {
	if l.ch == nil {
		return
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	select {
	case l.ch <- e:
	default:
		slog.Warn("Transcript queue full, dropping entry", "user_id", e.UserID)
	}
}

// Close drains the queue and stops the writer.
func (l *Logger) Close() {
	if l.ch == nil {
		return
	}
	l.closeOnce.Do(func() {
		close(l.ch)
		<-l.done
	})
}

func (l *Logger) writeLoop() {
	defer close(l.done)
	for e := range l.ch {
		line, err := json.Marshal(e)
		if err != nil {
			slog.Warn("Failed to encode transcript entry", "error", err)
			continue
		}
		line = append(line, '\n')

		if l.cfg.Enabled {
			path := filepath.Join(l.cfg.Dir, e.UserID+".ndjson")
			if err := appendFile(path, line); err != nil {
				slog.Warn("Failed to write transcript", "path", path, "error", err)
			}
		}
		if l.cfg.GlobalEnabled {
			if err := appendFile(l.cfg.GlobalPath, line); err != nil {
				slog.Warn("Failed to write global transcript", "path", l.cfg.GlobalPath, "error", err)
			}
		}
	}
}

func appendFile(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(data)
	return err
}
