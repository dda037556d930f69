package session

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/ZaidMadanat/alfworld-whiteagent/internal/contextid"
)

// Conversation log event types.
const (
	EventReset      = "reset"
	EventAct        = "act"
	EventObserve    = "observe"
	EventEpisodeEnd = "episode_end"
	EventCancel     = "cancel"
)

// ConversationLogConfig controls NDJSON conversation logging.
type ConversationLogConfig struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// ConversationLogEvent is one line of a context's conversation log.
type ConversationLogEvent struct {
	Timestamp  time.Time      `json:"ts"`
	ContextID  string         `json:"context_id"`
	Direction  string         `json:"direction"` // inbound | outbound
	EventType  string         `json:"event_type"`
	Content    string         `json:"content,omitempty"`
	ContentRaw string         `json:"content_raw,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// ConversationLogger records conversation events.
type ConversationLogger interface {
	Log(event ConversationLogEvent)
	Close() error
}

type noopConversationLogger struct{}

func (noopConversationLogger) Log(ConversationLogEvent) {}
func (noopConversationLogger) Close() error             { return nil }

// ndjsonLogger appends events to <dir>/<context_id>.ndjson from a single
// writer goroutine fed by a bounded queue.
type ndjsonLogger struct {
	dir    string
	queue  chan ConversationLogEvent
	logger *slog.Logger
	done   chan struct{}

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

// NewConversationLogger returns a no-op logger when cfg is disabled.
func NewConversationLogger(cfg ConversationLogConfig, logger *slog.Logger) (ConversationLogger, error) {
	if !cfg.Enabled {
		return noopConversationLogger{}, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Dir == "" {
		return nil, fmt.Errorf("conversation log dir cannot be empty")
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create conversation log dir: %w", err)
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 1000
	}

	l := &ndjsonLogger{
		dir:    cfg.Dir,
		queue:  make(chan ConversationLogEvent, queueSize),
		logger: logger,
		done:   make(chan struct{}),
	}
	go l.run()
	return l, nil
}

// Log enqueues event. A full queue drops the event.
func (l *ndjsonLogger) Log(event ConversationLogEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Content == "" && event.ContentRaw != "" {
		event.Content = cleanForReadability(event.ContentRaw)
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return
	}
	select {
	case l.queue <- event:
	default:
		l.logger.Warn("conversation log queue full, dropping event",
			"context_id", event.ContextID,
			"event_type", event.EventType)
	}
}

// Close drains the queue and stops the writer.
func (l *ndjsonLogger) Close() error {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		close(l.queue)
		l.mu.Unlock()
	})
	<-l.done
	return nil
}

func (l *ndjsonLogger) run() {
	defer close(l.done)
	for event := range l.queue {
		if err := l.write(event); err != nil {
			l.logger.Warn("failed to write conversation log", "context_id", event.ContextID, "error", err)
		}
	}
}

func (l *ndjsonLogger) write(event ConversationLogEvent) error {
	name := contextid.Sanitize(event.ContextID)
	if name == "" {
		name = "unknown"
	}

	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	f, err := os.OpenFile(filepath.Join(l.dir, name+".ndjson"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		_ = f.Close()
		return fmt.Errorf("append log line: %w", err)
	}
	return f.Close()
}

var (
	ansiPattern       = regexp.MustCompile(`\x1b\[[0-9;?]*[A-Za-z]`)
	whitespacePattern = regexp.MustCompile(`[ \t\r\n]+`)
)

// cleanForReadability strips escape sequences and collapses whitespace.
func cleanForReadability(raw string) string {
	s := ansiPattern.ReplaceAllString(raw, "")
	s = strings.Map(func(r rune) rune {
		if r < 0x20 && r != '\n' && r != '\t' && r != '\r' {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(whitespacePattern.ReplaceAllString(s, " "))
}
