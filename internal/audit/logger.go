package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Logger is the file-backed audit sink. All writes funnel through a single
// writer goroutine; concurrent appenders are permitted and ordering follows
// completion time. The logger never blocks a turn: when the buffer is full
// the event is written inline by the caller.
type Logger struct {
	config Config
	path   string
	file   *os.File
	logger *slog.Logger

	buffer  chan *Event
	flushes chan chan struct{}
	done    chan struct{}
	wg      sync.WaitGroup

	writeMu sync.Mutex
}

// NewLogger opens (creating if needed) the JSONL file and starts the writer.
func NewLogger(config Config, logger *slog.Logger) (*Logger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Logger{
		config: config,
		logger: logger.With("component", "audit"),
	}
	if !config.Enabled {
		return l, nil
	}

	if config.BufferSize <= 0 {
		config.BufferSize = 1024
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = 2 * time.Second
	}
	if config.MaxDetailSize <= 0 {
		config.MaxDetailSize = 2048
	}
	l.config = config

	path := config.Path
	if path == "" {
		var err error
		path, err = DefaultPath()
		if err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}

	l.path = path
	l.file = f
	l.buffer = make(chan *Event, config.BufferSize)
	l.flushes = make(chan chan struct{})
	l.done = make(chan struct{})

	l.wg.Add(1)
	go l.writeLoop()

	return l, nil
}

// DefaultPath returns the platform-local audit log location,
// e.g. ~/.config/sidekick/audit.jsonl on Linux.
func DefaultPath() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve user config dir: %w", err)
	}
	return filepath.Join(base, "sidekick", "audit.jsonl"), nil
}

// Path returns the file the logger writes to, empty when disabled.
func (l *Logger) Path() string {
	return l.path
}

// Log queues an event for writing. Safe for concurrent use.
func (l *Logger) Log(event *Event) {
	if l == nil || !l.config.Enabled || event == nil {
		return
	}
	l.truncateDetails(event)

	select {
	case l.buffer <- event:
	default:
		// Buffer full: write inline rather than drop.
		l.writeEvent(event)
	}
}

// Flush forces all queued events to disk and returns when done.
func (l *Logger) Flush() {
	if l == nil || !l.config.Enabled {
		return
	}
	ack := make(chan struct{})
	select {
	case l.flushes <- ack:
		<-ack
	case <-l.done:
	}
}

// Close drains the buffer and closes the file.
func (l *Logger) Close() error {
	if l == nil || !l.config.Enabled {
		return nil
	}
	close(l.done)
	l.wg.Wait()
	return l.file.Close()
}

// ReadTail returns the last n valid events in append order, skipping
// malformed lines. Pending buffered events are flushed first.
func (l *Logger) ReadTail(n int) ([]*Event, error) {
	if l == nil || !l.config.Enabled {
		return nil, nil
	}
	l.Flush()
	return ReadTailFile(l.path, n)
}

// ReadTailFile reads the last n valid events from a JSONL file. Lines that
// fail to parse as events are skipped, not errors.
func ReadTailFile(path string, n int) ([]*Event, error) {
	if n <= 0 {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	// Ring of the last n valid events.
	ring := make([]*Event, 0, n)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			continue
		}
		if ev.Action == "" {
			continue
		}
		if len(ring) == n {
			copy(ring, ring[1:])
			ring[n-1] = &ev
		} else {
			ring = append(ring, &ev)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan audit log: %w", err)
	}
	return ring, nil
}

func (l *Logger) writeLoop() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case event := <-l.buffer:
			l.writeEvent(event)
		case ack := <-l.flushes:
			l.drain()
			l.sync()
			close(ack)
		case <-ticker.C:
			l.drain()
			l.sync()
		case <-l.done:
			l.drain()
			l.sync()
			return
		}
	}
}

func (l *Logger) drain() {
	for {
		select {
		case event := <-l.buffer:
			l.writeEvent(event)
		default:
			return
		}
	}
}

func (l *Logger) sync() {
	if err := l.file.Sync(); err != nil {
		l.logger.Warn("audit sync failed", "error", err)
	}
}

func (l *Logger) writeEvent(event *Event) {
	data, err := event.marshal()
	if err != nil {
		l.logger.Warn("audit marshal failed", "action", event.Action, "error", err)
		return
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	if _, err := l.file.Write(append(data, '\n')); err != nil {
		l.logger.Warn("audit write failed", "action", event.Action, "error", err)
	}
}

func (l *Logger) truncateDetails(event *Event) {
	if event.Details == nil {
		return
	}
	for k, v := range event.Details {
		s, ok := v.(string)
		if !ok || len(s) <= l.config.MaxDetailSize {
			continue
		}
		event.Details[k] = s[:l.config.MaxDetailSize] + "...(truncated)"
	}
}

// Recorder is an in-memory Sink for tests.
type Recorder struct {
	mu     sync.Mutex
	events []*Event
}

// NewRecorder returns an empty in-memory sink.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Log stores the event.
func (r *Recorder) Log(event *Event) {
	if event == nil {
		return
	}
	if event.EventVersion == 0 {
		event.EventVersion = EventVersion
	}
	if event.TS.IsZero() {
		event.TS = time.Now().UTC()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

// Events returns a snapshot of recorded events in append order.
func (r *Recorder) Events() []*Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Event, len(r.events))
	copy(out, r.events)
	return out
}

// ByAction returns recorded events with the given action, in append order.
func (r *Recorder) ByAction(action Action) []*Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Event
	for _, ev := range r.events {
		if ev.Action == action {
			out = append(out, ev)
		}
	}
	return out
}

// Reset clears all recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
