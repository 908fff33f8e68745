package server

import (
	"sync"

	"go.uber.org/zap"
)

const (
	SinkNameToast   = "toast"
	SinkNameOverlay = "overlay"
	SinkNameTTS     = "tts"
	SinkNameTable   = "table"
)

// Sink is one notification delivery target. Implementations must be cheap
// and non-blocking; slow transports belong behind the Notifier.
type Sink interface {
	Name() string
	Deliver(entry FeedEntry, message, imageURL string) error
}

// Notifier is the platform-specific delivery hand-off (desktop toast
// daemon, overlay IPC, speech synthesis). Injected by the host process.
type Notifier interface {
	Notify(title, message, imageURL string) error
}

// NotifierSink adapts a Notifier into a Sink.
type NotifierSink struct {
	name     string
	notifier Notifier
}

func NewToastSink(notifier Notifier) *NotifierSink {
	return &NotifierSink{name: SinkNameToast, notifier: notifier}
}

func NewOverlaySink(notifier Notifier) *NotifierSink {
	return &NotifierSink{name: SinkNameOverlay, notifier: notifier}
}

func NewTTSSink(notifier Notifier) *NotifierSink {
	return &NotifierSink{name: SinkNameTTS, notifier: notifier}
}

func (s *NotifierSink) Name() string { return s.name }

func (s *NotifierSink) Deliver(entry FeedEntry, message, imageURL string) error {
	return s.notifier.Notify(string(entry.Type), message, imageURL)
}

// TableSink keeps the in-app notification table: a bounded in-memory ring
// of delivered entries, newest first.
type TableSink struct {
	sync.RWMutex
	limit   int
	entries []FeedEntry
}

func NewTableSink(limit int) *TableSink {
	return &TableSink{limit: limit}
}

func (s *TableSink) Name() string { return SinkNameTable }

func (s *TableSink) Deliver(entry FeedEntry, message, imageURL string) error {
	s.Lock()
	defer s.Unlock()
	s.entries = append([]FeedEntry{entry}, s.entries...)
	if len(s.entries) > s.limit {
		s.entries = s.entries[:s.limit]
	}
	return nil
}

// Entries returns a snapshot of the table contents.
func (s *TableSink) Entries() []FeedEntry {
	s.RLock()
	defer s.RUnlock()
	out := make([]FeedEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

// LogNotifier is the fallback Notifier: it writes deliveries to the
// engine log. Useful headless and in tests.
type LogNotifier struct {
	logger *zap.Logger
	name   string
}

func NewLogNotifier(logger *zap.Logger, name string) *LogNotifier {
	return &LogNotifier{logger: logger, name: name}
}

func (n *LogNotifier) Notify(title, message, imageURL string) error {
	n.logger.Info("Notification", zap.String("sink", n.name), zap.String("title", title), zap.String("message", message))
	return nil
}
