package server

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

func newTestConfig() *Config {
	config := NewConfig()
	config.LocalUserID = "usr_local"
	config.LocalDisplayName = "LocalUser"
	config.BatchWindow = time.Millisecond
	config.OfflineConfirmDelay = 50 * time.Millisecond
	config.APIRetryCount = 0
	config.APIRetryDelay = time.Millisecond
	config.APIRequestsPerSecond = 1000
	return config
}

// testLoop emulates the engine loop: posted closures queue up and run on
// the test goroutine when drained.
type testLoop struct {
	calls chan func()
}

func newTestLoop() *testLoop {
	return &testLoop{calls: make(chan func(), 256)}
}

func (l *testLoop) post(fn func()) {
	l.calls <- fn
}

// drain runs queued closures until the loop stays idle for the given
// window.
func (l *testLoop) drain(idle time.Duration) {
	for {
		select {
		case fn := <-l.calls:
			fn()
		case <-time.After(idle):
			return
		}
	}
}

// entryCollector gathers submitted feed entries.
type entryCollector struct {
	sync.Mutex
	entries []FeedEntry
}

func (c *entryCollector) submit(entry FeedEntry) {
	c.Lock()
	defer c.Unlock()
	c.entries = append(c.entries, entry)
}

func (c *entryCollector) all() []FeedEntry {
	c.Lock()
	defer c.Unlock()
	out := make([]FeedEntry, len(c.entries))
	copy(out, c.entries)
	return out
}

func (c *entryCollector) ofType(entryType EntryType) []FeedEntry {
	var out []FeedEntry
	for _, entry := range c.all() {
		if entry.Type == entryType {
			out = append(out, entry)
		}
	}
	return out
}

// stubCaller serves canned JSON per endpoint and counts calls.
type stubCaller struct {
	sync.Mutex
	responses map[string]any
	errs      map[string]error
	calls     map[string]int
	delay     time.Duration
}

func newStubCaller() *stubCaller {
	return &stubCaller{
		responses: make(map[string]any),
		errs:      make(map[string]error),
		calls:     make(map[string]int),
	}
}

func (c *stubCaller) Call(ctx context.Context, endpoint string, options map[string]string) (json.RawMessage, error) {
	c.Lock()
	c.calls[endpoint]++
	delay := c.delay
	c.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	c.Lock()
	defer c.Unlock()
	if err, ok := c.errs[endpoint]; ok {
		return nil, err
	}
	response, ok := c.responses[endpoint]
	if !ok {
		return nil, ErrNotFound
	}
	data, err := json.Marshal(response)
	if err != nil {
		return nil, fmt.Errorf("stub marshal: %w", err)
	}
	return data, nil
}

func (c *stubCaller) callCount(endpoint string) int {
	c.Lock()
	defer c.Unlock()
	return c.calls[endpoint]
}

func (c *stubCaller) setUser(profile UserProfile) {
	c.Lock()
	defer c.Unlock()
	c.responses["users/"+profile.ID] = profile
}
