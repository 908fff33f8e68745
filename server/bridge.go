package server

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/echotools/vrcompanion/server/vrc"
)

// BridgeEnvelope is the outer framing on the event bridge: one realtime
// event, one liveness snapshot, or one external tag update per message.
// Messages may arrive out of order, duplicated, or with gaps; consumers
// must tolerate all three.
type BridgeEnvelope struct {
	Kind      string          `json:"kind"`
	Timestamp time.Time       `json:"ts"`
	Payload   json.RawMessage `json:"payload"`
}

const (
	bridgeKindEvent    = "event"
	bridgeKindLiveness = "liveness"
	bridgeKindTag      = "tag"
	bridgeKindPresence = "presence"
)

// LivenessSnapshot reports per-handle last-seen timestamps at ~1.5s
// cadence under normal load.
type LivenessSnapshot struct {
	Seen      map[vrc.ActorID]time.Time `json:"seen"`
	Timestamp time.Time                 `json:"ts"`
}

// ExternalTag attaches a community tag and colour to a durable user id.
type ExternalTag struct {
	UserID string `json:"userId"`
	Tag    string `json:"tag"`
	Colour string `json:"colour"`
}

// PresenceSignal is one friend transition from the remote push-presence
// feed, relayed over the bridge. It is independent of session-log data and
// may contradict it; the reconciler arbitrates.
type PresenceSignal struct {
	UserID    string    `json:"userId"`
	State     string    `json:"state"`
	Timestamp time.Time `json:"ts"`
}

// BridgeHandler receives decoded bridge traffic on the engine loop.
type BridgeHandler interface {
	OnProtocolEvent(env vrc.Envelope)
	OnLivenessSnapshot(snapshot LivenessSnapshot)
	OnExternalTag(tag ExternalTag)
	OnPresenceSignal(signal PresenceSignal)
}

// BridgeClient maintains the websocket connection to the out-of-process
// event bridge, reconnecting with backoff when it drops.
type BridgeClient struct {
	logger  *zap.Logger
	addr    string
	handler BridgeHandler

	// post moves decoded messages onto the engine loop.
	post func(func())

	received  atomic.Uint64
	malformed atomic.Uint64
}

func NewBridgeClient(logger *zap.Logger, addr string, handler BridgeHandler, post func(func())) *BridgeClient {
	return &BridgeClient{
		logger:  logger,
		addr:    addr,
		handler: handler,
		post:    post,
	}
}

// Run connects and pumps messages until the context ends. Connection
// failures back off exponentially up to 30s.
func (b *BridgeClient) Run(ctx context.Context) {
	backoff := time.Second
	for {
		if err := b.runOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			b.logger.Warn("Bridge connection lost, reconnecting", zap.Duration("backoff", backoff), zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > 30*time.Second {
			backoff = 30 * time.Second
		}
	}
}

func (b *BridgeClient) runOnce(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, b.addr, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", b.addr, err)
	}
	defer conn.Close()
	b.logger.Info("Bridge connected", zap.String("addr", b.addr))

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		b.received.Inc()
		b.dispatch(data)
	}
}

func (b *BridgeClient) dispatch(data []byte) {
	var outer BridgeEnvelope
	if err := json.Unmarshal(data, &outer); err != nil {
		b.malformed.Inc()
		b.logger.Debug("Malformed bridge message", zap.Error(err))
		return
	}

	switch outer.Kind {
	case bridgeKindEvent:
		var env vrc.Envelope
		if err := json.Unmarshal(outer.Payload, &env); err != nil {
			b.malformed.Inc()
			b.logger.Debug("Malformed protocol event", zap.Error(err))
			return
		}
		if env.Timestamp.IsZero() {
			env.Timestamp = outer.Timestamp
		}
		b.post(func() { b.handler.OnProtocolEvent(env) })
	case bridgeKindLiveness:
		var snapshot LivenessSnapshot
		if err := json.Unmarshal(outer.Payload, &snapshot); err != nil {
			b.malformed.Inc()
			return
		}
		if snapshot.Timestamp.IsZero() {
			snapshot.Timestamp = outer.Timestamp
		}
		b.post(func() { b.handler.OnLivenessSnapshot(snapshot) })
	case bridgeKindTag:
		var tag ExternalTag
		if err := json.Unmarshal(outer.Payload, &tag); err != nil {
			b.malformed.Inc()
			return
		}
		b.post(func() { b.handler.OnExternalTag(tag) })
	case bridgeKindPresence:
		var signal PresenceSignal
		if err := json.Unmarshal(outer.Payload, &signal); err != nil {
			b.malformed.Inc()
			return
		}
		if signal.Timestamp.IsZero() {
			signal.Timestamp = outer.Timestamp
		}
		b.post(func() { b.handler.OnPresenceSignal(signal) })
	default:
		b.logger.Debug("Unknown bridge envelope kind", zap.String("kind", outer.Kind))
	}
}

// Stats returns receive counters for diagnostics.
func (b *BridgeClient) Stats() (received, malformed uint64) {
	return b.received.Load(), b.malformed.Load()
}
