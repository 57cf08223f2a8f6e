package subscription

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/quantbench/marketfeed-service/internal/entity"
	"github.com/sirupsen/logrus"
)

const (
	defaultSubscribeTimeout = 5 * time.Second
	maxSubscribeTimeout     = 10 * time.Second
)

// StateSource reports the current gateway connection state. Satisfied by
// connection.Manager.
type StateSource interface {
	State() entity.ConnectionState
}

// Coordinator subscribes and unsubscribes per-instrument data streams on top of
// an established connection, tolerating partial gateway capability. Requests
// made while the connection is down fail fast; callers re-subscribe after the
// connection manager reports reconnection.
type Coordinator struct {
	gateway entity.Gateway
	source  StateSource
	timeout time.Duration

	mu   sync.Mutex
	subs map[string]*entity.Subscription
}

func NewCoordinator(gateway entity.Gateway, source StateSource, subscribeTimeout time.Duration) *Coordinator {
	if subscribeTimeout <= 0 {
		subscribeTimeout = defaultSubscribeTimeout
	}
	if subscribeTimeout > maxSubscribeTimeout {
		subscribeTimeout = maxSubscribeTimeout
	}

	return &Coordinator{
		gateway: gateway,
		source:  source,
		timeout: subscribeTimeout,
		subs:    make(map[string]*entity.Subscription),
	}
}

// Subscribe attempts stream kinds in priority order, each bounded by the
// configured timeout. Depth is best-effort: its failure never counts against
// the request. When no kind succeeds the coordinator falls back to one
// coarse-grained whole-instrument subscription.
func (c *Coordinator) Subscribe(ctx context.Context, instrumentID string) (*entity.SubscriptionResult, error) {
	if state := c.source.State(); state != entity.ConnectionConnected {
		return nil, fmt.Errorf("cannot subscribe to %s: gateway connection is %s", instrumentID, state)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Subscribing twice is a no-op: the existing subscription is returned and
	// no duplicate upstream subscriptions are created.
	if existing, ok := c.subs[instrumentID]; ok {
		return resultFromSubscription(existing), nil
	}

	sub := &entity.Subscription{
		ID:           uuid.NewString(),
		InstrumentID: instrumentID,
		Streams:      make(map[entity.StreamKind]entity.StreamStatus),
		CreatedAt:    time.Now().UTC(),
	}

	var failedKinds []entity.StreamKind
	for _, kind := range entity.StreamKindPriority() {
		sub.Streams[kind] = entity.StreamSubscribing

		attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
		err := c.gateway.SubscribeStream(attemptCtx, instrumentID, kind)
		cancel()

		if err == nil {
			sub.Streams[kind] = entity.StreamSubscribed
			continue
		}

		sub.Streams[kind] = entity.StreamUnsupported
		if kind == entity.StreamKindDepth {
			logrus.Debugf("depth stream unavailable for %s: %v", instrumentID, err)
			continue
		}

		failedKinds = append(failedKinds, kind)
		logrus.WithFields(logrus.Fields{
			"instrument_id": instrumentID,
			"stream_kind":   kind,
		}).Warnf("stream subscription failed: %v", err)
	}

	if len(sub.SubscribedKinds()) == 0 {
		attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
		err := c.gateway.SubscribeInstrument(attemptCtx, instrumentID)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("subscribe %s: no stream kinds available (failed: %s) and whole-instrument fallback failed: %w",
				instrumentID, joinKinds(failedKinds), err)
		}

		sub.UsedFallback = true
		logrus.WithField("instrument_id", instrumentID).Info("using whole-instrument fallback subscription")
	}

	c.subs[instrumentID] = sub

	return resultFromSubscription(sub), nil
}

// Unsubscribe is best-effort: each stream kind is torn down independently and
// failures are only logged, since the caller cannot usefully react and the
// connection may already be going away.
func (c *Coordinator) Unsubscribe(ctx context.Context, instrumentID string) error {
	c.mu.Lock()
	sub, ok := c.subs[instrumentID]
	if ok {
		delete(c.subs, instrumentID)
	}
	c.mu.Unlock()

	if !ok {
		return nil
	}

	for _, kind := range sub.SubscribedKinds() {
		attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
		err := c.gateway.UnsubscribeStream(attemptCtx, instrumentID, kind)
		cancel()
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"instrument_id": instrumentID,
				"stream_kind":   kind,
			}).Warnf("stream unsubscribe failed: %v", err)
		}
	}

	if sub.UsedFallback {
		attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
		err := c.gateway.UnsubscribeInstrument(attemptCtx, instrumentID)
		cancel()
		if err != nil {
			logrus.WithField("instrument_id", instrumentID).Warnf("instrument unsubscribe failed: %v", err)
		}
	}

	return nil
}

// Subscription returns a copy of the tracked subscription, if any.
func (c *Coordinator) Subscription(instrumentID string) (*entity.Subscription, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sub, ok := c.subs[instrumentID]
	if !ok {
		return nil, false
	}

	copied := *sub
	copied.Streams = make(map[entity.StreamKind]entity.StreamStatus, len(sub.Streams))
	for kind, status := range sub.Streams {
		copied.Streams[kind] = status
	}

	return &copied, true
}

// HandleConnectionChange drops all tracked subscriptions when the connection
// goes away; the gateway forgets them server-side and callers must re-subscribe
// once the manager reports Connected again.
func (c *Coordinator) HandleConnectionChange(change entity.ConnectionStateChange) {
	switch change.State {
	case entity.ConnectionReconnecting, entity.ConnectionDisconnected, entity.ConnectionError:
		c.mu.Lock()
		dropped := len(c.subs)
		c.subs = make(map[string]*entity.Subscription)
		c.mu.Unlock()

		if dropped > 0 {
			logrus.WithFields(logrus.Fields{
				"dropped": dropped,
				"state":   change.State,
			}).Info("dropped stream subscriptions on connection teardown")
		}
	}
}

func resultFromSubscription(sub *entity.Subscription) *entity.SubscriptionResult {
	result := &entity.SubscriptionResult{
		InstrumentID: sub.InstrumentID,
		Subscribed:   sub.SubscribedKinds(),
		UsedFallback: sub.UsedFallback,
	}
	for _, kind := range entity.StreamKindPriority() {
		if sub.Streams[kind] == entity.StreamUnsupported {
			result.Unsupported = append(result.Unsupported, kind)
		}
	}
	return result
}

func joinKinds(kinds []entity.StreamKind) string {
	if len(kinds) == 0 {
		return "none"
	}
	names := make([]string, len(kinds))
	for i, kind := range kinds {
		names[i] = string(kind)
	}
	return strings.Join(names, ",")
}
