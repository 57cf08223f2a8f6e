package subscription

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/quantbench/marketfeed-service/internal/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubState struct {
	state entity.ConnectionState
}

func (s stubState) State() entity.ConnectionState { return s.state }

type stubGateway struct {
	mu sync.Mutex

	streamErrs    map[entity.StreamKind]error
	instrumentErr error

	streamCalls     map[entity.StreamKind]int
	instrumentCalls int
	unsubStreams    []entity.StreamKind
	unsubInstrument int
}

func newStubGateway() *stubGateway {
	return &stubGateway{
		streamErrs:  make(map[entity.StreamKind]error),
		streamCalls: make(map[entity.StreamKind]int),
	}
}

func (g *stubGateway) Dial(ctx context.Context, credentials entity.GatewayCredentials) error {
	return nil
}
func (g *stubGateway) ReadMessage() ([]byte, error) { return nil, errors.New("not streaming") }
func (g *stubGateway) Ping() error                  { return nil }
func (g *stubGateway) Close() error                 { return nil }

func (g *stubGateway) SubscribeStream(ctx context.Context, instrumentID string, kind entity.StreamKind) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.streamCalls[kind]++
	return g.streamErrs[kind]
}

func (g *stubGateway) UnsubscribeStream(ctx context.Context, instrumentID string, kind entity.StreamKind) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.unsubStreams = append(g.unsubStreams, kind)
	return nil
}

func (g *stubGateway) SubscribeInstrument(ctx context.Context, instrumentID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.instrumentCalls++
	return g.instrumentErr
}

func (g *stubGateway) UnsubscribeInstrument(ctx context.Context, instrumentID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.unsubInstrument++
	return nil
}

func TestSubscribeAllStreams(t *testing.T) {
	gateway := newStubGateway()
	coordinator := NewCoordinator(gateway, stubState{entity.ConnectionConnected}, time.Second)

	result, err := coordinator.Subscribe(context.Background(), "AAPL")
	require.NoError(t, err)

	assert.Equal(t, "AAPL", result.InstrumentID)
	assert.Equal(t, []entity.StreamKind{
		entity.StreamKindQuote,
		entity.StreamKindTrade,
		entity.StreamKindDepth,
	}, result.Subscribed)
	assert.False(t, result.UsedFallback)
	assert.Empty(t, result.Unsupported)
}

func TestSubscribeDepthIsBestEffort(t *testing.T) {
	gateway := newStubGateway()
	gateway.streamErrs[entity.StreamKindDepth] = errors.New("unsupported")
	coordinator := NewCoordinator(gateway, stubState{entity.ConnectionConnected}, time.Second)

	result, err := coordinator.Subscribe(context.Background(), "AAPL")
	require.NoError(t, err)

	assert.Equal(t, []entity.StreamKind{
		entity.StreamKindQuote,
		entity.StreamKindTrade,
	}, result.Subscribed)
	assert.Equal(t, []entity.StreamKind{entity.StreamKindDepth}, result.Unsupported)
	assert.False(t, result.UsedFallback)
}

func TestSubscribeFallsBackToWholeInstrument(t *testing.T) {
	gateway := newStubGateway()
	gateway.streamErrs[entity.StreamKindQuote] = errors.New("nope")
	gateway.streamErrs[entity.StreamKindTrade] = errors.New("nope")
	gateway.streamErrs[entity.StreamKindDepth] = errors.New("nope")
	coordinator := NewCoordinator(gateway, stubState{entity.ConnectionConnected}, time.Second)

	result, err := coordinator.Subscribe(context.Background(), "AAPL")
	require.NoError(t, err)

	assert.True(t, result.UsedFallback)
	assert.Empty(t, result.Subscribed)
	assert.Equal(t, 1, gateway.instrumentCalls)
}

func TestSubscribeFallbackFailure(t *testing.T) {
	gateway := newStubGateway()
	gateway.streamErrs[entity.StreamKindQuote] = errors.New("nope")
	gateway.streamErrs[entity.StreamKindTrade] = errors.New("nope")
	gateway.streamErrs[entity.StreamKindDepth] = errors.New("nope")
	gateway.instrumentErr = errors.New("also nope")
	coordinator := NewCoordinator(gateway, stubState{entity.ConnectionConnected}, time.Second)

	_, err := coordinator.Subscribe(context.Background(), "AAPL")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AAPL")
	assert.Contains(t, err.Error(), "quote")
	assert.Contains(t, err.Error(), "trade")

	_, tracked := coordinator.Subscription("AAPL")
	assert.False(t, tracked)
}

func TestSubscribeIdempotent(t *testing.T) {
	gateway := newStubGateway()
	coordinator := NewCoordinator(gateway, stubState{entity.ConnectionConnected}, time.Second)

	first, err := coordinator.Subscribe(context.Background(), "AAPL")
	require.NoError(t, err)
	second, err := coordinator.Subscribe(context.Background(), "AAPL")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, gateway.streamCalls[entity.StreamKindQuote])
	assert.Equal(t, 1, gateway.streamCalls[entity.StreamKindTrade])
	assert.Equal(t, 1, gateway.streamCalls[entity.StreamKindDepth])
}

func TestSubscribeFailsFastWhenNotConnected(t *testing.T) {
	gateway := newStubGateway()

	for _, state := range []entity.ConnectionState{
		entity.ConnectionDisconnected,
		entity.ConnectionConnecting,
		entity.ConnectionReconnecting,
		entity.ConnectionError,
	} {
		coordinator := NewCoordinator(gateway, stubState{state}, time.Second)
		_, err := coordinator.Subscribe(context.Background(), "AAPL")
		require.Error(t, err, "state %s", state)
	}

	assert.Zero(t, gateway.streamCalls[entity.StreamKindQuote])
}

func TestUnsubscribe(t *testing.T) {
	gateway := newStubGateway()
	coordinator := NewCoordinator(gateway, stubState{entity.ConnectionConnected}, time.Second)

	_, err := coordinator.Subscribe(context.Background(), "AAPL")
	require.NoError(t, err)

	require.NoError(t, coordinator.Unsubscribe(context.Background(), "AAPL"))
	assert.Len(t, gateway.unsubStreams, 3)

	_, tracked := coordinator.Subscription("AAPL")
	assert.False(t, tracked)

	// Unknown instrument is a no-op.
	require.NoError(t, coordinator.Unsubscribe(context.Background(), "TSLA"))
}

func TestUnsubscribeFallbackSubscription(t *testing.T) {
	gateway := newStubGateway()
	gateway.streamErrs[entity.StreamKindQuote] = errors.New("nope")
	gateway.streamErrs[entity.StreamKindTrade] = errors.New("nope")
	gateway.streamErrs[entity.StreamKindDepth] = errors.New("nope")
	coordinator := NewCoordinator(gateway, stubState{entity.ConnectionConnected}, time.Second)

	_, err := coordinator.Subscribe(context.Background(), "AAPL")
	require.NoError(t, err)

	require.NoError(t, coordinator.Unsubscribe(context.Background(), "AAPL"))
	assert.Equal(t, 1, gateway.unsubInstrument)
	assert.Empty(t, gateway.unsubStreams)
}

func TestHandleConnectionChangeDropsSubscriptions(t *testing.T) {
	gateway := newStubGateway()
	coordinator := NewCoordinator(gateway, stubState{entity.ConnectionConnected}, time.Second)

	_, err := coordinator.Subscribe(context.Background(), "AAPL")
	require.NoError(t, err)
	_, err = coordinator.Subscribe(context.Background(), "MSFT")
	require.NoError(t, err)

	coordinator.HandleConnectionChange(entity.ConnectionStateChange{State: entity.ConnectionReconnecting})

	_, tracked := coordinator.Subscription("AAPL")
	assert.False(t, tracked)
	_, tracked = coordinator.Subscription("MSFT")
	assert.False(t, tracked)

	// Connected does not drop anything.
	_, err = coordinator.Subscribe(context.Background(), "AAPL")
	require.NoError(t, err)
	coordinator.HandleConnectionChange(entity.ConnectionStateChange{State: entity.ConnectionConnected})
	_, tracked = coordinator.Subscription("AAPL")
	assert.True(t, tracked)
}
