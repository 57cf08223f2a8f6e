package connection

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quantbench/marketfeed-service/internal/config"
	"github.com/quantbench/marketfeed-service/internal/entity"
	"github.com/sirupsen/logrus"
)

const (
	defaultProbeInterval     = 30 * time.Second
	defaultStaleAfter        = 120 * time.Second
	defaultMaxReconnectDelay = 30 * time.Second
	defaultDialTimeout       = 10 * time.Second
)

// MessageHandler receives every inbound gateway frame in delivery order.
// Handler errors are logged and dropped; one bad frame never takes the
// connection down.
type MessageHandler func(ctx context.Context, message []byte) error

// Manager owns the single persistent gateway connection. Transport failures
// surface as state-change events, never as errors thrown at downstream
// consumers; they observe State() and OnStateChange.
type Manager struct {
	gateway     entity.Gateway
	probe       time.Duration
	staleAfter  time.Duration
	maxDelay    time.Duration
	maxAttempts int

	mu          sync.RWMutex
	state       entity.ConnectionState
	listeners   []func(entity.ConnectionStateChange)
	handler     MessageHandler
	credentials entity.GatewayCredentials
	cancel      context.CancelFunc

	lastActivity atomic.Int64
}

func NewManager(gateway entity.Gateway, cfg config.GatewayConfig) *Manager {
	probe := cfg.ProbeInterval
	if probe <= 0 {
		probe = defaultProbeInterval
	}

	staleAfter := cfg.StaleAfter
	if staleAfter <= 0 {
		staleAfter = defaultStaleAfter
	}

	maxDelay := cfg.ReconnectMaxDelay
	if maxDelay <= 0 {
		maxDelay = defaultMaxReconnectDelay
	}

	return &Manager{
		gateway:     gateway,
		probe:       probe,
		staleAfter:  staleAfter,
		maxDelay:    maxDelay,
		maxAttempts: cfg.MaxReconnectAttempts,
		state:       entity.ConnectionDisconnected,
	}
}

func (m *Manager) OnStateChange(fn func(entity.ConnectionStateChange)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

func (m *Manager) SetMessageHandler(handler MessageHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = handler
}

func (m *Manager) State() entity.ConnectionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *Manager) LastActivity() time.Time {
	return time.Unix(0, m.lastActivity.Load())
}

// Connect dials the gateway and, on success, starts the read and health loops.
// It suspends until the transport reports connected or failed.
func (m *Manager) Connect(ctx context.Context, credentials entity.GatewayCredentials) error {
	m.mu.Lock()
	if m.state != entity.ConnectionDisconnected && m.state != entity.ConnectionError {
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("cannot connect while %s", state)
	}
	m.credentials = credentials
	m.mu.Unlock()

	m.setState(entity.ConnectionConnecting, "connecting to gateway")

	dialCtx, cancelDial := context.WithTimeout(ctx, defaultDialTimeout)
	err := m.gateway.Dial(dialCtx, credentials)
	cancelDial()
	if err != nil {
		m.setState(entity.ConnectionError, fmt.Sprintf("gateway dial failed: %v", err))
		return fmt.Errorf("dial gateway: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.cancel = cancel
	m.mu.Unlock()

	m.touch()
	m.setState(entity.ConnectionConnected, "connected to gateway")

	go m.readLoop(runCtx)
	go m.healthLoop(runCtx)

	return nil
}

// Disconnect is the explicit teardown path: any state transitions to
// Disconnected and no reconnect is attempted.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.mu.Unlock()

	if err := m.gateway.Close(); err != nil {
		logrus.Debugf("gateway close: %v", err)
	}

	m.setState(entity.ConnectionDisconnected, "disconnected")
}

func (m *Manager) readLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		message, err := m.gateway.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || m.State() == entity.ConnectionDisconnected {
				return
			}
			if !m.reconnect(ctx, err) {
				return
			}
			continue
		}

		m.touch()

		handler := m.messageHandler()
		if handler == nil {
			continue
		}
		if err := handler(ctx, message); err != nil {
			logrus.Debugf("dropping gateway message: %v", err)
		}
	}
}

// reconnect runs the backoff schedule until a redial succeeds or the policy is
// exhausted. Returns false when the read loop should stop.
func (m *Manager) reconnect(ctx context.Context, cause error) bool {
	m.setState(entity.ConnectionReconnecting, fmt.Sprintf("connection lost: %v", cause))

	for attempt := 0; ; attempt++ {
		if m.maxAttempts > 0 && attempt >= m.maxAttempts {
			m.setState(entity.ConnectionError, fmt.Sprintf("gateway unreachable after %d reconnect attempts", attempt))
			return false
		}

		wait := ReconnectDelay(attempt, m.maxDelay)
		if wait > 0 {
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return false
			}
		} else if ctx.Err() != nil {
			return false
		}

		m.mu.RLock()
		credentials := m.credentials
		m.mu.RUnlock()

		dialCtx, cancel := context.WithTimeout(ctx, defaultDialTimeout)
		err := m.gateway.Dial(dialCtx, credentials)
		cancel()
		if err == nil {
			m.touch()
			m.setState(entity.ConnectionConnected, "reconnected to gateway")
			return true
		}

		logrus.WithFields(logrus.Fields{
			"attempt":  attempt + 1,
			"retry_in": ReconnectDelay(attempt+1, m.maxDelay).String(),
		}).Warnf("gateway redial failed: %v", err)
	}
}

func (m *Manager) healthLoop(ctx context.Context) {
	ticker := time.NewTicker(m.probe)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if m.State() != entity.ConnectionConnected {
				continue
			}

			if err := m.gateway.Ping(); err != nil {
				logrus.Warnf("gateway liveness probe failed: %v", err)
			}

			// Staleness is diagnostic only: the transport is trusted to
			// surface real failures through the read loop.
			if idle := time.Since(m.LastActivity()); idle > m.staleAfter {
				logrus.WithField("idle", idle.String()).Warn("gateway connected but no inbound activity")
			}
		}
	}
}

func (m *Manager) touch() {
	m.lastActivity.Store(time.Now().UnixNano())
}

func (m *Manager) messageHandler() MessageHandler {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.handler
}

func (m *Manager) setState(state entity.ConnectionState, message string) {
	m.mu.Lock()
	if m.state == state {
		m.mu.Unlock()
		return
	}
	m.state = state
	listeners := make([]func(entity.ConnectionStateChange), len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	change := entity.ConnectionStateChange{
		State:      state,
		Message:    message,
		OccurredAt: time.Now().UTC(),
	}

	logrus.WithFields(logrus.Fields{
		"state":   state,
		"message": message,
	}).Info("gateway connection state changed")

	for _, listener := range listeners {
		listener(change)
	}
}

// ReconnectDelay returns the wait before the given zero-based reconnect
// attempt: an immediate first retry, then doubling from 2s up to maxDelay.
func ReconnectDelay(attempt int, maxDelay time.Duration) time.Duration {
	if maxDelay <= 0 {
		maxDelay = defaultMaxReconnectDelay
	}
	if attempt <= 0 {
		return 0
	}
	if attempt > 30 {
		return maxDelay
	}

	delay := time.Second * time.Duration(int64(1)<<uint(attempt))
	if delay <= 0 || delay > maxDelay {
		return maxDelay
	}

	return delay
}
