package gateway

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/quantbench/marketfeed-service/internal/config"
	"github.com/quantbench/marketfeed-service/internal/entity"
	"github.com/sirupsen/logrus"
)

const (
	defaultWriteTimeout = 5 * time.Second
	pingWriteTimeout    = 2 * time.Second
)

// WSGateway is the websocket implementation of entity.Gateway. It does no
// retrying of its own: the connection manager owns the redial policy and this
// type only reports transport failures.
type WSGateway struct {
	wsURL        string
	dialer       *websocket.Dialer
	writeTimeout time.Duration

	mu   sync.Mutex
	conn *websocket.Conn
}

func NewWSGateway(cfg config.GatewayConfig) (*WSGateway, error) {
	wsURL := strings.TrimSpace(cfg.WSURL)
	if wsURL == "" {
		return nil, fmt.Errorf("gateway ws_url is required")
	}

	parsed, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid gateway ws_url: %w", err)
	}

	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}

	return &WSGateway{
		wsURL:        parsed.String(),
		dialer:       websocket.DefaultDialer,
		writeTimeout: writeTimeout,
	}, nil
}

func (g *WSGateway) Dial(ctx context.Context, credentials entity.GatewayCredentials) error {
	logrus.Infof("connecting to %s", g.wsURL)

	conn, _, err := g.dialer.DialContext(ctx, g.wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", g.wsURL, err)
	}

	conn.SetPongHandler(func(string) error {
		return nil
	})

	g.mu.Lock()
	if g.conn != nil {
		_ = g.conn.Close()
	}
	g.conn = conn
	g.mu.Unlock()

	if credentials.Token != "" {
		err := g.writeJSON(ctx, map[string]any{
			"op":    "auth",
			"token": credentials.Token,
		})
		if err != nil {
			return fmt.Errorf("gateway auth: %w", err)
		}
	}

	return nil
}

func (g *WSGateway) ReadMessage() ([]byte, error) {
	g.mu.Lock()
	conn := g.conn
	g.mu.Unlock()

	if conn == nil {
		return nil, fmt.Errorf("gateway is not connected")
	}

	_, message, err := conn.ReadMessage()
	return message, err
}

func (g *WSGateway) Ping() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.conn == nil {
		return fmt.Errorf("gateway is not connected")
	}

	return g.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(pingWriteTimeout))
}

func (g *WSGateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.conn == nil {
		return nil
	}

	_ = g.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	err := g.conn.Close()
	g.conn = nil
	return err
}

func (g *WSGateway) SubscribeStream(ctx context.Context, instrumentID string, kind entity.StreamKind) error {
	return g.writeJSON(ctx, map[string]any{
		"op":         "subscribe",
		"channel":    string(kind),
		"instrument": instrumentID,
	})
}

func (g *WSGateway) UnsubscribeStream(ctx context.Context, instrumentID string, kind entity.StreamKind) error {
	return g.writeJSON(ctx, map[string]any{
		"op":         "unsubscribe",
		"channel":    string(kind),
		"instrument": instrumentID,
	})
}

// SubscribeInstrument is the coarse fallback: one subscription covering every
// channel the gateway supports for the instrument.
func (g *WSGateway) SubscribeInstrument(ctx context.Context, instrumentID string) error {
	return g.writeJSON(ctx, map[string]any{
		"op":         "subscribe",
		"instrument": instrumentID,
	})
}

func (g *WSGateway) UnsubscribeInstrument(ctx context.Context, instrumentID string) error {
	return g.writeJSON(ctx, map[string]any{
		"op":         "unsubscribe",
		"instrument": instrumentID,
	})
}

func (g *WSGateway) writeJSON(ctx context.Context, payload any) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.conn == nil {
		return fmt.Errorf("gateway is not connected")
	}

	deadline := time.Now().Add(g.writeTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}

	if err := g.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}

	return g.conn.WriteJSON(payload)
}
