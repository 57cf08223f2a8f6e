package entity

import "context"

type GatewayCredentials struct {
	Token string
}

// Gateway abstracts the broker's streaming market-data endpoint. The connection
// manager owns Dial/ReadMessage/Ping/Close; the subscription coordinator drives
// the per-stream calls. Implementations surface transport failures as plain
// errors and never retry on their own.
type Gateway interface {
	Dial(ctx context.Context, credentials GatewayCredentials) error
	ReadMessage() ([]byte, error)
	Ping() error
	Close() error

	SubscribeStream(ctx context.Context, instrumentID string, kind StreamKind) error
	UnsubscribeStream(ctx context.Context, instrumentID string, kind StreamKind) error
	SubscribeInstrument(ctx context.Context, instrumentID string) error
	UnsubscribeInstrument(ctx context.Context, instrumentID string) error
}
