package entity

import "time"

type ConnectionState string

const (
	ConnectionDisconnected ConnectionState = "disconnected"
	ConnectionConnecting   ConnectionState = "connecting"
	ConnectionConnected    ConnectionState = "connected"
	ConnectionReconnecting ConnectionState = "reconnecting"
	ConnectionError        ConnectionState = "error"
)

// ConnectionStateChange is what downstream consumers (and the UI layer) observe
// instead of raw transport errors.
type ConnectionStateChange struct {
	State      ConnectionState `json:"state"`
	Message    string          `json:"message"`
	OccurredAt time.Time       `json:"occurred_at"`
}
