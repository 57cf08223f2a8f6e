package entity

import "time"

type StreamKind string

const (
	StreamKindQuote StreamKind = "quote"
	StreamKindTrade StreamKind = "trade"
	StreamKindDepth StreamKind = "depth"
)

// StreamKindPriority is the order the coordinator attempts stream kinds in.
// Depth comes last and is best-effort.
func StreamKindPriority() []StreamKind {
	return []StreamKind{StreamKindQuote, StreamKindTrade, StreamKindDepth}
}

type StreamStatus string

const (
	StreamUnsubscribed StreamStatus = "unsubscribed"
	StreamSubscribing  StreamStatus = "subscribing"
	StreamSubscribed   StreamStatus = "subscribed"
	StreamUnsupported  StreamStatus = "unsupported"
)

// Subscription tracks the per-kind stream state for one watched instrument.
// One Subscription exists per instrument; it is destroyed on unsubscribe or
// connection teardown.
type Subscription struct {
	ID           string
	InstrumentID string
	Streams      map[StreamKind]StreamStatus
	UsedFallback bool
	CreatedAt    time.Time
}

func (s Subscription) SubscribedKinds() []StreamKind {
	kinds := make([]StreamKind, 0, len(s.Streams))
	for _, kind := range StreamKindPriority() {
		if s.Streams[kind] == StreamSubscribed {
			kinds = append(kinds, kind)
		}
	}
	return kinds
}

type SubscriptionResult struct {
	InstrumentID string       `json:"instrument_id"`
	Subscribed   []StreamKind `json:"subscribed"`
	Unsupported  []StreamKind `json:"unsupported,omitempty"`
	UsedFallback bool         `json:"used_fallback"`
}

// FeedSubscription is a persisted watch-list row: the gateway subscribes to
// these instruments on startup and after every reconnect.
type FeedSubscription struct {
	ID           string    `db:"id" json:"id"`
	InstrumentID string    `db:"instrument_id" json:"instrument_id"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

func (FeedSubscription) TableName() string {
	return "feed_subscriptions"
}
