package gateway

import (
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/quantbench/marketfeed-service/internal/entity"
	"github.com/shopspring/decimal"
)

// ParseTick decodes one gateway frame into a Tick. Non-tick frames
// (subscription acks, heartbeats) return (nil, nil) and are ignored upstream;
// malformed price fields return an error so the frame is logged and dropped.
func ParseTick(message []byte) (*entity.Tick, error) {
	var payload struct {
		Type       string `json:"type"`
		Instrument string `json:"instrument"`
		Last       string `json:"last"`
		Bid        string `json:"bid"`
		Ask        string `json:"ask"`
		Size       string `json:"size"`
		Timestamp  int64  `json:"ts"`
	}

	if err := json.Unmarshal(message, &payload); err != nil {
		return nil, fmt.Errorf("decode gateway frame: %w", err)
	}

	switch payload.Type {
	case "tick", "trade", "quote":
	default:
		return nil, nil
	}

	instrumentID := strings.TrimSpace(payload.Instrument)
	if instrumentID == "" {
		return nil, fmt.Errorf("tick frame is missing instrument")
	}

	last, err := optionalDecimal(payload.Last)
	if err != nil {
		return nil, fmt.Errorf("invalid last price: %w", err)
	}

	bid, err := optionalDecimal(payload.Bid)
	if err != nil {
		return nil, fmt.Errorf("invalid bid price: %w", err)
	}

	ask, err := optionalDecimal(payload.Ask)
	if err != nil {
		return nil, fmt.Errorf("invalid ask price: %w", err)
	}

	size, err := optionalDecimal(payload.Size)
	if err != nil {
		return nil, fmt.Errorf("invalid size: %w", err)
	}

	ts := time.Now().UTC()
	if payload.Timestamp > 0 {
		ts = time.UnixMilli(payload.Timestamp).UTC()
	}

	return &entity.Tick{
		InstrumentID: instrumentID,
		Last:         last,
		Bid:          bid,
		Ask:          ask,
		Size:         size,
		Timestamp:    ts,
	}, nil
}

func optionalDecimal(raw string) (*decimal.Decimal, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, nil
	}

	parsed, err := decimal.NewFromString(trimmed)
	if err != nil {
		return nil, err
	}

	return &parsed, nil
}
