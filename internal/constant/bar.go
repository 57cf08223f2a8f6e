package constant

import (
	"fmt"
	"strings"
)

const (
	BarStreamName       = "bars"
	BarStreamSubjectAll = "bars.>"

	BarInsertQueueGroup = "bar_group_insert"
)

// GetBarStreamSubject builds the per (instrument, timeframe) subject sealed
// bars are published on, e.g. "bars.BTC-USD.1m".
func GetBarStreamSubject(instrumentID, timeframe string) string {
	return fmt.Sprintf("%s.%s.%s", BarStreamName, sanitizeSubjectToken(instrumentID), sanitizeSubjectToken(timeframe))
}

// sanitizeSubjectToken keeps instrument ids from injecting NATS subject
// hierarchy separators.
func sanitizeSubjectToken(token string) string {
	replacer := strings.NewReplacer(".", "-", "*", "-", ">", "-", " ", "-", "/", "-")
	return replacer.Replace(token)
}
