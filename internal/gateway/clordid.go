package gateway

import (
	"strings"
	"time"
)

const clOrdIDMaxLen = 32

// GenerateClOrdID builds a client order ID of the form
// {strategy_prefix:4}{ts_suffix:8}, pure alphanumeric, <= 32 chars,
// per spec.md §4.2.1.
func GenerateClOrdID(strategyID string) string {
	prefix := alnumOnly(strategyID)
	if len(prefix) > 4 {
		prefix = prefix[:4]
	}
	for len(prefix) < 4 {
		prefix += "x"
	}

	suffix := time.Now().Format("20060102150405")
	suffix = suffix[len(suffix)-8:]

	id := prefix + suffix
	if len(id) > clOrdIDMaxLen {
		id = id[:clOrdIDMaxLen]
	}
	return id
}

func alnumOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
