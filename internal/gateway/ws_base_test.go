package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBackoffDelayCapsAtMax(t *testing.T) {
	require.Equal(t, 1*time.Second, backoffDelay(0))
	require.Equal(t, 2*time.Second, backoffDelay(1))
	require.Equal(t, 4*time.Second, backoffDelay(2))
	require.Equal(t, 32*time.Second, backoffDelay(5))
	require.Equal(t, 32*time.Second, backoffDelay(6), "attempt is clamped to 5 before exponentiation")
	require.Equal(t, 32*time.Second, backoffDelay(100))
}

func TestDisconnectCleanupResetsState(t *testing.T) {
	w := NewWSConn("wss://example.invalid/ws", nil, nil)
	w.setState(StateConnected)
	w.disconnectCleanup()
	require.Equal(t, StateDisconnected, w.State())
	require.Nil(t, w.conn)
}

func TestClOrdIDFormat(t *testing.T) {
	id := GenerateClOrdID("scalper-btc")
	require.LessOrEqual(t, len(id), 32)
	for _, r := range id {
		isAlnum := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		require.True(t, isAlnum, "cl_ord_id must be pure alphanumeric, got %q", id)
	}
}
