package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryFirstWriteWins(t *testing.T) {
	m := NewMemory()

	_, ok := m.GuestToken(42)
	assert.False(t, ok)

	m.SaveGuestToken(42, "tok-a")
	m.SaveGuestToken(42, "tok-b") // ignored

	tok, ok := m.GuestToken(42)
	require.True(t, ok)
	assert.Equal(t, "tok-a", tok)
}

func TestMemoryKeysPerTicket(t *testing.T) {
	m := NewMemory()
	m.SaveGuestToken(1, "tok-1")
	m.SaveGuestToken(2, "tok-2")

	tok, ok := m.GuestToken(1)
	require.True(t, ok)
	assert.Equal(t, "tok-1", tok)
	tok, ok = m.GuestToken(2)
	require.True(t, ok)
	assert.Equal(t, "tok-2", tok)
}
