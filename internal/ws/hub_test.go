package ws

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_BroadcastToDonor(t *testing.T) {
	h := NewHub()
	a1 := NewClient("donor-a", "DONOR")
	a2 := NewClient("donor-a", "DONOR")
	b := NewClient("donor-b", "DONOR")
	h.Register(a1)
	h.Register(a2)
	h.Register(b)

	n := h.BroadcastToDonor("donor-a", map[string]string{"status": "completed"})
	assert.Equal(t, 2, n)
	assert.JSONEq(t, `{"status":"completed"}`, string(<-a1.Send))
	assert.JSONEq(t, `{"status":"completed"}`, string(<-a2.Send))
	assert.Empty(t, b.Send)
}

func TestHub_CloseUnregisters(t *testing.T) {
	h := NewHub()
	c := NewClient("donor-a", "DONOR")
	h.Register(c)
	require.Equal(t, 1, h.ClientCount())

	c.Close()
	c.Close()

	assert.Equal(t, 0, h.ClientCount())
	assert.Equal(t, 0, h.BroadcastToDonor("donor-a", "x"))
}

func TestHub_BroadcastToRole(t *testing.T) {
	h := NewHub()
	admin := NewClient("ops", "ADMIN")
	donor := NewClient("donor-a", "DONOR")
	h.Register(admin)
	h.Register(donor)

	assert.Equal(t, 1, h.BroadcastToRole("ADMIN", map[string]int{"n": 1}))
	assert.Len(t, admin.Send, 1)
	assert.Empty(t, donor.Send)
}
