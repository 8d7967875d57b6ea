package featureflags

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnabled_BooleanValues(t *testing.T) {
	m := NewManager("a=on,b=off,c=true,d=false,e=1,f=0")

	for _, name := range []string{"a", "c", "e"} {
		assert.True(t, m.Enabled(name, "u1"), name)
	}
	for _, name := range []string{"b", "d", "f", "missing"} {
		assert.False(t, m.Enabled(name, "u1"), name)
	}
}

func TestEnabled_PercentageValues(t *testing.T) {
	m := NewManager("always=100%,never=0%,canary=25%,broken=x%")

	assert.True(t, m.Enabled("always", "u1"))
	assert.False(t, m.Enabled("never", "u1"))
	assert.False(t, m.Enabled("broken", "u1"))

	first := m.Enabled("canary", "user-42")
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, m.Enabled("canary", "user-42"), "rollout evaluation must be deterministic per user")
	}

	assert.False(t, m.Enabled("canary", ""), "percentage rollout requires a user")
}

func TestParseAndSnapshot(t *testing.T) {
	m := NewManager(" bad ,x=on, Y = 20% ,z=off,=on,w= ")

	assert.Equal(t, map[string]string{"x": "on", "y": "20%", "z": "off"}, m.Raw())
	assert.Equal(t, []string{"x", "y", "z"}, m.Names())

	snap := m.Snapshot("u1")
	assert.Len(t, snap, 3)
	assert.True(t, snap["x"])
	assert.False(t, snap["z"])
}

func TestNilManager(t *testing.T) {
	var m *Manager
	assert.False(t, m.Enabled(TypingIndicators, "u1"))
	assert.Empty(t, m.Raw())
	assert.Empty(t, m.Snapshot("u1"))
}
