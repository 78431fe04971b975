package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegisterComponentRecordsHealthyStatus(t *testing.T) {
	RegisterComponent("pool", true, "connected")

	got, ok := ComponentStatus("pool")
	assert.True(t, ok)
	assert.True(t, got.Healthy)
	assert.Equal(t, "connected", got.Message)
	assert.False(t, got.Updated.IsZero())
}

func TestRegisterComponentOverwritesPriorStatus(t *testing.T) {
	RegisterComponent("pool", true, "connected")
	RegisterComponent("pool", false, "terminated")

	got, ok := ComponentStatus("pool")
	assert.True(t, ok)
	assert.False(t, got.Healthy)
	assert.Equal(t, "terminated", got.Message)
}

func TestComponentStatusUnknownComponent(t *testing.T) {
	_, ok := ComponentStatus("never-registered")
	assert.False(t, ok)
}
