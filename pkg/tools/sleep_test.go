package tools

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kindred-labs/kindred/pkg/models"
)

func TestSleepPublishesNothing(t *testing.T) {
	pub := &fakePublisher{}
	status := &fakeStatus{}
	reg := NewSleepRegistry()
	tool := NewSleepTool("weather_agent", reg, pub, status)

	args := map[string]any{"duration_seconds": float64(60)}
	require.NoError(t, tool.Validate(args))
	require.NoError(t, tool.Execute(context.Background(), args))

	assert.Equal(t, 0, pub.count(), "sleep must publish zero notifications")
	assert.Equal(t, []models.AgentStatus{models.StatusSleeping}, status.writes)
	assert.True(t, reg.Active("weather_agent"))
}

func TestSleepTimerExpiryEmitsWake(t *testing.T) {
	reg := NewSleepRegistry()
	expired := make(chan string, 1)

	reg.Start("weather_agent", 10*time.Millisecond, func(sleepID string) {
		expired <- sleepID
	})

	select {
	case id := <-expired:
		assert.NotEmpty(t, id)
	case <-time.After(2 * time.Second):
		t.Fatal("sleep timer never fired")
	}
	assert.False(t, reg.Active("weather_agent"))
}

func TestSleepCancelSuppressesWake(t *testing.T) {
	reg := NewSleepRegistry()
	expired := make(chan string, 1)

	reg.Start("weather_agent", 20*time.Millisecond, func(sleepID string) {
		expired <- sleepID
	})
	assert.True(t, reg.Cancel("weather_agent"))

	select {
	case <-expired:
		t.Fatal("cancelled sleep still fired")
	case <-time.After(100 * time.Millisecond):
	}
	assert.False(t, reg.Active("weather_agent"))
}

func TestSleepRestartCancelsPrior(t *testing.T) {
	reg := NewSleepRegistry()
	fired := make(chan string, 2)

	reg.Start("weather_agent", 20*time.Millisecond, func(string) { fired <- "first" })
	second := reg.Start("weather_agent", 30*time.Millisecond, func(string) { fired <- "second" })
	assert.NotEmpty(t, second)

	select {
	case which := <-fired:
		assert.Equal(t, "second", which, "only the newest sleep may fire")
	case <-time.After(2 * time.Second):
		t.Fatal("no sleep fired")
	}
	select {
	case which := <-fired:
		t.Fatalf("extra sleep fired: %s", which)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSleepValidation(t *testing.T) {
	tool := NewSleepTool("weather_agent", NewSleepRegistry(), &fakePublisher{}, &fakeStatus{})
	assert.Error(t, tool.Validate(map[string]any{}))
	assert.Error(t, tool.Validate(map[string]any{"duration_seconds": "60"}))
	assert.Error(t, tool.Validate(map[string]any{"duration_seconds": float64(-1)}))
	assert.NoError(t, tool.Validate(map[string]any{"duration_seconds": float64(30)}))
}
