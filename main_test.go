package main

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigureLogLevelFromEnv(t *testing.T) {
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.Disabled) })

	tests := []struct {
		value string
		want  zerolog.Level
	}{
		{"", zerolog.Disabled},
		{"0", zerolog.Disabled},
		{"false", zerolog.Disabled},
		{"FALSE", zerolog.Disabled},
		{" 0 ", zerolog.Disabled},
		{"1", zerolog.DebugLevel},
		{"true", zerolog.DebugLevel},
		{"refresh", zerolog.DebugLevel},
	}
	for _, tc := range tests {
		t.Run("value="+tc.value, func(t *testing.T) {
			t.Setenv("DEBUG_CLOUDAUTH", tc.value)
			configureLogLevelFromEnv()
			assert.Equal(t, tc.want, zerolog.GlobalLevel())
		})
	}
}

func TestSetupInterruptListenerIsBuffered(t *testing.T) {
	stopChan := setupInterruptListener()
	require.NotNil(t, stopChan)
	assert.Equal(t, 1, cap(stopChan))
}

func TestHandleInterruptCancelsInsteadOfExiting(t *testing.T) {
	stopChan := make(chan os.Signal, 1)
	messages := make(chan string, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go handleInterrupt(stopChan, cancel, func(msg string) { messages <- msg })
	assert.Equal(t, 0, exitStatus(ctx, 0))
	stopChan <- os.Interrupt

	select {
	case <-ctx.Done():
		assert.Contains(t, <-messages, "Received interrupt")
		assert.Equal(t, exitInterrupted, exitStatus(ctx, 0))
		assert.Equal(t, exitInterrupted, exitStatus(ctx, 3))
	case <-time.After(time.Second):
		t.Fatal("context was not cancelled after an interrupt")
	}
}

func TestExitStatusKeepsCommandCode(t *testing.T) {
	assert.Equal(t, 3, exitStatus(context.Background(), 3))
}
