package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandJSON(t *testing.T) {
	tests := []struct {
		name string
		cmd  Command
		want string
	}{
		{"message", MessageCommand("hi"), `{"action":"message","content":"hi"}`},
		{"stop", StopCommand(), `{"action":"stop_generation"}`},
		{"regenerate", RegenerateCommand(3), `{"action":"regenerate","messageIndex":3}`},
		{"regenerate first message", RegenerateCommand(0), `{"action":"regenerate","messageIndex":0}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.cmd)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(data))
		})
	}
}

func TestIsSentinelFrame(t *testing.T) {
	assert.True(t, IsSentinelFrame("GENERATION_COMPLETE"))
	assert.True(t, IsSentinelFrame("GENERATION_STOPPED"))
	assert.False(t, IsSentinelFrame("GENERATION_COMPLETE "))
	assert.False(t, IsSentinelFrame("Hello"))
}

func TestGenerationStateString(t *testing.T) {
	assert.Equal(t, "idle", Idle().String())
	assert.Equal(t, "streaming", StreamingNew().String())
	assert.Equal(t, "regenerating(2)", StreamingRegenerate(2).String())
	assert.True(t, Idle().IsIdle())
	assert.True(t, StreamingRegenerate(0).IsStreaming())
}

func TestTransportStateString(t *testing.T) {
	assert.Equal(t, "connecting", TransportConnecting.String())
	assert.Equal(t, "open", TransportOpen.String())
	assert.Equal(t, "closed", TransportClosed.String())
}
