package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeInbound(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		want    InboundMessage
		wantErr bool
	}{
		{
			name: "heartbeat",
			data: `{"type":"heartbeat"}`,
			want: Heartbeat{},
		},
		{
			name: "response",
			data: `{"type":"response","commandId":"c1","result":{"ok":true}}`,
			want: Response{CommandID: "c1", Result: []byte(`{"ok":true}`)},
		},
		{
			name: "error",
			data: `{"type":"error","commandId":"c1","error":"script failed"}`,
			want: CommandError{CommandID: "c1", Message: "script failed"},
		},
		{
			name: "status",
			data: `{"type":"status","status":{"activeResources":["vm-1"]}}`,
			want: StatusUpdate{Status: AgentStatus{ActiveResources: []string{"vm-1"}}},
		},
		{
			name: "status without body",
			data: `{"type":"status"}`,
			want: StatusUpdate{},
		},
		{
			name:    "response missing commandId",
			data:    `{"type":"response"}`,
			wantErr: true,
		},
		{
			name:    "error missing commandId",
			data:    `{"type":"error","error":"boom"}`,
			wantErr: true,
		},
		{
			name:    "unknown type",
			data:    `{"type":"telemetry"}`,
			wantErr: true,
		},
		{
			name:    "empty type",
			data:    `{}`,
			wantErr: true,
		},
		{
			name:    "malformed json",
			data:    `{"type":`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeInbound([]byte(tt.data))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeInbound_UnknownTypeIsTyped(t *testing.T) {
	_, err := DecodeInbound([]byte(`{"type":"telemetry"}`))
	require.Error(t, err)
	assert.True(t, IsUnknownMessageError(err))
}
