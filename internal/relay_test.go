package internal_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/koopa0/collab-relay/internal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// payload 從 JSON 建立 Payload
func payload(t *testing.T, raw string) internal.Payload {
	t.Helper()
	p, err := internal.DecodePayload(json.RawMessage(raw))
	require.NoError(t, err)
	return p
}

// TestRoute 測試中繼規則表
func TestRoute(t *testing.T) {
	now := time.UnixMilli(1700000000000)

	tests := []struct {
		name     string
		event    string
		data     string
		validate func(t *testing.T, out []internal.Broadcast)
	}{
		{
			name:  "code change excludes sender",
			event: internal.EventCodeChange,
			data:  `{"roomId":"r1","code":"print(1)"}`,
			validate: func(t *testing.T, out []internal.Broadcast) {
				require.Len(t, out, 1)
				assert.Equal(t, "r1", out[0].RoomID)
				assert.Equal(t, internal.ScopeOthers, out[0].Scope)
				assert.Equal(t, internal.EventCodeUpdate, out[0].Event)
				assert.Equal(t, "print(1)", out[0].Data)
			},
		},
		{
			name:  "empty document is a valid code change",
			event: internal.EventCodeChange,
			data:  `{"roomId":"r1","code":""}`,
			validate: func(t *testing.T, out []internal.Broadcast) {
				require.Len(t, out, 1)
				assert.Equal(t, "", out[0].Data)
			},
		},
		{
			name:     "code change without code is dropped",
			event:    internal.EventCodeChange,
			data:     `{"roomId":"r1"}`,
			validate: func(t *testing.T, out []internal.Broadcast) { assert.Nil(t, out) },
		},
		{
			name:     "code change without room is dropped",
			event:    internal.EventCodeChange,
			data:     `{"code":"x"}`,
			validate: func(t *testing.T, out []internal.Broadcast) { assert.Nil(t, out) },
		},
		{
			name:  "typing relays the name",
			event: internal.EventTyping,
			data:  `{"roomId":"r1","userName":"Alice"}`,
			validate: func(t *testing.T, out []internal.Broadcast) {
				require.Len(t, out, 1)
				assert.Equal(t, internal.ScopeOthers, out[0].Scope)
				assert.Equal(t, internal.EventUserTyping, out[0].Event)
				assert.Equal(t, "Alice", out[0].Data)
			},
		},
		{
			name:  "displayName alias is accepted",
			event: internal.EventTyping,
			data:  `{"roomId":"r1","displayName":"Alice"}`,
			validate: func(t *testing.T, out []internal.Broadcast) {
				require.Len(t, out, 1)
				assert.Equal(t, "Alice", out[0].Data)
			},
		},
		{
			name:  "language change excludes sender",
			event: internal.EventLanguageChange,
			data:  `{"roomId":"r1","language":"python"}`,
			validate: func(t *testing.T, out []internal.Broadcast) {
				require.Len(t, out, 1)
				assert.Equal(t, internal.ScopeOthers, out[0].Scope)
				assert.Equal(t, internal.EventLanguageUpdate, out[0].Event)
				assert.Equal(t, "python", out[0].Data)
			},
		},
		{
			name:     "language change without language is dropped",
			event:    internal.EventLanguageChange,
			data:     `{"roomId":"r1"}`,
			validate: func(t *testing.T, out []internal.Broadcast) { assert.Nil(t, out) },
		},
		{
			name:  "cursor move keeps position verbatim",
			event: internal.EventCursorMove,
			data:  `{"roomId":"r1","userName":"Alice","position":{"lineNumber":3,"column":7}}`,
			validate: func(t *testing.T, out []internal.Broadcast) {
				require.Len(t, out, 1)
				assert.Equal(t, internal.EventCursorUpdate, out[0].Event)
				data, err := json.Marshal(out[0].Data)
				require.NoError(t, err)
				assert.JSONEq(t, `{"userName":"Alice","position":{"lineNumber":3,"column":7}}`, string(data))
			},
		},
		{
			name:     "cursor move with null position is dropped",
			event:    internal.EventCursorMove,
			data:     `{"roomId":"r1","userName":"Alice","position":null}`,
			validate: func(t *testing.T, out []internal.Broadcast) { assert.Nil(t, out) },
		},
		{
			name:  "selection change",
			event: internal.EventSelectionChange,
			data:  `{"roomId":"r1","userName":"Bob","selection":{"startLineNumber":1,"endLineNumber":2}}`,
			validate: func(t *testing.T, out []internal.Broadcast) {
				require.Len(t, out, 1)
				assert.Equal(t, internal.ScopeOthers, out[0].Scope)
				data, err := json.Marshal(out[0].Data)
				require.NoError(t, err)
				assert.JSONEq(t, `{"userName":"Bob","selection":{"startLineNumber":1,"endLineNumber":2}}`, string(data))
			},
		},
		{
			name:  "chat message includes sender and adds a log entry",
			event: internal.EventChatMessage,
			data:  `{"roomId":"r1","userName":"Bob","message":"hi"}`,
			validate: func(t *testing.T, out []internal.Broadcast) {
				require.Len(t, out, 2)
				assert.Equal(t, internal.ScopeRoom, out[0].Scope)
				assert.Equal(t, internal.EventChatMessage, out[0].Event)
				data, err := json.Marshal(out[0].Data)
				require.NoError(t, err)
				assert.JSONEq(t, `{"userName":"Bob","message":"hi","timestamp":1700000000000}`, string(data))

				assert.Equal(t, internal.ScopeRoom, out[1].Scope)
				assert.Equal(t, internal.EventSessionLog, out[1].Event)
				entry := out[1].Data.(internal.LogEntry)
				assert.Equal(t, internal.LogChat, entry.Kind)
				assert.Equal(t, "Bob", entry.Actor)
				assert.Equal(t, "hi", entry.Message)
			},
		},
		{
			name:     "empty chat message is dropped",
			event:    internal.EventChatMessage,
			data:     `{"roomId":"r1","userName":"Bob","message":""}`,
			validate: func(t *testing.T, out []internal.Broadcast) { assert.Nil(t, out) },
		},
		{
			name:  "chat typing",
			event: internal.EventChatTyping,
			data:  `{"roomId":"r1","userName":"Bob"}`,
			validate: func(t *testing.T, out []internal.Broadcast) {
				require.Len(t, out, 1)
				assert.Equal(t, internal.ScopeOthers, out[0].Scope)
				data, err := json.Marshal(out[0].Data)
				require.NoError(t, err)
				assert.JSONEq(t, `{"userName":"Bob"}`, string(data))
			},
		},
		{
			name:  "run executed is log only and includes sender",
			event: internal.EventRunExecuted,
			data:  `{"roomId":"r1","userName":"Alice"}`,
			validate: func(t *testing.T, out []internal.Broadcast) {
				require.Len(t, out, 1)
				assert.Equal(t, internal.ScopeRoom, out[0].Scope)
				assert.Equal(t, internal.EventSessionLog, out[0].Event)
				entry := out[0].Data.(internal.LogEntry)
				assert.Equal(t, internal.LogRun, entry.Kind)
				assert.Equal(t, "Alice", entry.Actor)
				assert.Equal(t, now.UnixMilli(), entry.Timestamp)
			},
		},
		{
			name:     "unknown event is dropped",
			event:    "deleteEverything",
			data:     `{"roomId":"r1"}`,
			validate: func(t *testing.T, out []internal.Broadcast) { assert.Nil(t, out) },
		},
		{
			name:     "membership events are not relayed",
			event:    internal.EventJoin,
			data:     `{"roomId":"r1","userName":"Alice"}`,
			validate: func(t *testing.T, out []internal.Broadcast) { assert.Nil(t, out) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.validate(t, internal.Route(tt.event, payload(t, tt.data), now))
		})
	}
}

func TestIsRelayed(t *testing.T) {
	for _, event := range []string{
		internal.EventCodeChange, internal.EventTyping, internal.EventLanguageChange,
		internal.EventCursorMove, internal.EventSelectionChange, internal.EventChatMessage,
		internal.EventChatTyping, internal.EventRunExecuted,
	} {
		assert.True(t, internal.IsRelayed(event), event)
	}
	for _, event := range []string{internal.EventJoin, internal.EventLeaveRoom, internal.EventCompileCode} {
		assert.False(t, internal.IsRelayed(event), event)
	}
}

func TestDecodePayload(t *testing.T) {
	p, err := internal.DecodePayload(nil)
	require.NoError(t, err)
	assert.Equal(t, internal.Payload{}, p)

	p, err = internal.DecodePayload(json.RawMessage(`null`))
	require.NoError(t, err)
	assert.Empty(t, p.RoomID)

	p, err = internal.DecodePayload(json.RawMessage(`{"input":"1 2","stdin":"ignored"}`))
	require.NoError(t, err)
	assert.Equal(t, "1 2", p.StdinText())

	_, err = internal.DecodePayload(json.RawMessage(`"just a string"`))
	assert.Error(t, err)
}

func TestScope_String(t *testing.T) {
	assert.Equal(t, "room", internal.ScopeRoom.String())
	assert.Equal(t, "others", internal.ScopeOthers.String())
	assert.Equal(t, "unknown", internal.Scope(9).String())
}
