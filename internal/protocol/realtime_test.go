package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseServerEventResponseDoneFunctionCalls(t *testing.T) {
	raw := []byte(`{
		"type":"response.done",
		"response":{"id":"resp_1","status":"completed","output":[
			{"id":"item_1","type":"message"},
			{"id":"item_2","type":"function_call","name":"get_available_rooms_function","call_id":"call_9","arguments":"{\"area\":\"Fez\"}"}
		]}
	}`)
	ev, err := ParseServerEvent(raw)
	require.NoError(t, err)
	require.Equal(t, TypeResponseDone, ev.Type)

	calls := ev.FunctionCalls()
	require.Len(t, calls, 1)
	require.Equal(t, FunctionCall{Name: "get_available_rooms_function", Arguments: `{"area":"Fez"}`, CallID: "call_9"}, calls[0])
}

func TestParseServerEventAudioDelta(t *testing.T) {
	ev, err := ParseServerEvent([]byte(`{"type":"response.audio.delta","item_id":"item_7","delta":"AQID"}`))
	require.NoError(t, err)
	require.Equal(t, TypeAudioDelta, ev.Type)
	require.Equal(t, "item_7", ev.ItemID)
	require.Equal(t, "AQID", ev.Delta)
	require.Empty(t, ev.FunctionCalls())
}

func TestParseServerEventRequiresType(t *testing.T) {
	_, err := ParseServerEvent([]byte(`{"delta":"AQID"}`))
	require.Error(t, err)
	_, err = ParseServerEvent([]byte(`nope`))
	require.Error(t, err)
}

func TestClientEventsWireShape(t *testing.T) {
	raw, err := json.Marshal(NewTruncate("item_7", 400))
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"conversation.item.truncate","item_id":"item_7","content_index":0,"audio_end_ms":400}`, string(raw))

	raw, err = json.Marshal(NewFunctionCallOutput("call_9", `"ok"`))
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"conversation.item.create","item":{"type":"function_call_output","call_id":"call_9","output":"\"ok\""}}`, string(raw))

	raw, err = json.Marshal(NewUserText("Greet the user"))
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"conversation.item.create","item":{"type":"message","role":"user","content":[{"type":"input_text","text":"Greet the user"}]}}`, string(raw))

	raw, err = json.Marshal(NewInputAudioAppend("AQID"))
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"input_audio_buffer.append","audio":"AQID"}`, string(raw))
}
