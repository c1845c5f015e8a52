package bridge

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/aymenesoualem/bookingagent/internal/protocol"
	"github.com/aymenesoualem/bookingagent/internal/realtime"
	"github.com/aymenesoualem/bookingagent/internal/session"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeConn is an in-memory websocket peer. Frames pushed with deliver are
// returned by ReadMessage; frames written by the bridge appear on writes.
type fakeConn struct {
	in        chan []byte
	writes    chan []byte
	closed    chan struct{}
	closeOnce sync.Once
	hangOnce  sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 64),
		writes: make(chan []byte, 256),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case msg, ok := <-c.in:
		if !ok {
			return 0, nil, &websocket.CloseError{Code: websocket.CloseNormalClosure}
		}
		return websocket.TextMessage, msg, nil
	case <-c.closed:
		return 0, nil, net.ErrClosed
	}
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	select {
	case <-c.closed:
		return net.ErrClosed
	default:
	}
	c.writes <- append([]byte(nil), data...)
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) deliver(t *testing.T, v any) {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	c.in <- raw
}

// hangUp simulates the remote side closing the socket.
func (c *fakeConn) hangUp() {
	c.hangOnce.Do(func() { close(c.in) })
}

// expect reads written frames until one has the wanted type field.
func (c *fakeConn) expect(t *testing.T, field, want string) map[string]any {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case raw := <-c.writes:
			var msg map[string]any
			require.NoError(t, json.Unmarshal(raw, &msg))
			if msg[field] == want {
				return msg
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s=%q", field, want)
			return nil
		}
	}
}

func (c *fakeConn) expectModel(t *testing.T, eventType protocol.RealtimeType) map[string]any {
	t.Helper()
	return c.expect(t, "type", string(eventType))
}

func (c *fakeConn) expectTelephony(t *testing.T, event protocol.TelephonyEvent) map[string]any {
	t.Helper()
	return c.expect(t, "event", string(event))
}

type stubDispatcher struct {
	mu    sync.Mutex
	calls []protocol.FunctionCall
}

func (d *stubDispatcher) Dispatch(_ context.Context, name, arguments string) any {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, protocol.FunctionCall{Name: name, Arguments: arguments})
	return []map[string]any{{"hotel_name": "Hotel Atlas", "room_number": "101"}}
}

type harness struct {
	telephony *fakeConn
	model     *fakeConn
	bridge    *Bridge
	done      chan error
}

func startBridge(t *testing.T, opts Options) *harness {
	t.Helper()
	h := &harness{telephony: newFakeConn(), model: newFakeConn(), done: make(chan error, 1)}
	opts.Logger = zerolog.Nop()
	if opts.Session.Type == "" {
		opts.Session = realtime.NewClient(realtime.Config{}).SessionUpdate("You book hotels.", nil)
	}
	h.bridge = New(h.telephony, h.model, opts)
	go func() { h.done <- h.bridge.Run(context.Background()) }()
	return h
}

func (h *harness) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatalf("bridge did not stop")
		return nil
	}
}

func startFrame(sid string) protocol.TelephonyFrame {
	return protocol.TelephonyFrame{
		Event:     protocol.TelephonyStart,
		StreamSID: sid,
		Start:     &protocol.StreamStart{StreamSID: sid, CallSID: "CA123"},
	}
}

func mediaFrame(ts string) protocol.TelephonyFrame {
	return protocol.TelephonyFrame{
		Event: protocol.TelephonyMedia,
		Media: &protocol.MediaPayload{Timestamp: ts, Payload: "AAEC"},
	}
}

func TestRunSendsSessionAndGreetingFirst(t *testing.T) {
	update := realtime.NewClient(realtime.Config{}).SessionUpdate("You book hotels.", nil)
	h := startBridge(t, Options{CallID: "c1", Session: update, Greeting: realtime.NewGreeting("Greet the caller.")})

	first := h.model.expectModel(t, protocol.TypeSessionUpdate)
	require.Equal(t, "You book hotels.", first["session"].(map[string]any)["instructions"])
	h.model.expectModel(t, protocol.TypeConversationItemCreate)
	h.model.expectModel(t, protocol.TypeResponseCreate)

	h.telephony.hangUp()
	require.NoError(t, h.wait(t))
}

func TestInterruptionTruncatesAtHeardAudio(t *testing.T) {
	calls := session.NewManager()
	call := calls.Create(session.ProfileInbound, "+212600000000")
	h := startBridge(t, Options{CallID: call.ID, Calls: calls})
	h.model.expectModel(t, protocol.TypeSessionUpdate)

	h.telephony.deliver(t, startFrame("S1"))
	h.telephony.deliver(t, mediaFrame("500"))
	append1 := h.model.expectModel(t, protocol.TypeInputAudioAppend)
	require.Equal(t, "AAEC", append1["audio"])

	h.model.deliver(t, map[string]any{"type": "response.audio.delta", "item_id": "item_1", "delta": "AQID"})
	media := h.telephony.expectTelephony(t, protocol.TelephonyMedia)
	require.Equal(t, "S1", media["streamSid"])
	require.Equal(t, "AQID", media["media"].(map[string]any)["payload"])
	mark := h.telephony.expectTelephony(t, protocol.TelephonyMark)
	require.Equal(t, MarkName, mark["mark"].(map[string]any)["name"])

	h.telephony.deliver(t, mediaFrame("900"))
	h.model.expectModel(t, protocol.TypeInputAudioAppend)

	h.model.deliver(t, map[string]any{"type": "input_audio_buffer.speech_started"})
	trunc := h.model.expectModel(t, protocol.TypeConversationTruncate)
	require.Equal(t, "item_1", trunc["item_id"])
	require.EqualValues(t, 0, trunc["content_index"])
	require.EqualValues(t, 400, trunc["audio_end_ms"])
	flush := h.telephony.expectTelephony(t, protocol.TelephonyClear)
	require.Equal(t, "S1", flush["streamSid"])

	snap := h.bridge.State().Snapshot()
	require.Zero(t, snap.PendingMarks)
	require.Empty(t, snap.LastAssistantItem)
	require.False(t, snap.Responding)

	got, err := calls.Get(call.ID)
	require.NoError(t, err)
	require.Equal(t, "S1", got.StreamSID)
	require.Equal(t, 1, got.Interruptions)

	h.telephony.hangUp()
	require.NoError(t, h.wait(t))
}

func TestFunctionCallRoundTrip(t *testing.T) {
	dispatcher := &stubDispatcher{}
	h := startBridge(t, Options{CallID: "c1", Dispatcher: dispatcher})
	h.model.expectModel(t, protocol.TypeSessionUpdate)

	h.model.deliver(t, map[string]any{
		"type": "response.done",
		"response": map[string]any{
			"status": "completed",
			"output": []map[string]any{
				{"type": "message", "id": "item_9"},
				{
					"type":      "function_call",
					"name":      "get_available_rooms_function",
					"call_id":   "call_42",
					"arguments": `{"check_in":"2025-01-20","check_out":"2025-01-25","area":"Marrakech"}`,
				},
			},
		},
	})

	out := h.model.expectModel(t, protocol.TypeConversationItemCreate)
	item := out["item"].(map[string]any)
	require.Equal(t, "function_call_output", item["type"])
	require.Equal(t, "call_42", item["call_id"])
	require.JSONEq(t, `[{"hotel_name":"Hotel Atlas","room_number":"101"}]`, item["output"].(string))
	h.model.expectModel(t, protocol.TypeResponseCreate)

	dispatcher.mu.Lock()
	require.Len(t, dispatcher.calls, 1)
	require.Equal(t, "get_available_rooms_function", dispatcher.calls[0].Name)
	dispatcher.mu.Unlock()

	h.model.hangUp()
	require.NoError(t, h.wait(t))
}

func TestModelHangupClosesTelephony(t *testing.T) {
	h := startBridge(t, Options{CallID: "c1"})
	h.model.expectModel(t, protocol.TypeSessionUpdate)

	h.model.hangUp()
	require.NoError(t, h.wait(t))

	select {
	case <-h.telephony.closed:
	default:
		t.Fatalf("telephony socket left open after model hangup")
	}
}

func TestStopFrameEndsBridge(t *testing.T) {
	h := startBridge(t, Options{CallID: "c1"})
	h.telephony.deliver(t, startFrame("S1"))
	h.telephony.deliver(t, protocol.TelephonyFrame{Event: protocol.TelephonyStop, StreamSID: "S1"})
	require.NoError(t, h.wait(t))

	select {
	case <-h.model.closed:
	default:
		t.Fatalf("model socket left open after stop")
	}
}

func TestContextCancelStopsBridge(t *testing.T) {
	telephony, model := newFakeConn(), newFakeConn()
	b := New(telephony, model, Options{CallID: "c1", Logger: zerolog.Nop()})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	model.expectModel(t, protocol.TypeSessionUpdate)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatalf("bridge ignored cancellation")
	}
}

func TestMalformedFramesAreSkipped(t *testing.T) {
	h := startBridge(t, Options{CallID: "c1"})
	h.model.expectModel(t, protocol.TypeSessionUpdate)

	h.telephony.in <- []byte(`{not json`)
	h.telephony.in <- []byte(`{"event":"media"}`)
	h.model.in <- []byte(`{"type":"response.audio.delta","delta":"%%%"}`)
	h.telephony.deliver(t, mediaFrame("20"))
	h.model.expectModel(t, protocol.TypeInputAudioAppend)

	h.telephony.hangUp()
	require.NoError(t, h.wait(t))
}

func TestZeroSessionStillSendsSessionUpdate(t *testing.T) {
	telephony, model := newFakeConn(), newFakeConn()
	b := New(telephony, model, Options{CallID: "c1", Logger: zerolog.Nop()})
	done := make(chan error, 1)
	go func() { done <- b.Run(context.Background()) }()

	model.expectModel(t, protocol.TypeSessionUpdate)
	telephony.hangUp()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatalf("bridge did not stop")
	}
}

func TestMarkIsQueuedBeforeItIsSent(t *testing.T) {
	h := startBridge(t, Options{CallID: "c1"})
	h.model.expectModel(t, protocol.TypeSessionUpdate)

	h.telephony.deliver(t, startFrame("S1"))
	require.Eventually(t, func() bool {
		return h.bridge.State().Snapshot().StreamSID == "S1"
	}, 2*time.Second, 5*time.Millisecond)
	h.model.deliver(t, map[string]any{"type": "response.audio.delta", "item_id": "item_1", "delta": "AQID"})
	h.telephony.expectTelephony(t, protocol.TelephonyMark)
	require.Equal(t, 1, h.bridge.State().Snapshot().PendingMarks)

	h.telephony.deliver(t, protocol.TelephonyFrame{
		Event:     protocol.TelephonyMark,
		StreamSID: "S1",
		Mark:      &protocol.MarkPayload{Name: MarkName},
	})
	require.Eventually(t, func() bool {
		return h.bridge.State().Snapshot().PendingMarks == 0
	}, 2*time.Second, 5*time.Millisecond)

	h.telephony.hangUp()
	require.NoError(t, h.wait(t))
}
