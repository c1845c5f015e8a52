package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/aymenesoualem/bookingagent/internal/booking"
	"github.com/aymenesoualem/bookingagent/internal/config"
	"github.com/aymenesoualem/bookingagent/internal/outbound"
	"github.com/aymenesoualem/bookingagent/internal/policy"
	"github.com/aymenesoualem/bookingagent/internal/profile"
	"github.com/aymenesoualem/bookingagent/internal/realtime"
	"github.com/aymenesoualem/bookingagent/internal/session"
	"github.com/aymenesoualem/bookingagent/internal/tools"
	"github.com/aymenesoualem/bookingagent/internal/twilio"
)

type fakeOutbound struct {
	mu     sync.Mutex
	err    error
	called []string
}

func (f *fakeOutbound) Call(_ context.Context, number string) (session.OutboundCallResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.called = append(f.called, number)
	if f.err != nil {
		return session.OutboundCallResponse{}, f.err
	}
	return session.OutboundCallResponse{CallSID: "CA1", PhoneNumber: number, Status: "queued"}, nil
}

type brokenStore struct {
	booking.Store
}

func (brokenStore) ListHotels(context.Context) ([]booking.Hotel, error) {
	return nil, errors.New("connection refused")
}

func newTestDeps(t *testing.T, model ModelDialer) (Deps, booking.Store) {
	t.Helper()
	store := booking.NewInMemoryStore()
	require.NoError(t, booking.SeedDemoData(context.Background(), store))

	profiles, err := profile.Load("")
	require.NoError(t, err)
	registry := tools.NewRegistry(zerolog.Nop(), nil)
	require.NoError(t, registry.Register(tools.BookingTools(store, nil, nil)...))

	if model == nil {
		model = realtime.NewClient(realtime.Config{APIKey: "test", URL: "ws://127.0.0.1:1/unused"})
	}
	return Deps{
		Calls:    session.NewManager(),
		Store:    store,
		Profiles: profiles,
		Tools:    registry,
		Model:    model,
		Logger:   zerolog.Nop(),
	}, store
}

func newTestServer(t *testing.T, cfg config.Config, deps Deps) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(New(cfg, deps).Router())
	t.Cleanup(ts.Close)
	return ts
}

func TestIndexAndHealth(t *testing.T) {
	deps, _ := newTestDeps(t, nil)
	ts := newTestServer(t, config.Config{}, deps)

	res, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
	var body map[string]string
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	require.Equal(t, "Twilio Media Stream Server is running!", body["message"])

	health, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer health.Body.Close()
	require.Equal(t, http.StatusOK, health.StatusCode)

	ready, err := http.Get(ts.URL + "/readyz")
	require.NoError(t, err)
	defer ready.Body.Close()
	require.Equal(t, http.StatusOK, ready.StatusCode)
}

func TestPerfLatencyWithoutMetrics(t *testing.T) {
	deps, _ := newTestDeps(t, nil)
	ts := newTestServer(t, config.Config{}, deps)

	res, err := http.Get(ts.URL + "/v1/perf/latency")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
	var snap map[string]any
	require.NoError(t, json.NewDecoder(res.Body).Decode(&snap))
	require.Contains(t, snap, "generated_at")
}

func TestReadyReportsStoreFailure(t *testing.T) {
	deps, store := newTestDeps(t, nil)
	deps.Store = brokenStore{Store: store}
	ts := newTestServer(t, config.Config{}, deps)

	res, err := http.Get(ts.URL + "/readyz")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, res.StatusCode)
}

func TestIncomingCallReturnsStreamTwiML(t *testing.T) {
	deps, _ := newTestDeps(t, nil)
	ts := newTestServer(t, config.Config{}, deps)

	form := url.Values{"From": {"+212600000000"}}
	res, err := http.PostForm(ts.URL+"/incoming-call", form)
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, "application/xml", res.Header.Get("Content-Type"))

	raw, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	host := strings.TrimPrefix(ts.URL, "http://")
	require.Contains(t, string(raw), "wss://"+host+"/media-stream/+212600000000")
	require.Contains(t, string(raw), "<Connect>")

	missing, err := http.Get(ts.URL + "/incoming-call")
	require.NoError(t, err)
	defer missing.Body.Close()
	require.Equal(t, http.StatusBadRequest, missing.StatusCode)
}

func TestListBookings(t *testing.T) {
	deps, store := newTestDeps(t, nil)
	_, err := store.BookRoom(context.Background(), booking.BookingRequest{
		HotelName:      "Hotel Atlas",
		RoomNumber:     "101",
		CustomerName:   "John Doe",
		CustomerNumber: "+212600000000",
		CheckIn:        time.Date(2025, 1, 20, 0, 0, 0, 0, time.UTC),
		CheckOut:       time.Date(2025, 1, 25, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	ts := newTestServer(t, config.Config{}, deps)

	res, err := http.Get(ts.URL + "/v1/bookings?limit=10")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
	var body struct {
		Bookings []booking.BookingDetail `json:"bookings"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	require.Len(t, body.Bookings, 1)
	require.Equal(t, "Hotel Atlas", body.Bookings[0].HotelName)

	bad, err := http.Get(ts.URL + "/v1/bookings?limit=abc")
	require.NoError(t, err)
	defer bad.Body.Close()
	require.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func postOutbound(t *testing.T, ts *httptest.Server, number string) *http.Response {
	t.Helper()
	body, err := json.Marshal(session.OutboundCallRequest{PhoneNumber: number})
	require.NoError(t, err)
	res, err := http.Post(ts.URL+"/v1/calls/outbound", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = res.Body.Close() })
	return res
}

func TestOutboundCall(t *testing.T) {
	deps, _ := newTestDeps(t, nil)
	caller := &fakeOutbound{}
	deps.Outbound = caller
	ts := newTestServer(t, config.Config{OutboundRateLimit: 100}, deps)

	res := postOutbound(t, ts, "+212600000000")
	require.Equal(t, http.StatusCreated, res.StatusCode)
	var out session.OutboundCallResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&out))
	require.Equal(t, "CA1", out.CallSID)
	require.Equal(t, []string{"+212600000000"}, caller.called)
}

func TestOutboundCallErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"invalid number", policy.ErrInvalidPhoneNumber, http.StatusBadRequest},
		{"not allowed", outbound.ErrNumberNotAllowed, http.StatusForbidden},
		{"no domain", outbound.ErrNoPublicDomain, http.StatusServiceUnavailable},
		{"provider", &twilio.Error{Status: 500, Message: "boom"}, http.StatusBadGateway},
		{"other", errors.New("unexpected"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			deps, _ := newTestDeps(t, nil)
			deps.Outbound = &fakeOutbound{err: tc.err}
			ts := newTestServer(t, config.Config{OutboundRateLimit: 100}, deps)
			require.Equal(t, tc.want, postOutbound(t, ts, "+212600000000").StatusCode)
		})
	}
}

func TestOutboundCallDisabledAndRateLimited(t *testing.T) {
	deps, _ := newTestDeps(t, nil)
	ts := newTestServer(t, config.Config{OutboundRateLimit: 1}, deps)
	require.Equal(t, http.StatusServiceUnavailable, postOutbound(t, ts, "+212600000000").StatusCode)
	require.Equal(t, http.StatusTooManyRequests, postOutbound(t, ts, "+212600000000").StatusCode)
}

// fakeModel is a realtime endpoint that records what the bridge sends and
// lets the test push server events back.
type fakeModel struct {
	received chan map[string]any
	conns    chan *websocket.Conn
}

func newFakeModel(t *testing.T) (*fakeModel, *httptest.Server) {
	t.Helper()
	m := &fakeModel{received: make(chan map[string]any, 64), conns: make(chan *websocket.Conn, 1)}
	upgrader := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		m.conns <- conn
		for {
			var msg map[string]any
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			m.received <- msg
		}
	}))
	t.Cleanup(ts.Close)
	return m, ts
}

func (m *fakeModel) expect(t *testing.T, eventType string) map[string]any {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case msg := <-m.received:
			if msg["type"] == eventType {
				return msg
			}
		case <-deadline:
			t.Fatalf("model never received %s", eventType)
			return nil
		}
	}
}

func TestMediaStreamBridgesInboundCall(t *testing.T) {
	model, modelServer := newFakeModel(t)
	client := realtime.NewClient(realtime.Config{
		APIKey: "test",
		URL:    "ws" + strings.TrimPrefix(modelServer.URL, "http"),
	})
	deps, _ := newTestDeps(t, client)
	ts := newTestServer(t, config.Config{AutoResponse: true}, deps)

	tel, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/media-stream/+212600000000", nil)
	require.NoError(t, err)
	defer tel.Close()

	update := model.expect(t, "session.update")
	sess := update["session"].(map[string]any)
	instructions := sess["instructions"].(string)
	require.Contains(t, instructions, "+212600000000")
	require.Contains(t, instructions, "Hotel Atlas")
	var toolNames []string
	for _, raw := range sess["tools"].([]any) {
		toolNames = append(toolNames, raw.(map[string]any)["name"].(string))
	}
	require.Contains(t, toolNames, tools.BookRoom)
	require.NotContains(t, toolNames, tools.AddFeedback)
	model.expect(t, "conversation.item.create")
	model.expect(t, "response.create")

	require.NoError(t, tel.WriteJSON(map[string]any{
		"event":     "start",
		"streamSid": "S1",
		"start":     map[string]any{"streamSid": "S1", "callSid": "CA9"},
	}))
	require.Eventually(t, func() bool {
		calls := deps.Calls.List()
		return len(calls) == 1 && calls[0].StreamSID == "S1" && calls[0].Profile == session.ProfileInbound
	}, 3*time.Second, 10*time.Millisecond)

	modelConn := <-model.conns
	require.NoError(t, modelConn.WriteJSON(map[string]any{
		"type": "response.audio.delta", "item_id": "item_1", "delta": "AQID",
	}))
	require.NoError(t, tel.SetReadDeadline(time.Now().Add(3*time.Second)))
	var media map[string]any
	require.NoError(t, tel.ReadJSON(&media))
	require.Equal(t, "media", media["event"])
	require.Equal(t, "S1", media["streamSid"])

	require.NoError(t, tel.WriteJSON(map[string]any{"event": "stop", "streamSid": "S1"}))
	require.Eventually(t, func() bool {
		return deps.Calls.ActiveCount() == 0
	}, 3*time.Second, 10*time.Millisecond)
}

func TestMediaStreamOutboundUsesFeedbackProfile(t *testing.T) {
	model, modelServer := newFakeModel(t)
	client := realtime.NewClient(realtime.Config{
		APIKey: "test",
		URL:    "ws" + strings.TrimPrefix(modelServer.URL, "http"),
	})
	deps, _ := newTestDeps(t, client)
	ts := newTestServer(t, config.Config{}, deps)

	tel, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/media-stream-outbound/+212600000000", nil)
	require.NoError(t, err)

	update := model.expect(t, "session.update")
	var toolNames []string
	for _, raw := range update["session"].(map[string]any)["tools"].([]any) {
		toolNames = append(toolNames, raw.(map[string]any)["name"].(string))
	}
	require.ElementsMatch(t, []string{tools.FindBookingByPhone, tools.Recommendations, tools.AddFeedback}, toolNames)

	calls := deps.Calls.List()
	require.Len(t, calls, 1)
	require.Equal(t, session.ProfileFeedback, calls[0].Profile)

	require.NoError(t, tel.Close())
	require.Eventually(t, func() bool {
		return deps.Calls.ActiveCount() == 0
	}, 3*time.Second, 10*time.Millisecond)
}

func TestMediaStreamEndsWhenModelUnavailable(t *testing.T) {
	deps, _ := newTestDeps(t, nil)
	ts := newTestServer(t, config.Config{}, deps)

	tel, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/media-stream/+212600000000", nil)
	require.NoError(t, err)
	defer tel.Close()

	require.NoError(t, tel.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, _, err = tel.ReadMessage()
	require.Error(t, err)
	require.Eventually(t, func() bool {
		return deps.Calls.ActiveCount() == 0
	}, 3*time.Second, 10*time.Millisecond)
}
