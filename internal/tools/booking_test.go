package tools

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/aymenesoualem/bookingagent/internal/booking"
	"github.com/aymenesoualem/bookingagent/internal/search"
)

type recordingNotifier struct {
	mu    sync.Mutex
	confs []booking.Confirmation
}

func (n *recordingNotifier) BookingConfirmed(_ context.Context, c booking.Confirmation) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.confs = append(n.confs, c)
}

type stubSearcher struct{ topic string }

func (s *stubSearcher) Search(_ context.Context, topic string) ([]search.Result, error) {
	s.topic = topic
	return []search.Result{{Title: "Hassan II Mosque", URL: "https://example.com/mosque"}}, nil
}

func newBookingRegistry(t *testing.T) (*Registry, *booking.InMemoryStore, *recordingNotifier) {
	t.Helper()
	store := booking.NewInMemoryStore()
	require.NoError(t, booking.SeedDemoData(context.Background(), store))
	notifier := &recordingNotifier{}
	r := NewRegistry(zerolog.Nop(), nil)
	require.NoError(t, r.Register(BookingTools(store, notifier, &stubSearcher{})...))
	return r, store, notifier
}

func TestGetAvailableRoomsMatchesDirectStoreQuery(t *testing.T) {
	r, store, _ := newBookingRegistry(t)
	ctx := context.Background()

	got := r.Dispatch(ctx, GetAvailableRooms, `{"check_in":"2025-01-20","check_out":"2025-01-25","area":"Casablanca"}`)

	checkIn, _ := booking.ParseDate("2025-01-20")
	checkOut, _ := booking.ParseDate("2025-01-25")
	want, err := store.AvailableRooms(ctx, booking.RoomQuery{Area: "Casablanca", CheckIn: checkIn, CheckOut: checkOut})
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestBookRoomNotifiesAndRendersConfirmation(t *testing.T) {
	r, _, notifier := newBookingRegistry(t)
	ctx := context.Background()

	got := r.Dispatch(ctx, BookRoom, `{"hotel_name":"Hotel Imperial","room_number":"302","customer_name":"Leila","customer_number":"00212 600 000 001","check_in":"2025-05-01","check_out":"2025-05-03"}`)
	require.Equal(t, "Room 302 in hotel 'Hotel Imperial' successfully booked for Leila (+212600000001) from 2025-05-01 to 2025-05-03.", got)
	require.Len(t, notifier.confs, 1)
	require.Equal(t, "302", notifier.confs[0].RoomNumber)

	got = r.Dispatch(ctx, BookRoom, `{"hotel_name":"Hotel Imperial","room_number":"302","customer_name":"Omar","customer_number":"+212600000002","check_in":"2025-05-02","check_out":"2025-05-04"}`)
	require.Equal(t, "Room 302 in hotel 'Hotel Imperial' is not available from 2025-05-02 to 2025-05-04.", got)
	require.Len(t, notifier.confs, 1, "rejected bookings must not notify")

	got = r.Dispatch(ctx, BookRoom, `{"hotel_name":"Hotel Imperial","room_number":"301","customer_name":"Omar","customer_number":"call me","check_in":"2025-05-02","check_out":"2025-05-04"}`)
	require.Contains(t, got, "is not valid")
}

func TestBookingLifecycleThroughTools(t *testing.T) {
	r, _, _ := newBookingRegistry(t)
	ctx := context.Background()

	r.Dispatch(ctx, BookRoom, `{"hotel_name":"Hotel Oasis","room_number":"501","customer_name":"Nadia","customer_number":"+212600000003","check_in":"2025-07-01","check_out":"2025-07-05"}`)

	found := r.Dispatch(ctx, FindBookingByPhone, `{"customer_number":"+212600000003"}`)
	details, ok := found.([]booking.BookingDetail)
	require.True(t, ok, "unexpected result %T", found)
	require.Len(t, details, 1)
	id := details[0].BookingID

	idJSON, err := json.Marshal(map[string]any{"booking_id": id, "new_check_out": "2025-07-06"})
	require.NoError(t, err)
	require.Contains(t, r.Dispatch(ctx, AlterBooking, string(idJSON)), "successfully updated")

	fbJSON, err := json.Marshal(map[string]any{"booking_id": id, "feedback": "Lovely pool"})
	require.NoError(t, err)
	require.Contains(t, r.Dispatch(ctx, AddFeedback, string(fbJSON)), "Feedback added")

	details = r.Dispatch(ctx, FindBookingByPhone, `{"customer_number":"+212600000003"}`).([]booking.BookingDetail)
	require.Equal(t, "2025-07-06", details[0].CheckOutDate)
	require.Equal(t, "Lovely pool", details[0].Feedback)

	delJSON, err := json.Marshal(map[string]any{"booking_id": id})
	require.NoError(t, err)
	require.Contains(t, r.Dispatch(ctx, DeleteBooking, string(delJSON)), "successfully deleted")
	require.Contains(t, r.Dispatch(ctx, DeleteBooking, string(delJSON)), "does not exist")
}

func TestRecommendationsTool(t *testing.T) {
	store := booking.NewInMemoryStore()
	searcher := &stubSearcher{}
	r := NewRegistry(zerolog.Nop(), nil)
	require.NoError(t, r.Register(BookingTools(store, nil, searcher)...))

	got := r.Dispatch(context.Background(), Recommendations, `{"topic":"things to do in Casablanca"}`)
	require.Equal(t, []search.Result{{Title: "Hassan II Mosque", URL: "https://example.com/mosque"}}, got)
	require.Equal(t, "things to do in Casablanca", searcher.topic)

	noSearch := NewRegistry(zerolog.Nop(), nil)
	require.NoError(t, noSearch.Register(BookingTools(store, nil, nil)...))
	require.Nil(t, noSearch.Dispatch(context.Background(), Recommendations, `{"topic":"x"}`))
}
