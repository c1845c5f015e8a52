package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/aymenesoualem/bookingagent/internal/booking"
	"github.com/aymenesoualem/bookingagent/internal/policy"
	"github.com/aymenesoualem/bookingagent/internal/search"
)

const (
	BookRoom           = "book_room_function"
	GetAvailableRooms  = "get_available_rooms_function"
	DeleteBooking      = "delete_booking_function"
	AlterBooking       = "alter_booking_function"
	FindBookingByPhone = "find_booking_by_number_function"
	AddFeedback        = "add_feedback_function"
	Recommendations    = "webscraper_for_recommendations_function"
)

// Notifier announces confirmed bookings to the hotel. Implementations must
// not block the caller.
type Notifier interface {
	BookingConfirmed(ctx context.Context, c booking.Confirmation)
}

// Searcher finds things to do around a hotel.
type Searcher interface {
	Search(ctx context.Context, topic string) ([]search.Result, error)
}

// BookingTools returns the full booking tool set backed by store. notifier
// and searcher may be nil.
func BookingTools(store booking.Store, notifier Notifier, searcher Searcher) []Tool {
	return []Tool{
		{
			Name:        BookRoom,
			Description: "This function books a room, call this function when the user wants to book a room.",
			Params: []Param{
				{Name: "hotel_name", Type: TypeString, Required: true, Description: "Exact hotel name from the directory."},
				{Name: "room_number", Type: TypeString, Required: true},
				{Name: "customer_name", Type: TypeString, Required: true},
				{Name: "customer_number", Type: TypeString, Required: true, Description: "Customer phone number in international format."},
				{Name: "check_in", Type: TypeDate, Required: true},
				{Name: "check_out", Type: TypeDate, Required: true},
			},
			Handler: func(ctx context.Context, args Args) (any, error) {
				number, err := policy.NormalizePhoneNumber(args.String("customer_number"))
				if err != nil {
					return invalidNumber(args.String("customer_number")), nil
				}
				conf, err := store.BookRoom(ctx, booking.BookingRequest{
					HotelName:      args.String("hotel_name"),
					RoomNumber:     args.String("room_number"),
					CustomerName:   args.String("customer_name"),
					CustomerNumber: number,
					CheckIn:        args.Date("check_in"),
					CheckOut:       args.Date("check_out"),
				})
				if err != nil {
					return rejection(err)
				}
				if notifier != nil {
					notifier.BookingConfirmed(ctx, conf)
				}
				return conf.Message(), nil
			},
		},
		{
			Name:        GetAvailableRooms,
			Description: "Fetches available rooms in a specified area for given check-in and check-out dates. Optionally filters by room type and maximum guest count.",
			Params: []Param{
				{Name: "check_in", Type: TypeDate, Required: true},
				{Name: "check_out", Type: TypeDate, Required: true},
				{Name: "area", Type: TypeString, Required: true, Description: "City where the hotel is located."},
				{Name: "room_type", Type: TypeString, Description: "Single, Double or Suite."},
				{Name: "max_guests", Type: TypeInteger},
			},
			Handler: func(ctx context.Context, args Args) (any, error) {
				rooms, err := store.AvailableRooms(ctx, booking.RoomQuery{
					Area:      args.String("area"),
					CheckIn:   args.Date("check_in"),
					CheckOut:  args.Date("check_out"),
					RoomType:  args.String("room_type"),
					MaxGuests: int(args.Int("max_guests")),
				})
				if err != nil {
					return rejection(err)
				}
				return rooms, nil
			},
		},
		{
			Name:        DeleteBooking,
			Description: "Deletes a booking record using the booking ID.",
			Params: []Param{
				{Name: "booking_id", Type: TypeInteger, Required: true},
			},
			Handler: func(ctx context.Context, args Args) (any, error) {
				id := args.Int("booking_id")
				if err := store.DeleteBooking(ctx, id); err != nil {
					return rejection(err)
				}
				return fmt.Sprintf("Booking with ID %d has been successfully deleted.", id), nil
			},
		},
		{
			Name:        AlterBooking,
			Description: "Modifies an existing booking with updated details such as dates or customer information.",
			Params: []Param{
				{Name: "booking_id", Type: TypeInteger, Required: true},
				{Name: "new_check_in", Type: TypeDate},
				{Name: "new_check_out", Type: TypeDate},
				{Name: "new_customer_name", Type: TypeString},
				{Name: "new_customer_number", Type: TypeString},
			},
			Handler: func(ctx context.Context, args Args) (any, error) {
				change := booking.BookingChange{
					BookingID:       args.Int("booking_id"),
					NewCheckIn:      args.OptionalDate("new_check_in"),
					NewCheckOut:     args.OptionalDate("new_check_out"),
					NewCustomerName: args.OptionalString("new_customer_name"),
				}
				if raw := args.OptionalString("new_customer_number"); raw != nil {
					number, err := policy.NormalizePhoneNumber(*raw)
					if err != nil {
						return invalidNumber(*raw), nil
					}
					change.NewCustomerNumber = &number
				}
				if _, err := store.AlterBooking(ctx, change); err != nil {
					return rejection(err)
				}
				return fmt.Sprintf("Booking with ID %d has been successfully updated.", change.BookingID), nil
			},
		},
		{
			Name:        FindBookingByPhone,
			Description: "Searches for a booking using the customer's phone number.",
			Params: []Param{
				{Name: "customer_number", Type: TypeString, Required: true},
			},
			Handler: func(ctx context.Context, args Args) (any, error) {
				number, err := policy.NormalizePhoneNumber(args.String("customer_number"))
				if err != nil {
					return invalidNumber(args.String("customer_number")), nil
				}
				return store.FindBookingsByPhone(ctx, number)
			},
		},
		{
			Name:        AddFeedback,
			Description: "Adds feedback for a specific booking.",
			Params: []Param{
				{Name: "booking_id", Type: TypeInteger, Required: true},
				{Name: "feedback", Type: TypeString, Required: true},
			},
			Handler: func(ctx context.Context, args Args) (any, error) {
				id := args.Int("booking_id")
				if err := store.AddFeedback(ctx, id, args.String("feedback")); err != nil {
					return rejection(err)
				}
				return fmt.Sprintf("Feedback added to booking with ID %d.", id), nil
			},
		},
		{
			Name:        Recommendations,
			Description: "Fetches things to do in the hotel's area, use this function when the user asks for things to do while visiting the hotel's area.",
			Params: []Param{
				{Name: "topic", Type: TypeString, Required: true},
			},
			Handler: func(ctx context.Context, args Args) (any, error) {
				if searcher == nil {
					return nil, errors.New("recommendation search is not configured")
				}
				return searcher.Search(ctx, args.String("topic"))
			},
		},
	}
}

// rejection turns a store refusal into the sentence read back to the caller.
// Any other error is a tool failure.
func rejection(err error) (any, error) {
	if booking.IsRejection(err) {
		return err.Error(), nil
	}
	return nil, err
}

func invalidNumber(raw string) string {
	return fmt.Sprintf("The phone number '%s' is not valid. Please provide it in international format, for example +212600000000.", raw)
}
