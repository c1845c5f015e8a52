package booking

import (
	"context"
	"time"
)

// DateLayout is the wire and display format of stay dates.
const DateLayout = "2006-01-02"

const defaultListLimit = 50

type Hotel struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Area string `json:"area"`
}

type Room struct {
	ID            int64   `json:"id"`
	HotelID       int64   `json:"hotel_id"`
	RoomNumber    string  `json:"room_number"`
	RoomType      string  `json:"room_type"`
	IsAvailable   bool    `json:"is_available"`
	PricePerNight float64 `json:"price_per_night"`
	MaxGuests     int     `json:"max_guests"`
}

type Customer struct {
	ID          int64  `json:"id"`
	PhoneNumber string `json:"phone_number"`
	Name        string `json:"name"`
}

// AvailableRoom is one bookable room returned by an availability search.
type AvailableRoom struct {
	HotelName     string  `json:"hotel_name"`
	HotelArea     string  `json:"hotel_area"`
	RoomNumber    string  `json:"room_number"`
	RoomType      string  `json:"room_type"`
	PricePerNight float64 `json:"price_per_night"`
	MaxGuests     int     `json:"max_guests"`
}

// BookingDetail is a booking joined with its hotel, room and customer.
type BookingDetail struct {
	BookingID    int64     `json:"booking_id"`
	HotelName    string    `json:"hotel_name"`
	RoomNumber   string    `json:"room_number"`
	CustomerName string    `json:"customer_name"`
	PhoneNumber  string    `json:"phone_number"`
	CheckInDate  string    `json:"check_in_date"`
	CheckOutDate string    `json:"check_out_date"`
	Feedback     string    `json:"feedback,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// RoomQuery filters an availability search. Zero RoomType and MaxGuests mean "any".
type RoomQuery struct {
	Area      string
	CheckIn   time.Time
	CheckOut  time.Time
	RoomType  string
	MaxGuests int
}

type BookingRequest struct {
	HotelName      string
	RoomNumber     string
	CustomerName   string
	CustomerNumber string
	CheckIn        time.Time
	CheckOut       time.Time
}

// BookingChange lists the fields to alter on an existing booking; nil means unchanged.
type BookingChange struct {
	BookingID         int64
	NewCheckIn        *time.Time
	NewCheckOut       *time.Time
	NewCustomerName   *string
	NewCustomerNumber *string
}

// Confirmation describes a booking that was just created.
type Confirmation struct {
	BookingID      int64     `json:"booking_id"`
	HotelName      string    `json:"hotel_name"`
	RoomNumber     string    `json:"room_number"`
	CustomerName   string    `json:"customer_name"`
	CustomerNumber string    `json:"customer_number"`
	CheckIn        time.Time `json:"-"`
	CheckOut       time.Time `json:"-"`
}

// Message renders the confirmation the way it is read back to the caller.
func (c Confirmation) Message() string {
	return "Room " + c.RoomNumber + " in hotel '" + c.HotelName + "' successfully booked for " +
		c.CustomerName + " (" + c.CustomerNumber + ") from " + c.CheckIn.Format(DateLayout) +
		" to " + c.CheckOut.Format(DateLayout) + "."
}

// Store is the booking persistence surface consumed by the tool layer.
type Store interface {
	AvailableRooms(ctx context.Context, q RoomQuery) ([]AvailableRoom, error)
	BookRoom(ctx context.Context, req BookingRequest) (Confirmation, error)
	DeleteBooking(ctx context.Context, bookingID int64) error
	AlterBooking(ctx context.Context, change BookingChange) (BookingDetail, error)
	AddFeedback(ctx context.Context, bookingID int64, feedback string) error
	FindBookingsByPhone(ctx context.Context, phoneNumber string) ([]BookingDetail, error)
	ListBookings(ctx context.Context, limit int) ([]BookingDetail, error)
	ListHotels(ctx context.Context) ([]Hotel, error)
	UpsertCustomer(ctx context.Context, phoneNumber, name string) (Customer, error)
	AddHotel(ctx context.Context, name, area string) (Hotel, error)
	AddRoom(ctx context.Context, room Room) (Room, error)
	Close() error
}

// DateOnly truncates t to midnight UTC of its calendar day.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate reads an ISO-8601 calendar date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, err
	}
	return t, nil
}

func overlaps(aIn, aOut, bIn, bOut time.Time) bool {
	return aIn.Before(bOut) && aOut.After(bIn)
}
