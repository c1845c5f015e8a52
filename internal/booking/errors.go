package booking

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrHotelNotFound    = errors.New("hotel not found")
	ErrRoomNotFound     = errors.New("room not found")
	ErrBookingNotFound  = errors.New("booking not found")
	ErrOverlap          = errors.New("room already booked for the requested dates")
	ErrNoHotelsInArea   = errors.New("no hotels in area")
	ErrNoRoomsAvailable = errors.New("no rooms available")
	ErrInvalidDates     = errors.New("invalid stay dates")
)

// Rejection is a business-rule refusal. Its message is safe to read back to
// the caller; Reason carries the sentinel for errors.Is checks.
type Rejection struct {
	Reason  error
	Message string
}

func (r *Rejection) Error() string { return r.Message }

func (r *Rejection) Unwrap() error { return r.Reason }

func reject(reason error, format string, args ...any) error {
	return &Rejection{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// IsRejection reports whether err is a business-rule refusal rather than a
// storage failure.
func IsRejection(err error) bool {
	var r *Rejection
	return errors.As(err, &r)
}

func validateStay(checkIn, checkOut time.Time) error {
	if checkIn.IsZero() || checkOut.IsZero() {
		return reject(ErrInvalidDates, "Check-in and check-out dates are required.")
	}
	if !checkOut.After(checkIn) {
		return reject(ErrInvalidDates, "Check-out date %s must be after check-in date %s.",
			checkOut.Format(DateLayout), checkIn.Format(DateLayout))
	}
	return nil
}

func overlapRejection(roomNumber, hotelName string, checkIn, checkOut time.Time) error {
	return reject(ErrOverlap, "Room %s in hotel '%s' is not available from %s to %s.",
		roomNumber, hotelName, checkIn.Format(DateLayout), checkOut.Format(DateLayout))
}

func bookingNotFound(id int64) error {
	return reject(ErrBookingNotFound, "Booking with ID %d does not exist.", id)
}

func noRoomsRejection(q RoomQuery) error {
	msg := fmt.Sprintf("No rooms available in the area '%s' for the selected dates", q.Area)
	if q.RoomType != "" {
		msg += fmt.Sprintf(", room type: %s", q.RoomType)
	}
	if q.MaxGuests > 0 {
		msg += fmt.Sprintf(", max guests: %d", q.MaxGuests)
	}
	return reject(ErrNoRoomsAvailable, "%s.", msg)
}
