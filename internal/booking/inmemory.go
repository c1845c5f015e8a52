package booking

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// InMemoryStore is an in-process booking store for local/dev use.
type InMemoryStore struct {
	mu        sync.RWMutex
	hotels    map[int64]Hotel
	rooms     map[int64]Room
	customers map[int64]Customer
	bookings  map[int64]*bookingRow
	nextID    int64
}

type bookingRow struct {
	id         int64
	customerID int64
	roomID     int64
	checkIn    time.Time
	checkOut   time.Time
	feedback   string
	createdAt  time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		hotels:    make(map[int64]Hotel),
		rooms:     make(map[int64]Room),
		customers: make(map[int64]Customer),
		bookings:  make(map[int64]*bookingRow),
	}
}

func (s *InMemoryStore) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *InMemoryStore) AvailableRooms(_ context.Context, q RoomQuery) ([]AvailableRoom, error) {
	checkIn, checkOut := DateOnly(q.CheckIn), DateOnly(q.CheckOut)
	if err := validateStay(checkIn, checkOut); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	hotelIDs := make(map[int64]Hotel)
	for _, h := range s.hotels {
		if strings.EqualFold(h.Area, strings.TrimSpace(q.Area)) {
			hotelIDs[h.ID] = h
		}
	}
	if len(hotelIDs) == 0 {
		return nil, reject(ErrNoHotelsInArea, "No hotels found in the area '%s'.", q.Area)
	}

	out := make([]AvailableRoom, 0)
	for _, r := range s.rooms {
		h, ok := hotelIDs[r.HotelID]
		if !ok || !r.IsAvailable {
			continue
		}
		if q.RoomType != "" && !strings.EqualFold(r.RoomType, q.RoomType) {
			continue
		}
		if q.MaxGuests > 0 && r.MaxGuests < q.MaxGuests {
			continue
		}
		if s.roomBookedLocked(r.ID, 0, checkIn, checkOut) {
			continue
		}
		out = append(out, AvailableRoom{
			HotelName:     h.Name,
			HotelArea:     h.Area,
			RoomNumber:    r.RoomNumber,
			RoomType:      r.RoomType,
			PricePerNight: r.PricePerNight,
			MaxGuests:     r.MaxGuests,
		})
	}
	if len(out) == 0 {
		return nil, noRoomsRejection(q)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].HotelName != out[j].HotelName {
			return out[i].HotelName < out[j].HotelName
		}
		return out[i].RoomNumber < out[j].RoomNumber
	})
	return out, nil
}

func (s *InMemoryStore) BookRoom(_ context.Context, req BookingRequest) (Confirmation, error) {
	checkIn, checkOut := DateOnly(req.CheckIn), DateOnly(req.CheckOut)
	if err := validateStay(checkIn, checkOut); err != nil {
		return Confirmation{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	hotel, ok := s.hotelByNameLocked(req.HotelName)
	if !ok {
		return Confirmation{}, reject(ErrHotelNotFound, "Hotel '%s' does not exist.", req.HotelName)
	}
	room, ok := s.roomLocked(hotel.ID, req.RoomNumber)
	if !ok {
		return Confirmation{}, reject(ErrRoomNotFound, "Room %s does not exist in hotel '%s'.", req.RoomNumber, hotel.Name)
	}
	if s.roomBookedLocked(room.ID, 0, checkIn, checkOut) {
		return Confirmation{}, overlapRejection(room.RoomNumber, hotel.Name, checkIn, checkOut)
	}

	customer := s.findOrCreateCustomerLocked(req.CustomerNumber, req.CustomerName)
	row := &bookingRow{
		id:         s.id(),
		customerID: customer.ID,
		roomID:     room.ID,
		checkIn:    checkIn,
		checkOut:   checkOut,
		createdAt:  time.Now().UTC(),
	}
	s.bookings[row.id] = row

	return Confirmation{
		BookingID:      row.id,
		HotelName:      hotel.Name,
		RoomNumber:     room.RoomNumber,
		CustomerName:   customer.Name,
		CustomerNumber: customer.PhoneNumber,
		CheckIn:        checkIn,
		CheckOut:       checkOut,
	}, nil
}

func (s *InMemoryStore) DeleteBooking(_ context.Context, bookingID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bookings[bookingID]; !ok {
		return bookingNotFound(bookingID)
	}
	delete(s.bookings, bookingID)
	return nil
}

func (s *InMemoryStore) AlterBooking(_ context.Context, change BookingChange) (BookingDetail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.bookings[change.BookingID]
	if !ok {
		return BookingDetail{}, bookingNotFound(change.BookingID)
	}

	checkIn, checkOut := row.checkIn, row.checkOut
	if change.NewCheckIn != nil {
		checkIn = DateOnly(*change.NewCheckIn)
	}
	if change.NewCheckOut != nil {
		checkOut = DateOnly(*change.NewCheckOut)
	}
	if change.NewCheckIn != nil || change.NewCheckOut != nil {
		if err := validateStay(checkIn, checkOut); err != nil {
			return BookingDetail{}, err
		}
		if s.roomBookedLocked(row.roomID, row.id, checkIn, checkOut) {
			return BookingDetail{}, reject(ErrOverlap, "Updated dates overlap with an existing booking. Please select different dates.")
		}
	}

	current := s.customers[row.customerID]
	switch {
	case change.NewCustomerNumber != nil && *change.NewCustomerNumber != current.PhoneNumber:
		name := current.Name
		if change.NewCustomerName != nil {
			name = *change.NewCustomerName
		}
		row.customerID = s.findOrCreateCustomerLocked(*change.NewCustomerNumber, name).ID
	case change.NewCustomerName != nil:
		current.Name = *change.NewCustomerName
		s.customers[current.ID] = current
	}
	row.checkIn, row.checkOut = checkIn, checkOut

	return s.detailLocked(row), nil
}

func (s *InMemoryStore) AddFeedback(_ context.Context, bookingID int64, feedback string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.bookings[bookingID]
	if !ok {
		return bookingNotFound(bookingID)
	}
	row.feedback = feedback
	return nil
}

func (s *InMemoryStore) FindBookingsByPhone(_ context.Context, phoneNumber string) ([]BookingDetail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customer, ok := s.customerByPhoneLocked(phoneNumber)
	if !ok {
		return []BookingDetail{}, nil
	}
	out := make([]BookingDetail, 0)
	for _, row := range s.bookings {
		if row.customerID == customer.ID {
			out = append(out, s.detailLocked(row))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BookingID < out[j].BookingID })
	return out, nil
}

func (s *InMemoryStore) ListBookings(_ context.Context, limit int) ([]BookingDetail, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]BookingDetail, 0, len(s.bookings))
	for _, row := range s.bookings {
		out = append(out, s.detailLocked(row))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BookingID > out[j].BookingID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) ListHotels(_ context.Context) ([]Hotel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Hotel, 0, len(s.hotels))
	for _, h := range s.hotels {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemoryStore) UpsertCustomer(_ context.Context, phoneNumber, name string) (Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.findOrCreateCustomerLocked(phoneNumber, name)
	if name != "" && c.Name != name {
		c.Name = name
		s.customers[c.ID] = c
	}
	return c, nil
}

func (s *InMemoryStore) AddHotel(_ context.Context, name, area string) (Hotel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.hotelByNameLocked(name); ok {
		h.Area = area
		s.hotels[h.ID] = h
		return h, nil
	}
	h := Hotel{ID: s.id(), Name: name, Area: area}
	s.hotels[h.ID] = h
	return h, nil
}

func (s *InMemoryStore) AddRoom(_ context.Context, room Room) (Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.hotels[room.HotelID]; !ok {
		return Room{}, reject(ErrHotelNotFound, "Hotel with ID %d does not exist.", room.HotelID)
	}
	if existing, ok := s.roomLocked(room.HotelID, room.RoomNumber); ok {
		room.ID = existing.ID
	} else {
		room.ID = s.id()
	}
	s.rooms[room.ID] = room
	return room, nil
}

func (s *InMemoryStore) Close() error { return nil }

func (s *InMemoryStore) hotelByNameLocked(name string) (Hotel, bool) {
	name = strings.TrimSpace(name)
	for _, h := range s.hotels {
		if strings.EqualFold(h.Name, name) {
			return h, true
		}
	}
	return Hotel{}, false
}

func (s *InMemoryStore) roomLocked(hotelID int64, roomNumber string) (Room, bool) {
	for _, r := range s.rooms {
		if r.HotelID == hotelID && r.RoomNumber == strings.TrimSpace(roomNumber) {
			return r, true
		}
	}
	return Room{}, false
}

func (s *InMemoryStore) customerByPhoneLocked(phone string) (Customer, bool) {
	for _, c := range s.customers {
		if c.PhoneNumber == phone {
			return c, true
		}
	}
	return Customer{}, false
}

func (s *InMemoryStore) findOrCreateCustomerLocked(phone, name string) Customer {
	if c, ok := s.customerByPhoneLocked(phone); ok {
		return c
	}
	c := Customer{ID: s.id(), PhoneNumber: phone, Name: name}
	s.customers[c.ID] = c
	return c
}

func (s *InMemoryStore) roomBookedLocked(roomID, excludeBookingID int64, checkIn, checkOut time.Time) bool {
	for _, b := range s.bookings {
		if b.roomID != roomID || b.id == excludeBookingID {
			continue
		}
		if overlaps(checkIn, checkOut, b.checkIn, b.checkOut) {
			return true
		}
	}
	return false
}

func (s *InMemoryStore) detailLocked(row *bookingRow) BookingDetail {
	room := s.rooms[row.roomID]
	hotel := s.hotels[room.HotelID]
	customer := s.customers[row.customerID]
	return BookingDetail{
		BookingID:    row.id,
		HotelName:    hotel.Name,
		RoomNumber:   room.RoomNumber,
		CustomerName: customer.Name,
		PhoneNumber:  customer.PhoneNumber,
		CheckInDate:  row.checkIn.Format(DateLayout),
		CheckOutDate: row.checkOut.Format(DateLayout),
		Feedback:     row.feedback,
		CreatedAt:    row.createdAt,
	}
}
