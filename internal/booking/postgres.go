package booking

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// PostgresStore persists hotels, rooms, customers and bookings in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func migrate(ctx context.Context, pool *pgxpool.Pool) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	provider, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
	if err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

const detailColumns = `b.id, h.name, r.room_number, c.name, c.phone_number,
	b.check_in_date, b.check_out_date, COALESCE(b.feedback, ''), b.created_at`

const detailJoins = `FROM bookings b
	JOIN rooms r ON r.id = b.room_id
	JOIN hotels h ON h.id = r.hotel_id
	JOIN customers c ON c.id = b.customer_id`

func (s *PostgresStore) AvailableRooms(ctx context.Context, q RoomQuery) ([]AvailableRoom, error) {
	checkIn, checkOut := DateOnly(q.CheckIn), DateOnly(q.CheckOut)
	if err := validateStay(checkIn, checkOut); err != nil {
		return nil, err
	}

	var hotels int
	if err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM hotels WHERE lower(area) = lower($1)`,
		strings.TrimSpace(q.Area),
	).Scan(&hotels); err != nil {
		return nil, fmt.Errorf("count hotels in area: %w", err)
	}
	if hotels == 0 {
		return nil, reject(ErrNoHotelsInArea, "No hotels found in the area '%s'.", q.Area)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT h.name, h.area, r.room_number, r.room_type, r.price_per_night::float8, r.max_guests
		 FROM rooms r
		 JOIN hotels h ON h.id = r.hotel_id
		 WHERE lower(h.area) = lower($1)
		   AND r.is_available
		   AND ($4 = '' OR lower(r.room_type) = lower($4))
		   AND ($5 <= 0 OR r.max_guests >= $5)
		   AND NOT EXISTS (
		     SELECT 1 FROM bookings b
		     WHERE b.room_id = r.id AND b.check_in_date < $3 AND b.check_out_date > $2
		   )
		 ORDER BY h.name, r.room_number`,
		strings.TrimSpace(q.Area), checkIn, checkOut, q.RoomType, q.MaxGuests,
	)
	if err != nil {
		return nil, fmt.Errorf("query available rooms: %w", err)
	}
	defer rows.Close()

	out := make([]AvailableRoom, 0)
	for rows.Next() {
		var r AvailableRoom
		if err := rows.Scan(&r.HotelName, &r.HotelArea, &r.RoomNumber, &r.RoomType, &r.PricePerNight, &r.MaxGuests); err != nil {
			return nil, fmt.Errorf("scan available room: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate available rooms: %w", err)
	}
	if len(out) == 0 {
		return nil, noRoomsRejection(q)
	}
	return out, nil
}

func (s *PostgresStore) BookRoom(ctx context.Context, req BookingRequest) (Confirmation, error) {
	checkIn, checkOut := DateOnly(req.CheckIn), DateOnly(req.CheckOut)
	if err := validateStay(checkIn, checkOut); err != nil {
		return Confirmation{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Confirmation{}, fmt.Errorf("begin booking tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var hotelID int64
	var hotelName string
	err = tx.QueryRow(ctx,
		`SELECT id, name FROM hotels WHERE lower(name) = lower($1)`,
		strings.TrimSpace(req.HotelName),
	).Scan(&hotelID, &hotelName)
	if errors.Is(err, pgx.ErrNoRows) {
		return Confirmation{}, reject(ErrHotelNotFound, "Hotel '%s' does not exist.", req.HotelName)
	}
	if err != nil {
		return Confirmation{}, fmt.Errorf("lookup hotel: %w", err)
	}

	// The row lock serialises concurrent bookings of the same room.
	var roomID int64
	var roomNumber string
	err = tx.QueryRow(ctx,
		`SELECT id, room_number FROM rooms WHERE hotel_id = $1 AND room_number = $2 FOR UPDATE`,
		hotelID, strings.TrimSpace(req.RoomNumber),
	).Scan(&roomID, &roomNumber)
	if errors.Is(err, pgx.ErrNoRows) {
		return Confirmation{}, reject(ErrRoomNotFound, "Room %s does not exist in hotel '%s'.", req.RoomNumber, hotelName)
	}
	if err != nil {
		return Confirmation{}, fmt.Errorf("lock room: %w", err)
	}

	booked, err := roomBooked(ctx, tx, roomID, 0, checkIn, checkOut)
	if err != nil {
		return Confirmation{}, err
	}
	if booked {
		return Confirmation{}, overlapRejection(roomNumber, hotelName, checkIn, checkOut)
	}

	customer, err := findOrCreateCustomer(ctx, tx, req.CustomerNumber, req.CustomerName)
	if err != nil {
		return Confirmation{}, err
	}

	var bookingID int64
	if err := tx.QueryRow(ctx,
		`INSERT INTO bookings (customer_id, room_id, check_in_date, check_out_date)
		 VALUES ($1, $2, $3, $4) RETURNING id`,
		customer.ID, roomID, checkIn, checkOut,
	).Scan(&bookingID); err != nil {
		return Confirmation{}, fmt.Errorf("insert booking: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Confirmation{}, fmt.Errorf("commit booking: %w", err)
	}

	return Confirmation{
		BookingID:      bookingID,
		HotelName:      hotelName,
		RoomNumber:     roomNumber,
		CustomerName:   customer.Name,
		CustomerNumber: customer.PhoneNumber,
		CheckIn:        checkIn,
		CheckOut:       checkOut,
	}, nil
}

func (s *PostgresStore) DeleteBooking(ctx context.Context, bookingID int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM bookings WHERE id = $1`, bookingID)
	if err != nil {
		return fmt.Errorf("delete booking: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return bookingNotFound(bookingID)
	}
	return nil
}

func (s *PostgresStore) AlterBooking(ctx context.Context, change BookingChange) (BookingDetail, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return BookingDetail{}, fmt.Errorf("begin alter tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var roomID, customerID int64
	var checkIn, checkOut time.Time
	err = tx.QueryRow(ctx,
		`SELECT room_id, customer_id, check_in_date, check_out_date FROM bookings WHERE id = $1 FOR UPDATE`,
		change.BookingID,
	).Scan(&roomID, &customerID, &checkIn, &checkOut)
	if errors.Is(err, pgx.ErrNoRows) {
		return BookingDetail{}, bookingNotFound(change.BookingID)
	}
	if err != nil {
		return BookingDetail{}, fmt.Errorf("lookup booking: %w", err)
	}

	if change.NewCheckIn != nil || change.NewCheckOut != nil {
		if change.NewCheckIn != nil {
			checkIn = DateOnly(*change.NewCheckIn)
		}
		if change.NewCheckOut != nil {
			checkOut = DateOnly(*change.NewCheckOut)
		}
		if err := validateStay(checkIn, checkOut); err != nil {
			return BookingDetail{}, err
		}
		if _, err := tx.Exec(ctx, `SELECT id FROM rooms WHERE id = $1 FOR UPDATE`, roomID); err != nil {
			return BookingDetail{}, fmt.Errorf("lock room: %w", err)
		}
		booked, err := roomBooked(ctx, tx, roomID, change.BookingID, checkIn, checkOut)
		if err != nil {
			return BookingDetail{}, err
		}
		if booked {
			return BookingDetail{}, reject(ErrOverlap, "Updated dates overlap with an existing booking. Please select different dates.")
		}
	}

	var current Customer
	if err := tx.QueryRow(ctx,
		`SELECT id, phone_number, name FROM customers WHERE id = $1`, customerID,
	).Scan(&current.ID, &current.PhoneNumber, &current.Name); err != nil {
		return BookingDetail{}, fmt.Errorf("lookup customer: %w", err)
	}

	switch {
	case change.NewCustomerNumber != nil && *change.NewCustomerNumber != current.PhoneNumber:
		name := current.Name
		if change.NewCustomerName != nil {
			name = *change.NewCustomerName
		}
		c, err := findOrCreateCustomer(ctx, tx, *change.NewCustomerNumber, name)
		if err != nil {
			return BookingDetail{}, err
		}
		customerID = c.ID
	case change.NewCustomerName != nil:
		if _, err := tx.Exec(ctx, `UPDATE customers SET name = $2 WHERE id = $1`, current.ID, *change.NewCustomerName); err != nil {
			return BookingDetail{}, fmt.Errorf("rename customer: %w", err)
		}
	}

	if _, err := tx.Exec(ctx,
		`UPDATE bookings SET check_in_date = $2, check_out_date = $3, customer_id = $4 WHERE id = $1`,
		change.BookingID, checkIn, checkOut, customerID,
	); err != nil {
		return BookingDetail{}, fmt.Errorf("update booking: %w", err)
	}

	detail, err := scanDetail(tx.QueryRow(ctx, `SELECT `+detailColumns+` `+detailJoins+` WHERE b.id = $1`, change.BookingID))
	if err != nil {
		return BookingDetail{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return BookingDetail{}, fmt.Errorf("commit alter: %w", err)
	}
	return detail, nil
}

func (s *PostgresStore) AddFeedback(ctx context.Context, bookingID int64, feedback string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE bookings SET feedback = $2 WHERE id = $1`, bookingID, feedback)
	if err != nil {
		return fmt.Errorf("add feedback: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return bookingNotFound(bookingID)
	}
	return nil
}

func (s *PostgresStore) FindBookingsByPhone(ctx context.Context, phoneNumber string) ([]BookingDetail, error) {
	return s.queryDetails(ctx,
		`SELECT `+detailColumns+` `+detailJoins+` WHERE c.phone_number = $1 ORDER BY b.id`,
		phoneNumber,
	)
}

func (s *PostgresStore) ListBookings(ctx context.Context, limit int) ([]BookingDetail, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	return s.queryDetails(ctx,
		`SELECT `+detailColumns+` `+detailJoins+` ORDER BY b.id DESC LIMIT $1`,
		limit,
	)
}

func (s *PostgresStore) ListHotels(ctx context.Context) ([]Hotel, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, area FROM hotels ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query hotels: %w", err)
	}
	defer rows.Close()

	out := make([]Hotel, 0)
	for rows.Next() {
		var h Hotel
		if err := rows.Scan(&h.ID, &h.Name, &h.Area); err != nil {
			return nil, fmt.Errorf("scan hotel: %w", err)
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate hotels: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) UpsertCustomer(ctx context.Context, phoneNumber, name string) (Customer, error) {
	var c Customer
	err := s.pool.QueryRow(ctx,
		`INSERT INTO customers (phone_number, name) VALUES ($1, $2)
		 ON CONFLICT (phone_number) DO UPDATE SET name = EXCLUDED.name
		 RETURNING id, phone_number, name`,
		phoneNumber, name,
	).Scan(&c.ID, &c.PhoneNumber, &c.Name)
	if err != nil {
		return Customer{}, fmt.Errorf("upsert customer: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) AddHotel(ctx context.Context, name, area string) (Hotel, error) {
	var h Hotel
	err := s.pool.QueryRow(ctx,
		`INSERT INTO hotels (name, area) VALUES ($1, $2)
		 ON CONFLICT (name) DO UPDATE SET area = EXCLUDED.area
		 RETURNING id, name, area`,
		name, area,
	).Scan(&h.ID, &h.Name, &h.Area)
	if err != nil {
		return Hotel{}, fmt.Errorf("add hotel: %w", err)
	}
	return h, nil
}

func (s *PostgresStore) AddRoom(ctx context.Context, room Room) (Room, error) {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO rooms (hotel_id, room_number, room_type, is_available, price_per_night, max_guests)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (hotel_id, room_number) DO UPDATE SET
		   room_type = EXCLUDED.room_type,
		   is_available = EXCLUDED.is_available,
		   price_per_night = EXCLUDED.price_per_night,
		   max_guests = EXCLUDED.max_guests
		 RETURNING id`,
		room.HotelID, room.RoomNumber, room.RoomType, room.IsAvailable, room.PricePerNight, room.MaxGuests,
	).Scan(&room.ID)
	if err != nil {
		return Room{}, fmt.Errorf("add room: %w", err)
	}
	return room, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) queryDetails(ctx context.Context, query string, args ...any) ([]BookingDetail, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query bookings: %w", err)
	}
	defer rows.Close()

	out := make([]BookingDetail, 0)
	for rows.Next() {
		d, err := scanDetail(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bookings: %w", err)
	}
	return out, nil
}

func scanDetail(row pgx.Row) (BookingDetail, error) {
	var d BookingDetail
	var checkIn, checkOut time.Time
	err := row.Scan(&d.BookingID, &d.HotelName, &d.RoomNumber, &d.CustomerName, &d.PhoneNumber,
		&checkIn, &checkOut, &d.Feedback, &d.CreatedAt)
	if err != nil {
		return BookingDetail{}, fmt.Errorf("scan booking: %w", err)
	}
	d.CheckInDate = checkIn.Format(DateLayout)
	d.CheckOutDate = checkOut.Format(DateLayout)
	return d, nil
}

func roomBooked(ctx context.Context, tx pgx.Tx, roomID, excludeBookingID int64, checkIn, checkOut time.Time) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM bookings
		   WHERE room_id = $1 AND id <> $2 AND check_in_date < $4 AND check_out_date > $3
		 )`,
		roomID, excludeBookingID, checkIn, checkOut,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check overlap: %w", err)
	}
	return exists, nil
}

func findOrCreateCustomer(ctx context.Context, tx pgx.Tx, phoneNumber, name string) (Customer, error) {
	var c Customer
	err := tx.QueryRow(ctx,
		`INSERT INTO customers (phone_number, name) VALUES ($1, $2)
		 ON CONFLICT (phone_number) DO UPDATE SET name = customers.name
		 RETURNING id, phone_number, name`,
		phoneNumber, name,
	).Scan(&c.ID, &c.PhoneNumber, &c.Name)
	if err != nil {
		return Customer{}, fmt.Errorf("find or create customer: %w", err)
	}
	return c, nil
}
