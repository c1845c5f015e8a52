package booking

import (
	"context"
	"fmt"
)

type demoRoom struct {
	number    string
	roomType  string
	price     float64
	maxGuests int
}

type demoHotel struct {
	name  string
	area  string
	rooms []demoRoom
}

var demoHotels = []demoHotel{
	{"Hotel Atlas", "Marrakech", []demoRoom{{"101", "Single", 60, 1}, {"102", "Double", 100, 2}, {"103", "Suite", 180, 4}}},
	{"Hotel Saadien", "Casablanca", []demoRoom{{"201", "Single", 65, 1}, {"202", "Double", 110, 2}, {"203", "Suite", 190, 4}}},
	{"Hotel Imperial", "Fez", []demoRoom{{"301", "Single", 55, 1}, {"302", "Double", 90, 2}, {"303", "Suite", 170, 4}}},
	{"Hotel Medina", "Rabat", []demoRoom{{"401", "Single", 70, 1}, {"402", "Double", 120, 2}, {"403", "Suite", 200, 4}}},
	{"Hotel Oasis", "Agadir", []demoRoom{{"501", "Single", 50, 1}, {"502", "Double", 85, 2}, {"503", "Suite", 150, 4}}},
	{"Hotel Al-Bahr", "Tangier", []demoRoom{{"601", "Single", 75, 1}, {"602", "Double", 130, 2}, {"603", "Suite", 220, 4}}},
}

// SeedDemoData inserts the demo hotel directory. It is idempotent.
func SeedDemoData(ctx context.Context, store Store) error {
	for _, dh := range demoHotels {
		h, err := store.AddHotel(ctx, dh.name, dh.area)
		if err != nil {
			return fmt.Errorf("seed hotel %s: %w", dh.name, err)
		}
		for _, dr := range dh.rooms {
			_, err := store.AddRoom(ctx, Room{
				HotelID:       h.ID,
				RoomNumber:    dr.number,
				RoomType:      dr.roomType,
				IsAvailable:   true,
				PricePerNight: dr.price,
				MaxGuests:     dr.maxGuests,
			})
			if err != nil {
				return fmt.Errorf("seed room %s/%s: %w", dh.name, dr.number, err)
			}
		}
	}
	return nil
}
