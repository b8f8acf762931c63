package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"boxes-go/internal/boxes"
)

type sampleItem struct {
	name     string
	quantity int64
	details  string
	value    *float64
}

type sampleBox struct {
	name        string
	location    string
	description string
	items       []sampleItem
}

func price(v float64) *float64 { return &v }

var sampleLocations = []struct{ name, description string }{
	{"Garage", "Metal shelving by the door"},
	{"Attic", "Above the hallway hatch"},
	{"Basement", ""},
}

var sampleBoxes = []sampleBox{
	{
		name:        "Power tools",
		location:    "Garage",
		description: "Drills, sanders and chargers",
		items: []sampleItem{
			{name: "Cordless drill", quantity: 1, details: "18V, two batteries", value: price(129.99)},
			{name: "Orbital sander", quantity: 1, value: price(59.5)},
		},
	},
	{
		name:        "Holiday decorations",
		location:    "Attic",
		description: "Lights and ornaments",
		items: []sampleItem{
			{name: "String lights", quantity: 6, details: "Warm white"},
			{name: "Glass ornaments", quantity: 24},
		},
	},
	{
		name:     "Camping gear",
		location: "Basement",
		items: []sampleItem{
			{name: "Tent", quantity: 1, details: "Four person", value: price(220)},
		},
	},
}

// seedSampleData populates a freshly created store in one transaction.
func seedSampleData(ctx context.Context, db *sql.DB, ids boxes.IDGenerator, now time.Time) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	for _, l := range sampleLocations {
		var desc any
		if l.description != "" {
			desc = l.description
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO locations ("+locationColumns+") VALUES (?, ?, ?, ?)",
			ids.New(), l.name, desc, now); err != nil {
			return fmt.Errorf("inserting sample location %s: %w", l.name, err)
		}
	}

	for _, b := range sampleBoxes {
		boxID := ids.New()
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO boxes ("+boxColumns+") VALUES (?, ?, ?, ?, ?)",
			boxID, b.name, b.location, b.description, now); err != nil {
			return fmt.Errorf("inserting sample box %s: %w", b.name, err)
		}
		for _, it := range b.items {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO items ("+itemColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
				ids.New(), boxID, it.name, it.quantity, it.details, nullFloat(it.value), nil, now); err != nil {
				return fmt.Errorf("inserting sample item %s: %w", it.name, err)
			}
		}
	}

	return tx.Commit()
}
