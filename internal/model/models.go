package model

import "time"

// Box is a physical storage container.
type Box struct {
	ID          string    `json:"id"` // UUID
	Name        string    `json:"name"`
	Location    string    `json:"location"` // free text, matched against Location.Name by convention only
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Item is something stored in a Box. Items are deleted with their Box.
type Item struct {
	ID              string    `json:"id"`    // UUID
	BoxID           string    `json:"boxId"` // Foreign key to Box
	Name            string    `json:"name"`
	Quantity        int64     `json:"quantity"` // always positive
	Details         string    `json:"details"`
	Value           *float64  `json:"value"`           // nil when unknown
	ReceiptFilename *string   `json:"receiptFilename"` // file under uploads/receipts, nil when none
	CreatedAt       time.Time `json:"createdAt"`
}

// Location is a named place boxes can be kept.
type Location struct {
	ID          string    `json:"id"`   // UUID
	Name        string    `json:"name"` // unique
	Description *string   `json:"description"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Activity is one append-only audit record.
type Activity struct {
	ID         int64     `json:"id"` // autoincrement
	Action     string    `json:"action"`
	EntityType string    `json:"entityType"`
	EntityID   string    `json:"entityId"`
	EntityName string    `json:"entityName"`
	Details    string    `json:"details"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Activity actions.
const (
	ActionCreate  = "create"
	ActionUpdate  = "update"
	ActionDelete  = "delete"
	ActionRestore = "restore"
)

// Activity entity types.
const (
	EntityBox      = "box"
	EntityItem     = "item"
	EntityLocation = "location"
	EntitySystem   = "system"
)

// Stats summarises the store contents.
type Stats struct {
	Boxes     int64 `json:"boxes"`
	Items     int64 `json:"items"`
	Locations int64 `json:"locations"`
	Activity  int64 `json:"activity"`
}
