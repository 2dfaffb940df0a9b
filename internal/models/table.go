package models

import "time"

// TableStatus is the operational state of a physical table. The legal
// transitions between statuses live in the floor transition table.
type TableStatus string

const (
	TableFree             TableStatus = "free"
	TableOccupied         TableStatus = "occupied"
	TableOrderInProgress  TableStatus = "order_in_progress"
	TableAccountRequested TableStatus = "account_requested"
	TablePaymentConfirmed TableStatus = "payment_confirmed"
)

func (s TableStatus) String() string {
	return string(s)
}

type Covers struct {
	Current       int        `json:"current"`
	Total         int        `json:"total"`
	Sessions      int        `json:"sessions"`
	LastUpdatedAt *time.Time `json:"lastUpdatedAt,omitempty"`
	LastSessionAt *time.Time `json:"lastSessionAt,omitempty"`
}

type Table struct {
	ID            string      `json:"id"`
	Number        string      `json:"number"`
	Zone          string      `json:"zone,omitempty"`
	SeatCount     *int        `json:"seatCount,omitempty"`
	Status        TableStatus `json:"status"`
	Covers        Covers      `json:"covers"`
	QRToken       string      `json:"qrToken,omitempty"`
	QRTokenExpiry *time.Time  `json:"qrTokenExpiry,omitempty"`
	CreatedAt     time.Time   `json:"createdAt"`
	UpdatedAt     time.Time   `json:"updatedAt"`
}

// TableHistoryEntry is an immutable record of one status or cover change.
type TableHistoryEntry struct {
	ID          string      `json:"id"`
	TableID     string      `json:"tableId"`
	From        TableStatus `json:"from"`
	To          TableStatus `json:"to"`
	Actor       string      `json:"actor,omitempty"`
	Reason      string      `json:"reason,omitempty"`
	CoversDelta *int        `json:"coversDelta,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
}

type TablePosition struct {
	TableID  string  `json:"tableId" binding:"required"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Width    float64 `json:"width"`
	Height   float64 `json:"height"`
	Rotation float64 `json:"rotation"`
	Shape    string  `json:"shape,omitempty"`
}

// FloorLayout is the floor plan drawn by the POS layout editor.
type FloorLayout struct {
	Zones     []string        `json:"zones"`
	Positions []TablePosition `json:"positions"`
	UpdatedAt *time.Time      `json:"updatedAt,omitempty"`
}

// TableStoreData is the entity set persisted by the table store.
type TableStoreData struct {
	Tables  []Table             `json:"tables"`
	History []TableHistoryEntry `json:"history"`
	Layout  FloorLayout         `json:"layout"`
}

func (d *TableStoreData) FindTable(id string) (int, *Table) {
	for i := range d.Tables {
		if d.Tables[i].ID == id {
			return i, &d.Tables[i]
		}
	}
	return -1, nil
}

type TransitionRequest struct {
	Status TableStatus `json:"status" binding:"required"`
	Actor  string      `json:"actor,omitempty"`
	Reason string      `json:"reason,omitempty"`
	Covers *int        `json:"covers,omitempty"`
}

type CoversRequest struct {
	Covers *int   `json:"covers" binding:"required"`
	Actor  string `json:"actor,omitempty"`
	Reason string `json:"reason,omitempty"`
}

type TableMetadataUpdate struct {
	Number    *string `json:"number,omitempty"`
	Zone      *string `json:"zone,omitempty"`
	SeatCount *int    `json:"seatCount,omitempty" binding:"omitempty,min=0"`
}

// TableSeed provisions a table at setup time.
type TableSeed struct {
	ID        string `json:"id" yaml:"id" binding:"required"`
	Number    string `json:"number" yaml:"number" binding:"required"`
	Zone      string `json:"zone,omitempty" yaml:"zone"`
	SeatCount *int   `json:"seatCount,omitempty" yaml:"seatCount"`
}
