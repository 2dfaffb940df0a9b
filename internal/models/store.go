package models

import (
	"time"

	"github.com/uptrace/bun"
)

// StoreMetadata is bumped by every successful mutation so consumers can
// detect a stale snapshot.
type StoreMetadata struct {
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SnapshotRecord is the row shape used by the relational snapshot backends.
type SnapshotRecord struct {
	bun.BaseModel `bun:"table:store_snapshots"`

	StoreKey  string    `json:"storeKey" bun:"store_key,pk,type:varchar(191)"`
	Data      []byte    `json:"data" bun:"data,type:longblob,notnull"`
	UpdatedAt time.Time `json:"updatedAt" bun:"updated_at,notnull"`
}
