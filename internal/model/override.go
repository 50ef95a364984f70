package model

import (
	"time"
)

// Override shadows a computed value with a user-supplied one. The engine still
// records the computed value in the ledger so the diff stays visible.
type Override struct {
	OverrideID    int64     `json:"override_id" db:"override_id"`
	UserID        int64     `json:"user_id" db:"user_id"`
	EntityType    string    `json:"entity_type" db:"entity_type"` // fit, deadline, task
	EntityID      int64     `json:"entity_id" db:"entity_id"`
	FieldName     string    `json:"field_name" db:"field_name"`
	OriginalValue string    `json:"original_value" db:"original_value"`
	OverrideValue string    `json:"override_value" db:"override_value"`
	Reason        string    `json:"reason" db:"reason"`
	ExpiresAt     time.Time `json:"expires_at" db:"expires_at"` // zero = never
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// ActiveAt reports whether the override shadows the computed value at t.
func (o *Override) ActiveAt(t time.Time) bool {
	return o.ExpiresAt.IsZero() || t.Before(o.ExpiresAt)
}

// ChangedBy identifies who produced a change-log entry.
type ChangedBy string

const (
	ChangedByUser   ChangedBy = "user"
	ChangedBySystem ChangedBy = "system"
	ChangedByImport ChangedBy = "import"
)

// ChangeLogEntry is one append-only audit record, totally ordered per
// (entity_type, entity_id).
type ChangeLogEntry struct {
	EntryID    int64     `json:"entry_id" db:"entry_id"`
	UserID     int64     `json:"user_id" db:"user_id"` // 0 for system-wide changes
	EntityType string    `json:"entity_type" db:"entity_type"`
	EntityID   int64     `json:"entity_id" db:"entity_id"`
	Action     string    `json:"action" db:"action"`
	FieldName  string    `json:"field_name,omitempty" db:"field_name"`
	OldValue   string    `json:"old_value,omitempty" db:"old_value"`
	NewValue   string    `json:"new_value,omitempty" db:"new_value"`
	ChangedBy  ChangedBy `json:"changed_by" db:"changed_by"`
	At         time.Time `json:"at" db:"at"`
}
