package queue

// PendingEvent is one locally-observed mutation intent that could not be
// confirmed while disconnected. Seq is the replay order; the row is removed
// once the entry has been handed to a drain handler.
type PendingEvent struct {
	Seq               int64  `gorm:"column:seq;primaryKey;autoIncrement"`
	EventType         string `gorm:"column:event_type;size:64;not null"`
	PayloadJSON       string `gorm:"column:payload_json;type:text;not null"`
	EnqueuedAtSeconds int64  `gorm:"column:enqueued_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (PendingEvent) TableName() string {
	return "pending_events"
}
