package amqp

import (
	"encoding/json"
	"fmt"
	"time"
)

// Day-change operations carried in DayChangedMessage.Op.
const (
	OpItemAdded     = "item_added"
	OpItemEdited    = "item_edited"
	OpDayReplaced   = "day_replaced"
	OpDaySaved      = "day_saved"
	OpDayRestored   = "day_restored"
	OpArchiveLoaded = "archive_loaded"
)

// DayChangedMessage tells external collaborators (backup jobs, other
// devices) that a day's items or snapshots were committed. It carries no
// item data; consumers read the store.
type DayChangedMessage struct {
	Op         string    `json:"op"`
	RecordDate int64     `json:"record_date"`
	Count      int       `json:"count"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewDayChangedMessage creates a message stamped with the current time.
func NewDayChangedMessage(op string, recordDate int64, count int) *DayChangedMessage {
	return &DayChangedMessage{
		Op:         op,
		RecordDate: recordDate,
		Count:      count,
		Timestamp:  time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *DayChangedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// DayChangedMessageFromJSON parses and validates a message.
func DayChangedMessageFromJSON(data []byte) (*DayChangedMessage, error) {
	var msg DayChangedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.Op == "" {
		return nil, fmt.Errorf("day changed message without op")
	}
	return &msg, nil
}
