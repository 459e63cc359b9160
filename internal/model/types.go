package model

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Validation errors.
var (
	ErrMissingID      = errors.New("notification id is required")
	ErrMissingSubject = errors.New("notification subject_id is required")
)

// Notification kinds emitted by the platform.
const (
	KindAttendanceFlagged = "attendance.flagged"
	KindAttendanceExcused = "attendance.excused"
	KindGradePosted       = "grade.posted"
	KindEnrollmentChanged = "enrollment.changed"
	KindAnnouncement      = "announcement"
)

// Notification is one record pushed by the hub or served by the REST API.
type Notification struct {
	ID        uuid.UUID `json:"id"`
	SubjectID string    `json:"subject_id"` // Tenant (school) this notification belongs to
	Kind      string    `json:"kind"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Actor     string    `json:"actor,omitempty"` // User that triggered it, if any
	Read      bool      `json:"read"`
	CreatedTS int64     `json:"created_ts"` // µs since epoch
	UpdatedTS int64     `json:"updated_ts"` // µs since epoch
}

// DecodeNotification parses and validates a notification payload.
func DecodeNotification(data []byte) (Notification, error) {
	var n Notification
	if err := json.Unmarshal(data, &n); err != nil {
		return Notification{}, fmt.Errorf("unmarshal notification: %w", err)
	}
	if n.ID == uuid.Nil {
		return Notification{}, ErrMissingID
	}
	if n.SubjectID == "" {
		return Notification{}, ErrMissingSubject
	}
	return n, nil
}
