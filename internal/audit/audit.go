// Package audit records panel actions against user ids.
package audit

import (
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/portside/portside/models"
)

// Sink persists audit entries.
type Sink interface {
	AppendAudit(entry models.AuditEntry) error
}

// Logger writes audit entries to a sink. A failed write never fails the
// action being audited; it is logged and dropped.
type Logger struct {
	sink Sink
}

// NewLogger creates an audit logger on top of the given sink.
func NewLogger(sink Sink) *Logger {
	return &Logger{sink: sink}
}

// Record appends one audit entry for the given user and action.
func (l *Logger) Record(userID, action, detail string) {
	entry := models.AuditEntry{
		ID:        "audit-" + uuid.New().String(),
		UserID:    userID,
		Action:    action,
		Detail:    detail,
		Timestamp: time.Now(),
	}
	if err := l.sink.AppendAudit(entry); err != nil {
		log.Printf("audit: failed to record %s for user %s: %v", action, userID, err)
	}
}
