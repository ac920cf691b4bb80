package store

import "github.com/portside/portside/models"

const auditLogKey = "audit_log"

// AppendAudit appends an entry to the audit log.
func (s *Store) AppendAudit(entry models.AuditEntry) error {
	log, err := s.AuditLog()
	if err != nil {
		return err
	}
	return s.putJSON(auditLogKey, append(log, entry))
}

// AuditLog returns all recorded audit entries, oldest first.
func (s *Store) AuditLog() ([]models.AuditEntry, error) {
	var entries []models.AuditEntry
	if err := s.getJSON(auditLogKey, &entries); err != nil {
		if err == ErrKeyNotFound {
			return nil, nil
		}
		return nil, err
	}
	return entries, nil
}
