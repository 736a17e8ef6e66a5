package store

import (
	"fmt"
	"time"
)

// AuditEntry is one audit-log row. The user handler writes one for each
// auth attempt, each permission denial, and each state-changing command
// (create/close instance, attach/detach, force disconnect/close, delete
// agent, select/clear working agent, add/remove tag), success or
// failure. Read-only and streaming commands (pty_input, resize,
// list_instances, heartbeat, get_admin_stats, list_agent_instances,
// get_all_tags, get_agent_tags, get_audit_logs) that pass their role
// check write none, and neither does a close_instance that finds no
// effective agent.
type AuditEntry struct {
	ID         int64
	Timestamp  time.Time
	EventType  string
	UserRole   string
	AgentID    string
	InstanceID string
	TargetID   string
	ClientIP   string
	Success    bool
	Details    string
}

// InsertAuditLog records one audit event.
func (s *Store) InsertAuditLog(e AuditEntry) error {
	_, err := s.db.Exec(`
		INSERT INTO audit_logs (event_type, user_role, agent_id, instance_id, target_id, client_ip, success, details)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, e.EventType, e.UserRole, nullable(e.AgentID), nullable(e.InstanceID), nullable(e.TargetID), e.ClientIP, e.Success, nullable(e.Details))
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// GetAuditLogs returns a page of audit records, optionally filtered by
// eventType, plus the total matching count (supplemented from the
// original's paginated signature).
func (s *Store) GetAuditLogs(eventType string, limit, offset int) ([]AuditEntry, int, error) {
	var total int
	var err error
	if eventType != "" {
		err = s.db.QueryRow(`SELECT COUNT(*) FROM audit_logs WHERE event_type = ?`, eventType).Scan(&total)
	} else {
		err = s.db.QueryRow(`SELECT COUNT(*) FROM audit_logs`).Scan(&total)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("count audit logs: %w", err)
	}

	var rows interface {
		Next() bool
		Scan(...any) error
		Close() error
		Err() error
	}
	if eventType != "" {
		rows, err = s.db.Query(`
			SELECT id, timestamp, event_type, user_role, COALESCE(agent_id,''), COALESCE(instance_id,''), COALESCE(target_id,''), client_ip, success, COALESCE(details,'')
			FROM audit_logs WHERE event_type = ? ORDER BY id DESC LIMIT ? OFFSET ?`, eventType, limit, offset)
	} else {
		rows, err = s.db.Query(`
			SELECT id, timestamp, event_type, user_role, COALESCE(agent_id,''), COALESCE(instance_id,''), COALESCE(target_id,''), client_ip, success, COALESCE(details,'')
			FROM audit_logs ORDER BY id DESC LIMIT ? OFFSET ?`, limit, offset)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("query audit logs: %w", err)
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var e AuditEntry
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.EventType, &e.UserRole, &e.AgentID, &e.InstanceID, &e.TargetID, &e.ClientIP, &e.Success, &e.Details); err != nil {
			return nil, 0, err
		}
		out = append(out, e)
	}
	return out, total, rows.Err()
}

// CleanupOldAuditLogs deletes events older than retentionDays.
func (s *Store) CleanupOldAuditLogs(retentionDays int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	res, err := s.db.Exec(`DELETE FROM audit_logs WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup old audit logs: %w", err)
	}
	return res.RowsAffected()
}
