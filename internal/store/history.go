package store

import (
	"fmt"
	"time"
)

// HistoryRecord is one sequence-ordered chunk of an instance's recorded
// PTY output.
type HistoryRecord struct {
	DataB64  string
	ByteSize int
}

// SaveTerminalHistory appends one record for instanceID, then enforces
// the per-instance ring: once the instance's total recorded bytes exceed
// bufferSizeKB*1024, the oldest records are deleted until the total is
// at or under 90% of the limit.
func (s *Store) SaveTerminalHistory(instanceID, dataB64 string, byteSize, bufferSizeKB int) error {
	if _, err := s.db.Exec(
		`INSERT INTO terminal_history (instance_id, data_b64, byte_size) VALUES (?, ?, ?)`,
		instanceID, dataB64, byteSize,
	); err != nil {
		return fmt.Errorf("save terminal history for %s: %w", instanceID, err)
	}
	return s.trimTerminalHistory(instanceID, bufferSizeKB)
}

func (s *Store) trimTerminalHistory(instanceID string, bufferSizeKB int) error {
	limit := bufferSizeKB * 1024
	var total int
	if err := s.db.QueryRow(
		`SELECT COALESCE(SUM(byte_size), 0) FROM terminal_history WHERE instance_id = ?`, instanceID,
	).Scan(&total); err != nil {
		return fmt.Errorf("sum terminal history for %s: %w", instanceID, err)
	}
	if total <= limit {
		return nil
	}
	target := (limit * 90) / 100

	rows, err := s.db.Query(
		`SELECT id, byte_size FROM terminal_history WHERE instance_id = ? ORDER BY id ASC`, instanceID,
	)
	if err != nil {
		return fmt.Errorf("scan terminal history for trim: %w", err)
	}
	var toDelete []int64
	for rows.Next() {
		var id int64
		var size int
		if err := rows.Scan(&id, &size); err != nil {
			rows.Close()
			return err
		}
		if total <= target {
			break
		}
		toDelete = append(toDelete, id)
		total -= size
	}
	rows.Close()

	for _, id := range toDelete {
		if _, err := s.db.Exec(`DELETE FROM terminal_history WHERE id = ?`, id); err != nil {
			return fmt.Errorf("trim terminal history row %d: %w", id, err)
		}
	}
	return nil
}

// GetTerminalHistory returns every record for instanceID in sequence
// order, for replay to a newly attaching session.
func (s *Store) GetTerminalHistory(instanceID string) ([]HistoryRecord, error) {
	rows, err := s.db.Query(
		`SELECT data_b64, byte_size FROM terminal_history WHERE instance_id = ? ORDER BY id ASC`, instanceID,
	)
	if err != nil {
		return nil, fmt.Errorf("get terminal history for %s: %w", instanceID, err)
	}
	defer rows.Close()

	var out []HistoryRecord
	for rows.Next() {
		var rec HistoryRecord
		if err := rows.Scan(&rec.DataB64, &rec.ByteSize); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// DeleteTerminalHistory removes all recorded history for instanceID, on
// instance close.
func (s *Store) DeleteTerminalHistory(instanceID string) error {
	_, err := s.db.Exec(`DELETE FROM terminal_history WHERE instance_id = ?`, instanceID)
	if err != nil {
		return fmt.Errorf("delete terminal history for %s: %w", instanceID, err)
	}
	return nil
}

// CleanupOldTerminalHistory deletes records older than retentionDays.
func (s *Store) CleanupOldTerminalHistory(retentionDays int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	res, err := s.db.Exec(`DELETE FROM terminal_history WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup old terminal history: %w", err)
	}
	return res.RowsAffected()
}
