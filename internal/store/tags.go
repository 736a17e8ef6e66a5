package store

import "fmt"

// AddAgentTag associates tag with agentID, ignoring a duplicate add.
func (s *Store) AddAgentTag(agentID, tag string) error {
	_, err := s.db.Exec(`INSERT OR IGNORE INTO agent_tags (agent_id, tag) VALUES (?, ?)`, agentID, tag)
	if err != nil {
		return fmt.Errorf("add tag %s to agent %s: %w", tag, agentID, err)
	}
	return nil
}

// RemoveAgentTag disassociates tag from agentID.
func (s *Store) RemoveAgentTag(agentID, tag string) error {
	_, err := s.db.Exec(`DELETE FROM agent_tags WHERE agent_id = ? AND tag = ?`, agentID, tag)
	if err != nil {
		return fmt.Errorf("remove tag %s from agent %s: %w", tag, agentID, err)
	}
	return nil
}

// GetAgentTags returns every tag associated with agentID.
func (s *Store) GetAgentTags(agentID string) ([]string, error) {
	rows, err := s.db.Query(`SELECT tag FROM agent_tags WHERE agent_id = ? ORDER BY tag`, agentID)
	if err != nil {
		return nil, fmt.Errorf("get tags for agent %s: %w", agentID, err)
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, err
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

// GetAllTags returns the distinct set of tags across all agents.
func (s *Store) GetAllTags() ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT tag FROM agent_tags ORDER BY tag`)
	if err != nil {
		return nil, fmt.Errorf("get all tags: %w", err)
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, err
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}
