package store

import (
	"github.com/tmc/langchaingo/llms"
)

var chatRoles = map[string]llms.ChatMessageType{
	"human":  llms.ChatMessageTypeHuman,
	"ai":     llms.ChatMessageTypeAI,
	"system": llms.ChatMessageTypeSystem,
}

// AddMessage appends one turn of a chat. Roles are "human", "ai" or "system".
func (s *Store) AddMessage(chatID string, role string, content string) error {
	_, err := s.DB.Exec(`INSERT INTO messages (chat_id, role, content) VALUES (?, ?, ?)`, chatID, role, content)
	return err
}

// GetHistory returns the last limit messages of a chat, oldest first.
// Unknown roles are replayed as human turns.
func (s *Store) GetHistory(chatID string, limit int) ([]llms.MessageContent, error) {
	rows, err := s.DB.Query(`SELECT role, content FROM (
			SELECT id, role, content FROM messages WHERE chat_id = ? ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC`, chatID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []llms.MessageContent
	for rows.Next() {
		var role, content string
		if err := rows.Scan(&role, &content); err != nil {
			return nil, err
		}
		msgRole, ok := chatRoles[role]
		if !ok {
			msgRole = llms.ChatMessageTypeHuman
		}
		history = append(history, llms.TextParts(msgRole, content))
	}
	return history, rows.Err()
}
