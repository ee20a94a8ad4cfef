package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"docchat/internal/models"
)

// CreateChat inserts a new chat for the owner.
func (s *Service) CreateChat(ctx context.Context, ownerID, title string) (*models.Chat, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, errors.New("owner id is required")
	}
	chat := &models.Chat{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Title:     title,
		CreatedAt: time.Now().UTC(),
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO chats (id, user_id, title, created_at) VALUES (?, ?, ?, ?)`,
		chat.ID, chat.OwnerID, chat.Title, chat.CreatedAt,
	); err != nil {
		return nil, persistErr("insert chat", err)
	}
	s.log.Info("chat created", "chat_id", chat.ID, "owner", ownerID)
	return chat, nil
}

// GetChat returns the chat if it exists and belongs to the owner.
func (s *Service) GetChat(ctx context.Context, ownerID, chatID string) (*models.Chat, error) {
	var chat models.Chat
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, title, created_at FROM chats WHERE id = ? AND user_id = ?`,
		chatID, ownerID,
	).Scan(&chat.ID, &chat.OwnerID, &chat.Title, &chat.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrChatNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get chat: %w", err)
	}
	return &chat, nil
}

// ListChats returns the owner's chats newest first, filtered by a title
// substring when query is non-empty.
func (s *Service) ListChats(ctx context.Context, ownerID, query string) ([]models.Chat, error) {
	sqlText := `SELECT id, user_id, title, created_at FROM chats WHERE user_id = ?`
	args := []any{ownerID}
	if q := strings.TrimSpace(query); q != "" {
		sqlText += ` AND title LIKE ? ESCAPE '!'`
		args = append(args, "%"+escapeLike(q)+"%")
	}
	sqlText += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	defer rows.Close()

	var chats []models.Chat
	for rows.Next() {
		var c models.Chat
		if err := rows.Scan(&c.ID, &c.OwnerID, &c.Title, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chat: %w", err)
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// DeleteChat removes a chat and its messages for the owner.
func (s *Service) DeleteChat(ctx context.Context, ownerID, chatID string) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `DELETE FROM chats WHERE id = ? AND user_id = ?`, chatID, ownerID)
	if err != nil {
		return persistErr("delete chat", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("chat rows affected: %w", err)
	}
	if affected == 0 {
		err = ErrChatNotFound
		return err
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM messages WHERE chat_id = ?`, chatID); err != nil {
		return persistErr("delete messages", err)
	}
	if err = tx.Commit(); err != nil {
		return persistErr("commit delete chat", err)
	}
	s.log.Info("chat deleted", "chat_id", chatID, "owner", ownerID)
	return nil
}

// AddMessage appends one message row. Rows are never updated afterwards.
func (s *Service) AddMessage(ctx context.Context, chatID string, role models.Role, content string) (*models.Message, error) {
	if role != models.RoleUser && role != models.RoleAssistant {
		return nil, fmt.Errorf("invalid message role %q", role)
	}
	if content == "" {
		return nil, errors.New("message content is required")
	}
	msg := &models.Message{
		ID:        uuid.NewString(),
		ChatID:    chatID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, chat_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		msg.ID, msg.ChatID, msg.Role, msg.Content, msg.CreatedAt,
	); err != nil {
		return nil, persistErr("insert message", err)
	}
	return msg, nil
}

// ListMessages returns a chat's messages oldest first.
func (s *Service) ListMessages(ctx context.Context, chatID string) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, chat_id, role, content, created_at FROM messages WHERE chat_id = ? ORDER BY created_at ASC`,
		chatID,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.ChatID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`!`, `!!`, `%`, `!%`, `_`, `!_`)
	return r.Replace(s)
}
