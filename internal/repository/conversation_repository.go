package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"defi-scout/internal/domain"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// maxStoredRunes caps one stored message. Assistant turns can carry several
// formatted token profiles; the prompt only needs their head.
const maxStoredRunes = 8000

var ErrInvalidRole = errors.New("invalid conversation role")

// ConversationRepository keeps advisor chat history per conversation. Telegram
// chats and SSH sessions both map onto chat_id.
type ConversationRepository struct {
	pool   PgxPool
	tracer trace.Tracer
}

func NewConversationRepository(pool PgxPool, tracer trace.Tracer) *ConversationRepository {
	return &ConversationRepository{pool: pool, tracer: tracer}
}

// AppendMessage stores one turn. Blank content is skipped.
func (r *ConversationRepository) AppendMessage(ctx context.Context, chatID int64, role, content string) error {
	ctx, span := r.tracer.Start(ctx, "conversation-repo.append-message")
	defer span.End()
	span.SetAttributes(attribute.Int64("chat_id", chatID), attribute.String("role", role))

	if !domain.ValidRole(role) {
		err := fmt.Errorf("%w: %q", ErrInvalidRole, role)
		span.RecordError(err)
		return err
	}
	content = clampRunes(strings.TrimSpace(content), maxStoredRunes)
	if content == "" {
		return nil
	}

	if _, err := r.pool.Exec(ctx,
		`INSERT INTO conversation_messages (chat_id, role, content) VALUES ($1, $2, $3)`,
		chatID, role, content,
	); err != nil {
		span.RecordError(err)
		return fmt.Errorf("append message for chat %d: %w", chatID, err)
	}
	return nil
}

// RecentMessages returns up to limit messages for chatID, oldest first.
func (r *ConversationRepository) RecentMessages(ctx context.Context, chatID int64, limit int) ([]domain.ConversationMessage, error) {
	ctx, span := r.tracer.Start(ctx, "conversation-repo.recent-messages")
	defer span.End()
	span.SetAttributes(attribute.Int64("chat_id", chatID), attribute.Int("limit", limit))

	if limit <= 0 {
		return nil, nil
	}

	rows, err := r.pool.Query(ctx,
		`SELECT role, content, created_at
		 FROM conversation_messages
		 WHERE chat_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2`,
		chatID, limit,
	)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("recent messages for chat %d: %w", chatID, err)
	}
	defer rows.Close()

	var messages []domain.ConversationMessage
	for rows.Next() {
		var m domain.ConversationMessage
		var ts time.Time
		if err := rows.Scan(&m.Role, &m.Content, &ts); err != nil {
			return nil, err
		}
		if !domain.ValidRole(m.Role) {
			continue
		}
		m.CreatedAt = ts.UTC()
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Newest-first from the query; prompts are built oldest-first.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func clampRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
