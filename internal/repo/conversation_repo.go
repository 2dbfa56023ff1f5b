package repo

import (
	"context"
	"database/sql"
	"time"

	"github.com/didi/gendry/builder"

	"github.com/xxxsen/ragdesk/internal/model"
	"github.com/xxxsen/ragdesk/internal/pkg/dbutil"
)

const conversationTable = "conversation_messages"

var conversationFields = []string{"id", "session_id", "role", "content", "ctime"}

type ConversationRepo struct {
	db     *sql.DB
	driver string
}

func NewConversationRepo(db *sql.DB, driver string) *ConversationRepo {
	return &ConversationRepo{db: db, driver: driver}
}

func (r *ConversationRepo) AppendUser(ctx context.Context, sessionID string, text string) error {
	return r.Append(ctx, sessionID, model.RoleHuman, text)
}

func (r *ConversationRepo) AppendAssistant(ctx context.Context, sessionID string, text string) error {
	return r.Append(ctx, sessionID, model.RoleAssistant, text)
}

func (r *ConversationRepo) Append(ctx context.Context, sessionID string, role model.Role, text string) error {
	data := map[string]interface{}{
		"session_id": sessionID,
		"role":       string(role),
		"content":    text,
		"ctime":      time.Now().UnixMilli(),
	}
	sqlStr, args, err := builder.BuildInsert(conversationTable, []map[string]interface{}{data})
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(r.driver, sqlStr, args)
	_, err = r.db.ExecContext(ctx, sqlStr, args...)
	return err
}

// ReadRecent returns at most n messages of the session, oldest first.
func (r *ConversationRepo) ReadRecent(ctx context.Context, sessionID string, n int) ([]model.Message, error) {
	return r.readRecent(ctx, map[string]interface{}{"session_id": sessionID}, n)
}

func (r *ConversationRepo) ReadRecentByRole(ctx context.Context, sessionID string, role model.Role, n int) ([]model.Message, error) {
	return r.readRecent(ctx, map[string]interface{}{"session_id": sessionID, "role": string(role)}, n)
}

func (r *ConversationRepo) readRecent(ctx context.Context, where map[string]interface{}, n int) ([]model.Message, error) {
	if n <= 0 {
		return []model.Message{}, nil
	}
	items, err := r.listRecent(ctx, where, n)
	if err != nil {
		return nil, err
	}
	out := make([]model.Message, len(items))
	for i, item := range items {
		out[i] = item.Message()
	}
	return out, nil
}

// ListBySession returns the latest limit stored messages of the session with
// their ids and timestamps, oldest first. limit <= 0 lists the whole session.
func (r *ConversationRepo) ListBySession(ctx context.Context, sessionID string, limit int) ([]model.ConversationMessage, error) {
	where := map[string]interface{}{"session_id": sessionID}
	if limit <= 0 {
		where["_orderby"] = "id asc"
		return r.list(ctx, where)
	}
	return r.listRecent(ctx, where, limit)
}

func (r *ConversationRepo) listRecent(ctx context.Context, where map[string]interface{}, n int) ([]model.ConversationMessage, error) {
	where["_orderby"] = "id desc"
	where["_limit"] = []uint{0, uint(n)}
	items, err := r.list(ctx, where)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	return items, nil
}

func (r *ConversationRepo) list(ctx context.Context, where map[string]interface{}) ([]model.ConversationMessage, error) {
	sqlStr, args, err := builder.BuildSelect(conversationTable, where, conversationFields)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(r.driver, sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := make([]model.ConversationMessage, 0)
	for rows.Next() {
		var item model.ConversationMessage
		var role string
		if err := rows.Scan(&item.ID, &item.SessionID, &role, &item.Content, &item.Ctime); err != nil {
			return nil, err
		}
		item.Role = model.Role(role)
		items = append(items, item)
	}
	return items, rows.Err()
}

// DeleteBefore drops messages older than cutoff (unix millis).
func (r *ConversationRepo) DeleteBefore(ctx context.Context, cutoff int64) (int64, error) {
	sqlStr, args, err := builder.BuildDelete(conversationTable, map[string]interface{}{"ctime <": cutoff})
	if err != nil {
		return 0, err
	}
	sqlStr, args = dbutil.Finalize(r.driver, sqlStr, args)
	res, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
