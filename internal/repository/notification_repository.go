package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/ictu-erp-api/internal/models"
)

var notificationColumns = []string{"id", "recipient_id", "sender_id", "title", "message", "type", "category", "priority", "is_read", "read_at", "is_popup", "expires_at", "metadata", "created_at"}

// NotificationRepository stores per-recipient notifications.
type NotificationRepository struct {
	db *sqlx.DB
}

// NewNotificationRepository constructs a NotificationRepository.
func NewNotificationRepository(db *sqlx.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// CreateBatch inserts notifications in a single statement.
func (r *NotificationRepository) CreateBatch(ctx context.Context, items []models.Notification) error {
	if len(items) == 0 {
		return nil
	}
	builder := psql.Insert("notifications").Columns(notificationColumns...)
	now := time.Now().UTC()
	for i := range items {
		n := &items[i]
		if n.ID == "" {
			n.ID = uuid.NewString()
		}
		if n.CreatedAt.IsZero() {
			n.CreatedAt = now
		}
		if len(n.Metadata) == 0 {
			n.Metadata = []byte("{}")
		}
		builder = builder.Values(n.ID, n.RecipientID, n.SenderID, n.Title, n.Message, n.Type, n.Category, n.Priority,
			n.IsRead, n.ReadAt, n.IsPopup, n.ExpiresAt, n.Metadata, n.CreatedAt)
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return fmt.Errorf("build notification insert: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("create notifications: %w", err)
	}
	return nil
}

func inboxScope(filter models.NotificationFilter, now time.Time) sq.And {
	scope := sq.And{
		sq.Eq{"recipient_id": filter.RecipientID},
		sq.Or{sq.Eq{"expires_at": nil}, sq.Gt{"expires_at": now}},
	}
	if filter.UnreadOnly {
		scope = append(scope, sq.Eq{"is_read": false})
	}
	if filter.Category != "" {
		scope = append(scope, sq.Eq{"category": filter.Category})
	}
	return scope
}

// List returns the recipient's non-expired notifications, newest first.
func (r *NotificationRepository) List(ctx context.Context, filter models.NotificationFilter, now time.Time) ([]models.Notification, int, error) {
	limit, offset := pageBounds(filter.Page, filter.PageSize)
	scope := inboxScope(filter, now)

	query, args, err := psql.Select(notificationColumns...).
		From("notifications").
		Where(scope).
		OrderBy("created_at DESC").
		Limit(uint64(limit)).
		Offset(uint64(offset)).
		ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build notification list: %w", err)
	}
	var items []models.Notification
	if err := r.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list notifications: %w", err)
	}

	countQuery, countArgs, err := psql.Select("COUNT(*)").From("notifications").Where(scope).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build notification count: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, countArgs...); err != nil {
		return nil, 0, fmt.Errorf("count notifications: %w", err)
	}
	return items, total, nil
}

// CountUnread returns how many unread, non-expired notifications a user has.
func (r *NotificationRepository) CountUnread(ctx context.Context, recipientID string, now time.Time) (int, error) {
	query, args, err := psql.Select("COUNT(*)").
		From("notifications").
		Where(inboxScope(models.NotificationFilter{RecipientID: recipientID, UnreadOnly: true}, now)).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build unread count: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, query, args...); err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return total, nil
}

// MarkRead marks one of the recipient's notifications read.
func (r *NotificationRepository) MarkRead(ctx context.Context, id, recipientID string, at time.Time) error {
	query, args, err := psql.Update("notifications").
		Set("is_read", true).
		Set("read_at", at).
		Where(sq.Eq{"id": id, "recipient_id": recipientID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build mark read: %w", err)
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// MarkAllRead marks every unread notification of the recipient read.
func (r *NotificationRepository) MarkAllRead(ctx context.Context, recipientID string, at time.Time) (int64, error) {
	query, args, err := psql.Update("notifications").
		Set("is_read", true).
		Set("read_at", at).
		Where(sq.Eq{"recipient_id": recipientID, "is_read": false}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build mark all read: %w", err)
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	affected, _ := res.RowsAffected()
	return affected, nil
}

// Delete removes one of the recipient's notifications.
func (r *NotificationRepository) Delete(ctx context.Context, id, recipientID string) error {
	query, args, err := psql.Delete("notifications").Where(sq.Eq{"id": id, "recipient_id": recipientID}).ToSql()
	if err != nil {
		return fmt.Errorf("build delete notification: %w", err)
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("delete notification: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
