package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/ictu-erp-api/internal/models"
)

func TestNotificationRepositoryCreateBatchSingleStatement(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewNotificationRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO notifications (id,recipient_id,sender_id")).
		WillReturnResult(sqlmock.NewResult(0, 2))

	items := []models.Notification{
		{RecipientID: "u1", Title: "Grades", Message: "published", Type: models.NotificationTypeInfo, Category: models.NotificationCategoryAcademic, Priority: models.NotificationPriorityNormal},
		{RecipientID: "u2", Title: "Grades", Message: "published", Type: models.NotificationTypeInfo, Category: models.NotificationCategoryAcademic, Priority: models.NotificationPriorityNormal},
	}
	require.NoError(t, repo.CreateBatch(context.Background(), items))
	assert.NotEmpty(t, items[0].ID)
	assert.Equal(t, "{}", string(items[1].Metadata))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationRepositoryListHidesExpired(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewNotificationRepository(db)

	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("FROM notifications WHERE (recipient_id = $1 AND (expires_at IS NULL OR expires_at > $2) AND is_read = $3) ORDER BY created_at DESC")).
		WithArgs("u1", now, false).
		WillReturnRows(sqlmock.NewRows(notificationColumns))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM notifications WHERE")).
		WithArgs("u1", now, false).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	items, total, err := repo.List(context.Background(), models.NotificationFilter{RecipientID: "u1", UnreadOnly: true}, now)
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Zero(t, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationRepositoryDeleteScopedToRecipient(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewNotificationRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM notifications WHERE id = $1 AND recipient_id = $2")).
		WithArgs("n1", "intruder").
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.ErrorIs(t, repo.Delete(context.Background(), "n1", "intruder"), sql.ErrNoRows)
}
