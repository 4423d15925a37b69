package service

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/ictu-erp-api/internal/models"
	appErrors "github.com/noah-isme/ictu-erp-api/pkg/errors"
	"github.com/noah-isme/ictu-erp-api/pkg/jobs"
)

type mockNotificationRepo struct {
	batches [][]models.Notification
	inbox   map[string][]models.Notification
	err     error
}

func (m *mockNotificationRepo) CreateBatch(ctx context.Context, items []models.Notification) error {
	if m.err != nil {
		return m.err
	}
	m.batches = append(m.batches, items)
	if m.inbox == nil {
		m.inbox = map[string][]models.Notification{}
	}
	for _, item := range items {
		m.inbox[item.RecipientID] = append(m.inbox[item.RecipientID], item)
	}
	return nil
}

func (m *mockNotificationRepo) List(ctx context.Context, filter models.NotificationFilter, now time.Time) ([]models.Notification, int, error) {
	items := m.inbox[filter.RecipientID]
	return items, len(items), nil
}

func (m *mockNotificationRepo) CountUnread(ctx context.Context, recipientID string, now time.Time) (int, error) {
	count := 0
	for _, item := range m.inbox[recipientID] {
		if !item.IsRead && (item.ExpiresAt == nil || item.ExpiresAt.After(now)) {
			count++
		}
	}
	return count, nil
}

func (m *mockNotificationRepo) MarkRead(ctx context.Context, id, recipientID string, at time.Time) error {
	for idx := range m.inbox[recipientID] {
		if m.inbox[recipientID][idx].ID == id {
			m.inbox[recipientID][idx].IsRead = true
			return nil
		}
	}
	return sql.ErrNoRows
}

func (m *mockNotificationRepo) MarkAllRead(ctx context.Context, recipientID string, at time.Time) (int64, error) {
	var n int64
	for idx := range m.inbox[recipientID] {
		if !m.inbox[recipientID][idx].IsRead {
			m.inbox[recipientID][idx].IsRead = true
			n++
		}
	}
	return n, nil
}

func (m *mockNotificationRepo) Delete(ctx context.Context, id, recipientID string) error {
	items := m.inbox[recipientID]
	for idx := range items {
		if items[idx].ID == id {
			m.inbox[recipientID] = append(items[:idx], items[idx+1:]...)
			return nil
		}
	}
	return sql.ErrNoRows
}

type stubDirectory struct {
	ids   []string
	roles []models.UserRole
}

func (s *stubDirectory) ActiveIDs(ctx context.Context, roles []models.UserRole) ([]string, error) {
	s.roles = roles
	return s.ids, nil
}

type fullQueue struct{}

func (fullQueue) TryEnqueue(job jobs.Job) error { return jobs.ErrQueueFull }

// recordingNotifier captures fan-out from other services.
type recordingNotifier struct {
	mu    sync.Mutex
	calls []notifyCall
}

type notifyCall struct {
	recipients []string
	msg        models.NotificationMessage
}

func (r *recordingNotifier) Notify(ctx context.Context, recipients []string, msg models.NotificationMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, notifyCall{recipients: recipients, msg: msg})
	return nil
}

func newTestNotificationService(repo *mockNotificationRepo, dir *stubDirectory) *NotificationService {
	svc := NewNotificationService(repo, dir, nil, nil, nil, nil)
	svc.now = func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) }
	return svc
}

func TestNotificationNotifyDefaultsAndDedup(t *testing.T) {
	repo := &mockNotificationRepo{}
	svc := newTestNotificationService(repo, &stubDirectory{})

	err := svc.Notify(context.Background(), []string{"u1", "u2", "u1", ""}, models.NotificationMessage{
		Title:    "Grades published",
		Message:  "Your CS101 grade is available",
		Metadata: map[string]any{"course_id": "c1"},
	})
	require.NoError(t, err)
	require.Len(t, repo.batches, 1)
	batch := repo.batches[0]
	require.Len(t, batch, 2)
	assert.Equal(t, models.NotificationTypeInfo, batch[0].Type)
	assert.Equal(t, models.NotificationCategoryGeneral, batch[0].Category)
	assert.Equal(t, models.NotificationPriorityNormal, batch[0].Priority)
	assert.JSONEq(t, `{"course_id":"c1"}`, string(batch[0].Metadata))
	assert.NotEqual(t, batch[0].ID, batch[1].ID)
}

func TestNotificationNotifyChunksLargeFanOut(t *testing.T) {
	repo := &mockNotificationRepo{}
	svc := newTestNotificationService(repo, &stubDirectory{})

	recipients := make([]string, 1201)
	for i := range recipients {
		recipients[i] = fmt.Sprintf("u%d", i)
	}
	require.NoError(t, svc.Notify(context.Background(), recipients, models.NotificationMessage{Title: "t", Message: "m"}))
	require.Len(t, repo.batches, 3)
	assert.Len(t, repo.batches[0], 500)
	assert.Len(t, repo.batches[2], 201)
}

func TestNotificationQueueFullFallsBackInline(t *testing.T) {
	repo := &mockNotificationRepo{}
	svc := newTestNotificationService(repo, &stubDirectory{})
	svc.UseQueue(fullQueue{})

	require.NoError(t, svc.Notify(context.Background(), []string{"u1"}, models.NotificationMessage{Title: "t", Message: "m"}))
	assert.Len(t, repo.batches, 1)
}

func TestNotificationHandleJobPersistsBatch(t *testing.T) {
	repo := &mockNotificationRepo{}
	svc := newTestNotificationService(repo, &stubDirectory{})

	items := []models.Notification{{ID: "n1", RecipientID: "u1", Category: models.NotificationCategoryFinance}}
	require.NoError(t, svc.HandleJob(context.Background(), jobs.Job{ID: "j1", Type: JobTypeNotificationBatch, Payload: items}))
	assert.Len(t, repo.inbox["u1"], 1)

	// unknown payloads are dropped rather than retried
	require.NoError(t, svc.HandleJob(context.Background(), jobs.Job{ID: "j2", Payload: "junk"}))
}

func TestNotificationBroadcastRequiresSend(t *testing.T) {
	repo := &mockNotificationRepo{}
	dir := &stubDirectory{ids: []string{"s1", "s2", "s3"}}
	svc := newTestNotificationService(repo, dir)
	role := models.RoleStudent
	req := models.BroadcastRequest{Role: &role, NotificationMessage: models.NotificationMessage{Title: "Exams", Message: "Start Monday"}}

	_, err := svc.Broadcast(context.Background(), claims("s1", models.RoleStudent), req)
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))

	count, err := svc.Broadcast(context.Background(), claims("hr-1", models.RoleHRStaff), req)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.Equal(t, []models.UserRole{models.RoleStudent}, dir.roles)
	require.NotNil(t, repo.inbox["s2"][0].SenderID)
	assert.Equal(t, "hr-1", *repo.inbox["s2"][0].SenderID)
}

func TestNotificationInboxIsScopedToCaller(t *testing.T) {
	repo := &mockNotificationRepo{}
	svc := newTestNotificationService(repo, &stubDirectory{})
	ctx := context.Background()
	require.NoError(t, svc.Notify(ctx, []string{"u1", "u2"}, models.NotificationMessage{Title: "t", Message: "m"}))
	otherID := repo.inbox["u2"][0].ID

	err := svc.MarkRead(ctx, claims("u1", models.RoleStudent), otherID)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))

	err = svc.Delete(ctx, claims("u1", models.RoleStudent), otherID)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))

	count, err := svc.UnreadCount(ctx, claims("u2", models.RoleStudent))
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	n, err := svc.MarkAllRead(ctx, claims("u2", models.RoleStudent))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	items, page, err := svc.List(ctx, claims("u1", models.RoleTeacher), models.NotificationFilter{RecipientID: "u2"})
	require.NoError(t, err)
	assert.Len(t, items, 1)
	assert.Equal(t, "u1", items[0].RecipientID)
	assert.Equal(t, 1, page.TotalCount)

	_, err = svc.UnreadCount(ctx, nil)
	assert.True(t, appErrors.Is(err, appErrors.ErrUnauthorized))
}
