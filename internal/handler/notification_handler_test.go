package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/ictu-erp-api/internal/models"
	appErrors "github.com/noah-isme/ictu-erp-api/pkg/errors"
)

type fakeNotifications struct {
	lastFilter models.NotificationFilter
	sendErr    error
}

func (f *fakeNotifications) Send(ctx context.Context, actor *models.JWTClaims, req models.SendNotificationRequest) error {
	return f.sendErr
}

func (f *fakeNotifications) Broadcast(ctx context.Context, actor *models.JWTClaims, req models.BroadcastRequest) (int, error) {
	return 12, nil
}

func (f *fakeNotifications) List(ctx context.Context, actor *models.JWTClaims, filter models.NotificationFilter) ([]models.Notification, *models.Pagination, error) {
	f.lastFilter = filter
	return nil, models.NewPagination(filter.Page, filter.PageSize, 0), nil
}

func (f *fakeNotifications) UnreadCount(ctx context.Context, actor *models.JWTClaims) (int, error) {
	return 3, nil
}

func (f *fakeNotifications) MarkRead(ctx context.Context, actor *models.JWTClaims, id string) error {
	if id != "n-1" {
		return appErrors.Clone(appErrors.ErrNotFound, "notification not found")
	}
	return nil
}

func (f *fakeNotifications) MarkAllRead(ctx context.Context, actor *models.JWTClaims) (int64, error) {
	return 3, nil
}

func (f *fakeNotifications) Delete(ctx context.Context, actor *models.JWTClaims, id string) error {
	return nil
}

func TestNotificationListUnreadFilter(t *testing.T) {
	svc := &fakeNotifications{}
	h := NewNotificationHandler(svc)
	c, rec := newContext(http.MethodGet, "/notifications?unread=true&category=finance", student(), nil)

	h.List(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, svc.lastFilter.UnreadOnly)
	assert.Equal(t, models.NotificationCategoryFinance, svc.lastFilter.Category)
}

func TestNotificationMarkReadNotFound(t *testing.T) {
	h := NewNotificationHandler(&fakeNotifications{})
	c, rec := newContext(http.MethodPatch, "/notifications/n-9/read", student(), nil)
	c.AddParam("id", "n-9")

	h.MarkRead(c)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNotificationBroadcastReportsRecipients(t *testing.T) {
	h := NewNotificationHandler(&fakeNotifications{})
	c, rec := newContext(http.MethodPost, "/notifications/broadcast", nil, map[string]string{"title": "Exam week", "message": "Good luck"})

	h.Broadcast(c)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"recipients":12}`, string(decode(t, rec).Data))
}

func TestNotificationSendForbidden(t *testing.T) {
	h := NewNotificationHandler(&fakeNotifications{sendErr: appErrors.ErrForbidden})
	c, rec := newContext(http.MethodPost, "/notifications/send", student(), map[string]string{"recipient_id": "u2", "title": "t", "message": "m"})

	h.Send(c)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}
