package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/ictu-erp-api/internal/models"
	"github.com/noah-isme/ictu-erp-api/pkg/response"
)

type notificationService interface {
	Send(ctx context.Context, actor *models.JWTClaims, req models.SendNotificationRequest) error
	Broadcast(ctx context.Context, actor *models.JWTClaims, req models.BroadcastRequest) (int, error)
	List(ctx context.Context, actor *models.JWTClaims, filter models.NotificationFilter) ([]models.Notification, *models.Pagination, error)
	UnreadCount(ctx context.Context, actor *models.JWTClaims) (int, error)
	MarkRead(ctx context.Context, actor *models.JWTClaims, id string) error
	MarkAllRead(ctx context.Context, actor *models.JWTClaims) (int64, error)
	Delete(ctx context.Context, actor *models.JWTClaims, id string) error
}

// NotificationHandler exposes the caller's inbox and the send endpoints.
type NotificationHandler struct {
	service notificationService
}

// NewNotificationHandler constructs NotificationHandler.
func NewNotificationHandler(svc notificationService) *NotificationHandler {
	return &NotificationHandler{service: svc}
}

// List godoc
// @Summary List my notifications
// @Description Expired notifications are hidden
// @Tags Notifications
// @Produce json
// @Param unread query bool false "Only unread"
// @Param category query string false "Category"
// @Success 200 {object} response.Envelope
// @Router /notifications [get]
func (h *NotificationHandler) List(c *gin.Context) {
	filter := models.NotificationFilter{Category: models.NotificationCategory(c.Query("category"))}
	if unread := parseBoolQuery(c, "unread"); unread != nil {
		filter.UnreadOnly = *unread
	}
	filter.Page, filter.PageSize = paging(c)

	rows, pagination, err := h.service.List(c.Request.Context(), claimsFromContext(c), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rows, pagination)
}

// UnreadCount godoc
// @Summary Count unread notifications
// @Tags Notifications
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /notifications/unread-count [get]
func (h *NotificationHandler) UnreadCount(c *gin.Context) {
	n, err := h.service.UnreadCount(c.Request.Context(), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"unread": n}, nil)
}

// MarkRead godoc
// @Summary Mark a notification read
// @Tags Notifications
// @Param id path string true "Notification ID"
// @Success 204
// @Router /notifications/{id}/read [patch]
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	if err := h.service.MarkRead(c.Request.Context(), claimsFromContext(c), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// MarkAllRead godoc
// @Summary Mark every notification read
// @Tags Notifications
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /notifications/read-all [patch]
func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	n, err := h.service.MarkAllRead(c.Request.Context(), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"updated": n}, nil)
}

// Delete godoc
// @Summary Delete a notification
// @Tags Notifications
// @Param id path string true "Notification ID"
// @Success 204
// @Router /notifications/{id} [delete]
func (h *NotificationHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), claimsFromContext(c), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Send godoc
// @Summary Send a notification to one user
// @Tags Notifications
// @Accept json
// @Produce json
// @Param payload body models.SendNotificationRequest true "Notification"
// @Success 202 {object} response.Envelope
// @Router /notifications/send [post]
func (h *NotificationHandler) Send(c *gin.Context) {
	var req models.SendNotificationRequest
	if !bindJSON(c, &req, "invalid notification payload") {
		return
	}
	if err := h.service.Send(c.Request.Context(), claimsFromContext(c), req); err != nil {
		response.Error(c, err)
		return
	}
	response.Message(c, http.StatusAccepted, "notification queued", nil)
}

// Broadcast godoc
// @Summary Broadcast to a role or everyone
// @Tags Notifications
// @Accept json
// @Produce json
// @Param payload body models.BroadcastRequest true "Broadcast"
// @Success 202 {object} response.Envelope
// @Router /notifications/broadcast [post]
func (h *NotificationHandler) Broadcast(c *gin.Context) {
	var req models.BroadcastRequest
	if !bindJSON(c, &req, "invalid broadcast payload") {
		return
	}
	n, err := h.service.Broadcast(c.Request.Context(), claimsFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Message(c, http.StatusAccepted, "broadcast queued", gin.H{"recipients": n})
}
