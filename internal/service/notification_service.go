package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/ictu-erp-api/internal/models"
	appErrors "github.com/noah-isme/ictu-erp-api/pkg/errors"
	"github.com/noah-isme/ictu-erp-api/pkg/jobs"
)

// JobTypeNotificationBatch is the queue job type carrying a []models.Notification.
const JobTypeNotificationBatch = "notification.batch"

const notificationBatchSize = 500

type notificationRepository interface {
	CreateBatch(ctx context.Context, items []models.Notification) error
	List(ctx context.Context, filter models.NotificationFilter, now time.Time) ([]models.Notification, int, error)
	CountUnread(ctx context.Context, recipientID string, now time.Time) (int, error)
	MarkRead(ctx context.Context, id, recipientID string, at time.Time) error
	MarkAllRead(ctx context.Context, recipientID string, at time.Time) (int64, error)
	Delete(ctx context.Context, id, recipientID string) error
}

type recipientDirectory interface {
	ActiveIDs(ctx context.Context, roles []models.UserRole) ([]string, error)
}

type notificationQueue interface {
	TryEnqueue(job jobs.Job) error
}

// Notifier fans a message out to recipients. Other services call it after their own
// transaction has committed.
type Notifier interface {
	Notify(ctx context.Context, recipients []string, msg models.NotificationMessage) error
}

// NotificationService stores inbox messages and dispatches fan-out through the worker queue.
type NotificationService struct {
	repo      notificationRepository
	users     recipientDirectory
	policy    *Policy
	validator *validator.Validate
	logger    *zap.Logger
	metrics   *MetricsService
	queue     notificationQueue
	now       func() time.Time
}

// NewNotificationService builds the service. Without a queue, fan-out runs inline.
func NewNotificationService(repo notificationRepository, users recipientDirectory, policy *Policy, validate *validator.Validate, logger *zap.Logger, metrics *MetricsService) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if policy == nil {
		policy = DefaultPolicy()
	}
	return &NotificationService{
		repo:      repo,
		users:     users,
		policy:    policy,
		validator: validate,
		logger:    logger,
		metrics:   metrics,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// UseQueue routes fan-out through q. HandleJob must be the queue's handler.
func (s *NotificationService) UseQueue(q notificationQueue) {
	s.queue = q
}

// Notify builds one row per distinct recipient and queues them in batches.
func (s *NotificationService) Notify(ctx context.Context, recipients []string, msg models.NotificationMessage) error {
	items, err := s.build(recipients, msg)
	if err != nil {
		return err
	}
	for start := 0; start < len(items); start += notificationBatchSize {
		end := start + notificationBatchSize
		if end > len(items) {
			end = len(items)
		}
		if err := s.dispatch(ctx, items[start:end]); err != nil {
			return err
		}
	}
	return nil
}

// HandleJob is the queue handler persisting a notification batch.
func (s *NotificationService) HandleJob(ctx context.Context, job jobs.Job) error {
	items, ok := job.Payload.([]models.Notification)
	if !ok {
		s.logger.Error("unexpected notification job payload", zap.String("job_id", job.ID), zap.String("type", job.Type))
		return nil
	}
	return s.persist(ctx, items)
}

// Send delivers a message to one user.
func (s *NotificationService) Send(ctx context.Context, actor *models.JWTClaims, req models.SendNotificationRequest) error {
	if err := s.policy.Authorize(actor, models.ResourceNotification, models.ActionSend, ""); err != nil {
		return err
	}
	if err := s.validator.Struct(req); err != nil {
		return validationError(err, "invalid notification payload")
	}
	msg := req.NotificationMessage
	msg.SenderID = userIDPtr(actor)
	return s.Notify(ctx, []string{req.RecipientID}, msg)
}

// Broadcast delivers a message to every active user, or every active user of a role.
// It returns the number of recipients.
func (s *NotificationService) Broadcast(ctx context.Context, actor *models.JWTClaims, req models.BroadcastRequest) (int, error) {
	if err := s.policy.Authorize(actor, models.ResourceNotification, models.ActionSend, ""); err != nil {
		return 0, err
	}
	if err := s.validator.Struct(req); err != nil {
		return 0, validationError(err, "invalid broadcast payload")
	}
	var roles []models.UserRole
	if req.Role != nil {
		if !req.Role.Valid() {
			return 0, appErrors.Clone(appErrors.ErrValidation, "unknown role")
		}
		roles = []models.UserRole{*req.Role}
	}
	recipients, err := s.users.ActiveIDs(ctx, roles)
	if err != nil {
		return 0, internalError(err, "failed to resolve broadcast recipients")
	}
	msg := req.NotificationMessage
	msg.SenderID = userIDPtr(actor)
	if err := s.Notify(ctx, recipients, msg); err != nil {
		return 0, err
	}
	return len(recipients), nil
}

// List returns the caller's inbox. Expired notifications are hidden.
func (s *NotificationService) List(ctx context.Context, actor *models.JWTClaims, filter models.NotificationFilter) ([]models.Notification, *models.Pagination, error) {
	if err := s.policy.Authorize(actor, models.ResourceNotification, models.ActionRead, actorID(actor)); err != nil {
		return nil, nil, err
	}
	filter.RecipientID = actor.UserID
	items, total, err := s.repo.List(ctx, filter, s.now())
	if err != nil {
		return nil, nil, internalError(err, "failed to list notifications")
	}
	return items, models.NewPagination(filter.Page, filter.PageSize, total), nil
}

// UnreadCount returns the number of unread, unexpired notifications.
func (s *NotificationService) UnreadCount(ctx context.Context, actor *models.JWTClaims) (int, error) {
	if err := s.policy.Authorize(actor, models.ResourceNotification, models.ActionRead, actorID(actor)); err != nil {
		return 0, err
	}
	count, err := s.repo.CountUnread(ctx, actor.UserID, s.now())
	if err != nil {
		return 0, internalError(err, "failed to count notifications")
	}
	return count, nil
}

// MarkRead marks one notification of the caller read.
func (s *NotificationService) MarkRead(ctx context.Context, actor *models.JWTClaims, id string) error {
	if err := s.policy.Authorize(actor, models.ResourceNotification, models.ActionUpdate, actorID(actor)); err != nil {
		return err
	}
	if err := s.repo.MarkRead(ctx, id, actor.UserID, s.now()); err != nil {
		return lookupError(err, "notification not found", "failed to mark notification read")
	}
	return nil
}

// MarkAllRead marks the caller's whole inbox read.
func (s *NotificationService) MarkAllRead(ctx context.Context, actor *models.JWTClaims) (int64, error) {
	if err := s.policy.Authorize(actor, models.ResourceNotification, models.ActionUpdate, actorID(actor)); err != nil {
		return 0, err
	}
	n, err := s.repo.MarkAllRead(ctx, actor.UserID, s.now())
	if err != nil {
		return 0, internalError(err, "failed to mark notifications read")
	}
	return n, nil
}

// Delete removes a notification; only its recipient can.
func (s *NotificationService) Delete(ctx context.Context, actor *models.JWTClaims, id string) error {
	if err := s.policy.Authorize(actor, models.ResourceNotification, models.ActionDelete, actorID(actor)); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id, actor.UserID); err != nil {
		return lookupError(err, "notification not found", "failed to delete notification")
	}
	return nil
}

func (s *NotificationService) build(recipients []string, msg models.NotificationMessage) ([]models.Notification, error) {
	if msg.Type == "" {
		msg.Type = models.NotificationTypeInfo
	}
	if msg.Category == "" {
		msg.Category = models.NotificationCategoryGeneral
	}
	if msg.Priority == "" {
		msg.Priority = models.NotificationPriorityNormal
	}
	metadata := []byte("{}")
	if len(msg.Metadata) > 0 {
		raw, err := json.Marshal(msg.Metadata)
		if err != nil {
			return nil, validationError(err, "notification metadata is not serialisable")
		}
		metadata = raw
	}

	now := s.now()
	seen := make(map[string]struct{}, len(recipients))
	items := make([]models.Notification, 0, len(recipients))
	for _, recipient := range recipients {
		if recipient == "" {
			continue
		}
		if _, dup := seen[recipient]; dup {
			continue
		}
		seen[recipient] = struct{}{}
		items = append(items, models.Notification{
			ID:          uuid.NewString(),
			RecipientID: recipient,
			SenderID:    msg.SenderID,
			Title:       msg.Title,
			Message:     msg.Message,
			Type:        msg.Type,
			Category:    msg.Category,
			Priority:    msg.Priority,
			IsPopup:     msg.IsPopup,
			ExpiresAt:   msg.ExpiresAt,
			Metadata:    metadata,
			CreatedAt:   now,
		})
	}
	return items, nil
}

func (s *NotificationService) dispatch(ctx context.Context, items []models.Notification) error {
	if len(items) == 0 {
		return nil
	}
	if s.queue != nil {
		err := s.queue.TryEnqueue(jobs.Job{ID: uuid.NewString(), Type: JobTypeNotificationBatch, Payload: items})
		if err == nil {
			return nil
		}
		if !errors.Is(err, jobs.ErrQueueFull) && !errors.Is(err, jobs.ErrQueueClosed) {
			return internalError(err, "failed to queue notifications")
		}
		s.logger.Warn("notification queue unavailable, writing inline", zap.Int("count", len(items)), zap.Error(err))
	}
	if err := s.persist(ctx, items); err != nil {
		return internalError(err, "failed to store notifications")
	}
	return nil
}

func (s *NotificationService) persist(ctx context.Context, items []models.Notification) error {
	category := string(items[0].Category)
	if err := s.repo.CreateBatch(ctx, items); err != nil {
		s.metrics.RecordNotification(category, "failed", len(items))
		return fmt.Errorf("persist %d notifications: %w", len(items), err)
	}
	s.metrics.RecordNotification(category, "sent", len(items))
	return nil
}
