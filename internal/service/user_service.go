package service

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/ictu-erp-api/internal/models"
	appErrors "github.com/noah-isme/ictu-erp-api/pkg/errors"
)

type userRepository interface {
	accountWriter
	List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	Update(ctx context.Context, user *models.User) error
	RevokeUserRefreshTokens(ctx context.Context, userID string) error
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// UserService handles account administration.
type UserService struct {
	repo      userRepository
	policy    *Policy
	validator *validator.Validate
	logger    *zap.Logger
}

// NewUserService creates an instance of UserService.
func NewUserService(repo userRepository, policy *Policy, validate *validator.Validate, logger *zap.Logger) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if policy == nil {
		policy = DefaultPolicy()
	}
	return &UserService{repo: repo, policy: policy, validator: validate, logger: logger}
}

// List returns paginated users and pagination metadata.
func (s *UserService) List(ctx context.Context, actor *models.JWTClaims, filter models.UserFilter) ([]models.User, *models.Pagination, error) {
	if err := s.policy.Authorize(actor, models.ResourceUser, models.ActionRead, ""); err != nil {
		return nil, nil, err
	}
	users, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, internalError(err, "failed to list users")
	}
	return users, models.NewPagination(filter.Page, filter.PageSize, total), nil
}

// Get returns a user by ID. Every account may read itself.
func (s *UserService) Get(ctx context.Context, actor *models.JWTClaims, id string) (*models.User, error) {
	if actor == nil || actor.UserID != id {
		if err := s.policy.Authorize(actor, models.ResourceUser, models.ActionRead, ""); err != nil {
			return nil, err
		}
	}
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, lookupError(err, "user not found", "failed to load user")
	}
	return user, nil
}

// Create provisions a non-student account. Student accounts go through StudentService
// so that a matricule is allocated.
func (s *UserService) Create(ctx context.Context, actor *models.JWTClaims, req models.CreateUserRequest, meta models.LoginRequest) (*models.User, error) {
	if err := s.policy.Authorize(actor, models.ResourceUser, models.ActionCreate, ""); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid create user payload")
	}
	if !req.Role.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown role")
	}
	if req.Role == models.RoleStudent {
		return nil, appErrors.Clone(appErrors.ErrValidation, "student accounts are created through the students endpoint")
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, internalError(err, "failed to hash password")
	}

	user := &models.User{
		ID:           uuid.NewString(),
		Email:        strings.ToLower(strings.TrimSpace(req.Email)),
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Role:         req.Role,
		Active:       true,
		PasswordHash: string(passwordHash),
	}

	if err := s.repo.Create(ctx, nil, user); err != nil {
		return nil, writeError(err, "email already exists", "failed to create user")
	}

	newPayload, _ := json.Marshal(map[string]interface{}{"id": user.ID, "email": user.Email, "role": user.Role})
	s.audit(ctx, actor, models.AuditActionUserCreate, user.ID, nil, newPayload, meta)
	return user, nil
}

// Update changes names, role or active flag. Admins cannot demote or deactivate themselves.
func (s *UserService) Update(ctx context.Context, actor *models.JWTClaims, id string, req models.UpdateUserRequest, meta models.LoginRequest) (*models.User, error) {
	if err := s.policy.Authorize(actor, models.ResourceUser, models.ActionUpdate, ""); err != nil {
		return nil, err
	}
	if req.Role != nil && !req.Role.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown role")
	}
	if actor.UserID == id && ((req.Role != nil && *req.Role != actor.Role) || (req.Active != nil && !*req.Active)) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "you cannot change your own role or deactivate yourself")
	}

	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, lookupError(err, "user not found", "failed to load user")
	}

	oldPayload, _ := json.Marshal(map[string]interface{}{"role": user.Role, "active": user.Active})

	if req.FirstName != nil {
		user.FirstName = *req.FirstName
	}
	if req.LastName != nil {
		user.LastName = *req.LastName
	}
	if req.Role != nil {
		user.Role = *req.Role
	}
	if req.Active != nil {
		user.Active = *req.Active
	}

	if err := s.repo.Update(ctx, user); err != nil {
		return nil, internalError(err, "failed to update user")
	}
	if !user.Active {
		if err := s.repo.RevokeUserRefreshTokens(ctx, user.ID); err != nil {
			s.logger.Warn("failed to revoke sessions of deactivated user", zap.String("user_id", user.ID), zap.Error(err))
		}
	}

	action := models.AuditActionUserUpdate
	if req.Active != nil && !user.Active {
		action = models.AuditActionUserDeactivate
	}
	newPayload, _ := json.Marshal(map[string]interface{}{"role": user.Role, "active": user.Active})
	s.audit(ctx, actor, action, user.ID, oldPayload, newPayload, meta)
	return user, nil
}

// Deactivate flips the active flag off. Users are never physically removed.
func (s *UserService) Deactivate(ctx context.Context, actor *models.JWTClaims, id string, meta models.LoginRequest) error {
	inactive := false
	_, err := s.Update(ctx, actor, id, models.UpdateUserRequest{Active: &inactive}, meta)
	return err
}

func (s *UserService) audit(ctx context.Context, actor *models.JWTClaims, action, resourceID string, oldValues, newValues []byte, meta models.LoginRequest) {
	if err := s.repo.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     userIDPtr(actor),
		Action:     action,
		Resource:   "users",
		ResourceID: &resourceID,
		OldValues:  oldValues,
		NewValues:  newValues,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	}); err != nil {
		s.logger.Warn("failed to record user audit log", zap.String("action", action), zap.Error(err))
	}
}
