package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/ictu-erp-api/internal/models"
	appErrors "github.com/noah-isme/ictu-erp-api/pkg/errors"
)

type mockUserRepo struct {
	users     map[string]*models.User
	createErr error
	revoked   []string
	auditLogs []*models.AuditLog
}

func (m *mockUserRepo) Create(ctx context.Context, tx *sqlx.Tx, user *models.User) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.users[user.ID] = user
	return nil
}

func (m *mockUserRepo) List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error) {
	var users []models.User
	for _, u := range m.users {
		users = append(users, *u)
	}
	return users, len(users), nil
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	if user, ok := m.users[id]; ok {
		copy := *user
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockUserRepo) Update(ctx context.Context, user *models.User) error {
	m.users[user.ID] = user
	return nil
}

func (m *mockUserRepo) RevokeUserRefreshTokens(ctx context.Context, userID string) error {
	m.revoked = append(m.revoked, userID)
	return nil
}

func (m *mockUserRepo) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	m.auditLogs = append(m.auditLogs, log)
	return nil
}

func newUserFixture() (*UserService, *mockUserRepo) {
	repo := &mockUserRepo{users: map[string]*models.User{
		"admin-1":   {ID: "admin-1", Email: "admin@ictu.edu.cm", Role: models.RoleAdmin, Active: true},
		"teacher-1": {ID: "teacher-1", Email: "lecturer@ictu.edu.cm", Role: models.RoleTeacher, Active: true},
	}}
	return NewUserService(repo, nil, nil, nil), repo
}

func TestUserServiceCreateStaffAccount(t *testing.T) {
	svc, repo := newUserFixture()
	admin := claims("admin-1", models.RoleAdmin)

	user, err := svc.Create(context.Background(), admin, models.CreateUserRequest{
		Email: "Finance@ICTU.edu.cm", Password: "password123", FirstName: "Fin", LastName: "Staff", Role: models.RoleFinanceStaff,
	}, models.LoginRequest{})
	require.NoError(t, err)
	assert.Equal(t, "finance@ictu.edu.cm", user.Email)
	assert.True(t, user.Active)
	require.Len(t, repo.auditLogs, 1)
	assert.Equal(t, models.AuditActionUserCreate, repo.auditLogs[0].Action)
}

func TestUserServiceCreateRejectsStudentRoleAndDuplicates(t *testing.T) {
	svc, repo := newUserFixture()
	admin := claims("admin-1", models.RoleAdmin)
	req := models.CreateUserRequest{Email: "x@ictu.edu.cm", Password: "password123", FirstName: "X", LastName: "Y", Role: models.RoleStudent}

	_, err := svc.Create(context.Background(), admin, req, models.LoginRequest{})
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))

	req.Role = models.RoleHRStaff
	repo.createErr = &pq.Error{Code: "23505"}
	_, err = svc.Create(context.Background(), admin, req, models.LoginRequest{})
	assert.True(t, appErrors.Is(err, appErrors.ErrConflict))
}

func TestUserServiceNonAdminCannotCreate(t *testing.T) {
	svc, _ := newUserFixture()
	_, err := svc.Create(context.Background(), claims("teacher-1", models.RoleTeacher), models.CreateUserRequest{}, models.LoginRequest{})
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
}

func TestUserServiceChangeRoleAndDeactivate(t *testing.T) {
	svc, repo := newUserFixture()
	admin := claims("admin-1", models.RoleAdmin)

	role := models.RoleFacultyCoordinator
	user, err := svc.Update(context.Background(), admin, "teacher-1", models.UpdateUserRequest{Role: &role}, models.LoginRequest{})
	require.NoError(t, err)
	assert.Equal(t, models.RoleFacultyCoordinator, user.Role)

	require.NoError(t, svc.Deactivate(context.Background(), admin, "teacher-1", models.LoginRequest{}))
	assert.False(t, repo.users["teacher-1"].Active)
	assert.Equal(t, []string{"teacher-1"}, repo.revoked)
	last := repo.auditLogs[len(repo.auditLogs)-1]
	assert.Equal(t, models.AuditActionUserDeactivate, last.Action)
}

func TestUserServiceAdminCannotDeactivateSelf(t *testing.T) {
	svc, _ := newUserFixture()
	err := svc.Deactivate(context.Background(), claims("admin-1", models.RoleAdmin), "admin-1", models.LoginRequest{})
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
}

func TestUserServiceGetSelfWithoutReadPermission(t *testing.T) {
	svc, _ := newUserFixture()
	user, err := svc.Get(context.Background(), claims("teacher-1", models.RoleTeacher), "teacher-1")
	require.NoError(t, err)
	assert.Equal(t, "teacher-1", user.ID)

	_, err = svc.Get(context.Background(), claims("teacher-1", models.RoleTeacher), "admin-1")
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
}
