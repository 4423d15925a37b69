package service

import (
	"context"
	"database/sql"
	"net/http"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/ictu-erp-api/internal/models"
	appErrors "github.com/noah-isme/ictu-erp-api/pkg/errors"
)

type mockAuthRepo struct {
	*txProviderMock
	users            map[string]*models.User
	createErr        error
	refreshTokens    map[string]*models.RefreshToken
	resetHash        string
	resetExpires     time.Time
	auditLogs        []*models.AuditLog
	lastLoginUpdated bool
	revokedAll       int
}

func newMockAuthRepo(t *testing.T, users ...*models.User) *mockAuthRepo {
	tx, _ := newTxProviderMock(t)
	repo := &mockAuthRepo{txProviderMock: tx, users: map[string]*models.User{}, refreshTokens: map[string]*models.RefreshToken{}}
	for _, u := range users {
		repo.users[u.ID] = u
	}
	return repo
}

func (m *mockAuthRepo) Create(ctx context.Context, tx *sqlx.Tx, user *models.User) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.users[user.ID] = user
	return nil
}

func (m *mockAuthRepo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockAuthRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	if u, ok := m.users[id]; ok {
		return u, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockAuthRepo) FindByResetToken(ctx context.Context, tokenHash string, now time.Time) (*models.User, error) {
	if tokenHash == "" || tokenHash != m.resetHash || now.After(m.resetExpires) {
		return nil, sql.ErrNoRows
	}
	for _, u := range m.users {
		return u, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockAuthRepo) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	m.lastLoginUpdated = true
	return nil
}

func (m *mockAuthRepo) UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error {
	m.users[id].PasswordHash = passwordHash
	m.resetHash = ""
	return nil
}

func (m *mockAuthRepo) SetResetToken(ctx context.Context, id, tokenHash string, expires time.Time) error {
	m.resetHash = tokenHash
	m.resetExpires = expires
	return nil
}

func (m *mockAuthRepo) RevokeUserRefreshTokens(ctx context.Context, userID string) error {
	m.revokedAll++
	for _, token := range m.refreshTokens {
		if token.UserID == userID {
			token.Revoked = true
		}
	}
	return nil
}

func (m *mockAuthRepo) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	m.refreshTokens[token.Token] = token
	return nil
}

func (m *mockAuthRepo) FindRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	if rt, ok := m.refreshTokens[token]; ok {
		return rt, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockAuthRepo) RevokeRefreshToken(ctx context.Context, id string, revokedAt time.Time) error {
	for _, token := range m.refreshTokens {
		if token.ID == id {
			token.Revoked = true
			token.RevokedAt = &revokedAt
		}
	}
	return nil
}

func (m *mockAuthRepo) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	m.auditLogs = append(m.auditLogs, log)
	return nil
}

type mockStudentWriter struct {
	seq      int
	students []*models.Student
}

func (m *mockStudentWriter) NextMatriculeSequence(ctx context.Context, tx *sqlx.Tx, year int) (int, error) {
	m.seq++
	return m.seq, nil
}

func (m *mockStudentWriter) Create(ctx context.Context, tx *sqlx.Tx, student *models.Student) error {
	m.students = append(m.students, student)
	return nil
}

func seededUser(t *testing.T, email, password string, role models.UserRole, active bool) *models.User {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return &models.User{ID: "user-" + string(role), Email: email, PasswordHash: string(hash), FirstName: "Test", LastName: "User", Role: role, Active: active}
}

func newTestAuthService(repo *mockAuthRepo, students studentWriter) *AuthService {
	return NewAuthService(repo, students, nil, nil, AuthConfig{
		AccessTokenSecret:  "test-secret",
		AccessTokenExpiry:  7 * 24 * time.Hour,
		RefreshTokenExpiry: 30 * 24 * time.Hour,
		Issuer:             "ictu-erp",
	})
}

func TestAuthServiceLoginSuccess(t *testing.T) {
	user := seededUser(t, "student@ictu.edu.cm", "password123", models.RoleStudent, true)
	repo := newMockAuthRepo(t, user)
	svc := newTestAuthService(repo, &mockStudentWriter{})

	resp, err := svc.Login(context.Background(), models.LoginRequest{Email: user.Email, Password: "password123", IP: "127.0.0.1"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.RefreshToken)
	assert.Equal(t, int64(7*24*3600), resp.ExpiresIn)
	assert.True(t, repo.lastLoginUpdated)
	require.Len(t, repo.auditLogs, 1)
	assert.Equal(t, models.AuditActionLogin, repo.auditLogs[0].Action)

	claims, err := svc.ValidateToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)
	assert.Equal(t, models.RoleStudent, claims.Role)
	assert.Equal(t, user.Email, claims.Email)
}

func TestAuthServiceLoginFailuresAreIndistinguishable(t *testing.T) {
	user := seededUser(t, "student@ictu.edu.cm", "password123", models.RoleStudent, true)
	svc := newTestAuthService(newMockAuthRepo(t, user), &mockStudentWriter{})

	_, unknownErr := svc.Login(context.Background(), models.LoginRequest{Email: "ghost@ictu.edu.cm", Password: "password123"})
	_, wrongErr := svc.Login(context.Background(), models.LoginRequest{Email: user.Email, Password: "nope-nope"})

	require.Error(t, unknownErr)
	require.Error(t, wrongErr)
	assert.Equal(t, unknownErr.Error(), wrongErr.Error())
	assert.True(t, appErrors.Is(unknownErr, appErrors.ErrInvalidCredentials))
}

func TestAuthServiceLoginInactive(t *testing.T) {
	user := seededUser(t, "old@ictu.edu.cm", "password123", models.RoleTeacher, false)
	svc := newTestAuthService(newMockAuthRepo(t, user), &mockStudentWriter{})

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: user.Email, Password: "password123"})
	require.True(t, appErrors.Is(err, appErrors.ErrInactiveAccount))
	assert.Equal(t, http.StatusUnauthorized, appErrors.FromError(err).Status)
}

func TestAuthServiceRegisterCreatesStudentWithMatricule(t *testing.T) {
	repo := newMockAuthRepo(t)
	repo.mock.ExpectBegin()
	repo.mock.ExpectCommit()
	students := &mockStudentWriter{seq: 41}
	svc := newTestAuthService(repo, students)
	svc.now = func() time.Time { return time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC) }

	resp, err := svc.Register(context.Background(), models.RegisterRequest{
		Email: "New.Student@ICTU.edu.cm", Password: "password123", FirstName: "Ada", LastName: "Eyong",
	})
	require.NoError(t, err)
	assert.Equal(t, "ICTU20260042", resp.Student.Matricule)
	assert.Equal(t, models.RoleStudent, resp.User.Role)
	assert.Equal(t, "new.student@ictu.edu.cm", resp.User.Email)
	require.Len(t, students.students, 1)
	assert.Equal(t, resp.User.ID, students.students[0].UserID)
	assert.NoError(t, repo.mock.ExpectationsWereMet())
}

func TestAuthServiceRegisterDuplicateEmail(t *testing.T) {
	repo := newMockAuthRepo(t)
	repo.createErr = &pq.Error{Code: "23505"}
	repo.mock.ExpectBegin()
	repo.mock.ExpectRollback()
	svc := newTestAuthService(repo, &mockStudentWriter{})

	_, err := svc.Register(context.Background(), models.RegisterRequest{Email: "dup@ictu.edu.cm", Password: "password123", FirstName: "A", LastName: "B"})
	assert.True(t, appErrors.Is(err, appErrors.ErrConflict))
	assert.NoError(t, repo.mock.ExpectationsWereMet())
}

func TestAuthServiceRefreshRotates(t *testing.T) {
	user := seededUser(t, "student@ictu.edu.cm", "password123", models.RoleStudent, true)
	repo := newMockAuthRepo(t, user)
	svc := newTestAuthService(repo, &mockStudentWriter{})

	login, err := svc.Login(context.Background(), models.LoginRequest{Email: user.Email, Password: "password123"})
	require.NoError(t, err)

	refreshed, err := svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: login.RefreshToken})
	require.NoError(t, err)
	assert.NotEqual(t, login.RefreshToken, refreshed.RefreshToken)
	assert.True(t, repo.refreshTokens[login.RefreshToken].Revoked)

	_, err = svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: login.RefreshToken})
	assert.True(t, appErrors.Is(err, appErrors.ErrUnauthorized))
}

func TestAuthServiceForgotAndResetPassword(t *testing.T) {
	user := seededUser(t, "student@ictu.edu.cm", "password123", models.RoleStudent, true)
	repo := newMockAuthRepo(t, user)
	svc := newTestAuthService(repo, &mockStudentWriter{})

	token, err := svc.ForgotPassword(context.Background(), models.ResetPasswordRequest{Email: user.Email})
	require.NoError(t, err)
	require.NotEmpty(t, token)
	assert.Equal(t, hashToken(token), repo.resetHash)
	assert.NotEqual(t, token, repo.resetHash)

	require.NoError(t, svc.ResetPassword(context.Background(), models.ConfirmResetPasswordRequest{Token: token, NewPassword: "brand-new-pass"}))
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("brand-new-pass")))
	assert.Equal(t, 1, repo.revokedAll)

	err = svc.ResetPassword(context.Background(), models.ConfirmResetPasswordRequest{Token: token, NewPassword: "another-pass"})
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestAuthServiceForgotUnknownEmailIsSilent(t *testing.T) {
	svc := newTestAuthService(newMockAuthRepo(t), &mockStudentWriter{})
	token, err := svc.ForgotPassword(context.Background(), models.ResetPasswordRequest{Email: "ghost@ictu.edu.cm"})
	assert.NoError(t, err)
	assert.Empty(t, token)
}

func TestAuthServiceChangePasswordWrongOld(t *testing.T) {
	user := seededUser(t, "student@ictu.edu.cm", "password123", models.RoleStudent, true)
	svc := newTestAuthService(newMockAuthRepo(t, user), &mockStudentWriter{})

	err := svc.ChangePassword(context.Background(), user.ID, models.ChangePasswordRequest{OldPassword: "wrong", NewPassword: "something-new"})
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
}

func TestAuthServiceValidateTokenRejectsGarbage(t *testing.T) {
	svc := newTestAuthService(newMockAuthRepo(t), &mockStudentWriter{})
	_, err := svc.ValidateToken("not-a-token")
	assert.True(t, appErrors.Is(err, appErrors.ErrUnauthorized))
}
