package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/ictu-erp-api/internal/models"
	appErrors "github.com/noah-isme/ictu-erp-api/pkg/errors"
)

type fakeAuth struct {
	loginErr    error
	resetToken  string
	loggedOut   string
	lastLoginIP string
}

func (f *fakeAuth) Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	f.lastLoginIP = req.IP
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	return &models.LoginResponse{AccessToken: "access"}, nil
}

func (f *fakeAuth) Register(ctx context.Context, req models.RegisterRequest) (*models.RegisterResponse, error) {
	return &models.RegisterResponse{}, nil
}

func (f *fakeAuth) RefreshToken(ctx context.Context, req models.RefreshTokenRequest) (*models.RefreshTokenResponse, error) {
	return &models.RefreshTokenResponse{}, nil
}

func (f *fakeAuth) Logout(ctx context.Context, refreshToken string, userID string, meta models.LoginRequest) error {
	f.loggedOut = userID
	return nil
}

func (f *fakeAuth) Me(ctx context.Context, userID string) (*models.UserInfo, error) {
	return &models.UserInfo{ID: userID}, nil
}

func (f *fakeAuth) ChangePassword(ctx context.Context, userID string, req models.ChangePasswordRequest) error {
	return nil
}

func (f *fakeAuth) ForgotPassword(ctx context.Context, req models.ResetPasswordRequest) (string, error) {
	return f.resetToken, nil
}

func (f *fakeAuth) ResetPassword(ctx context.Context, req models.ConfirmResetPasswordRequest) error {
	return nil
}

func TestAuthLoginMapsErrors(t *testing.T) {
	h := NewAuthHandler(&fakeAuth{loginErr: appErrors.ErrInvalidCredentials}, false)
	c, rec := newContext(http.MethodPost, "/auth/login", nil, map[string]string{"email": "a@ictu.cm", "password": "x"})

	h.Login(c)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	env := decode(t, rec)
	assert.False(t, env.Success)
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, env.Error["code"])
}

func TestAuthLoginRejectsMalformedBody(t *testing.T) {
	h := NewAuthHandler(&fakeAuth{}, false)
	c, rec := newContext(http.MethodPost, "/auth/login", nil, "{not json")

	h.Login(c)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthForgotPasswordTokenExposure(t *testing.T) {
	body := map[string]string{"email": "a@ictu.cm"}

	c, rec := newContext(http.MethodPost, "/auth/forgot-password", nil, body)
	NewAuthHandler(&fakeAuth{resetToken: "raw-token"}, false).ForgotPassword(c)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.NotContains(t, rec.Body.String(), "raw-token")

	c, rec = newContext(http.MethodPost, "/auth/forgot-password", nil, body)
	NewAuthHandler(&fakeAuth{resetToken: "raw-token"}, true).ForgotPassword(c)
	assert.Contains(t, rec.Body.String(), `"reset_token":"raw-token"`)
}

func TestAuthLogoutRequiresClaims(t *testing.T) {
	fake := &fakeAuth{}
	h := NewAuthHandler(fake, false)

	c, rec := newContext(http.MethodPost, "/auth/logout", nil, map[string]string{"refresh_token": "r"})
	h.Logout(c)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	c, _ = newContext(http.MethodPost, "/auth/logout", student(), map[string]string{"refresh_token": "r"})
	h.Logout(c)
	assert.Equal(t, http.StatusNoContent, c.Writer.Status())
	assert.Equal(t, "user-1", fake.loggedOut)
}
