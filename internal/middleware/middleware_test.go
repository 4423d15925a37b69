package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/ictu-erp-api/internal/models"
	"github.com/noah-isme/ictu-erp-api/internal/service"
	"github.com/noah-isme/ictu-erp-api/pkg/config"
	appErrors "github.com/noah-isme/ictu-erp-api/pkg/errors"
	"github.com/noah-isme/ictu-erp-api/pkg/logger"
)

type stubValidator map[string]*models.JWTClaims

func (s stubValidator) ValidateToken(token string) (*models.JWTClaims, error) {
	claims, ok := s[token]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")
	}
	return claims, nil
}

func perform(r *gin.Engine, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func protectedRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	tokens := stubValidator{
		"student": {UserID: "user-1", Role: models.RoleStudent},
		"finance": {UserID: "fin-1", Role: models.RoleFinanceStaff},
	}
	chain := append([]gin.HandlerFunc{JWT(tokens)}, handlers...)
	chain = append(chain, func(c *gin.Context) {
		claims, _ := CurrentUser(c)
		c.JSON(http.StatusOK, gin.H{"user": claims.UserID, "logged": c.GetString(logger.UserIDKey)})
	})
	r.GET("/things/:id", chain...)
	return r
}

func TestJWTRejectsMissingAndInvalidTokens(t *testing.T) {
	r := protectedRouter()

	assert.Equal(t, http.StatusUnauthorized, perform(r, http.MethodGet, "/things/1", "").Code)
	assert.Equal(t, http.StatusUnauthorized, perform(r, http.MethodGet, "/things/1", "bogus").Code)

	w := perform(r, http.MethodGet, "/things/1", "student")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user":"user-1","logged":"user-1"}`, w.Body.String())
}

func TestPermitUsesPolicy(t *testing.T) {
	r := protectedRouter(Permit(service.DefaultPolicy(), models.ResourceFinance, models.ActionPay))

	assert.Equal(t, http.StatusForbidden, perform(r, http.MethodGet, "/things/1", "student").Code)
	assert.Equal(t, http.StatusOK, perform(r, http.MethodGet, "/things/1", "finance").Code)
}

func TestRequireRoles(t *testing.T) {
	r := protectedRouter(RequireRoles(models.RoleAdmin, models.RoleFinanceStaff))

	assert.Equal(t, http.StatusForbidden, perform(r, http.MethodGet, "/things/1", "student").Code)
	assert.Equal(t, http.StatusOK, perform(r, http.MethodGet, "/things/1", "finance").Code)
}

type memoryAudit struct{ entries []*models.AuditLog }

func (m *memoryAudit) CreateAuditLog(ctx context.Context, entry *models.AuditLog) error {
	m.entries = append(m.entries, entry)
	return nil
}

func TestAuditRecordsSuccessfulRequests(t *testing.T) {
	store := &memoryAudit{}
	r := protectedRouter(Audit(store, nil, "VIEW", "thing"))

	perform(r, http.MethodGet, "/things/42", "student")
	perform(r, http.MethodGet, "/things/42", "")

	require.Len(t, store.entries, 1)
	assert.Equal(t, "user-1", *store.entries[0].UserID)
	assert.Equal(t, "42", *store.entries[0].ResourceID)
	assert.Contains(t, string(store.entries[0].NewValues), `"status":200`)
}

type fixedWindow struct {
	counts map[string]int64
	err    error
}

func (f *fixedWindow) Increment(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	if f.err != nil {
		return 0, 0, f.err
	}
	f.counts[key]++
	return f.counts[key], 30 * time.Second, nil
}

func limitedRouter(counter WindowCounter) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	cfg := config.RateLimitConfig{Enabled: true, Window: time.Minute, MaxRequests: 2}
	r.Use(RateLimit(counter, cfg, nil, nil))
	r.GET("/login", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func TestRateLimitBlocksAfterMax(t *testing.T) {
	r := limitedRouter(&fixedWindow{counts: map[string]int64{}})

	w := perform(r, http.MethodGet, "/login", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, http.StatusOK, perform(r, http.MethodGet, "/login", "").Code)

	w = perform(r, http.MethodGet, "/login", "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "30", w.Header().Get("Retry-After"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
}

func TestRateLimitFailsOpen(t *testing.T) {
	r := limitedRouter(&fixedWindow{err: errors.New("redis down")})
	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, perform(r, http.MethodGet, "/login", "").Code)
	}

	r = limitedRouter(&fixedWindow{err: appErrors.ErrCacheMiss})
	assert.Equal(t, http.StatusOK, perform(r, http.MethodGet, "/login", "").Code)
}
