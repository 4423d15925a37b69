package handler

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/ictu-erp-api/internal/middleware"
	"github.com/noah-isme/ictu-erp-api/internal/models"
)

type responseEnvelope struct {
	Success bool                   `json:"success"`
	Message string                 `json:"message"`
	Data    json.RawMessage        `json:"data"`
	Error   map[string]interface{} `json:"error"`
}

// newContext builds a test context carrying the given claims and an optional JSON body.
func newContext(method, target string, claims *models.JWTClaims, body interface{}) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)

	var payload []byte
	if body != nil {
		switch b := body.(type) {
		case string:
			payload = []byte(b)
		default:
			payload, _ = json.Marshal(b)
		}
	}
	c.Request = httptest.NewRequest(method, target, bytes.NewReader(payload))
	c.Request.Header.Set("Content-Type", "application/json")
	if claims != nil {
		c.Set(middleware.ContextUserKey, claims)
	}
	return c, rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) responseEnvelope {
	t.Helper()
	var env responseEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func student() *models.JWTClaims {
	return &models.JWTClaims{UserID: "user-1", Role: models.RoleStudent}
}
