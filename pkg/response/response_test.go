package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/ictu-erp-api/pkg/errors"
)

func serve(t *testing.T, verbose bool, handler gin.HandlerFunc) (*httptest.ResponseRecorder, Envelope) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Verbosity(verbose))
	r.GET("/", handler)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/", nil)
	r.ServeHTTP(w, req)

	var env Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return w, env
}

func TestJSONEnvelope(t *testing.T) {
	w, env := serve(t, false, func(c *gin.Context) {
		JSON(c, http.StatusOK, gin.H{"id": "1"}, nil)
	})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, env.Success)
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
}

func TestErrorHidesDetailsInProduction(t *testing.T) {
	w, env := serve(t, false, func(c *gin.Context) {
		Error(c, errors.New("pq: connection refused"))
	})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.False(t, env.Success)
	require.NotNil(t, env.Error)
	assert.Empty(t, env.Error.Details)
	assert.Equal(t, appErrors.ErrInternal.Code, env.Error.Code)
}

func TestErrorShowsDetailsWhenVerbose(t *testing.T) {
	_, env := serve(t, true, func(c *gin.Context) {
		Error(c, appErrors.Wrap(errors.New("duplicate key"), appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, "course code already exists"))
	})
	require.NotNil(t, env.Error)
	assert.Equal(t, "duplicate key", env.Error.Details)
	assert.Equal(t, "course code already exists", env.Message)
}
