package handler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/ictu-erp-api/internal/middleware"
	"github.com/noah-isme/ictu-erp-api/internal/models"
	appErrors "github.com/noah-isme/ictu-erp-api/pkg/errors"
	"github.com/noah-isme/ictu-erp-api/pkg/response"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	claims, _ := middleware.CurrentUser(c)
	return claims
}

// requestMeta captures the caller's address for audit entries.
func requestMeta(c *gin.Context) models.LoginRequest {
	return models.LoginRequest{IP: c.ClientIP(), UserAgent: c.GetHeader("User-Agent")}
}

func bindJSON(c *gin.Context, dest interface{}, message string) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, message))
		return false
	}
	return true
}

func badQuery(c *gin.Context, message string) {
	response.Error(c, appErrors.Clone(appErrors.ErrValidation, message))
}

func parseQueryInt(c *gin.Context, key string, def int) int {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return val
}

// paging reads page and limit, accepting page_size as an alias of limit.
func paging(c *gin.Context) (page, size int) {
	page = parseQueryInt(c, "page", 1)
	size = parseQueryInt(c, "limit", parseQueryInt(c, "page_size", 20))
	return page, size
}

func parseBoolQuery(c *gin.Context, key string) *bool {
	switch strings.ToLower(strings.TrimSpace(c.Query(key))) {
	case "true", "1":
		v := true
		return &v
	case "false", "0":
		v := false
		return &v
	}
	return nil
}

func parseDateParam(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	parsed, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

func attachment(c *gin.Context, filename, contentType string, body []byte) {
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, contentType, body)
}
