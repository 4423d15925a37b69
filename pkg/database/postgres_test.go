package database

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/ictu-erp-api/pkg/config"
)

func TestDSNPrefersURL(t *testing.T) {
	cfg := config.DatabaseConfig{URL: "postgres://erp@db/ictu_erp", Host: "ignored"}
	assert.Equal(t, "postgres://erp@db/ictu_erp", DSN(cfg))
}

func TestDSNFromParts(t *testing.T) {
	cfg := config.DatabaseConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "secret", Name: "ictu_erp", SSLMode: "disable"}
	assert.Equal(t, "host=localhost port=5432 user=postgres password=secret dbname=ictu_erp sslmode=disable", DSN(cfg))
}
