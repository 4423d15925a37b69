package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFacultyRepositoryFindByID(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewFacultyRepository(db)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, code, name, coordinator_id, created_at, updated_at FROM faculties WHERE id = $1 LIMIT 1")).
		WithArgs("fac-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "code", "name", "coordinator_id", "created_at", "updated_at"}).
			AddRow("fac-1", "FICT", "ICT", "coord-1", now, now))

	faculty, err := repo.FindByID(context.Background(), "fac-1")
	require.NoError(t, err)
	require.NotNil(t, faculty.CoordinatorID)
	assert.Equal(t, "coord-1", *faculty.CoordinatorID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFacultyRepositoryCoordinatedFacultyIDs(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewFacultyRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM faculties WHERE coordinator_id = $1")).
		WithArgs("coord-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("fac-1"))

	ids, err := repo.CoordinatedFacultyIDs(context.Background(), "coord-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"fac-1"}, ids)
}

func TestFacultyRepositoryListDepartmentsFiltered(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewFacultyRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM departments WHERE faculty_id = $1 ORDER BY name ASC")).
		WithArgs("fac-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "faculty_id", "name", "coordinator_id", "created_at"}).
			AddRow("dep-1", "fac-1", "Software", nil, time.Now()))

	deps, err := repo.ListDepartments(context.Background(), "fac-1")
	require.NoError(t, err)
	assert.Len(t, deps, 1)
}
