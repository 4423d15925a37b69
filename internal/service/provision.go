package service

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/ictu-erp-api/internal/models"
)

type accountWriter interface {
	Create(ctx context.Context, tx *sqlx.Tx, user *models.User) error
}

type studentWriter interface {
	NextMatriculeSequence(ctx context.Context, tx *sqlx.Tx, year int) (int, error)
	Create(ctx context.Context, tx *sqlx.Tx, student *models.Student) error
}

// provisionStudent creates the user account, allocates a matricule for the current
// year and inserts the student profile in one transaction.
func provisionStudent(ctx context.Context, db txProvider, users accountWriter, students studentWriter, user *models.User, student *models.Student, now time.Time) (err error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return internalError(err, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = users.Create(ctx, tx, user); err != nil {
		return writeError(err, "email already registered", "failed to create user")
	}

	seq, err := students.NextMatriculeSequence(ctx, tx, now.Year())
	if err != nil {
		return internalError(err, "failed to allocate matricule")
	}
	student.UserID = user.ID
	student.Matricule = models.FormatMatricule(now.Year(), seq)
	if err = students.Create(ctx, tx, student); err != nil {
		return writeError(err, "matricule already allocated", "failed to create student")
	}

	if err = tx.Commit(); err != nil {
		return internalError(err, "failed to commit student provisioning")
	}
	return nil
}
