package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vantage-crm/vantage-api/internal/models"
)

func TestSubjectDataRepositoryCollectRows(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewSubjectDataRepository(db)
	rows := sqlmock.NewRows([]string{"id", "title", "author_id"}).
		AddRow("note-1", []byte("call summary"), "user-1")
	mock.ExpectQuery(`SELECT \* FROM notes WHERE \(author_id = \$1\)`).
		WithArgs("user-1").
		WillReturnRows(rows)

	meta, ok := TableMetaFor("notes")
	require.True(t, ok)

	records, err := repo.CollectRows(context.Background(), meta, "user-1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "call summary", records[0]["title"])
}

func TestSubjectDataRepositoryCollectRowsSoftDeleteFilter(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewSubjectDataRepository(db)
	mock.ExpectQuery(`SELECT \* FROM leads WHERE \(owner_id = \$1 OR assigned_to = \$1\) AND deleted_at IS NULL`).
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	meta, ok := TableMetaFor("leads")
	require.True(t, ok)

	records, err := repo.CollectRows(context.Background(), meta, "user-1")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestSubjectDataRepositoryFullDelete(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewSubjectDataRepository(db)

	mock.ExpectBegin()
	for range CascadeTables() {
		mock.ExpectExec("SAVEPOINT cascade_").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("DELETE FROM").WithArgs("user-1").WillReturnResult(sqlmock.NewResult(0, 2))
	}
	mock.ExpectExec("UPDATE users SET email").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	scrub := ScrubValues{
		Email:        "deleted-user-1@removed.invalid",
		FirstName:    "Deleted",
		LastName:     "User",
		PasswordHash: "!",
		Status:       models.ComplianceStatusDeleted,
	}
	outcomes, err := repo.FullDelete(context.Background(), "user-1", scrub)
	require.NoError(t, err)
	require.Len(t, outcomes, len(CascadeTables()))
	for _, outcome := range outcomes {
		assert.NoError(t, outcome.Err)
		assert.Equal(t, int64(2), outcome.Deleted)
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubjectDataRepositoryFullDeleteIsolatesTableFailure(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewSubjectDataRepository(db)
	tables := CascadeTables()

	mock.ExpectBegin()
	for i := range tables {
		mock.ExpectExec("SAVEPOINT cascade_").WillReturnResult(sqlmock.NewResult(0, 0))
		if i == 0 {
			mock.ExpectExec("DELETE FROM").WithArgs("user-1").WillReturnError(errors.New("restrict violation"))
			mock.ExpectExec("ROLLBACK TO SAVEPOINT cascade_0").WillReturnResult(sqlmock.NewResult(0, 0))
			continue
		}
		mock.ExpectExec("DELETE FROM").WithArgs("user-1").WillReturnResult(sqlmock.NewResult(0, 1))
	}
	mock.ExpectExec("UPDATE users SET email").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	outcomes, err := repo.FullDelete(context.Background(), "user-1", ScrubValues{Status: models.ComplianceStatusDeleted})
	require.NoError(t, err)
	require.Len(t, outcomes, len(tables))
	assert.Error(t, outcomes[0].Err)
	for _, outcome := range outcomes[1:] {
		assert.NoError(t, outcome.Err)
	}
}

func TestSubjectDataRepositoryFullDeleteRollsBackWhenScrubFails(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewSubjectDataRepository(db)

	mock.ExpectBegin()
	for range CascadeTables() {
		mock.ExpectExec("SAVEPOINT cascade_").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("DELETE FROM").WithArgs("user-1").WillReturnResult(sqlmock.NewResult(0, 1))
	}
	mock.ExpectExec("UPDATE users SET email").WillReturnError(errors.New("users table locked"))
	mock.ExpectRollback()

	_, err := repo.FullDelete(context.Background(), "user-1", ScrubValues{Status: models.ComplianceStatusDeleted})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubjectDataRepositoryScopedDelete(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewSubjectDataRepository(db)
	mock.ExpectExec(`DELETE FROM notes WHERE \(author_id = \$1\) AND category = \$2`).
		WithArgs("user-1", "personal").
		WillReturnResult(sqlmock.NewResult(0, 4))

	meta, ok := TableMetaFor("notes")
	require.True(t, ok)

	deleted, err := repo.ScopedDelete(context.Background(), meta, "user-1", models.RetentionCriteria{"category": "personal"})
	require.NoError(t, err)
	assert.Equal(t, int64(4), deleted)
}

func TestSubjectDataRepositoryAnonymize(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewSubjectDataRepository(db)
	mock.ExpectExec("UPDATE users SET email").
		WithArgs("anon-user-1@removed.invalid", "Anonymous", "User", models.ComplianceStatusAnonymized, sqlmock.AnyArg(), "user-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Anonymize(context.Background(), "user-1", "anon-user-1@removed.invalid", "Anonymous", "User")
	require.NoError(t, err)
}
