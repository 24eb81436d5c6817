package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vantage-crm/vantage-api/internal/models"
)

func TestValidateCriteria(t *testing.T) {
	tests := []struct {
		name     string
		criteria models.RetentionCriteria
		wantErr  bool
	}{
		{name: "empty", criteria: models.RetentionCriteria{}},
		{name: "bare scalar", criteria: models.RetentionCriteria{"status": "closed"}},
		{
			name:     "operator spec",
			criteria: models.RetentionCriteria{"score": map[string]interface{}{"operator": "lt", "value": 10}},
		},
		{
			name:     "in with list",
			criteria: models.RetentionCriteria{"status": map[string]interface{}{"operator": "in", "value": []interface{}{"lost", "closed"}}},
		},
		{
			name:     "in without list",
			criteria: models.RetentionCriteria{"status": map[string]interface{}{"operator": "in", "value": "lost"}},
			wantErr:  true,
		},
		{
			name:     "unknown operator",
			criteria: models.RetentionCriteria{"status": map[string]interface{}{"operator": "like", "value": "%x%"}},
			wantErr:  true,
		},
		{
			name:     "bad column name",
			criteria: models.RetentionCriteria{"status; DROP TABLE leads": "x"},
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCriteria(tt.criteria)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCleanupRepositoryDeleteAgedRows(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewCleanupRepository(db)
	cutoff := time.Now().AddDate(0, 0, -30)

	mock.ExpectExec(`DELETE FROM leads WHERE created_at < \$1 AND status = \$2`).
		WithArgs(cutoff, "lost").
		WillReturnResult(sqlmock.NewResult(0, 7))

	meta, ok := TableMetaFor("leads")
	require.True(t, ok)

	deleted, err := repo.DeleteAgedRows(context.Background(), meta, cutoff, models.RetentionCriteria{"status": "lost"})
	require.NoError(t, err)
	assert.Equal(t, int64(7), deleted)
}

func TestCleanupRepositoryDeleteAgedRowsInOperator(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewCleanupRepository(db)
	cutoff := time.Now().AddDate(0, 0, -90)

	mock.ExpectExec(`DELETE FROM leads WHERE created_at < \$1 AND status IN \(\$2, \$3\)`).
		WithArgs(cutoff, "lost", "disqualified").
		WillReturnResult(sqlmock.NewResult(0, 3))

	meta, ok := TableMetaFor("leads")
	require.True(t, ok)

	criteria := models.RetentionCriteria{
		"status": map[string]interface{}{"operator": "in", "value": []interface{}{"lost", "disqualified"}},
	}
	deleted, err := repo.DeleteAgedRows(context.Background(), meta, cutoff, criteria)
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)
}

func TestCleanupRepositoryCountAgedRows(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewCleanupRepository(db)
	cutoff := time.Now().AddDate(0, 0, -30)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM leads WHERE created_at < \$1 AND status = \$2`).
		WithArgs(cutoff, "lost").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(12))

	meta, ok := TableMetaFor("leads")
	require.True(t, ok)

	count, err := repo.CountAgedRows(context.Background(), meta, cutoff, models.RetentionCriteria{"status": "lost"})
	require.NoError(t, err)
	assert.Equal(t, int64(12), count)
}

func TestCleanupRepositoryDeleteAgedRowsNoTimeColumn(t *testing.T) {
	db, _, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewCleanupRepository(db)
	meta, ok := TableMetaFor("login_tokens")
	require.True(t, ok)

	_, err := repo.DeleteAgedRows(context.Background(), meta, time.Now(), nil)
	assert.Error(t, err)
}

func TestCleanupRepositoryListPurgeableExports(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewCleanupRepository(db)
	now := time.Now()
	cutoff := now.AddDate(0, 0, -30)
	path := "/var/exports/abc.json"

	rows := sqlmock.NewRows([]string{"id", "file_path"}).
		AddRow("exp-1", &path).
		AddRow("exp-2", nil)
	mock.ExpectQuery("SELECT id, file_path FROM data_export_requests").
		WithArgs(now, cutoff).
		WillReturnRows(rows)

	purgeable, err := repo.ListPurgeableExports(context.Background(), now, cutoff)
	require.NoError(t, err)
	require.Len(t, purgeable, 2)
	assert.Equal(t, "exp-1", purgeable[0].ID)
	require.NotNil(t, purgeable[0].FilePath)
	assert.Nil(t, purgeable[1].FilePath)
}

func TestCleanupRepositoryDeleteDeletionRequests(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewCleanupRepository(db)
	cutoff := time.Now().AddDate(-2, 0, 0)

	mock.ExpectExec(`DELETE FROM data_deletion_requests WHERE created_at < \$1 AND status = \$2`).
		WithArgs(cutoff, models.DeletionStatusCompleted).
		WillReturnResult(sqlmock.NewResult(0, 2))

	deleted, err := repo.DeleteDeletionRequests(context.Background(), cutoff, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)
}
