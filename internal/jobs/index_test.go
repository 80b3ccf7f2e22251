package jobs

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func TestSQLIndexUpsertAndDelete(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	idx := &SQLIndex{db: db}
	rec := &JobRecord{
		ID: "job_0001", ToolName: "echo_json", Status: StatusSucceeded,
		CreatedAt: time.Now(), Summary: "ok",
	}

	mock.ExpectExec("INSERT INTO tool_jobs").WithArgs(
		rec.ID, rec.ToolName, rec.RequestID, string(rec.Status),
		rec.CreatedAt, nullTime(rec.StartedAt), nullTime(rec.FinishedAt),
		rec.Summary, rec.ErrorCode, rec.ErrorMsg,
	).WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, idx.Upsert(context.Background(), rec))

	mock.ExpectExec("DELETE FROM tool_jobs").WithArgs(rec.ID).WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, idx.Delete(context.Background(), rec.ID))

	require.NoError(t, mock.ExpectationsWereMet())
}
