package postgres

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/northcell/conversation-cdc/internal/domain"
)

func TestDispatchRepoMarkProcessed(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectExec("INSERT INTO cdc_processed_calls").
		WithArgs("CALL-1", "msg-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewDispatchRepo(db)
	if err := repo.MarkProcessed(context.Background(), verintSource(t), "CALL-1", "msg-1"); err != nil {
		t.Fatalf("MarkProcessed() error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestDispatchRepoMarkSkipped(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectExec("INSERT INTO cdc_processed_calls").
		WithArgs("CALL-2", "SKIPPED: short: 3 segment(s), need 11").
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewDispatchRepo(db)
	err := repo.MarkSkipped(context.Background(), verintSource(t), "CALL-2", "short: 3 segment(s), need 11")
	if err != nil {
		t.Fatalf("MarkSkipped() error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestDispatchRepoMarkSkippedTruncatesNote(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	long := strings.Repeat("x", 300)
	want := ("SKIPPED: " + long)[:200]
	mock.ExpectExec("INSERT INTO cdc_processed_calls").
		WithArgs("CALL-3", want).
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewDispatchRepo(db)
	if err := repo.MarkSkipped(context.Background(), verintSource(t), "CALL-3", long); err != nil {
		t.Fatalf("MarkSkipped() error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestDispatchRepoBumpStatus(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	at := time.Date(2019, 3, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec("INSERT INTO cdc_processing_status").
		WithArgs("CDC_NORMAL_MODE", at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewDispatchRepo(db)
	if err := repo.BumpStatus(context.Background(), "CDC_NORMAL_MODE", at); err != nil {
		t.Fatalf("BumpStatus() error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestDispatchRepoRecordSendFailureFirstAttempt(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	// No existing row to update, so the repo inserts with retry_count 1.
	mock.ExpectQuery("UPDATE error_log").
		WithArgs("CALL-9", "boom", domain.ErrorKindSendFailed).
		WillReturnRows(sqlmock.NewRows([]string{"retry_count"}))
	mock.ExpectQuery("INSERT INTO error_log").
		WithArgs("CALL-9", domain.ErrorKindSendFailed, "boom").
		WillReturnRows(sqlmock.NewRows([]string{"retry_count"}).AddRow(1))

	repo := NewDispatchRepo(db)
	attempts, err := repo.RecordSendFailure(context.Background(), "CALL-9", "boom")
	if err != nil {
		t.Fatalf("RecordSendFailure() error: %v", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestDispatchRepoRecordSendFailureIncrements(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectQuery("UPDATE error_log").
		WithArgs("CALL-9", "boom again", domain.ErrorKindSendFailed).
		WillReturnRows(sqlmock.NewRows([]string{"retry_count"}).AddRow(3))

	repo := NewDispatchRepo(db)
	attempts, err := repo.RecordSendFailure(context.Background(), "CALL-9", "boom again")
	if err != nil {
		t.Fatalf("RecordSendFailure() error: %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestDispatchRepoRecordPermanentFailure(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectExec("INSERT INTO sqs_permanent_failures").
		WithArgs("CALL-9", "gave up", 5).
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewDispatchRepo(db)
	if err := repo.RecordPermanentFailure(context.Background(), "CALL-9", "gave up", 5); err != nil {
		t.Fatalf("RecordPermanentFailure() error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
