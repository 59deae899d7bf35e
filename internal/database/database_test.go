package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
)

func TestNewDB(t *testing.T) {
	tests := []struct {
		name    string
		dsn     string
		wantErr bool
	}{
		{name: "empty DSN", dsn: "", wantErr: true},
		{name: "invalid DSN", dsn: "invalid-dsn", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, err := NewDB(tt.dsn)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewDB() error = %v, wantErr %v", err, tt.wantErr)
			}
			if db != nil {
				db.Close()
			}
		})
	}
}

func TestDB_Close(t *testing.T) {
	db := &DB{conn: nil}
	if err := db.Close(); err != nil {
		t.Errorf("DB.Close() with nil conn should not return error, got %v", err)
	}

	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock DB: %v", err)
	}
	mock.ExpectClose()

	db = &DB{conn: mockDB}
	if err := db.Close(); err != nil {
		t.Errorf("DB.Close() error = %v, want nil", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unfulfilled expectations: %v", err)
	}
}

func TestDB_EnsureSchema(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock DB: %v", err)
	}
	defer mockDB.Close()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS deliveries`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	db := &DB{conn: mockDB}
	if err := db.EnsureSchema(context.Background()); err != nil {
		t.Errorf("EnsureSchema() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unfulfilled expectations: %v", err)
	}
}

// arrayArg matches a pq.Array argument by its encoded form.
type arrayArg string

func (a arrayArg) Match(v driver.Value) bool {
	switch s := v.(type) {
	case string:
		return s == string(a)
	case []byte:
		return string(s) == string(a)
	}
	return false
}

func TestDB_RecordDelivery(t *testing.T) {
	admitted := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	delivered := admitted.Add(2 * time.Second)

	tests := []struct {
		name    string
		rec     DeliveryRecord
		setup   func(mock sqlmock.Sqlmock)
		wantErr string
	}{
		{
			name: "sent",
			rec: DeliveryRecord{
				AlertID: "a-1", Severity: "CRITICAL", Source: "web01", Event: "DiskFull",
				Summary: "web01 disk full", Environment: []string{"PROD"}, Service: []string{"R1", "R2"},
				TokensRemaining: 19, Status: StatusSent, AdmittedAt: admitted, DeliveredAt: delivered,
			},
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`INSERT INTO deliveries`).
					WithArgs("a-1", "CRITICAL", "web01", "DiskFull", "web01 disk full",
						arrayArg(`{"PROD"}`), arrayArg(`{"R1","R2"}`),
						19, "SENT", "", admitted, delivered).
					WillReturnResult(sqlmock.NewResult(1, 1))
			},
		},
		{
			name: "failed with nil tags",
			rec: DeliveryRecord{
				AlertID: "a-2", Severity: "MINOR", TokensRemaining: 0, Status: StatusFailed,
				Error: "smtp: connection refused", AdmittedAt: admitted, DeliveredAt: delivered,
			},
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`INSERT INTO deliveries`).
					WithArgs("a-2", "MINOR", "", "", "", arrayArg(`{}`), arrayArg(`{}`),
						0, "FAILED", "smtp: connection refused", admitted, delivered).
					WillReturnResult(sqlmock.NewResult(2, 1))
			},
		},
		{
			name: "database error",
			rec:  DeliveryRecord{AlertID: "a-3", Severity: "MAJOR", Status: StatusSent, AdmittedAt: admitted, DeliveredAt: delivered},
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`INSERT INTO deliveries`).WillReturnError(sql.ErrConnDone)
			},
			wantErr: "failed to insert delivery for alert a-3",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockDB, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("Failed to create mock DB: %v", err)
			}
			defer mockDB.Close()
			tt.setup(mock)

			db := &DB{conn: mockDB}
			err = db.RecordDelivery(context.Background(), tt.rec)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Errorf("RecordDelivery() error = %v, want %q", err, tt.wantErr)
				}
				if !errors.Is(err, sql.ErrConnDone) {
					t.Error("RecordDelivery() should wrap the driver error")
				}
			} else if err != nil {
				t.Errorf("RecordDelivery() error = %v", err)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("Unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestDB_RecordDelivery_DefaultsTimestamps(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock DB: %v", err)
	}
	defer mockDB.Close()

	mock.ExpectExec(`INSERT INTO deliveries`).
		WithArgs("a-1", "MINOR", "", "", "", sqlmock.AnyArg(), sqlmock.AnyArg(),
			5, "DROPPED", "queue full", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	db := &DB{conn: mockDB}
	rec := DeliveryRecord{AlertID: "a-1", Severity: "MINOR", TokensRemaining: 5, Status: StatusDropped, Error: "queue full"}
	if err := db.RecordDelivery(context.Background(), rec); err != nil {
		t.Errorf("RecordDelivery() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unfulfilled expectations: %v", err)
	}
}

func TestDB_CountByStatus(t *testing.T) {
	since := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock DB: %v", err)
	}
	defer mockDB.Close()

	rows := sqlmock.NewRows([]string{"status", "count"}).
		AddRow("SENT", 12).
		AddRow("FAILED", 3)
	mock.ExpectQuery(`SELECT status, COUNT\(\*\)`).WithArgs(since).WillReturnRows(rows)

	db := &DB{conn: mockDB}
	counts, err := db.CountByStatus(context.Background(), since)
	if err != nil {
		t.Fatalf("CountByStatus() error = %v", err)
	}
	if counts[StatusSent] != 12 || counts[StatusFailed] != 3 || counts[StatusDropped] != 0 {
		t.Errorf("counts = %v", counts)
	}

	mock.ExpectQuery(`SELECT status, COUNT\(\*\)`).WillReturnError(sql.ErrConnDone)
	if _, err := db.CountByStatus(context.Background(), since); err == nil {
		t.Error("CountByStatus() error = nil, want error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unfulfilled expectations: %v", err)
	}
}

func TestArrayEncoding(t *testing.T) {
	v, err := pq.Array(nonNil(nil)).Value()
	if err != nil {
		t.Fatalf("Value() error = %v", err)
	}
	if v != "{}" {
		t.Errorf("empty array encodes as %v, want {}", v)
	}
}
