package main

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"tallybook.org/internal/store/pg"
)

type timeArg time.Time

func (a timeArg) Match(v driver.Value) bool {
	t, ok := v.(time.Time)
	return ok && t.Equal(time.Time(a))
}

func newMockStore(t *testing.T) (*pg.Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		_ = db.Close()
	})
	return pg.New(db), mock
}

func TestBootstrapAdminRecordsCutoff(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2026, 3, 1, 12, 30, 45, 900_000_000, time.UTC)

	mock.ExpectExec("insert into principals").
		WithArgs("alice", sqlmock.AnyArg(), true, false, "ADMIN").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into password_change_cutoffs").
		WithArgs("alice", timeArg(now.Truncate(time.Second))).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := bootstrapAdmin(context.Background(), store, "alice", "new-admin-password", now); err != nil {
		t.Fatalf("bootstrapAdmin: %v", err)
	}
}

func TestBootstrapAdminStopsWhenUpsertFails(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("insert into principals").
		WillReturnError(errors.New("connection reset"))

	if err := bootstrapAdmin(context.Background(), store, "admin", "new-admin-password", time.Now()); err == nil {
		t.Fatal("expected error")
	}
}

func TestBootstrapAdminRejectsBadPasswordLength(t *testing.T) {
	store, _ := newMockStore(t)
	for _, pw := range []string{"short", string(make([]byte, 73))} {
		if err := bootstrapAdmin(context.Background(), store, "admin", pw, time.Now()); err == nil {
			t.Fatalf("expected rejection for %d-byte password", len(pw))
		}
	}
}
