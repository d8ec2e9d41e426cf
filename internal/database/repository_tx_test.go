package database

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"bot-dashboard/internal/activation"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// fakeRow assigns values to Scan destinations in order
type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != len(r.values) {
		return errors.New("scan arity mismatch")
	}
	for i, d := range dest {
		target := reflect.ValueOf(d).Elem()
		if r.values[i] == nil {
			target.Set(reflect.Zero(target.Type()))
			continue
		}
		target.Set(reflect.ValueOf(r.values[i]))
	}
	return nil
}

// scriptedTx replays rows for QueryRow and records every statement
type scriptedTx struct {
	rows    []fakeRow
	execErr error
	queries []string
	args    [][]any
}

func (s *scriptedTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	s.queries = append(s.queries, sql)
	s.args = append(s.args, args)
	if len(s.rows) == 0 {
		return fakeRow{err: errors.New("unexpected query")}
	}
	row := s.rows[0]
	s.rows = s.rows[1:]
	return row
}

func (s *scriptedTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	s.queries = append(s.queries, sql)
	s.args = append(s.args, args)
	if s.execErr != nil {
		return pgconn.CommandTag{}, s.execErr
	}
	return pgconn.NewCommandTag("DELETE 1"), nil
}

func activationRow(rec *activation.Record) fakeRow {
	return fakeRow{values: []any{
		rec.UserID, rec.IsActive, rec.ActivatedAt, rec.TotalDurationDays,
		rec.PausedDaysRemaining, rec.LastPauseDate, rec.CreatedAt, rec.UpdatedAt,
	}}
}

func TestUpsertActivationTxFirstWrite(t *testing.T) {
	now := time.Now().UTC()
	stored := &activation.Record{UserID: "u1", IsActive: true, ActivatedAt: &now, TotalDurationDays: 30, CreatedAt: now, UpdatedAt: now}
	tx := &scriptedTx{rows: []fakeRow{{err: pgx.ErrNoRows}, activationRow(stored)}}

	var sawCurrent *activation.Record
	merged := false
	rec, err := upsertActivationTx(context.Background(), tx, "u1", func(current *activation.Record) *activation.Record {
		merged = true
		sawCurrent = current
		return &activation.Record{UserID: "u1", IsActive: true, ActivatedAt: &now, TotalDurationDays: 30}
	})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !merged || sawCurrent != nil {
		t.Errorf("Expected merge with nil current, got merged=%v current=%+v", merged, sawCurrent)
	}
	if len(tx.queries) != 2 {
		t.Fatalf("Expected 2 statements, got %d", len(tx.queries))
	}
	if !strings.Contains(tx.queries[0], "FOR UPDATE") {
		t.Errorf("Expected row lock, got %q", tx.queries[0])
	}
	if !strings.Contains(tx.queries[1], "ON CONFLICT (user_id) DO UPDATE") || !strings.Contains(tx.queries[1], "RETURNING") {
		t.Errorf("Expected conflict-safe upsert, got %q", tx.queries[1])
	}
	args := tx.args[1]
	if len(args) != 6 || args[0] != "u1" || args[1] != true || args[3] != 30 {
		t.Errorf("Unexpected upsert args %v", args)
	}
	if rec.TotalDurationDays != 30 || !rec.IsActive || rec.UserID != "u1" {
		t.Errorf("Expected returned row, got %+v", rec)
	}
}

func TestUpsertActivationTxMergesLockedRow(t *testing.T) {
	now := time.Now().UTC()
	bank := 12
	existing := &activation.Record{UserID: "u1", PausedDaysRemaining: &bank, TotalDurationDays: 30, LastPauseDate: &now, CreatedAt: now, UpdatedAt: now}
	tx := &scriptedTx{rows: []fakeRow{activationRow(existing), activationRow(existing)}}

	var sawBank *int
	_, err := upsertActivationTx(context.Background(), tx, "u1", func(current *activation.Record) *activation.Record {
		if current != nil {
			sawBank = current.PausedDaysRemaining
		}
		return current
	})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if sawBank == nil || *sawBank != 12 {
		t.Errorf("Expected merge to see 12 banked days, got %v", sawBank)
	}
	if got := tx.args[1][4]; got != &bank {
		t.Errorf("Expected banked days passed through, got %v", got)
	}
}

func TestUpsertActivationTxLockError(t *testing.T) {
	tx := &scriptedTx{rows: []fakeRow{{err: errors.New("connection reset")}}}

	merged := false
	_, err := upsertActivationTx(context.Background(), tx, "u1", func(current *activation.Record) *activation.Record {
		merged = true
		return current
	})
	if err == nil {
		t.Fatal("Expected error")
	}
	if merged {
		t.Error("Expected merge to be skipped on lock failure")
	}
	if len(tx.queries) != 1 {
		t.Errorf("Expected no upsert after lock failure, got %d statements", len(tx.queries))
	}
}

func TestUpsertActivationTxNilMerge(t *testing.T) {
	tx := &scriptedTx{rows: []fakeRow{{err: pgx.ErrNoRows}}}

	_, err := upsertActivationTx(context.Background(), tx, "u1", func(*activation.Record) *activation.Record { return nil })
	if err == nil {
		t.Fatal("Expected error for empty merge result")
	}
}

func TestDeleteUserTxRemovesChildrenFirst(t *testing.T) {
	tx := &scriptedTx{rows: []fakeRow{{values: []any{false}}}}

	found, err := deleteUserTx(context.Background(), tx, "u1")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !found {
		t.Error("Expected user to be found")
	}

	expected := 1 + len(cascadeTables) + 1
	if len(tx.queries) != expected {
		t.Fatalf("Expected %d statements, got %d", expected, len(tx.queries))
	}
	for i, table := range cascadeTables {
		if !strings.Contains(tx.queries[i+1], "DELETE FROM "+table+" ") {
			t.Errorf("Expected delete from %s, got %q", table, tx.queries[i+1])
		}
	}
	if last := tx.queries[len(tx.queries)-1]; !strings.Contains(last, "DELETE FROM users") {
		t.Errorf("Expected users deleted last, got %q", last)
	}
}

func TestDeleteUserTxSkipsOperator(t *testing.T) {
	tx := &scriptedTx{rows: []fakeRow{{values: []any{true}}}}

	found, err := deleteUserTx(context.Background(), tx, "op")
	if err != nil || found {
		t.Errorf("Expected operator to be kept, got found=%v err=%v", found, err)
	}
	if len(tx.queries) != 1 {
		t.Errorf("Expected no deletes, got %d statements", len(tx.queries))
	}
}

func TestDeleteUserTxMissingUser(t *testing.T) {
	tx := &scriptedTx{rows: []fakeRow{{err: pgx.ErrNoRows}}}

	found, err := deleteUserTx(context.Background(), tx, "ghost")
	if err != nil || found {
		t.Errorf("Expected not found without error, got found=%v err=%v", found, err)
	}
}

func TestDeleteUserTxExecError(t *testing.T) {
	tx := &scriptedTx{rows: []fakeRow{{values: []any{false}}}, execErr: errors.New("boom")}

	_, err := deleteUserTx(context.Background(), tx, "u1")
	if err == nil || !strings.Contains(err.Error(), cascadeTables[0]) {
		t.Errorf("Expected error naming %s, got %v", cascadeTables[0], err)
	}
}
