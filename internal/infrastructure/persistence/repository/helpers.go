package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/garyjia/payapp-engine/internal/domain/apperr"
	"github.com/garyjia/payapp-engine/internal/infrastructure/persistence/sqlite"
	"github.com/mattn/go-sqlite3"
)

type scanner interface {
	Scan(dest ...interface{}) error
}

// checkSwap turns a zero-row compare-and-swap update into NOT_FOUND or CONFLICT
func checkSwap(ctx context.Context, exec sqlite.Executor, res sql.Result, table, resource string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}

	var count int
	query := fmt.Sprintf("SELECT COUNT(1) FROM %s WHERE id = ?", table)
	if err := exec.QueryRowContext(ctx, query, id).Scan(&count); err != nil {
		return fmt.Errorf("failed to check %s existence: %w", resource, err)
	}
	if count == 0 {
		return apperr.NotFound(resource, id)
	}
	return apperr.Conflict(resource, id)
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
