package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ignatij/taskflow/internal/log"
	"github.com/ignatij/taskflow/pkg/storage"
	"github.com/lib/pq"
	"github.com/pkg/errors"
)

// InitStore opens the Postgres store, retrying with exponential backoff
// while the database is still coming up. maxRetries of zero tries once.
func InitStore(ctx context.Context, dbConnStr string, connectTimeout time.Duration, maxRetries uint64) (*PostgresStore, error) {
	var store *PostgresStore
	attempt := 0
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0
	err := backoff.Retry(func() error {
		attempt++
		pingCtx := ctx
		if connectTimeout > 0 {
			var cancel context.CancelFunc
			pingCtx, cancel = context.WithTimeout(ctx, connectTimeout)
			defer cancel()
		}
		s, err := NewPostgresStore(pingCtx, dbConnStr)
		if err != nil {
			log.GetLogger().Warnf("Database not ready (attempt %d): %v", attempt, err)
			return err
		}
		store = s
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(bo, maxRetries), ctx))
	if err != nil {
		return nil, errors.Wrapf(err, "open database after %d attempts", attempt)
	}
	return store, nil
}

// Postgres error codes mapped to store errors.
const (
	foreignKeyViolation = "23503"
	uniqueViolation     = "23505"
)

// mapError translates driver errors into the store's sentinel errors.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case foreignKeyViolation:
			return errors.Wrap(storage.ErrNotFound, pqErr.Detail)
		case uniqueViolation:
			return errors.Wrap(storage.ErrConflict, pqErr.Detail)
		}
	}
	return err
}
