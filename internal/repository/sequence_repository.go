package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	appErrors "github.com/noah-isme/sma-ppdb-api/pkg/errors"
)

// SequenceRepository allocates unique registration numbers per
// (school, academic year, batch) scope. The last issued ordinal is
// persisted so restarts never reuse numbers.
type SequenceRepository struct {
	db         *sqlx.DB
	maxRetries int
	retryDelay time.Duration
	onRetry    func()
}

// NewSequenceRepository constructs the repository.
func NewSequenceRepository(db *sqlx.DB, maxRetries int, retryDelay time.Duration) *SequenceRepository {
	if maxRetries <= 0 {
		maxRetries = 5
	}
	if retryDelay <= 0 {
		retryDelay = 25 * time.Millisecond
	}
	return &SequenceRepository{db: db, maxRetries: maxRetries, retryDelay: retryDelay}
}

// SetRetryObserver registers a callback invoked once per retried
// allocation attempt, used for metrics.
func (r *SequenceRepository) SetRetryObserver(fn func()) {
	r.onRetry = fn
}

// Next returns the next registration number for the scope. The
// increment is a single atomic upsert so concurrent callers always
// observe distinct ordinals. Transient contention is retried with a
// bounded budget; exhausting it surfaces SequenceExhausted.
func (r *SequenceRepository) Next(ctx context.Context, schoolID, academicYear string, batch int) (string, error) {
	return r.next(ctx, r.db, schoolID, academicYear, batch)
}

// NextTx allocates a number inside an existing transaction so an
// application row and its number commit together.
func (r *SequenceRepository) NextTx(ctx context.Context, tx *sqlx.Tx, schoolID, academicYear string, batch int) (string, error) {
	return r.next(ctx, tx, schoolID, academicYear, batch)
}

func (r *SequenceRepository) next(ctx context.Context, q sqlx.QueryerContext, schoolID, academicYear string, batch int) (string, error) {
	const query = `INSERT INTO registration_sequences (school_id, academic_year, batch, last_ordinal, updated_at)
        VALUES ($1, $2, $3, 1, $4)
        ON CONFLICT (school_id, academic_year, batch)
        DO UPDATE SET last_ordinal = registration_sequences.last_ordinal + 1, updated_at = EXCLUDED.updated_at
        RETURNING last_ordinal`

	var lastErr error
	for attempt := 0; attempt < r.maxRetries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(r.retryDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return "", ctx.Err()
			case <-timer.C:
			}
		}

		var ordinal int64
		err := sqlx.GetContext(ctx, q, &ordinal, query, schoolID, academicYear, batch, time.Now().UTC())
		if err == nil {
			return FormatRegistrationNumber(academicYear, batch, ordinal), nil
		}
		if !retryableSequenceError(err) {
			return "", fmt.Errorf("allocate registration number: %w", err)
		}
		if r.onRetry != nil {
			r.onRetry()
		}
		lastErr = err
	}

	return "", appErrors.Wrap(lastErr, appErrors.ErrSequenceExhausted.Code, appErrors.ErrSequenceExhausted.Status, appErrors.ErrSequenceExhausted.Message)
}

// retryableSequenceError reports contention errors worth retrying:
// serialization failures, deadlocks and the upsert race on first insert.
func retryableSequenceError(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01", "23505", "55P03":
			return true
		}
	}
	return false
}

// FormatRegistrationNumber renders the human-readable structured code,
// e.g. PPDB-2025-1-0042. The academic year keeps only its opening
// segment. The ordinal is zero-padded for readability; codes stay
// unique past four digits but string order then stops matching
// allocation order.
func FormatRegistrationNumber(academicYear string, batch int, ordinal int64) string {
	year := academicYear
	if idx := strings.IndexByte(year, '/'); idx > 0 {
		year = year[:idx]
	}
	return fmt.Sprintf("PPDB-%s-%d-%04d", year, batch, ordinal)
}
