package ride

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"ride-dispatch/internal/dispatch/domain"
)

// numberDateLayout is the YYMMDD prefix of a ride number.
const numberDateLayout = "060102"

// NumberSource exposes the highest existing ride number for a date prefix.
// Empty string means no rides share the prefix yet.
type NumberSource interface {
	MaxNumberForPrefix(ctx context.Context, prefix string) (string, error)
}

// NextNumber derives the next date-prefixed ride number: YYMMDD plus a
// four-digit counter. The read-then-increment is racy under concurrent
// creation, so the repository enforces a unique constraint and the service
// retries on DuplicateKeyError.
func NextNumber(ctx context.Context, src NumberSource, day time.Time) (string, error) {
	prefix := day.Format(numberDateLayout)

	current, err := src.MaxNumberForPrefix(ctx, prefix)
	if err != nil {
		return "", fmt.Errorf("scan max ride number: %w", err)
	}
	if current == "" {
		return prefix + "0001", nil
	}

	if len(current) != len(prefix)+4 {
		return "", &domain.ValidationError{Field: "ride_number", Reason: "malformed existing number " + current}
	}
	seq, err := strconv.Atoi(current[len(prefix):])
	if err != nil {
		return "", &domain.ValidationError{Field: "ride_number", Reason: "non-numeric counter in " + current}
	}
	if seq >= 9999 {
		return "", fmt.Errorf("ride number space exhausted for %s", prefix)
	}

	return fmt.Sprintf("%s%04d", prefix, seq+1), nil
}
