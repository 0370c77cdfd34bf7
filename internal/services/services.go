// Package services implements the identity, gallery, comment, like and upload operations on
// top of the single-table store and the object store. Every method returns a *errors.AppError
// for outcomes the caller can act on.
package services

import (
	"errors"
	"time"

	"github.com/mindgallery/gallery-api/internal/store"
	apperrors "github.com/mindgallery/gallery-api/pkg/errors"
)

// Clock returns the current time. Tests replace it to get deterministic timestamps.
type Clock func() time.Time

func nowMillis(clock Clock) int64 {
	return clock().UnixMilli()
}

// storeError classifies store outcomes that are not specific to the call site
func storeError(code string, err error) error {
	switch {
	case errors.Is(err, store.ErrInvalidCursor):
		return apperrors.New(apperrors.KindValidation, "INVALID_CURSOR", err)
	case errors.Is(err, store.ErrTransactionConflict):
		return apperrors.New(apperrors.KindConflict, "TRANSACTION_CONFLICT", err)
	default:
		return apperrors.Internal(code, err)
	}
}
