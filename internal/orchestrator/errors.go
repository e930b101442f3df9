package orchestrator

import (
	"errors"
	"fmt"

	"github.com/ptrvsrg/crack-hash/internal/models"
	"github.com/ptrvsrg/crack-hash/internal/partition"
	"github.com/ptrvsrg/crack-hash/internal/store"
)

// Классы ошибок, видимые вызывающему. Конкретная причина заворачивается через %w.
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrInternal        = errors.New("internal error")
)

// classify переводит ошибку хранилища или валидации в один из классов выше.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrInvalidArgument), errors.Is(err, ErrNotFound),
		errors.Is(err, ErrConflict), errors.Is(err, ErrInternal):
		return err
	case errors.Is(err, store.ErrTaskNotFound), errors.Is(err, store.ErrSubtaskNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, store.ErrTaskExists), errors.Is(err, store.ErrSubtaskExists):
		return fmt.Errorf("%w: %w", ErrConflict, err)
	case errors.Is(err, models.ErrInvalidPercent), errors.Is(err, models.ErrInvalidStatus),
		errors.Is(err, models.ErrIncompleteSuccess), errors.Is(err, models.ErrMissingReason),
		errors.Is(err, partition.ErrInvalidMaxLength), errors.Is(err, partition.ErrInvalidPartCount),
		errors.Is(err, partition.ErrTooManyParts), errors.Is(err, partition.ErrKeyspaceTooLarge):
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	default:
		return fmt.Errorf("%w: %w", ErrInternal, err)
	}
}
