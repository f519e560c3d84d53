package api

import (
	"context"
	"errors"
	"fmt"

	"connectrpc.com/connect"

	"github.com/mmynk/walktracker/internal/models"
)

// Error metadata keys carrying the rejected field of a validation error.
const (
	fieldKey  = "Walk-Invalid-Field"
	reasonKey = "Walk-Invalid-Reason"
)

// ToConnectError maps a gateway error to a connect error with the matching
// code. Errors that already carry a code pass through unchanged.
func ToConnectError(err error) error {
	if err == nil {
		return nil
	}

	var ce *connect.Error
	if errors.As(err, &ce) {
		return err
	}

	switch {
	case errors.Is(err, models.ErrValidation):
		ce = connect.NewError(connect.CodeInvalidArgument, err)
		var ve *models.ValidationError
		if errors.As(err, &ve) {
			ce.Meta().Set(fieldKey, ve.Field)
			ce.Meta().Set(reasonKey, ve.Reason)
		}
		return ce
	case errors.Is(err, models.ErrNotFound):
		return connect.NewError(connect.CodeNotFound, err)
	case errors.Is(err, models.ErrConflict):
		return connect.NewError(connect.CodeAborted, err)
	case errors.Is(err, context.Canceled):
		return connect.NewError(connect.CodeCanceled, err)
	case errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	default:
		return connect.NewError(connect.CodeInternal, err)
	}
}

// FromConnectError maps an RPC error back onto the models error taxonomy so
// callers can match it with errors.Is.
func FromConnectError(err error) error {
	if err == nil {
		return nil
	}

	var ce *connect.Error
	if !errors.As(err, &ce) {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return fmt.Errorf("%w: %v", models.ErrTransport, err)
	}

	switch ce.Code() {
	case connect.CodeInvalidArgument:
		if field := ce.Meta().Get(fieldKey); field != "" {
			return models.NewValidationError(field, ce.Meta().Get(reasonKey))
		}
		return fmt.Errorf("%w: %s", models.ErrValidation, ce.Message())
	case connect.CodeNotFound:
		return fmt.Errorf("%w: %s", models.ErrNotFound, ce.Message())
	case connect.CodeAborted:
		return fmt.Errorf("%w: %s", models.ErrConflict, ce.Message())
	case connect.CodeCanceled:
		return fmt.Errorf("%w: %w", context.Canceled, err)
	case connect.CodeDeadlineExceeded:
		return fmt.Errorf("%w: %w", context.DeadlineExceeded, err)
	case connect.CodeUnavailable, connect.CodeUnknown:
		return fmt.Errorf("%w: %s", models.ErrTransport, ce.Message())
	default:
		return err
	}
}
