package entry

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/mmynk/walktracker/internal/models"
)

// entryValidate checks the struct tags on models.Entry and models.User.
// Field names are reported by their JSON name.
var entryValidate *validator.Validate

func init() {
	entryValidate = validator.New(validator.WithRequiredStructEnabled())
	entryValidate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

// Validate checks every invariant of a persisted entry. It is the single
// check the gateway runs on the merged result of any mutation.
func Validate(e models.Entry) error {
	if err := validateFields(e); err != nil {
		return err
	}

	if e.Type != models.EntryType {
		return models.NewValidationError("type", fmt.Sprintf("must be %q", models.EntryType))
	}
	if e.StartTime.IsZero() {
		return models.NewValidationError("startTime", "is required")
	}
	if e.Mode == models.ModeAuto && e.Location != models.LocationOutside {
		return models.NewValidationError("location", "auto entries are always outside")
	}
	if e.Mode == models.ModeManual && e.Status != models.StatusCompleted {
		return models.NewValidationError("status", "manual entries are created completed")
	}

	wantEnd := e.Status == models.StatusCompleted && e.Location == models.LocationOutside
	switch {
	case wantEnd && e.EndTime == nil:
		return models.NewValidationError("endTime", "is required for completed outside entries")
	case !wantEnd && e.EndTime != nil:
		return models.NewValidationError("endTime", "is only kept for completed outside entries")
	}
	if e.EndTime != nil && e.EndTime.Before(e.StartTime) {
		return models.NewValidationError("endTime", "must not be before startTime")
	}

	seen := make(map[string]bool, len(e.Users))
	for _, u := range e.Users {
		if seen[u.Email] {
			return models.NewValidationError("users", fmt.Sprintf("duplicate user %s", u.Email))
		}
		seen[u.Email] = true
	}

	return nil
}

// ValidateUser checks a single user record.
func ValidateUser(u models.User) error {
	return validateFields(u)
}

func validateFields(v any) error {
	err := entryValidate.Struct(v)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return models.NewValidationError("entry", err.Error())
	}

	fe := fieldErrs[0]
	return models.NewValidationError(fieldPath(fe), reason(fe))
}

// fieldPath drops the root struct name from the validator namespace,
// e.g. "Entry.users[0].email" becomes "users[0].email".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func reason(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gte":
		return "must be >= " + fe.Param()
	case "oneof":
		return "must be one of " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "email":
		return "must be a valid email"
	default:
		return fmt.Sprintf("failed %q rule", fe.Tag())
	}
}
