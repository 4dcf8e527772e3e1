// Package errs defines the error kinds shared by the billing domains.
//
// Domain packages declare their own snake_case sentinels and mark them with
// one of the kinds below, so transport layers can classify errors without
// importing every domain:
//
//	ErrInvoiceNotFound = errs.Mark(errors.New("invoice_not_found"), errs.ErrNotFound)
package errs

import (
	"github.com/cockroachdb/errors"
)

var (
	ErrNotFound          = errors.New("not_found")
	ErrInvalidState      = errors.New("invalid_state")
	ErrValidation        = errors.New("validation_error")
	ErrTransientExternal = errors.New("transient_external")
	ErrDuplicate         = errors.New("duplicate")
)

// Mark tags err with the given kind while keeping its own identity.
func Mark(err error, kind error) error {
	return errors.Mark(err, kind)
}

// Kind returns the kind err was marked with, or nil.
func Kind(err error) error {
	if err == nil {
		return nil
	}
	for _, kind := range []error{
		ErrNotFound,
		ErrInvalidState,
		ErrValidation,
		ErrTransientExternal,
		ErrDuplicate,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

func IsNotFound(err error) bool          { return errors.Is(err, ErrNotFound) }
func IsInvalidState(err error) bool      { return errors.Is(err, ErrInvalidState) }
func IsValidation(err error) bool        { return errors.Is(err, ErrValidation) }
func IsTransientExternal(err error) bool { return errors.Is(err, ErrTransientExternal) }
func IsDuplicate(err error) bool         { return errors.Is(err, ErrDuplicate) }
