package orm

import (
	"errors"
	"strings"

	"github.com/zeebo/errs"

	"realmdb/internal/store"
)

var (
	// SchemaError - противоречивое объявление; тип не обслуживается.
	SchemaError = errs.Class("schema error")
	// ConstraintViolation - плохие данные от вызывающего; ничего не записано.
	ConstraintViolation = errs.Class("constraint violation")
	// NotFound - строки с таким ключом нет.
	NotFound = errs.Class("not found")
	// StorageUnavailable - отказ хранилища; повторять решает вызывающий.
	StorageUnavailable = errs.Class("storage unavailable")
	// CascadeFailure - каскадное удаление не прошло и откачено целиком.
	CascadeFailure = errs.Class("cascade failure")
)

// Коды ошибок полей
const (
	ErrRequired        = "required"
	ErrUniqueViolation = "unique_violation"
	ErrTooLong         = "too_long"
	ErrNotAllowed      = "not_allowed"
)

// FieldError - проблема с одним полем (или набором полей для составного unique).
type FieldError struct {
	Code    string `json:"code"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

// FieldErrors - все проблемы одной записи.
type FieldErrors []FieldError

func (fe FieldErrors) Error() string {
	parts := make([]string, len(fe))
	for i, e := range fe {
		parts[i] = e.Field + ": " + e.Message
	}
	return strings.Join(parts, "; ")
}

// Has - есть ли ошибка с кодом code.
func (fe FieldErrors) Has(code string) bool {
	for _, e := range fe {
		if e.Code == code {
			return true
		}
	}
	return false
}

// Fields достаёт FieldErrors из ошибки движка.
func Fields(err error) (FieldErrors, bool) {
	var fe FieldErrors
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

func ferr(code, field, msg string) FieldError {
	return FieldError{Code: code, Field: field, Message: msg}
}

func violation(fe ...FieldError) error {
	return ConstraintViolation.Wrap(FieldErrors(fe))
}

// storageErr раскладывает ошибку хранилища по классам движка.
func storageErr(err error) error {
	switch {
	case err == nil:
		return nil
	case NotFound.Has(err), ConstraintViolation.Has(err), CascadeFailure.Has(err),
		SchemaError.Has(err), StorageUnavailable.Has(err):
		return err
	case store.ErrNotFound.Has(err):
		return NotFound.Wrap(err)
	case store.ErrDuplicate.Has(err):
		return violation(ferr(ErrUniqueViolation, "key", err.Error()))
	}
	return StorageUnavailable.Wrap(err)
}
