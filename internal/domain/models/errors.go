package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures surfaced by the regime service.
type ErrorKind string

const (
	KindValidation  ErrorKind = "validation"
	KindComputation ErrorKind = "computation"
	KindStorage     ErrorKind = "storage"
	KindDelivery    ErrorKind = "delivery"
	KindNotFound    ErrorKind = "not_found"
)

// RegimeError carries a kind and a message; Err is the optional cause.
type RegimeError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *RegimeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *RegimeError) Unwrap() error { return e.Err }

func NewValidationError(format string, args ...interface{}) *RegimeError {
	return &RegimeError{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func NewComputationError(msg string, err error) *RegimeError {
	return &RegimeError{Kind: KindComputation, Message: msg, Err: err}
}

func NewStorageError(msg string, err error) *RegimeError {
	return &RegimeError{Kind: KindStorage, Message: msg, Err: err}
}

func NewDeliveryError(channel string, err error) *RegimeError {
	return &RegimeError{Kind: KindDelivery, Message: "channel " + channel, Err: err}
}

func NewNotFoundError(format string, args ...interface{}) *RegimeError {
	return &RegimeError{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of the first RegimeError in err's chain, or "".
func KindOf(err error) ErrorKind {
	var re *RegimeError
	if errors.As(err, &re) {
		return re.Kind
	}
	return ""
}

func IsValidation(err error) bool  { return KindOf(err) == KindValidation }
func IsComputation(err error) bool { return KindOf(err) == KindComputation }
