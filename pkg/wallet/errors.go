package wallet

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the wallet service.
var (
	ErrAccountNotFound      = errors.New("account not found")
	ErrAccountBlocked       = errors.New("account blocked")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrCodeNotFound         = errors.New("recharge code not found")
	ErrCodeAlreadyUsed      = errors.New("recharge code already used")
	ErrCodeExpired          = errors.New("recharge code expired")
	ErrProductNotFound      = errors.New("product not found")
	ErrOrderNotFound        = errors.New("order not found")
	ErrDuplicateReference   = errors.New("duplicate reference")
	ErrInvalidAccountID     = errors.New("invalid account id")
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrInvalidReference     = errors.New("invalid reference")
	ErrInvalidReply         = errors.New("invalid reply")
	ErrInvalidProduct       = errors.New("invalid product")
	ErrInvalidServiceConfig = errors.New("invalid service config")
	ErrStorage              = errors.New("storage unavailable")
)

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}
