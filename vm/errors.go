package vm

import (
	"errors"
	"fmt"
)

// ErrorCode represents different types of memory manager errors
type ErrorCode int

const (
	// Generic errors
	ErrCodeUnknown ErrorCode = iota
	ErrCodeInternal

	// Address space errors
	ErrCodeAddressOutOfRange
	ErrCodeInsufficientMemory
	ErrCodeFragmentedImage

	// Swap errors
	ErrCodeSwapShortIO
	ErrCodeSwapCorrupted
	ErrCodeSwapIO

	// Configuration errors
	ErrCodeInvalidConfig
)

// VMError represents a memory manager error with context
type VMError struct {
	Code    ErrorCode
	Message string
	Op      string // Operation that failed
	Err     error  // Underlying error (if any)
}

// Error implements the error interface
func (e *VMError) Error() string {
	if e.Op != "" {
		if e.Err != nil {
			return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
		}
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *VMError) Unwrap() error {
	return e.Err
}

// Is checks if the error matches a specific error code
func (e *VMError) Is(target error) bool {
	if t, ok := target.(*VMError); ok {
		return e.Code == t.Code
	}
	return false
}

// NewVMError creates a new memory manager error
func NewVMError(code ErrorCode, op, message string, err error) *VMError {
	return &VMError{
		Code:    code,
		Message: message,
		Op:      op,
		Err:     err,
	}
}

func ErrAddressOutOfRange(op string, vaddr, limit int) *VMError {
	return NewVMError(
		ErrCodeAddressOutOfRange,
		op,
		fmt.Sprintf("virtual address %#x outside address space of %d bytes", vaddr, limit),
		nil,
	)
}

func ErrInsufficientMemory(op string, need, free int) *VMError {
	return NewVMError(
		ErrCodeInsufficientMemory,
		op,
		fmt.Sprintf("need %d physical pages, %d free", need, free),
		nil,
	)
}

func ErrFragmentedImage(op, section string, firstVPN, expected int) *VMError {
	return NewVMError(
		ErrCodeFragmentedImage,
		op,
		fmt.Sprintf("section %s starts at page %d, expected %d", section, firstVPN, expected),
		nil,
	)
}

func ErrSwapShortIO(op string, slot, got, want int) *VMError {
	return NewVMError(
		ErrCodeSwapShortIO,
		op,
		fmt.Sprintf("slot %d transferred %d of %d bytes", slot, got, want),
		nil,
	)
}

func ErrSwapCorrupted(op string, slot int, err error) *VMError {
	return NewVMError(
		ErrCodeSwapCorrupted,
		op,
		fmt.Sprintf("slot %d is corrupted", slot),
		err,
	)
}

func ErrSwapIO(op string, err error) *VMError {
	return NewVMError(
		ErrCodeSwapIO,
		op,
		"backing store operation failed",
		err,
	)
}

func ErrInvalidConfig(op, message string) *VMError {
	return NewVMError(ErrCodeInvalidConfig, op, message, nil)
}

// IsErrorCode checks if an error has a specific error code
func IsErrorCode(err error, code ErrorCode) bool {
	var ve *VMError
	if errors.As(err, &ve) {
		return ve.Code == code
	}
	return false
}

// GetErrorCode returns the error code from an error, or ErrCodeUnknown
func GetErrorCode(err error) ErrorCode {
	var ve *VMError
	if errors.As(err, &ve) {
		return ve.Code
	}
	return ErrCodeUnknown
}
