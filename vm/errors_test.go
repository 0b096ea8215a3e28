package vm

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestVMError(t *testing.T) {
	err := NewVMError(ErrCodeInternal, "register", "process 3 already has an address space", nil)

	if err.Code != ErrCodeInternal {
		t.Errorf("Expected error code %d, got %d", ErrCodeInternal, err.Code)
	}

	expected := "register: process 3 already has an address space"
	if err.Error() != expected {
		t.Errorf("Expected error message '%s', got '%s'", expected, err.Error())
	}
}

func TestVMErrorWithUnderlying(t *testing.T) {
	underlying := fmt.Errorf("device not ready")
	err := ErrSwapIO("WriteSlot", underlying)

	if errors.Unwrap(err) != underlying {
		t.Error("Unwrap did not return underlying error")
	}

	expected := "WriteSlot: backing store operation failed: device not ready"
	if err.Error() != expected {
		t.Errorf("Expected error message '%s', got '%s'", expected, err.Error())
	}
}

func TestErrorHelpers(t *testing.T) {
	tests := []struct {
		name     string
		err      *VMError
		code     ErrorCode
		contains string
	}{
		{
			name:     "AddressOutOfRange",
			err:      ErrAddressOutOfRange("test", 0x400, 1024),
			code:     ErrCodeAddressOutOfRange,
			contains: "0x400",
		},
		{
			name:     "InsufficientMemory",
			err:      ErrInsufficientMemory("test", 9, 2),
			code:     ErrCodeInsufficientMemory,
			contains: "need 9 physical pages, 2 free",
		},
		{
			name:     "FragmentedImage",
			err:      ErrFragmentedImage("test", ".data", 4, 2),
			code:     ErrCodeFragmentedImage,
			contains: "section .data starts at page 4, expected 2",
		},
		{
			name:     "SwapShortIO",
			err:      ErrSwapShortIO("test", 5, 100, 1024),
			code:     ErrCodeSwapShortIO,
			contains: "slot 5 transferred 100 of 1024 bytes",
		},
		{
			name:     "SwapCorrupted",
			err:      ErrSwapCorrupted("test", 1, errors.New("checksum mismatch")),
			code:     ErrCodeSwapCorrupted,
			contains: "checksum mismatch",
		},
		{
			name:     "InvalidConfig",
			err:      ErrInvalidConfig("test", "page size must be positive"),
			code:     ErrCodeInvalidConfig,
			contains: "page size must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.code {
				t.Errorf("Expected code %d, got %d", tt.code, tt.err.Code)
			}
			if !strings.Contains(tt.err.Error(), tt.contains) {
				t.Errorf("Expected error to contain '%s', got '%s'", tt.contains, tt.err.Error())
			}
		})
	}
}

func TestErrorCodeChecks(t *testing.T) {
	err := fmt.Errorf("fault handler: %w", ErrAddressOutOfRange("HandlePageFault", -1, 64))

	if !IsErrorCode(err, ErrCodeAddressOutOfRange) {
		t.Error("IsErrorCode should see through wrapping")
	}
	if IsErrorCode(err, ErrCodeSwapIO) {
		t.Error("IsErrorCode matched the wrong code")
	}
	if GetErrorCode(err) != ErrCodeAddressOutOfRange {
		t.Errorf("Expected code %d, got %d", ErrCodeAddressOutOfRange, GetErrorCode(err))
	}
	if GetErrorCode(errors.New("plain")) != ErrCodeUnknown {
		t.Error("Plain errors should report ErrCodeUnknown")
	}

	target := &VMError{Code: ErrCodeAddressOutOfRange}
	if !errors.Is(err, target) {
		t.Error("errors.Is should match on code")
	}
}
