package core

import (
	"errors"
	"fmt"
)

var (
	ErrConfiguration      = errors.New("configuration error")
	ErrResourceAllocation = errors.New("resource allocation error")
	ErrKernelCompilation  = errors.New("kernel compilation error")
)

// ConfigurationError reports a tile parameter that cannot produce a valid layout.
type ConfigurationError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s=%v: %s", e.Field, e.Value, e.Reason)
}

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

func NewConfigurationError(field string, value any, reason string) error {
	return &ConfigurationError{Field: field, Value: value, Reason: reason}
}

// ResourceAllocationError wraps a failed device buffer or image allocation.
type ResourceAllocationError struct {
	Label string
	Size  uint64
	Err   error
}

func (e *ResourceAllocationError) Error() string {
	return fmt.Sprintf("resource allocation error: %q (%d bytes): %v", e.Label, e.Size, e.Err)
}

func (e *ResourceAllocationError) Is(target error) bool { return target == ErrResourceAllocation }

func (e *ResourceAllocationError) Unwrap() error { return e.Err }

// KernelCompilationError carries the full compiler diagnostic for a kernel or pipeline.
type KernelCompilationError struct {
	Kernel     string
	Diagnostic string
	Err        error
}

func (e *KernelCompilationError) Error() string {
	if e.Diagnostic == "" {
		return fmt.Sprintf("kernel compilation error: %s: %v", e.Kernel, e.Err)
	}
	return fmt.Sprintf("kernel compilation error: %s: %s", e.Kernel, e.Diagnostic)
}

func (e *KernelCompilationError) Is(target error) bool { return target == ErrKernelCompilation }

func (e *KernelCompilationError) Unwrap() error { return e.Err }
