package verrors

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsTransient(t *testing.T) {
	if IsTransient(nil) {
		t.Error("nil must not be transient")
	}
	if !IsTransient(ErrPartitionNotFound) {
		t.Error("ErrPartitionNotFound must be transient")
	}
	wrapped := fmt.Errorf("retrigger: %w", WrapTransient(ErrPartitionNotFound))
	if !IsTransient(wrapped) {
		t.Error("wrapped transient error must still be transient")
	}
	if IsTransient(ErrProtocolViolation) {
		t.Error("ErrProtocolViolation must not be transient")
	}
}

func TestTransientUnwrap(t *testing.T) {
	err := WrapTransient(ErrPartitionNotFound)
	if !errors.Is(err, ErrPartitionNotFound) {
		t.Error("transient wrapper must unwrap to the underlying sentinel")
	}
}
