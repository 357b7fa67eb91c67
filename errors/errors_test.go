package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestCategoriesSurviveWrapping(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"not_found", WrapError(ErrNotFound, "load session"), IsNotFound},
		{"invalid_input", WrapErrorf(ErrInvalidInput, "file %q", "cat.txt"), IsInvalidInput},
		{"precondition", fmt.Errorf("%w: no active chat", ErrPrecondition), IsPrecondition},
		{"transport", WrapError(WrapError(ErrTransport, "inner"), "outer"), IsTransport},
		{"unavailable", WrapError(ErrServiceUnavailable, "upstream"), IsServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.check(tt.err) {
				t.Errorf("category lost for %v", tt.err)
			}
		})
	}
}

func TestWrapNil(t *testing.T) {
	if WrapError(nil, "ctx") != nil {
		t.Error("WrapError(nil) should be nil")
	}
	if WrapErrorf(nil, "ctx %d", 1) != nil {
		t.Error("WrapErrorf(nil) should be nil")
	}
}

func TestWrapMessage(t *testing.T) {
	err := WrapErrorf(errors.New("boom"), "send to %s", "chat-1")
	if got, want := err.Error(), "send to chat-1: boom"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestWithKind(t *testing.T) {
	err := WithKind(ErrPrecondition, "create a chat first")
	if err.Error() != "create a chat first" {
		t.Errorf("message = %q", err.Error())
	}
	if !IsPrecondition(err) || IsTransport(err) {
		t.Error("WithKind category mismatch")
	}
}
