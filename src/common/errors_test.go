package common

import (
	"testing"

	"github.com/pkg/errors"
)

func TestIsKind(t *testing.T) {
	err := NewErr(Timing, "dag", "drift too large")

	if !IsKind(err, Timing) {
		t.Fatalf("expected Timing")
	}
	if IsKind(err, Validation) {
		t.Fatalf("did not expect Validation")
	}

	wrapped := errors.Wrap(err, "adding block")
	if !IsKind(wrapped, Timing) {
		t.Fatalf("IsKind should see through errors.Wrap")
	}

	if IsKind(errors.New("plain"), Timing) || IsKind(nil, Timing) {
		t.Fatalf("plain and nil errors have no kind")
	}
}

func TestIsStore(t *testing.T) {
	err := errors.Wrap(NewStoreErr("Block", KeyNotFound, "abc"), "loading")
	if !IsStore(err, KeyNotFound) {
		t.Fatalf("expected KeyNotFound")
	}
	if IsStore(err, Empty) {
		t.Fatalf("did not expect Empty")
	}
}
