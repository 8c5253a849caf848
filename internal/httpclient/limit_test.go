package httpclient

import (
	"errors"
	"strings"
	"testing"
)

func TestReadAllWithLimitUnderLimit(t *testing.T) {
	data, err := ReadAllWithLimit(strings.NewReader("hello"), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != "hello" {
		t.Fatalf("got %q", data)
	}
}

func TestReadAllWithLimitExceeded(t *testing.T) {
	_, err := ReadAllWithLimit(strings.NewReader("0123456789abc"), 10)
	var tooLarge ResponseTooLargeError
	if !errors.As(err, &tooLarge) {
		t.Fatalf("expected ResponseTooLargeError, got %v", err)
	}
	if tooLarge.Limit != 10 {
		t.Fatalf("limit = %d", tooLarge.Limit)
	}
}

func TestReadAllWithLimitZeroMeansUnbounded(t *testing.T) {
	data, err := ReadAllWithLimit(strings.NewReader(strings.Repeat("x", 4096)), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(data) != 4096 {
		t.Fatalf("len = %d", len(data))
	}
}
