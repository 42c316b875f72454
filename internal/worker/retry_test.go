package worker

import (
	"errors"
	"testing"
	"time"

	"github.com/heraldhq/herald/internal/types"
)

func TestBuildErrorHistoryFromDeliveryRows(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	errMsg1 := "connection refused"
	errMsg2 := "timeout"
	completed1 := t0.Add(time.Second)

	attempts := []types.Delivery{
		{Attempt: 1, CreatedAt: t0, CompletedAt: &completed1, Error: &errMsg1},
		{Attempt: 2, CreatedAt: t0.Add(time.Minute), Error: &errMsg2},
	}

	history := buildErrorHistory(attempts, errors.New("final attempt error"))

	if len(history) != 2 {
		t.Fatalf("len(history) = %d, want 2 (one entry per harvested delivery row)", len(history))
	}
	if history[0].Message != errMsg1 || !history[0].Timestamp.Equal(completed1) {
		t.Fatalf("history[0] = %+v, want message %q at %v", history[0], errMsg1, completed1)
	}
	if history[1].Message != errMsg2 {
		t.Fatalf("history[1].Message = %q, want %q", history[1].Message, errMsg2)
	}
}

func TestBuildErrorHistoryFallsBackWhenNoRowsLoaded(t *testing.T) {
	history := buildErrorHistory(nil, errors.New("boom"))
	if len(history) != 1 {
		t.Fatalf("len(history) = %d, want 1", len(history))
	}
	if history[0].Message != "boom" {
		t.Fatalf("history[0].Message = %q, want %q", history[0].Message, "boom")
	}
}
