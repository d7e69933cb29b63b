package store

import (
	"context"
	"errors"
	"testing"
)

func TestIsBusyError(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("SQLITE_BUSY: database is locked (5)"), true},
		{errors.New("database is locked"), true},
		{errors.New("no such table: assessments"), false},
	}
	for _, tc := range cases {
		if got := IsBusyError(tc.err); got != tc.want {
			t.Errorf("IsBusyError(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestWithRetryRecoversFromBusy(t *testing.T) {
	attempts := 0
	err := WithRetry(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("database is locked")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithRetry failed: %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestWithRetryStopsOnOtherErrors(t *testing.T) {
	attempts := 0
	wantErr := errors.New("constraint violation")
	err := WithRetry(context.Background(), func() error {
		attempts++
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestWithRetryGivesUpAfterMaxAttempts(t *testing.T) {
	attempts := 0
	err := WithRetry(context.Background(), func() error {
		attempts++
		return errors.New("database is locked")
	})
	if err == nil {
		t.Fatal("expected error after exhausted retries")
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}
