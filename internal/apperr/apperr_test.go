package apperr_test

import (
	"errors"
	"fmt"
	"io/fs"
	"testing"

	"go.klb.dev/clipstash/internal/apperr"
)

func TestIsMatchesKind(t *testing.T) {
	err := apperr.New(apperr.KindStorage, "store get", errors.New("disk gone"))
	if !errors.Is(err, apperr.ErrStorage) {
		t.Fatalf("expected %v to match ErrStorage", err)
	}
	if errors.Is(err, apperr.ErrClipboard) {
		t.Fatalf("storage error must not match ErrClipboard")
	}
}

func TestWrappedCauseStillReachable(t *testing.T) {
	err := apperr.Errorf(apperr.KindIO, "create data dir", "mkdir: %w", fs.ErrPermission)
	wrapped := fmt.Errorf("open: %w", err)

	if !errors.Is(wrapped, fs.ErrPermission) {
		t.Fatalf("expected cause to be reachable through %v", wrapped)
	}
	if got := apperr.KindOf(wrapped); got != apperr.KindIO {
		t.Fatalf("KindOf = %v, want io", got)
	}
}

func TestKindOfPlainError(t *testing.T) {
	if got := apperr.KindOf(errors.New("boom")); got != apperr.KindUnknown {
		t.Fatalf("KindOf = %v, want unknown", got)
	}
}

func TestErrorString(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{apperr.New(apperr.KindConfig, "load config", errors.New("bad interval")), "load config: config error: bad interval"},
		{apperr.New(apperr.KindUnexpected, "", errors.New("xdotool missing")), "unexpected error: xdotool missing"},
		{apperr.New(apperr.KindClipboard, "clipboard read", nil), "clipboard read: clipboard error"},
	}
	for _, tc := range cases {
		if got := tc.err.Error(); got != tc.want {
			t.Fatalf("Error() = %q, want %q", got, tc.want)
		}
	}
}
