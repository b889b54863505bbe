// Package testsupport holds helpers shared by the package tests.
package testsupport

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"go.klb.dev/clipstash/internal/model"
)

// Eventually polls cond until it returns true or timeout elapses, then fails t.
func Eventually(t testing.TB, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met within %v", timeout)
		}
		time.Sleep(time.Millisecond)
	}
}

// Base is a fixed instant for building deterministic timestamps.
var Base = time.Date(2025, 3, 14, 15, 9, 26, 0, time.UTC)

// TextItem builds an unpinned text item captured offset after Base.
func TextItem(text string, offset time.Duration) model.Item {
	return model.Item{
		ID:        uuid.New(),
		Content:   model.Text(text),
		Timestamp: Base.Add(offset),
	}
}

// ImageItem builds an unpinned 2x2 RGBA item captured offset after Base.
func ImageItem(fill byte, offset time.Duration) model.Item {
	px := make([]byte, 2*2*4)
	for i := range px {
		px[i] = fill
	}
	return model.Item{
		ID: uuid.New(),
		Content: model.Image{
			Meta:   model.ImageMeta{Width: 2, Height: 2, BytesPerPixel: 4},
			Pixels: px,
		},
		Timestamp: Base.Add(offset),
	}
}

// Texts returns the text payload of each item, or "" for non-text items.
func Texts(items []model.Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		if s, ok := it.Content.(model.Text); ok {
			out[i] = string(s)
		}
	}
	return out
}
