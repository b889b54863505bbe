// Package model defines clipboard history items and their payloads.
//
// Content is a closed set: Text and Image are the only implementations, and
// every consumer switches over both. Adding a kind means revisiting Equal,
// Item.Matches, Item.Preview and the store codec.
package model

import (
	"bytes"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
)

// Kind names a content variant.
type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
)

// Content is a clipboard payload.
type Content interface {
	Kind() Kind
	content()
}

// Text is a plain-text payload.
type Text string

func (Text) Kind() Kind { return KindText }
func (Text) content()   {}

// ImageMeta describes the layout of Image.Pixels.
type ImageMeta struct {
	Width         uint
	Height        uint
	BytesPerPixel uint
}

// Image is a raw bitmap payload, row-major with no padding between rows.
type Image struct {
	Meta   ImageMeta
	Pixels []byte
}

func (Image) Kind() Kind { return KindImage }
func (Image) content()   {}

// Valid reports whether Pixels has exactly Width*Height*BytesPerPixel bytes.
func (img Image) Valid() bool {
	m := img.Meta
	return m.Width > 0 && m.Height > 0 && m.BytesPerPixel > 0 &&
		uint(len(img.Pixels)) == m.Width*m.Height*m.BytesPerPixel
}

// value maps *Text and *Image, which satisfy Content through the value
// methods, to what they point at. A nil pointer becomes nil.
func value(c Content) Content {
	switch p := c.(type) {
	case *Text:
		if p == nil {
			return nil
		}
		return *p
	case *Image:
		if p == nil {
			return nil
		}
		return *p
	}
	return c
}

// Equal reports whether a and b hold structurally identical payloads.
// Different kinds are never equal; two nil contents are. Pointers compare by
// what they point at, and any other implementation is unequal to everything.
func Equal(a, b Content) bool {
	a, b = value(a), value(b)
	switch x := a.(type) {
	case nil:
		return b == nil
	case Text:
		y, ok := b.(Text)
		return ok && x == y
	case Image:
		y, ok := b.(Image)
		return ok && x.Meta == y.Meta && bytes.Equal(x.Pixels, y.Pixels)
	default:
		return false
	}
}

// Clone returns a copy of c that shares no memory with it. Pointers clone to
// values; any other implementation clones to nil.
func Clone(c Content) Content {
	switch x := value(c).(type) {
	case nil:
		return nil
	case Text:
		return x
	case Image:
		return Image{Meta: x.Meta, Pixels: bytes.Clone(x.Pixels)}
	default:
		return nil
	}
}

// Item is one captured clipboard snapshot. ID, Content and Timestamp never
// change after creation; Pinned is toggled by the user.
type Item struct {
	ID        uuid.UUID
	Content   Content
	Timestamp time.Time
	Pinned    bool
}

// NewItem wraps content in a fresh, unpinned item stamped with now in UTC.
func NewItem(content Content, now time.Time) Item {
	return Item{
		ID:        uuid.New(),
		Content:   content,
		Timestamp: now.UTC(),
	}
}

// Clone returns an independent snapshot of it.
func (it Item) Clone() Item {
	it.Content = Clone(it.Content)
	return it
}

// Equal reports whether two items have the same identity, payload, timestamp
// and pin state.
func (it Item) Equal(other Item) bool {
	return it.ID == other.ID &&
		it.Pinned == other.Pinned &&
		it.Timestamp.Equal(other.Timestamp) &&
		Equal(it.Content, other.Content)
}

// Matches reports whether the item satisfies a search query. An empty query
// matches everything; text matches on a case-folded substring; images only
// match the empty query.
func (it Item) Matches(query string) bool {
	if query == "" {
		return true
	}
	switch c := value(it.Content).(type) {
	case Text:
		fold := cases.Fold()
		return strings.Contains(fold.String(string(c)), fold.String(query))
	case Image:
		return false
	default:
		return false
	}
}

const previewRunes = 50

// Preview is a one-line label for listings.
func (it Item) Preview() string {
	switch c := value(it.Content).(type) {
	case Text:
		s := strings.Join(strings.Fields(string(c)), " ")
		if utf8.RuneCountInString(s) <= previewRunes {
			return s
		}
		r := []rune(s)
		return string(r[:previewRunes-3]) + "..."
	case Image:
		return fmt.Sprintf("Image %dx%d", c.Meta.Width, c.Meta.Height)
	default:
		return ""
	}
}

// Size is the payload size in bytes.
func (it Item) Size() int {
	switch c := value(it.Content).(type) {
	case Text:
		return len(c)
	case Image:
		return len(c.Pixels)
	default:
		return 0
	}
}
