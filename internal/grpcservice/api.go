package grpcservice

import (
	"fmt"
	"time"

	"go.klb.dev/clipstash/internal/hub"
	"go.klb.dev/clipstash/internal/model"
)

// Item is the wire form of a history item. Pixels are only filled for full
// item reads; listings carry the image dimensions alone.
type Item struct {
	ID            string    `json:"id"`
	Kind          string    `json:"kind"`
	Text          string    `json:"text,omitempty"`
	Width         uint      `json:"width,omitempty"`
	Height        uint      `json:"height,omitempty"`
	BytesPerPixel uint      `json:"bytes_per_pixel,omitempty"`
	Pixels        []byte    `json:"pixels,omitempty"`
	Preview       string    `json:"preview"`
	Size          int       `json:"size"`
	Pinned        bool      `json:"pinned"`
	Timestamp     time.Time `json:"timestamp"`
}

// FromItem converts it to its wire form. Image pixels are included when full
// is set.
func FromItem(it model.Item, full bool) Item {
	out := Item{
		ID:        it.ID.String(),
		Kind:      string(it.Content.Kind()),
		Preview:   it.Preview(),
		Size:      it.Size(),
		Pinned:    it.Pinned,
		Timestamp: it.Timestamp,
	}
	switch c := it.Content.(type) {
	case model.Text:
		out.Text = string(c)
	case model.Image:
		out.Width = c.Meta.Width
		out.Height = c.Meta.Height
		out.BytesPerPixel = c.Meta.BytesPerPixel
		if full {
			out.Pixels = c.Pixels
		}
	}
	return out
}

// Content rebuilds the payload. Images need their pixels.
func (it Item) Content() (model.Content, error) {
	switch model.Kind(it.Kind) {
	case model.KindText:
		return model.Text(it.Text), nil
	case model.KindImage:
		img := model.Image{
			Meta:   model.ImageMeta{Width: it.Width, Height: it.Height, BytesPerPixel: it.BytesPerPixel},
			Pixels: it.Pixels,
		}
		if !img.Valid() {
			return nil, fmt.Errorf("item %s: image %dx%d has %d pixel bytes", it.ID, it.Width, it.Height, len(it.Pixels))
		}
		return img, nil
	default:
		return nil, fmt.Errorf("item %s: unknown kind %q", it.ID, it.Kind)
	}
}

// ListRequest filters the history. Fuzzy ranks text items by subsequence
// match instead of filtering by substring.
type ListRequest struct {
	Query string `json:"query,omitempty"`
	Limit int    `json:"limit,omitempty"`
	Fuzzy bool   `json:"fuzzy,omitempty"`
}

type ListResponse struct {
	Items []Item `json:"items"`
}

// ItemRequest addresses one item by id or unique id prefix.
type ItemRequest struct {
	ID string `json:"id"`
}

// CaptureRequest adds content by hand. Exactly one of Text or PNG is set.
type CaptureRequest struct {
	Text *string `json:"text,omitempty"`
	PNG  []byte  `json:"png,omitempty"`
}

// PinRequest sets the pinned flag, or toggles it when Pinned is nil.
type PinRequest struct {
	ID     string `json:"id"`
	Pinned *bool  `json:"pinned,omitempty"`
}

type ClearResponse struct {
	Removed int `json:"removed"`
}

type SelectRequest struct {
	ID     string `json:"id"`
	Inject bool   `json:"inject,omitempty"`
}

type SelectResponse struct {
	Item     Item `json:"item"`
	Injected bool `json:"injected"`
}

type SetWatchingRequest struct {
	Watching bool `json:"watching"`
}

type Empty struct{}

type Subscriber struct {
	ID          string    `json:"id"`
	Source      string    `json:"source"`
	ConnectedAt time.Time `json:"connected_at"`
}

type StatusResponse struct {
	Version     string       `json:"version"`
	StartedAt   time.Time    `json:"started_at"`
	Total       int          `json:"total"`
	Pinned      int          `json:"pinned"`
	Watching    bool         `json:"watching"`
	Clipboard   string       `json:"clipboard"`
	Injector    string       `json:"injector"`
	DBPath      string       `json:"db_path"`
	PID         int          `json:"pid"`
	RSSBytes    uint64       `json:"rss_bytes,omitempty"`
	Subscribers []Subscriber `json:"subscribers"`
}

// WatchRequest opens an event stream. Replay delivers the most recent event
// first, if there is one.
type WatchRequest struct {
	Replay bool `json:"replay,omitempty"`
}

type WatchEvent struct {
	Kind    string    `json:"kind"`
	Item    *Item     `json:"item,omitempty"`
	Removed int       `json:"removed,omitempty"`
	At      time.Time `json:"at"`
}

func fromEvent(ev hub.Event) *WatchEvent {
	out := &WatchEvent{Kind: string(ev.Kind), Removed: ev.Removed, At: ev.At}
	if ev.Item != nil {
		it := FromItem(*ev.Item, false)
		out.Item = &it
	}
	return out
}
