//go:build darwin || windows || linux

package clip

import (
	"fmt"
	"log/slog"

	"golang.design/x/clipboard"

	"go.klb.dev/clipstash/internal/apperr"
	"go.klb.dev/clipstash/internal/imaging"
	"go.klb.dev/clipstash/internal/model"
)

type nativeBackend struct{}

// New returns the platform clipboard, or a Memory clipboard if the display
// environment is unavailable. clipboard.Init is called here rather than in
// init() so that CLI sub-commands that only talk to the daemon don't log
// spurious warnings on headless systems.
func New() Accessor {
	if err := clipboard.Init(); err != nil {
		slog.Warn("clipboard unavailable, using in-process clipboard", "err", err)
		return NewMemory()
	}
	return nativeBackend{}
}

func (nativeBackend) Name() string { return "system clipboard" }

// Read prefers text over image, matching what most applications put first
// when they offer both.
func (nativeBackend) Read() (model.Content, error) {
	if text := clipboard.Read(clipboard.FmtText); len(text) > 0 {
		return model.Text(text), nil
	}
	data := clipboard.Read(clipboard.FmtImage)
	if len(data) == 0 {
		return nil, nil
	}
	img, err := imaging.Decode(data)
	if err != nil {
		return nil, apperr.New(apperr.KindClipboard, "clipboard read", err)
	}
	return img, nil
}

func (nativeBackend) Write(c model.Content) error {
	switch v := c.(type) {
	case model.Text:
		clipboard.Write(clipboard.FmtText, []byte(v))
	case model.Image:
		data, err := imaging.Encode(v)
		if err != nil {
			return apperr.New(apperr.KindSerialization, "clipboard write", err)
		}
		clipboard.Write(clipboard.FmtImage, data)
	default:
		return apperr.New(apperr.KindClipboard, "clipboard write", fmt.Errorf("unsupported content %T", c))
	}
	return nil
}
