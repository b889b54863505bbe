package imaging_test

import (
	"bytes"
	"testing"

	"go.klb.dev/clipstash/internal/imaging"
	"go.klb.dev/clipstash/internal/model"
)

func solid(w, h uint, rgba [4]byte) model.Image {
	px := make([]byte, 0, w*h*4)
	for i := uint(0); i < w*h; i++ {
		px = append(px, rgba[:]...)
	}
	return model.Image{Meta: model.ImageMeta{Width: w, Height: h, BytesPerPixel: 4}, Pixels: px}
}

func TestEncodeDecodePreservesPixels(t *testing.T) {
	src := solid(3, 2, [4]byte{10, 20, 30, 255})
	src.Pixels[0] = 99

	data, err := imaging.Encode(src)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	got, err := imaging.Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if got.Meta != src.Meta {
		t.Fatalf("meta = %+v, want %+v", got.Meta, src.Meta)
	}
	if !bytes.Equal(got.Pixels, src.Pixels) {
		t.Fatal("decoded pixels differ from source")
	}
}

func TestEncodeRejectsBadBitmaps(t *testing.T) {
	if _, err := imaging.Encode(model.Image{Meta: model.ImageMeta{Width: 1, Height: 1, BytesPerPixel: 3}, Pixels: []byte{1, 2, 3}}); err == nil {
		t.Fatal("expected error for 3 bytes per pixel")
	}
	short := solid(2, 2, [4]byte{})
	short.Pixels = short.Pixels[:4]
	if _, err := imaging.Encode(short); err == nil {
		t.Fatal("expected error for short pixel buffer")
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := imaging.Decode([]byte("not a png")); err == nil {
		t.Fatal("expected error")
	}
}

func TestThumbnail(t *testing.T) {
	src := solid(400, 100, [4]byte{1, 2, 3, 255})

	thumb, err := imaging.Thumbnail(src, 100, 100)
	if err != nil {
		t.Fatalf("Thumbnail failed: %v", err)
	}
	if thumb.Meta.Width != 100 || thumb.Meta.Height != 25 {
		t.Fatalf("thumbnail is %dx%d, want 100x25", thumb.Meta.Width, thumb.Meta.Height)
	}
	if !thumb.Valid() {
		t.Fatal("thumbnail pixel buffer is inconsistent")
	}

	same, err := imaging.Thumbnail(src, 800, 800)
	if err != nil {
		t.Fatalf("Thumbnail failed: %v", err)
	}
	if same.Meta != src.Meta {
		t.Fatalf("image that fits should be unchanged, got %+v", same.Meta)
	}
}
