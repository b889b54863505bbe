// Package imaging converts between the raw RGBA bitmaps kept in history and
// the PNG encoding the OS clipboard and HTTP clients exchange.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	"golang.org/x/image/draw"

	"go.klb.dev/clipstash/internal/model"
)

// BytesPerPixel is the pixel size of every bitmap produced by this package
// (non-premultiplied RGBA).
const BytesPerPixel = 4

// Decode converts PNG data into a raw RGBA bitmap.
func Decode(data []byte) (model.Image, error) {
	src, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return model.Image{}, fmt.Errorf("decode png: %w", err)
	}
	return fromImage(src), nil
}

// Encode converts a raw bitmap to PNG. Only 4 bytes per pixel is supported.
func Encode(img model.Image) ([]byte, error) {
	nrgba, err := toNRGBA(img)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, nrgba); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// Thumbnail scales img down to fit within maxW x maxH, keeping the aspect
// ratio. Images that already fit are returned unchanged.
func Thumbnail(img model.Image, maxW, maxH uint) (model.Image, error) {
	w, h := img.Meta.Width, img.Meta.Height
	if maxW == 0 || maxH == 0 || (w <= maxW && h <= maxH) {
		return img, nil
	}
	src, err := toNRGBA(img)
	if err != nil {
		return model.Image{}, err
	}

	ratio := min(float64(maxW)/float64(w), float64(maxH)/float64(h))
	nw := max(1, int(float64(w)*ratio))
	nh := max(1, int(float64(h)*ratio))

	dst := image.NewNRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return fromImage(dst), nil
}

func toNRGBA(img model.Image) (*image.NRGBA, error) {
	if img.Meta.BytesPerPixel != BytesPerPixel {
		return nil, fmt.Errorf("unsupported bytes per pixel: %d", img.Meta.BytesPerPixel)
	}
	if !img.Valid() {
		return nil, fmt.Errorf("pixel buffer is %d bytes, want %dx%dx%d",
			len(img.Pixels), img.Meta.Width, img.Meta.Height, img.Meta.BytesPerPixel)
	}
	w, h := int(img.Meta.Width), int(img.Meta.Height)
	return &image.NRGBA{
		Pix:    img.Pixels,
		Stride: w * BytesPerPixel,
		Rect:   image.Rect(0, 0, w, h),
	}, nil
}

func fromImage(src image.Image) model.Image {
	b := src.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	return model.Image{
		Meta: model.ImageMeta{
			Width:         uint(b.Dx()),
			Height:        uint(b.Dy()),
			BytesPerPixel: BytesPerPixel,
		},
		Pixels: dst.Pix,
	}
}
