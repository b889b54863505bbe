package store

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protowire"

	"go.klb.dev/clipstash/internal/model"
)

// Record layout: a 4-byte big-endian body length followed by the body in
// protobuf wire format. Unknown fields are skipped on decode.
//
//	1 id        bytes(16)
//	2 timestamp sint64 unix nanoseconds
//	3 pinned    bool
//	4 text      string   } exactly one
//	5 image     message  }
//
// image: 1 width, 2 height, 3 bytes_per_pixel (varint), 4 pixels (bytes).
const (
	fieldID        protowire.Number = 1
	fieldTimestamp protowire.Number = 2
	fieldPinned    protowire.Number = 3
	fieldText      protowire.Number = 4
	fieldImage     protowire.Number = 5

	imageWidth  protowire.Number = 1
	imageHeight protowire.Number = 2
	imageBPP    protowire.Number = 3
	imagePixels protowire.Number = 4

	lengthPrefix = 4
)

var errCorruptRecord = errors.New("corrupt record")

func encodeRecord(it model.Item) ([]byte, error) {
	body := make([]byte, 0, 48+it.Size())
	body = protowire.AppendTag(body, fieldID, protowire.BytesType)
	body = protowire.AppendBytes(body, it.ID[:])
	body = protowire.AppendTag(body, fieldTimestamp, protowire.VarintType)
	body = protowire.AppendVarint(body, protowire.EncodeZigZag(it.Timestamp.UnixNano()))
	if it.Pinned {
		body = protowire.AppendTag(body, fieldPinned, protowire.VarintType)
		body = protowire.AppendVarint(body, protowire.EncodeBool(true))
	}

	switch c := it.Content.(type) {
	case model.Text:
		body = protowire.AppendTag(body, fieldText, protowire.BytesType)
		body = protowire.AppendString(body, string(c))
	case model.Image:
		var img []byte
		img = protowire.AppendTag(img, imageWidth, protowire.VarintType)
		img = protowire.AppendVarint(img, uint64(c.Meta.Width))
		img = protowire.AppendTag(img, imageHeight, protowire.VarintType)
		img = protowire.AppendVarint(img, uint64(c.Meta.Height))
		img = protowire.AppendTag(img, imageBPP, protowire.VarintType)
		img = protowire.AppendVarint(img, uint64(c.Meta.BytesPerPixel))
		img = protowire.AppendTag(img, imagePixels, protowire.BytesType)
		img = protowire.AppendBytes(img, c.Pixels)
		body = protowire.AppendTag(body, fieldImage, protowire.BytesType)
		body = protowire.AppendBytes(body, img)
	default:
		return nil, fmt.Errorf("encode record %s: unsupported content %T", it.ID, it.Content)
	}

	out := make([]byte, lengthPrefix, lengthPrefix+len(body))
	binary.BigEndian.PutUint32(out, uint32(len(body)))
	return append(out, body...), nil
}

func decodeRecord(b []byte) (model.Item, error) {
	var it model.Item
	if len(b) < lengthPrefix {
		return it, fmt.Errorf("%w: %d bytes is shorter than the length prefix", errCorruptRecord, len(b))
	}
	n := binary.BigEndian.Uint32(b)
	body := b[lengthPrefix:]
	if uint64(len(body)) != uint64(n) {
		return it, fmt.Errorf("%w: length prefix %d, body %d bytes", errCorruptRecord, n, len(body))
	}

	var haveID, haveTS bool
	for len(body) > 0 {
		num, typ, tn := protowire.ConsumeTag(body)
		if tn < 0 {
			return it, fmt.Errorf("%w: %v", errCorruptRecord, protowire.ParseError(tn))
		}
		body = body[tn:]

		var vn int
		switch {
		case num == fieldID && typ == protowire.BytesType:
			var v []byte
			v, vn = protowire.ConsumeBytes(body)
			if vn >= 0 {
				id, err := uuid.FromBytes(v)
				if err != nil {
					return it, fmt.Errorf("%w: id: %v", errCorruptRecord, err)
				}
				it.ID, haveID = id, true
			}
		case num == fieldTimestamp && typ == protowire.VarintType:
			var v uint64
			v, vn = protowire.ConsumeVarint(body)
			it.Timestamp, haveTS = time.Unix(0, protowire.DecodeZigZag(v)).UTC(), true
		case num == fieldPinned && typ == protowire.VarintType:
			var v uint64
			v, vn = protowire.ConsumeVarint(body)
			it.Pinned = protowire.DecodeBool(v)
		case num == fieldText && typ == protowire.BytesType:
			var v string
			v, vn = protowire.ConsumeString(body)
			it.Content = model.Text(v)
		case num == fieldImage && typ == protowire.BytesType:
			var v []byte
			v, vn = protowire.ConsumeBytes(body)
			if vn >= 0 {
				img, err := decodeImage(v)
				if err != nil {
					return it, err
				}
				it.Content = img
			}
		default:
			vn = protowire.ConsumeFieldValue(num, typ, body)
		}
		if vn < 0 {
			return it, fmt.Errorf("%w: field %d: %v", errCorruptRecord, num, protowire.ParseError(vn))
		}
		body = body[vn:]
	}

	switch {
	case !haveID:
		return it, fmt.Errorf("%w: missing id", errCorruptRecord)
	case !haveTS:
		return it, fmt.Errorf("%w: missing timestamp", errCorruptRecord)
	case it.Content == nil:
		return it, fmt.Errorf("%w: missing content", errCorruptRecord)
	}
	return it, nil
}

func decodeImage(b []byte) (model.Image, error) {
	var img model.Image
	for len(b) > 0 {
		num, typ, tn := protowire.ConsumeTag(b)
		if tn < 0 {
			return img, fmt.Errorf("%w: image: %v", errCorruptRecord, protowire.ParseError(tn))
		}
		b = b[tn:]

		var vn int
		switch {
		case typ == protowire.VarintType && (num == imageWidth || num == imageHeight || num == imageBPP):
			var v uint64
			v, vn = protowire.ConsumeVarint(b)
			switch num {
			case imageWidth:
				img.Meta.Width = uint(v)
			case imageHeight:
				img.Meta.Height = uint(v)
			case imageBPP:
				img.Meta.BytesPerPixel = uint(v)
			}
		case num == imagePixels && typ == protowire.BytesType:
			var v []byte
			v, vn = protowire.ConsumeBytes(b)
			img.Pixels = bytes.Clone(v)
		default:
			vn = protowire.ConsumeFieldValue(num, typ, b)
		}
		if vn < 0 {
			return img, fmt.Errorf("%w: image field %d: %v", errCorruptRecord, num, protowire.ParseError(vn))
		}
		b = b[vn:]
	}
	return img, nil
}
