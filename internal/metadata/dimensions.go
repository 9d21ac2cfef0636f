package metadata

import (
	"bytes"
	"encoding/binary"
)

const (
	tagExifIFDPointer  = 0x8769
	tagPixelXDimension = 0xa002
	tagPixelYDimension = 0xa003

	tiffShort = 3
	tiffLong  = 4
)

// WithDimensions returns a copy whose Exif pixel dimensions describe a
// width x height re-encode. The raw Exif segment is patched in place, so
// offsets into it, maker notes included, stay valid.
func (m *Metadata) WithDimensions(width, height int) *Metadata {
	if m == nil {
		return nil
	}
	out := *m
	out.Exif = m.Exif.clone()
	out.segments = make([]Segment, len(m.segments))
	copy(out.segments, m.segments)

	for i, seg := range out.segments {
		if seg.Kind != SegmentExif {
			continue
		}
		if payload, ok := patchDimensions(seg.Payload, width, height); ok {
			out.segments[i].Payload = payload
		}
	}
	if _, ok := out.Exif["PixelXDimension"]; ok {
		out.Exif["PixelXDimension"] = width
	}
	if _, ok := out.Exif["PixelYDimension"]; ok {
		out.Exif["PixelYDimension"] = height
	}
	return &out
}

// patchDimensions rewrites the inline PixelXDimension and PixelYDimension
// values of an APP1 Exif payload. It reports false when neither tag was found.
func patchDimensions(payload []byte, width, height int) ([]byte, bool) {
	if !bytes.HasPrefix(payload, jpegExifHeader) {
		return nil, false
	}
	out := append([]byte(nil), payload...)
	tiff := out[len(jpegExifHeader):]
	if len(tiff) < 8 {
		return nil, false
	}

	var order binary.ByteOrder
	switch string(tiff[:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return nil, false
	}

	pointer, ok := findEntry(tiff, order, order.Uint32(tiff[4:8]), tagExifIFDPointer)
	if !ok {
		return nil, false
	}
	exifIFD := order.Uint32(tiff[pointer+8 : pointer+12])

	patched := false
	for _, dim := range []struct {
		tag   uint16
		value int
	}{{tagPixelXDimension, width}, {tagPixelYDimension, height}} {
		entry, ok := findEntry(tiff, order, exifIFD, dim.tag)
		if !ok || order.Uint32(tiff[entry+4:entry+8]) != 1 {
			continue
		}
		switch order.Uint16(tiff[entry+2 : entry+4]) {
		case tiffShort:
			if dim.value > 0xffff {
				continue
			}
			order.PutUint16(tiff[entry+8:], uint16(dim.value))
		case tiffLong:
			order.PutUint32(tiff[entry+8:], uint32(dim.value))
		default:
			continue
		}
		patched = true
	}
	if !patched {
		return nil, false
	}
	return out, true
}

// findEntry returns the offset of tag's 12-byte entry in the IFD at ifd
func findEntry(tiff []byte, order binary.ByteOrder, ifd uint32, tag uint16) (int, bool) {
	start := int(ifd)
	if start < 8 || start+2 > len(tiff) {
		return 0, false
	}
	count := int(order.Uint16(tiff[start : start+2]))
	for i := 0; i < count; i++ {
		entry := start + 2 + 12*i
		if entry+12 > len(tiff) {
			return 0, false
		}
		if order.Uint16(tiff[entry:entry+2]) == tag {
			return entry, true
		}
	}
	return 0, false
}
