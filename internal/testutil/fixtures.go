// Package testutil builds synthetic image fixtures for package tests.
package testutil

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"sort"
	"testing"
)

// Tag is one TIFF IFD entry.
type Tag struct {
	ID    uint16
	Type  uint16
	Count uint32
	Data  []byte
}

func ASCII(id uint16, s string) Tag {
	b := append([]byte(s), 0)
	return Tag{ID: id, Type: 2, Count: uint32(len(b)), Data: b}
}

func Short(id uint16, v uint16) Tag {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, v)
	return Tag{ID: id, Type: 3, Count: 1, Data: b}
}

func Long(id uint16, v uint32) Tag {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return Tag{ID: id, Type: 4, Count: 1, Data: b}
}

// Rational builds a RATIONAL entry from numerator/denominator pairs.
func Rational(id uint16, pairs ...[2]uint32) Tag {
	b := make([]byte, 8*len(pairs))
	for i, p := range pairs {
		binary.LittleEndian.PutUint32(b[8*i:], p[0])
		binary.LittleEndian.PutUint32(b[8*i+4:], p[1])
	}
	return Tag{ID: id, Type: 5, Count: uint32(len(pairs)), Data: b}
}

const (
	exifPointer = 0x8769
	gpsPointer  = 0x8825
)

// ExifTIFF builds a little-endian TIFF structure with IFD0 and optional
// Exif and GPS sub-IFDs.
func ExifTIFF(ifd0, exifIFD, gpsIFD []Tag) []byte {
	root := append([]Tag(nil), ifd0...)
	if len(exifIFD) > 0 {
		root = append(root, Long(exifPointer, 0))
	}
	if len(gpsIFD) > 0 {
		root = append(root, Long(gpsPointer, 0))
	}
	sortTags(root)
	exifIFD = sortTags(append([]Tag(nil), exifIFD...))
	gpsIFD = sortTags(append([]Tag(nil), gpsIFD...))

	rootOffset := uint32(8)
	exifOffset := rootOffset + ifdSize(root)
	gpsOffset := exifOffset
	if len(exifIFD) > 0 {
		gpsOffset += ifdSize(exifIFD)
	}
	for i := range root {
		switch root[i].ID {
		case exifPointer:
			root[i] = Long(exifPointer, exifOffset)
		case gpsPointer:
			root[i] = Long(gpsPointer, gpsOffset)
		}
	}

	var buf bytes.Buffer
	buf.Write([]byte{0x49, 0x49, 0x2a, 0x00})
	_ = binary.Write(&buf, binary.LittleEndian, rootOffset)
	writeIFD(&buf, root, rootOffset)
	if len(exifIFD) > 0 {
		writeIFD(&buf, exifIFD, exifOffset)
	}
	if len(gpsIFD) > 0 {
		writeIFD(&buf, gpsIFD, gpsOffset)
	}
	return buf.Bytes()
}

func sortTags(tags []Tag) []Tag {
	sort.Slice(tags, func(i, j int) bool { return tags[i].ID < tags[j].ID })
	return tags
}

func padded(n int) uint32 {
	if n%2 != 0 {
		n++
	}
	return uint32(n)
}

func ifdSize(tags []Tag) uint32 {
	size := uint32(2 + 12*len(tags) + 4)
	for _, t := range tags {
		if len(t.Data) > 4 {
			size += padded(len(t.Data))
		}
	}
	return size
}

func writeIFD(buf *bytes.Buffer, tags []Tag, start uint32) {
	dataOffset := start + uint32(2+12*len(tags)+4)
	_ = binary.Write(buf, binary.LittleEndian, uint16(len(tags)))

	var data bytes.Buffer
	for _, t := range tags {
		_ = binary.Write(buf, binary.LittleEndian, t.ID)
		_ = binary.Write(buf, binary.LittleEndian, t.Type)
		_ = binary.Write(buf, binary.LittleEndian, t.Count)
		if len(t.Data) <= 4 {
			var inline [4]byte
			copy(inline[:], t.Data)
			buf.Write(inline[:])
			continue
		}
		_ = binary.Write(buf, binary.LittleEndian, dataOffset)
		data.Write(t.Data)
		if len(t.Data)%2 != 0 {
			data.WriteByte(0)
		}
		dataOffset += padded(len(t.Data))
	}
	_ = binary.Write(buf, binary.LittleEndian, uint32(0))
	buf.Write(data.Bytes())
}

// Gradient returns a w x h RGBA image with a diagonal gradient.
func Gradient(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8((x * 255) / max(w, 1)),
				G: uint8((y * 255) / max(h, 1)),
				B: uint8(((x + y) * 255) / max(w+h, 1)),
				A: 0xff,
			})
		}
	}
	return img
}

// JPEG encodes a gradient of the given size at quality 95.
func JPEG(tb testing.TB, w, h int) []byte {
	tb.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, Gradient(w, h), &jpeg.Options{Quality: 95}); err != nil {
		tb.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

// PNG encodes a gradient of the given size.
func PNG(tb testing.TB, w, h int) []byte {
	tb.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, Gradient(w, h)); err != nil {
		tb.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

// WithSegment inserts an APPn segment right after the SOI marker.
func WithSegment(tb testing.TB, jpegData []byte, marker byte, payload []byte) []byte {
	tb.Helper()
	if len(jpegData) < 2 || jpegData[0] != 0xff || jpegData[1] != 0xd8 {
		tb.Fatalf("not a jpeg")
	}
	out := []byte{0xff, 0xd8, 0xff, marker}
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(payload)+2))
	out = append(out, lenBuf[:]...)
	out = append(out, payload...)
	return append(out, jpegData[2:]...)
}

// WithExif attaches a TIFF structure as an APP1 Exif segment.
func WithExif(tb testing.TB, jpegData, tiff []byte) []byte {
	tb.Helper()
	return WithSegment(tb, jpegData, 0xe1, append([]byte("Exif\x00\x00"), tiff...))
}

// IPTCDataset is one IIM record 2 entry.
type IPTCDataset struct {
	Number byte
	Value  string
}

// PhotoshopIPTC builds an APP13 payload holding an IPTC-NAA resource.
func PhotoshopIPTC(datasets ...IPTCDataset) []byte {
	var iim bytes.Buffer
	for _, ds := range datasets {
		iim.Write([]byte{0x1c, 0x02, ds.Number})
		_ = binary.Write(&iim, binary.BigEndian, uint16(len(ds.Value)))
		iim.WriteString(ds.Value)
	}

	var out bytes.Buffer
	out.WriteString("Photoshop 3.0\x00")
	out.WriteString("8BIM")
	_ = binary.Write(&out, binary.BigEndian, uint16(0x0404))
	out.Write([]byte{0x00, 0x00}) // empty pascal name, padded
	_ = binary.Write(&out, binary.BigEndian, uint32(iim.Len()))
	out.Write(iim.Bytes())
	if iim.Len()%2 != 0 {
		out.WriteByte(0)
	}
	return out.Bytes()
}

// ICCProfile builds a single-chunk APP2 payload whose profile carries a v2
// "desc" tag.
func ICCProfile(description string) []byte {
	text := append([]byte(description), 0)
	tag := make([]byte, 12+len(text))
	copy(tag, "desc")
	binary.BigEndian.PutUint32(tag[8:], uint32(len(text)))
	copy(tag[12:], text)

	const tagOffset = 128 + 4 + 12
	profile := make([]byte, tagOffset+len(tag))
	binary.BigEndian.PutUint32(profile[0:], uint32(len(profile)))
	copy(profile[36:], "acsp")
	binary.BigEndian.PutUint32(profile[128:], 1)
	copy(profile[132:], "desc")
	binary.BigEndian.PutUint32(profile[136:], tagOffset)
	binary.BigEndian.PutUint32(profile[140:], uint32(len(tag)))
	copy(profile[tagOffset:], tag)

	payload := append([]byte("ICC_PROFILE\x00"), 1, 1)
	return append(payload, profile...)
}
