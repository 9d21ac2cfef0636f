package metadata

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// SegmentKind identifies a metadata-bearing JPEG application segment.
type SegmentKind int

const (
	SegmentExif SegmentKind = iota + 1
	SegmentXMP
	SegmentICC
	SegmentPhotoshop
)

func (k SegmentKind) String() string {
	switch k {
	case SegmentExif:
		return "exif"
	case SegmentXMP:
		return "xmp"
	case SegmentICC:
		return "icc"
	case SegmentPhotoshop:
		return "photoshop"
	default:
		return "unknown"
	}
}

var (
	jpegExifHeader = []byte("Exif\x00\x00")
	jpegXmpHeader  = []byte("http://ns.adobe.com/xap/1.0/\x00")
	jpegPhotoshop  = []byte("Photoshop 3.0\x00")
	jpegICCHeader  = []byte("ICC_PROFILE\x00")
)

// ErrNotJPEG is returned when bytes do not start with a JPEG SOI marker
var ErrNotJPEG = errors.New("not a JPEG stream")

// Segment is one APPn segment payload (without marker and length).
type Segment struct {
	Kind    SegmentKind
	Marker  byte
	Payload []byte
}

// ScanSegments walks the JPEG header up to the first SOS marker and returns
// the metadata segments in file order.
func ScanSegments(data []byte) ([]Segment, error) {
	if len(data) < 4 || data[0] != 0xff || data[1] != 0xd8 {
		return nil, ErrNotJPEG
	}

	var segments []Segment
	pos := 2
	for pos < len(data) {
		if data[pos] != 0xff {
			pos++
			continue
		}
		// skip fill bytes
		for pos < len(data) && data[pos] == 0xff {
			pos++
		}
		if pos >= len(data) {
			break
		}
		marker := data[pos]
		pos++

		if marker == 0xd9 || marker == 0xda { // EOI, SOS
			break
		}
		if marker == 0x01 || (marker >= 0xd0 && marker <= 0xd7) {
			continue
		}

		if pos+2 > len(data) {
			return nil, fmt.Errorf("truncated JPEG segment length")
		}
		segLen := int(binary.BigEndian.Uint16(data[pos : pos+2]))
		if segLen < 2 {
			return nil, fmt.Errorf("invalid JPEG segment length")
		}
		end := pos + segLen
		if end > len(data) {
			return nil, fmt.Errorf("truncated JPEG segment")
		}
		payload := data[pos+2 : end]
		pos = end

		if kind := classifySegment(marker, payload); kind != 0 {
			segments = append(segments, Segment{
				Kind:    kind,
				Marker:  marker,
				Payload: append([]byte(nil), payload...),
			})
		}
	}

	return segments, nil
}

func classifySegment(marker byte, payload []byte) SegmentKind {
	switch marker {
	case 0xe1:
		if bytes.HasPrefix(payload, jpegExifHeader) {
			return SegmentExif
		}
		if bytes.HasPrefix(payload, jpegXmpHeader) {
			return SegmentXMP
		}
	case 0xe2:
		if bytes.HasPrefix(payload, jpegICCHeader) {
			return SegmentICC
		}
	case 0xed:
		if bytes.HasPrefix(payload, jpegPhotoshop) {
			return SegmentPhotoshop
		}
	}
	return 0
}

// InsertSegments writes segments directly after the SOI marker of jpeg.
// Segments of a kind already present in jpeg replace the existing ones.
func InsertSegments(jpeg []byte, segments []Segment) ([]byte, error) {
	if len(jpeg) < 2 || jpeg[0] != 0xff || jpeg[1] != 0xd8 {
		return nil, ErrNotJPEG
	}
	if len(segments) == 0 {
		return jpeg, nil
	}

	replace := make(map[SegmentKind]bool, len(segments))
	var out bytes.Buffer
	out.Grow(len(jpeg) + 1024)
	out.Write([]byte{0xff, 0xd8})

	for _, seg := range segments {
		if len(seg.Payload)+2 > 0xffff {
			return nil, fmt.Errorf("%s segment too large: %d bytes", seg.Kind, len(seg.Payload))
		}
		replace[seg.Kind] = true
		out.Write([]byte{0xff, seg.Marker})
		var lenBuf [2]byte
		binary.BigEndian.PutUint16(lenBuf[:], uint16(len(seg.Payload)+2))
		out.Write(lenBuf[:])
		out.Write(seg.Payload)
	}

	rest, err := dropSegments(jpeg[2:], replace)
	if err != nil {
		return nil, err
	}
	out.Write(rest)
	return out.Bytes(), nil
}

// dropSegments copies body (everything after SOI) without the header
// segments whose kind is in drop.
func dropSegments(body []byte, drop map[SegmentKind]bool) ([]byte, error) {
	var out bytes.Buffer
	pos := 0
	for pos+4 <= len(body) && body[pos] == 0xff {
		marker := body[pos+1]
		if marker == 0xda || marker == 0xd9 || marker < 0xc0 {
			break
		}
		segLen := int(binary.BigEndian.Uint16(body[pos+2 : pos+4]))
		end := pos + 2 + segLen
		if segLen < 2 || end > len(body) {
			return nil, fmt.Errorf("invalid JPEG segment length")
		}
		if !drop[classifySegment(marker, body[pos+4:end])] {
			out.Write(body[pos:end])
		}
		pos = end
	}
	out.Write(body[pos:])
	return out.Bytes(), nil
}
