package metadata

import (
	"bytes"
	"encoding/binary"
	"strings"
	"unicode/utf16"
)

// iccDescription returns the profile description from the first chunk of an
// APP2 ICC_PROFILE segment. Profiles split across several chunks usually keep
// the tag table and description in the first one.
func iccDescription(payload []byte) string {
	profile := bytes.TrimPrefix(payload, jpegICCHeader)
	if len(profile) < 2 {
		return ""
	}
	profile = profile[2:] // chunk sequence number and count
	if len(profile) < 132 {
		return ""
	}

	count := int(binary.BigEndian.Uint32(profile[128:132]))
	for i := 0; i < count; i++ {
		entry := 132 + i*12
		if entry+12 > len(profile) {
			return ""
		}
		if string(profile[entry:entry+4]) != "desc" {
			continue
		}
		offset := int(binary.BigEndian.Uint32(profile[entry+4 : entry+8]))
		size := int(binary.BigEndian.Uint32(profile[entry+8 : entry+12]))
		if offset < 0 || size < 12 || offset+size > len(profile) {
			return ""
		}
		return decodeDescTag(profile[offset : offset+size])
	}
	return ""
}

func decodeDescTag(tag []byte) string {
	switch string(tag[:4]) {
	case "desc":
		n := int(binary.BigEndian.Uint32(tag[8:12]))
		if n <= 0 || 12+n > len(tag) {
			return ""
		}
		return strings.TrimRight(string(tag[12:12+n]), "\x00")
	case "mluc":
		if len(tag) < 28 {
			return ""
		}
		// first localized record
		length := int(binary.BigEndian.Uint32(tag[20:24]))
		offset := int(binary.BigEndian.Uint32(tag[24:28]))
		if offset+length > len(tag) || length%2 != 0 {
			return ""
		}
		units := make([]uint16, length/2)
		for i := range units {
			units[i] = binary.BigEndian.Uint16(tag[offset+2*i:])
		}
		return strings.TrimRight(string(utf16.Decode(units)), "\x00")
	default:
		return ""
	}
}
