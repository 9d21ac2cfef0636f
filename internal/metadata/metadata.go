package metadata

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"strings"

	"github.com/dsoprea/go-exif/v3"
	exifcommon "github.com/dsoprea/go-exif/v3/common"

	// decoders used by image.DecodeConfig
	_ "image/jpeg"
	_ "image/png"
)

// Property set keys
const (
	KeyExif        = "{Exif}"
	KeyGPS         = "{GPS}"
	KeyTIFF        = "{TIFF}"
	KeyIPTC        = "{IPTC}"
	KeyOrientation = "Orientation"
	KeyColorModel  = "ColorModel"
	KeyDPIWidth    = "DPIWidth"
	KeyDPIHeight   = "DPIHeight"
	KeyProfileName = "ProfileName"
	KeyPixelWidth  = "PixelWidth"
	KeyPixelHeight = "PixelHeight"
)

// ErrNotImage is returned when the input cannot be identified as an image
var ErrNotImage = errors.New("data is not a supported image")

// PropertyBag is a group of metadata tags keyed by tag name.
type PropertyBag map[string]any

// Metadata is the grouped metadata extracted from an encoded image.
type Metadata struct {
	Exif PropertyBag `json:"exif,omitempty"`
	GPS  PropertyBag `json:"gps,omitempty"`
	TIFF PropertyBag `json:"tiff,omitempty"`
	IPTC PropertyBag `json:"iptc,omitempty"`

	Orientation int     `json:"orientation,omitempty"`
	ColorModel  string  `json:"color_model,omitempty"`
	DPIWidth    float64 `json:"dpi_width,omitempty"`
	DPIHeight   float64 `json:"dpi_height,omitempty"`
	ProfileName string  `json:"profile_name,omitempty"`

	segments []Segment
}

// Extract parses the metadata carried by data. It returns nil, nil when the
// image carries no metadata at all.
func Extract(data []byte) (*Metadata, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotImage, err)
	}

	md := &Metadata{
		Exif:       PropertyBag{},
		GPS:        PropertyBag{},
		TIFF:       PropertyBag{},
		IPTC:       PropertyBag{},
		ColorModel: colorModelName(cfg.ColorModel),
	}

	if format == "jpeg" {
		segments, err := ScanSegments(data)
		if err != nil {
			return nil, fmt.Errorf("failed to scan JPEG segments: %w", err)
		}
		md.segments = segments
	}

	if format != "jpeg" || md.hasSegment(SegmentExif) {
		tags, _, err := exif.GetFlatExifDataUniversalSearchWithReadSeeker(bytes.NewReader(data), nil, true)
		switch {
		case err == nil:
		case isNoExif(err) || format != "jpeg":
			tags = nil
		default:
			return nil, fmt.Errorf("failed to read EXIF: %w", err)
		}
		for _, tag := range tags {
			md.addTag(tag)
		}
	}

	for _, seg := range md.segments {
		switch seg.Kind {
		case SegmentPhotoshop:
			for k, v := range parseIPTC(seg.Payload) {
				md.IPTC[k] = v
			}
		case SegmentICC:
			if md.ProfileName == "" {
				md.ProfileName = iccDescription(seg.Payload)
			}
		}
	}

	if md.empty() {
		return nil, nil
	}
	return md, nil
}

func isNoExif(err error) bool {
	if errors.Is(err, exif.ErrNoExif) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "no exif")
}

func (m *Metadata) hasSegment(kind SegmentKind) bool {
	for _, seg := range m.segments {
		if seg.Kind == kind {
			return true
		}
	}
	return false
}

func (m *Metadata) empty() bool {
	return len(m.Exif) == 0 && len(m.GPS) == 0 && len(m.TIFF) == 0 && len(m.IPTC) == 0 &&
		len(m.segments) == 0
}

func (m *Metadata) addTag(tag exif.ExifTag) {
	if tag.ChildIfdPath != "" || tag.TagName == "" {
		return
	}

	value := tagValue(tag)
	switch {
	case strings.Contains(tag.IfdPath, "GPS"):
		m.GPS[tag.TagName] = value
	case strings.Contains(tag.IfdPath, "Exif"):
		m.Exif[tag.TagName] = value
	case tag.IfdPath == "IFD" || tag.IfdPath == "IFD0":
		m.TIFF[tag.TagName] = value
		switch tag.TagName {
		case "Orientation":
			if n, ok := value.(int); ok {
				m.Orientation = n
			}
		case "XResolution":
			if f, ok := value.(float64); ok {
				m.DPIWidth = f
			}
		case "YResolution":
			if f, ok := value.(float64); ok {
				m.DPIHeight = f
			}
		}
	}
}

// tagValue converts a decoded tag into a JSON friendly value. Single element
// numeric tags collapse to a scalar.
func tagValue(tag exif.ExifTag) any {
	switch v := tag.Value.(type) {
	case string:
		return strings.TrimRight(v, "\x00 ")
	case []uint16:
		return collapse(v, func(x uint16) int { return int(x) })
	case []uint32:
		return collapse(v, func(x uint32) int { return int(x) })
	case []int32:
		return collapse(v, func(x int32) int { return int(x) })
	case []exifcommon.Rational:
		return collapse(v, func(r exifcommon.Rational) float64 {
			if r.Denominator == 0 {
				return 0
			}
			return float64(r.Numerator) / float64(r.Denominator)
		})
	case []exifcommon.SignedRational:
		return collapse(v, func(r exifcommon.SignedRational) float64 {
			if r.Denominator == 0 {
				return 0
			}
			return float64(r.Numerator) / float64(r.Denominator)
		})
	default:
		return tag.Formatted
	}
}

func collapse[T any, R any](in []T, conv func(T) R) any {
	if len(in) == 1 {
		return conv(in[0])
	}
	out := make([]R, len(in))
	for i, x := range in {
		out[i] = conv(x)
	}
	return out
}

func colorModelName(m color.Model) string {
	switch m {
	case color.GrayModel, color.Gray16Model:
		return "Gray"
	case color.CMYKModel:
		return "CMYK"
	case nil:
		return ""
	default:
		return "RGB"
	}
}

// Segments returns the raw metadata segments kept for re-embedding.
func (m *Metadata) Segments() []Segment {
	if m == nil {
		return nil
	}
	return m.segments
}

// Embed attaches md's raw metadata segments to an encoded JPEG.
func Embed(jpeg []byte, md *Metadata) ([]byte, error) {
	if md == nil || len(md.segments) == 0 {
		return jpeg, nil
	}
	return InsertSegments(jpeg, md.segments)
}

// Properties flattens the metadata into a single property set.
func (m *Metadata) Properties() map[string]any {
	props := map[string]any{}
	if m == nil {
		return props
	}

	for key, bag := range map[string]PropertyBag{KeyExif: m.Exif, KeyGPS: m.GPS, KeyTIFF: m.TIFF, KeyIPTC: m.IPTC} {
		if len(bag) > 0 {
			props[key] = map[string]any(bag.clone())
		}
	}
	if m.Orientation != 0 {
		props[KeyOrientation] = m.Orientation
	}
	if m.ColorModel != "" {
		props[KeyColorModel] = m.ColorModel
	}
	if m.DPIWidth != 0 {
		props[KeyDPIWidth] = m.DPIWidth
	}
	if m.DPIHeight != 0 {
		props[KeyDPIHeight] = m.DPIHeight
	}
	if m.ProfileName != "" {
		props[KeyProfileName] = m.ProfileName
	}
	return props
}

// Merge returns the property set with overrides applied. Nested bags merge
// key by key and new values win.
func (m *Metadata) Merge(overrides map[string]any) map[string]any {
	return MergeProperties(m.Properties(), overrides)
}

// MergeProperties merges overrides into a copy of base, new values win.
func MergeProperties(base, overrides map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(overrides))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overrides {
		existing, ok := asMap(out[k])
		incoming, ok2 := asMap(v)
		if ok && ok2 {
			out[k] = MergeProperties(existing, incoming)
			continue
		}
		out[k] = v
	}
	return out
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case PropertyBag:
		return map[string]any(m), true
	default:
		return nil, false
	}
}

func (b PropertyBag) clone() PropertyBag {
	if b == nil {
		return nil
	}
	out := make(PropertyBag, len(b))
	for k, v := range b {
		out[k] = v
	}
	return out
}

// Sanitize returns a copy of the metadata. With removeSensitive it drops the
// GPS block, user comments and maker notes, along with the raw Exif and XMP
// segments that would carry them into an embedded copy.
func (m *Metadata) Sanitize(removeSensitive bool) *Metadata {
	if m == nil {
		return nil
	}
	out := *m
	out.Exif = m.Exif.clone()
	out.GPS = m.GPS.clone()
	out.TIFF = m.TIFF.clone()
	out.IPTC = m.IPTC.clone()
	out.segments = append([]Segment(nil), m.segments...)

	if !removeSensitive {
		return &out
	}

	out.GPS = PropertyBag{}
	delete(out.Exif, "UserComment")
	delete(out.Exif, "MakerNote")

	kept := out.segments[:0]
	for _, seg := range out.segments {
		if seg.Kind == SegmentExif || seg.Kind == SegmentXMP {
			continue
		}
		kept = append(kept, seg)
	}
	out.segments = kept
	return &out
}

// CameraInfo summarises make, model and lens, e.g. "Apple, iPhone 15, Lens: 24mm".
// It is empty when the image has no Exif block.
func (m *Metadata) CameraInfo() string {
	if m == nil || len(m.Exif) == 0 {
		return ""
	}
	var parts []string
	if s, ok := m.TIFF["Make"].(string); ok && s != "" {
		parts = append(parts, s)
	}
	if s, ok := m.TIFF["Model"].(string); ok && s != "" {
		parts = append(parts, s)
	}
	if s, ok := m.Exif["LensModel"].(string); ok && s != "" {
		parts = append(parts, "Lens: "+s)
	}
	return strings.Join(parts, ", ")
}

// ShootingSettings summarises focal length, aperture, exposure and ISO.
func (m *Metadata) ShootingSettings() string {
	if m == nil {
		return ""
	}
	var parts []string
	if f, ok := m.Exif["FocalLength"].(float64); ok && f > 0 {
		parts = append(parts, fmt.Sprintf("%dmm", int(f)))
	}
	if f, ok := m.Exif["FNumber"].(float64); ok && f > 0 {
		parts = append(parts, fmt.Sprintf("f/%g", f))
	}
	if t, ok := m.Exif["ExposureTime"].(float64); ok && t > 0 {
		if t < 1 {
			parts = append(parts, fmt.Sprintf("1/%ds", int(math.Round(1/t))))
		} else {
			parts = append(parts, fmt.Sprintf("%gs", t))
		}
	}
	switch iso := m.Exif["ISOSpeedRatings"].(type) {
	case int:
		parts = append(parts, fmt.Sprintf("ISO %d", iso))
	case []int:
		if len(iso) > 0 {
			parts = append(parts, fmt.Sprintf("ISO %d", iso[0]))
		}
	}
	return strings.Join(parts, " • ")
}
