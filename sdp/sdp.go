// Package sdp extracts read-only media descriptors from SDP session
// descriptions. The transport core consumes the descriptors at stream setup
// time; everything else in the session text is the session layer's business.
package sdp

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/pion/sdp"
	"github.com/rebeljah/rtpcast/media"
	"github.com/rebeljah/rtpcast/util/strutil"
)

// static payload types from RFC3551 tables 4 and 5 that carry an implied
// clock rate; dynamic payload types (>= 96) require an rtpmap attribute.
var staticClockRates = map[uint8]uint32{
	0:  8000,  // PCMU
	3:  8000,  // GSM
	4:  8000,  // G723
	8:  8000,  // PCMA
	9:  8000,  // G722
	10: 44100, // L16 stereo
	11: 44100, // L16 mono
	14: 90000, // MPA
	26: 90000, // JPEG
	31: 90000, // H261
	32: 90000, // MPV
	33: 90000, // MP2T
	34: 90000, // H263
}

// ParseDescriptors extracts one media.Descriptor per media section of the raw
// session description text. Sections without a resolvable payload type or
// clock rate are rejected rather than guessed at.
func ParseDescriptors(raw string) ([]media.Descriptor, error) {
	var sd sdp.SessionDescription
	if err := sd.Unmarshal(raw); err != nil {
		return nil, fmt.Errorf("unmarshalling session description: %w", err)
	}

	var descriptors []media.Descriptor
	for _, md := range sd.MediaDescriptions {
		d, err := descriptorFromMedia(md)
		if err != nil {
			return nil, fmt.Errorf("media section %q: %w", md.MediaName.Media, err)
		}
		descriptors = append(descriptors, d)
	}

	return descriptors, nil
}

func descriptorFromMedia(md *sdp.MediaDescription) (media.Descriptor, error) {
	if len(md.MediaName.Formats) == 0 {
		return media.Descriptor{}, fmt.Errorf("no formats listed")
	}

	pt, err := strconv.Atoi(md.MediaName.Formats[0])
	if err != nil || pt < 0 || pt > 127 {
		return media.Descriptor{}, fmt.Errorf("unusable payload type: %q", md.MediaName.Formats[0])
	}

	d := media.Descriptor{
		PayloadType: uint8(pt),
		Kind:        media.Kind(md.MediaName.Media),
	}

	for _, attr := range md.Attributes {
		switch attr.Key {
		case "rtpmap":
			clock, err := clockRateFromRTPMap(attr.Value, uint8(pt))
			if err != nil {
				return media.Descriptor{}, err
			}
			if clock != 0 {
				d.ClockRate = clock
			}
		case "control":
			d.ControlID = attr.Value
		}
	}

	if d.ClockRate == 0 {
		clock, ok := staticClockRates[uint8(pt)]
		if !ok {
			return media.Descriptor{}, fmt.Errorf("no clock rate for payload type %d", pt)
		}
		d.ClockRate = clock
	}

	if d.TrackID == "" {
		id, err := media.NewTrackID()
		if err != nil {
			return media.Descriptor{}, err
		}
		d.TrackID = id
	}

	return d, d.Validate()
}

// clockRateFromRTPMap parses "a=rtpmap:<pt> <encoding>/<clock>[/<params>]";
// rtpmap lines for other payload types yield (0, nil).
func clockRateFromRTPMap(value string, payloadType uint8) (uint32, error) {
	fields := strings.Fields(value)
	if len(fields) != 2 {
		return 0, fmt.Errorf("malformed rtpmap: %q", value)
	}

	pt, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, fmt.Errorf("malformed rtpmap payload type: %q", fields[0])
	}
	if uint8(pt) != payloadType {
		return 0, nil
	}

	parts := strings.Split(fields[1], "/")
	if len(parts) < 2 {
		return 0, fmt.Errorf("rtpmap missing clock rate: %q", fields[1])
	}

	clock, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil || clock == 0 {
		return 0, fmt.Errorf("unusable rtpmap clock rate: %q", parts[1])
	}

	return uint32(clock), nil
}

// AnnounceAttributes converts a descriptor into SDP attributes for session
// text the server announces. The rtpmap encoding name comes from the probed
// codec spec when present, "opaque" otherwise (the transport never depends on
// it).
func AnnounceAttributes(d media.Descriptor) []sdp.Attribute {
	encoding := "opaque"
	if d.Spec != nil && d.Spec.CodecName != "" {
		encoding = d.Spec.CodecName
	}

	attrs := []sdp.Attribute{
		sdp.NewAttribute("rtpmap", fmt.Sprintf("%d %s/%d", d.PayloadType, encoding, d.ClockRate)),
	}
	if d.ControlID != "" {
		attrs = append(attrs, sdp.NewAttribute("control", d.ControlID))
	}
	return attrs
}

// Fills the struct fields based on the provided SDP attributes.
// The struct `v` should be a pointer to a struct, and each field should have an
// `sdp` tag corresponding to an attribute key from the `attributes` slice.
// This function uses reflection to match the attribute keys with struct field tags,
// and attempts to convert the attribute values to the appropriate types for each field.
// If a field is a pointer, it will be initialized before setting the value.
//
// Fields without an `sdp` key tag are skipped and left unmodified.
//
// Returns an error if a type conversion fails for a matched field.
func PopulateStructFromAttributes(v any, attributes []sdp.Attribute) error {
	val := reflect.ValueOf(v).Elem()
	typ := reflect.TypeOf(v).Elem()

	for _, attr := range attributes {
		fieldFound := false
		for i := range typ.NumField() {
			field := typ.Field(i)
			sdpTag := field.Tag.Get("sdp")

			if sdpTag == "" {
				continue
			}

			if sdpTag == attr.Key {
				fieldValue := val.Field(i)

				convertedValue, err := strutil.Stov(attr.Value, field.Type)
				if err != nil {
					return fmt.Errorf("error converting value for field `%s`: %w", field.Name, err)
				}

				if fieldValue.Kind() == reflect.Ptr {
					fieldValue.Set(reflect.New(field.Type.Elem()))
					fieldValue = fieldValue.Elem()
				}
				fieldValue.Set(reflect.ValueOf(convertedValue))
				fieldFound = true
				break
			}
		}
		if !fieldFound {
			return fmt.Errorf("no struct field with an sdp tag matching the attribute key: %s", attr.Key)
		}
	}

	return nil
}

// NewAttributesFromStruct converts a flat struct into sdp.Attribute(s), the
// inverse of PopulateStructFromAttributes.
//   - every struct field carrying a tag like `sdp:"key-name"` becomes an
//     attribute with that key, string-formatting the field value.
//   - fields without an sdp tag are skipped; a tagged field whose value is
//     not Stringable yields an error.
func NewAttributesFromStruct(v any) ([]sdp.Attribute, error) {
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	if val.Kind() != reflect.Struct {
		return nil, fmt.Errorf("expected a struct, got %s", val.Kind())
	}
	typ := val.Type()

	var attributes []sdp.Attribute
	for i := range typ.NumField() {
		sdpKey := typ.Field(i).Tag.Get("sdp")

		if sdpKey == "" {
			continue
		}

		fieldValue := val.Field(i)
		if fieldValue.Kind() == reflect.Ptr {
			if fieldValue.IsNil() {
				continue
			}
			fieldValue = fieldValue.Elem()
		}

		structValue, err := strutil.Vtos(fieldValue.Interface())
		if err != nil {
			return nil, fmt.Errorf("field `%s` cannot be made into string: %w", typ.Field(i).Name, err)
		}

		attributes = append(attributes, sdp.NewAttribute(sdpKey, structValue))
	}

	return attributes, nil
}
