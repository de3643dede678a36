package sdp

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rebeljah/rtpcast/media"
)

func sessionText(mediaSections ...string) string {
	lines := []string{
		"v=0",
		"o=- 0 0 IN IP4 127.0.0.1",
		"s=rtpcast",
		"c=IN IP4 127.0.0.1",
		"t=0 0",
	}
	lines = append(lines, mediaSections...)
	return strings.Join(lines, "\r\n") + "\r\n"
}

func TestParseDescriptorsAudioAndVideo(t *testing.T) {
	raw := sessionText(
		"m=audio 5004 RTP/AVP 0",
		"a=control:trackID=1",
		"m=video 5006 RTP/AVP 96",
		"a=rtpmap:96 H264/90000",
		"a=control:trackID=2",
	)

	descriptors, err := ParseDescriptors(raw)
	require.NoError(t, err)
	require.Len(t, descriptors, 2)

	audio := descriptors[0]
	assert.Equal(t, media.Audio, audio.Kind)
	assert.Equal(t, uint8(0), audio.PayloadType)
	assert.Equal(t, uint32(8000), audio.ClockRate, "PCMU clock rate is implied by the static payload type")
	assert.Equal(t, "trackID=1", audio.ControlID)
	assert.NotEmpty(t, audio.TrackID)

	video := descriptors[1]
	assert.Equal(t, media.Video, video.Kind)
	assert.Equal(t, uint8(96), video.PayloadType)
	assert.Equal(t, uint32(90000), video.ClockRate)
	assert.Equal(t, "trackID=2", video.ControlID)

	assert.NotEqual(t, audio.TrackID, video.TrackID)
}

func TestParseDescriptorsRejectsDynamicTypeWithoutRTPMap(t *testing.T) {
	raw := sessionText("m=audio 5004 RTP/AVP 97")

	_, err := ParseDescriptors(raw)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no clock rate")
}

func TestParseDescriptorsIgnoresRTPMapForOtherTypes(t *testing.T) {
	raw := sessionText(
		"m=audio 5004 RTP/AVP 0",
		"a=rtpmap:97 opus/48000",
	)

	descriptors, err := ParseDescriptors(raw)
	require.NoError(t, err)
	require.Len(t, descriptors, 1)
	assert.Equal(t, uint32(8000), descriptors[0].ClockRate)
}

func TestParseDescriptorsRejectsGarbage(t *testing.T) {
	_, err := ParseDescriptors("not a session description")
	assert.Error(t, err)
}

func TestAnnounceAttributes(t *testing.T) {
	d := media.Descriptor{
		TrackID:     "main-audio",
		Kind:        media.Audio,
		ControlID:   "trackID=1",
		PayloadType: 0,
		ClockRate:   8000,
	}

	attrs := AnnounceAttributes(d)
	require.Len(t, attrs, 2)
	assert.Equal(t, "rtpmap", attrs[0].Key)
	assert.Equal(t, "0 opaque/8000", attrs[0].Value)
	assert.Equal(t, "control", attrs[1].Key)
	assert.Equal(t, "trackID=1", attrs[1].Value)
}

func TestDescriptorAttributeRoundTrip(t *testing.T) {
	want := media.Descriptor{
		TrackID:     "main-audio",
		Kind:        media.Audio,
		ControlID:   "trackID=1",
		PayloadType: 96,
		ClockRate:   48000,
	}

	attrs, err := NewAttributesFromStruct(want)
	require.NoError(t, err)

	var got media.Descriptor
	require.NoError(t, PopulateStructFromAttributes(&got, attrs))
	assert.Equal(t, want, got)
}

func TestPopulateStructRejectsUnknownAttribute(t *testing.T) {
	var d media.Descriptor
	err := PopulateStructFromAttributes(&d, AnnounceAttributes(media.Descriptor{
		PayloadType: 0,
		ClockRate:   8000,
	}))
	assert.Error(t, err, "rtpmap has no struct field on the descriptor")
}
