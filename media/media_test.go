package media

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleDescriptor(id TrackID) Descriptor {
	return Descriptor{
		TrackID:     id,
		Kind:        Audio,
		ControlID:   "trackID=1",
		PayloadType: 0,
		ClockRate:   8000,
	}
}

func TestNewTrackIDIsURLSafe(t *testing.T) {
	seen := map[TrackID]bool{}
	for range 32 {
		id, err := NewTrackID()
		require.NoError(t, err)
		assert.Len(t, string(id), 16)
		assert.False(t, seen[id], "ids must not repeat")
		seen[id] = true

		for _, r := range string(id) {
			assert.True(t, strings.ContainsRune(
				"ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789", r))
		}
	}
}

func TestDescriptorValidate(t *testing.T) {
	d := sampleDescriptor("a")
	assert.NoError(t, d.Validate())

	d.PayloadType = 128
	assert.Error(t, d.Validate())

	d = sampleDescriptor("a")
	d.ClockRate = 0
	assert.Error(t, d.Validate())
}

func TestRegistryPutGetDelete(t *testing.T) {
	reg := NewFileRegistry()

	_, ok := reg.Get("a")
	assert.False(t, ok)
	assert.False(t, reg.ContainsTrack("a"))

	reg.Put(sampleDescriptor("a"))
	got, ok := reg.Get("a")
	require.True(t, ok)
	assert.Equal(t, uint32(8000), got.ClockRate)

	// put with the same id overwrites
	updated := sampleDescriptor("a")
	updated.ClockRate = 44100
	reg.Put(updated)
	got, _ = reg.Get("a")
	assert.Equal(t, uint32(44100), got.ClockRate)

	assert.True(t, reg.Delete("a"))
	assert.False(t, reg.Delete("a"))
}

func TestRegistryRoundTripsThroughFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")

	reg := NewFileRegistry()
	reg.Put(sampleDescriptor("main-audio"))
	reg.Put(sampleDescriptor("commentary"))
	require.NoError(t, reg.SaveJSON(path))

	loaded, err := LoadFileRegistry(path)
	require.NoError(t, err)

	assert.True(t, loaded.ContainsTrack("main-audio"))
	assert.True(t, loaded.ContainsTrack("commentary"))

	got, ok := loaded.Get("main-audio")
	require.True(t, ok)
	assert.Equal(t, sampleDescriptor("main-audio"), got)
}

func TestLoadFileRegistryCreatesMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")

	reg, err := LoadFileRegistry(path)
	require.NoError(t, err)
	assert.False(t, reg.ContainsTrack("anything"))

	_, err = os.Stat(path)
	assert.NoError(t, err, "missing registry file is created on load")
}

func TestL16RoundTrip(t *testing.T) {
	samples := []byte{0x00, 0x7f, 0x80, 0xff}

	enc, err := L16{}.Encode(samples)
	require.NoError(t, err)
	assert.Equal(t, samples, enc)

	dec, err := L16{}.Decode(enc)
	require.NoError(t, err)
	assert.Equal(t, samples, dec)

	// the transform copies; mutating output must not alias input
	enc[0] = 0xaa
	assert.Equal(t, byte(0x00), samples[0])
}

func TestPCMURejectsEmptyBuffers(t *testing.T) {
	_, err := PCMU{}.Encode(nil)
	assert.Error(t, err)

	_, err = PCMU{}.Decode(nil)
	assert.Error(t, err)

	enc, err := PCMU{}.Encode([]byte{0x01})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01}, enc)
}
