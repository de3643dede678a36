// Package media provides the read-only stream descriptors, codec boundary and
// byte sources consumed by the RTP transport core. Descriptors are supplied
// once at stream setup and never mutated by the transport layer.
package media

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"os"
	"sync"

	"github.com/rebeljah/rtpcast/util/fileutil"
	"github.com/sirupsen/logrus"
	"gopkg.in/vansante/go-ffprobe.v2"
)

type ErrNoSuchTrack struct {
	id string
}

func (e ErrNoSuchTrack) Error() string { return fmt.Sprintf("no such track: %s", e.id) }

// TrackID is a human-readable, url-safe identifier for a media track
// (e.g., "main-audio", "commentary", "camera-angle-2").
type TrackID string

// NewTrackID generates a cryptographically secure random TrackID using a
// 62-character alphanumeric charset. Returns an error if cryptographic
// randomness is unavailable.
func NewTrackID() (TrackID, error) {
	const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	b := make([]byte, 16)
	for i := range b {
		randIndex, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		b[i] = charset[randIndex.Int64()]
	}
	return TrackID(b), nil
}

// Kind classifies a track as audio or video.
type Kind string

const (
	Audio Kind = "audio"
	Video Kind = "video"
)

// Descriptor describes one media track to the transport layer: the RTP payload
// type, the media clock rate and the control identifier used by the session
// layer to address the track. The transport core treats it as read-only.
type Descriptor struct {
	TrackID   TrackID `sdp:"id" json:"id"`
	Kind      Kind    `sdp:"kind" json:"kind"`
	ControlID string  `sdp:"control" json:"control"`

	// PayloadType must fit the 7-bit RTP header field, i.e. [0,127].
	PayloadType uint8 `sdp:"payload-type" json:"payloadType"`

	// ClockRate is the media clock in ticks per second (e.g. 8000 for PCMU,
	// 90000 for video).
	ClockRate uint32 `sdp:"clock-rate" json:"clockRate"`

	// provides metadata about codec, bitrate, etc
	Spec *ffprobe.Stream `json:"spec,omitempty"`
}

// ProbeSpec fills d.Spec with codec metadata for the media at path, picking
// the first stream matching the descriptor kind. A probe failure (e.g. no
// ffprobe binary on PATH) leaves the descriptor usable without metadata.
func ProbeSpec(ctx context.Context, d *Descriptor, path string) error {
	data, err := ffprobe.ProbeURL(ctx, path)
	if err != nil {
		return err
	}

	switch d.Kind {
	case Audio:
		d.Spec = data.FirstAudioStream()
	case Video:
		d.Spec = data.FirstVideoStream()
	}

	if d.Spec == nil {
		return fmt.Errorf("no %s stream found in %s", d.Kind, path)
	}
	return nil
}

// Validate reports whether the descriptor can be used to set up a stream.
func (d Descriptor) Validate() error {
	if d.PayloadType > 127 {
		return fmt.Errorf("payload type %d does not fit 7 bits", d.PayloadType)
	}
	if d.ClockRate == 0 {
		return fmt.Errorf("clock rate must be positive")
	}
	return nil
}

// Registry maps track identifiers to their descriptors.
type Registry interface {
	Get(id TrackID) (Descriptor, bool)
	JSON() ([]byte, error)
	SaveJSON(path string) error
	ContainsTrack(id TrackID) bool
}

type MutableRegistry interface {
	Registry

	// Puts a descriptor into the registry.
	//  - if the new descriptor id matches an existing one then the existing
	//    descriptor is overwritten.
	Put(d Descriptor)

	// Deletes the descriptor with the given TrackID.
	//  - returns true iff the id existed.
	Delete(id TrackID) bool
}

// implements MutableRegistry
//   - use a sync.RWMutex to permit multiple readers, OR one writer, access concurrently
//     i.e all reads must finish before any write, and no write can begin while a read is occurring.
type FileRegistry struct {
	lock        sync.RWMutex
	Descriptors map[TrackID]Descriptor `json:"descriptors"`
}

func NewFileRegistry() MutableRegistry {
	return &FileRegistry{
		Descriptors: make(map[TrackID]Descriptor),
	}
}

func NewFileRegistryFromJSON(r io.Reader) (MutableRegistry, error) {
	var reg FileRegistry
	decoder := json.NewDecoder(r)
	if err := decoder.Decode(&reg); err != nil {
		return &FileRegistry{}, err
	}
	if reg.Descriptors == nil {
		reg.Descriptors = make(map[TrackID]Descriptor)
	}
	return &reg, nil
}

// LoadFileRegistry opens or creates the registry file at path.
func LoadFileRegistry(path string) (MutableRegistry, error) {
	wasCreated, err := fileutil.TouchFile(path)
	if err != nil {
		return nil, err
	}

	if wasCreated {
		logrus.Infof("no track registry found at: %v, making a new one", path)
		return NewFileRegistry(), nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return NewFileRegistryFromJSON(f)
}

// JSON serializes the registry to a formatted JSON string.
func (m *FileRegistry) JSON() ([]byte, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()

	buf, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		logrus.Errorf("failed to serialize track registry: %v", err)
		return nil, err
	}
	return buf, nil
}

func (m *FileRegistry) SaveJSON(path string) error {
	buf, err := m.JSON()
	if err != nil {
		return err
	}

	err = fileutil.ReplaceFileContents(path, buf)
	if err != nil {
		logrus.Errorf("failed to update track registry: %v", err)
	}

	return err
}

func (m *FileRegistry) Get(id TrackID) (Descriptor, bool) {
	m.lock.RLock()
	defer m.lock.RUnlock()

	d, ok := m.Descriptors[id]
	return d, ok
}

func (m *FileRegistry) ContainsTrack(id TrackID) bool {
	m.lock.RLock()
	defer m.lock.RUnlock()

	_, ok := m.Descriptors[id]
	return ok
}

func (m *FileRegistry) Put(d Descriptor) {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.Descriptors[d.TrackID] = d
}

func (m *FileRegistry) Delete(id TrackID) bool {
	m.lock.Lock()
	defer m.lock.Unlock()

	_, ok := m.Descriptors[id]
	delete(m.Descriptors, id)
	return ok
}
