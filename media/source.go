package media

import (
	"io"
	"os"
)

// Source represents a readable sample source with resource cleanup capability.
type Source interface {
	io.Reader
	io.Closer
}

// OnDemandSource extends Source with random access capability for non-linear playback.
type OnDemandSource interface {
	Source
	io.Seeker
}

type LiveSource interface {
	Source
}

// OnDemandFileSource implements OnDemandSource using a filesystem handle.
type OnDemandFileSource struct {
	mediaFile *os.File
}

// LoadOnDemandFileSource opens a filesystem path for random-access media reading.
// Returns an error if the file cannot be opened.
func LoadOnDemandFileSource(name string) (*OnDemandFileSource, error) {
	file, err := os.OpenFile(name, os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	return &OnDemandFileSource{mediaFile: file}, nil
}

func (s *OnDemandFileSource) Read(p []byte) (int, error) {
	return s.mediaFile.Read(p)
}

func (s *OnDemandFileSource) Close() error {
	return s.mediaFile.Close()
}

func (s *OnDemandFileSource) Seek(offset int64, whence int) (int64, error) {
	return s.mediaFile.Seek(offset, whence)
}

// LiveFileSource implements LiveSource for sequential streaming from pipes.
type LiveFileSource struct {
	mediaPipe *os.File
}

// LoadLiveFileSource opens a named pipe for sequential media streaming.
// Returns an error if the pipe cannot be accessed.
func LoadLiveFileSource(name string) (*LiveFileSource, error) {
	pipe, err := os.OpenFile(name, os.O_RDONLY, os.ModeNamedPipe)
	if err != nil {
		return nil, err
	}
	return &LiveFileSource{mediaPipe: pipe}, nil
}

func (s *LiveFileSource) Read(p []byte) (int, error) {
	return s.mediaPipe.Read(p)
}

func (s *LiveFileSource) Close() error {
	return s.mediaPipe.Close()
}
