package session

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"readify/common"
)

// FilesPrefix is the URL path under which stored content is served.
const FilesPrefix = "/files/"

// ContentStore keeps uploads and generated audio in one flat directory under
// randomized names.
type ContentStore struct {
	Dir string
}

func NewContentStore(dir string) (*ContentStore, error) {
	if dir == "" {
		dir = "uploads"
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create content dir: %w", err)
	}
	return &ContentStore{Dir: dir}, nil
}

// SaveUpload copies r to a randomized name derived from the original file
// name and returns the stored name.
func (s *ContentStore) SaveUpload(original string, r io.Reader) (string, error) {
	name := common.RandomFilename(original)
	dst, err := os.Create(filepath.Join(s.Dir, name))
	if err != nil {
		return "", fmt.Errorf("failed to save upload: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, r); err != nil {
		return "", fmt.Errorf("failed to save upload: %w", err)
	}
	return name, nil
}

// SaveAudio writes MP3 bytes as "<prefix>_<token>.mp3" and returns the name.
func (s *ContentStore) SaveAudio(prefix string, data []byte) (string, error) {
	name := common.RandomAudioName(prefix)
	if err := os.WriteFile(filepath.Join(s.Dir, name), data, 0644); err != nil {
		return "", fmt.Errorf("failed to save audio: %w", err)
	}
	return name, nil
}

// Path resolves a stored name to its file path. Names with path components
// are rejected.
func (s *ContentStore) Path(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", os.ErrNotExist
	}
	return filepath.Join(s.Dir, name), nil
}

// URL returns the public URL of a stored name.
func URL(name string) string {
	return FilesPrefix + name
}
