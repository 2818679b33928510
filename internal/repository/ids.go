package repository

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

const recordingIDFile = "recording_id"

// monoEntropy is shared by every NewID call so IDs generated within the same
// millisecond still sort in creation order.
var (
	monoMu      sync.Mutex
	monoEntropy io.Reader = ulid.Monotonic(rand.Reader, 0)
)

// NewID returns a fresh time-ordered ULID.
func NewID() (string, error) {
	monoMu.Lock()
	defer monoMu.Unlock()
	id, err := ulid.New(ulid.Timestamp(time.Now()), monoEntropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// MustNewID is like NewID but panics on error. Use only in tests or init code.
func MustNewID() string {
	id, err := NewID()
	if err != nil {
		panic(fmt.Sprintf("repository.MustNewID: %v", err))
	}
	return id
}

// ValidateID returns an error if s is not a well-formed ULID.
func ValidateID(s string) error {
	_, err := ulid.ParseStrict(s)
	return err
}

// loadOrCreateRecordingID reads the repository's recording ID from dir,
// generating and persisting one on first use.
func loadOrCreateRecordingID(dir string) (string, error) {
	path := filepath.Join(dir, recordingIDFile)

	data, err := os.ReadFile(path)
	if err == nil {
		id := strings.TrimSpace(string(data))
		if err := ValidateID(id); err != nil {
			return "", fmt.Errorf("persisted recording id %q is invalid: %w", id, err)
		}
		return id, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("read recording id: %w", err)
	}

	id, err := NewID()
	if err != nil {
		return "", fmt.Errorf("generate recording id: %w", err)
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0o640); err != nil {
		return "", fmt.Errorf("persist recording id: %w", err)
	}
	return id, nil
}
