package charm

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/omnivector-solutions/charm-apptainer/internal/utils/logger"
	"gopkg.in/yaml.v3"
)

// NoticesFileName is the deferred-event file inside the unit state directory.
const NoticesFileName = "deferred-events.yaml"

// Notice is a deferred event waiting to be re-run.
type Notice struct {
	ID         string    `yaml:"id"`
	Event      string    `yaml:"event"`
	DeferredAt time.Time `yaml:"deferredAt"`
	Attempts   int       `yaml:"attempts"`
}

type noticeFile struct {
	Notices []Notice `yaml:"notices"`
}

// NoticeStore persists deferred events between dispatches, oldest first.
type NoticeStore struct {
	path string
	now  func() time.Time
}

// NewNoticeStore returns a store kept in stateDir.
func NewNoticeStore(stateDir string) *NoticeStore {
	return &NoticeStore{path: filepath.Join(stateDir, NoticesFileName), now: time.Now}
}

// Path returns the backing file.
func (s *NoticeStore) Path() string { return s.path }

// Load returns the pending notices. A missing file means none. A file that
// cannot be decoded is moved aside to <path>.corrupt and also means none.
func (s *NoticeStore) Load() ([]Notice, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading deferred events: %w", err)
	}

	var f noticeFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		aside := s.path + ".corrupt"
		if rerr := os.Rename(s.path, aside); rerr != nil {
			return nil, fmt.Errorf("decoding deferred events %s: %w", s.path, err)
		}
		logger.Logger().Warnf("Moved undecodable deferred events %s to %s: %v", s.path, aside, err)
		return nil, nil
	}
	return f.Notices, nil
}

// Save replaces the pending notices. An empty list removes the file.
func (s *NoticeStore) Save(notices []Notice) error {
	if len(notices) == 0 {
		if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("clearing deferred events: %w", err)
		}
		return nil
	}

	data, err := yaml.Marshal(noticeFile{Notices: notices})
	if err != nil {
		return fmt.Errorf("encoding deferred events: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("writing deferred events: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("writing deferred events: %w", err)
	}
	return nil
}

// Add queues kind unless a notice for it is already pending, and returns the
// pending notice.
func (s *NoticeStore) Add(kind EventKind) (Notice, error) {
	notices, err := s.Load()
	if err != nil {
		return Notice{}, err
	}
	for _, n := range notices {
		if n.Event == kind.String() {
			return n, nil
		}
	}

	n := Notice{
		ID:         uuid.NewString(),
		Event:      kind.String(),
		DeferredAt: s.now().UTC(),
		Attempts:   1,
	}
	if err := s.Save(append(notices, n)); err != nil {
		return Notice{}, err
	}
	return n, nil
}
