package wizard

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/relkit/internal/fault"
)

// Store persists wizard sessions as one JSON file per product. Absence of a
// file means no session in progress.
type Store struct {
	fs     afero.Fs
	dir    string
	logger *zap.Logger
}

// NewStore creates a session store rooted at dir. Filesystem and dir are
// required; a nil logger defaults to a no-op logger.
func NewStore(fs afero.Fs, dir string, logger *zap.Logger) (*Store, error) {
	if fs == nil {
		return nil, fmt.Errorf("filesystem is required")
	}
	if dir == "" {
		return nil, fmt.Errorf("sessions directory is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{fs: fs, dir: dir, logger: logger.Named("wizard")}, nil
}

func (st *Store) path(product string) string {
	return filepath.Join(st.dir, product+".json")
}

// Load reads the session slot for a product. The second return is false when
// no session exists.
func (st *Store) Load(product string) (Session, bool, error) {
	data, err := afero.ReadFile(st.fs, st.path(product))
	if err != nil {
		if os.IsNotExist(err) {
			return Session{}, false, nil
		}
		return Session{}, false, fault.Wrapf(fault.IOFailed, err, "reading session for %s", product)
	}
	s, err := decodeSession(data)
	if err != nil {
		return Session{}, false, err
	}
	return s, true, nil
}

// List returns every stored session of the given kind, newest first. Files
// that fail to decode are skipped with a warning so one stale session cannot
// brick the wizard.
func (st *Store) List(kind Kind) ([]Session, error) {
	infos, err := afero.ReadDir(st.fs, st.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fault.Wrapf(fault.IOFailed, err, "reading sessions directory %s", st.dir)
	}

	var sessions []Session
	for _, info := range infos {
		if info.IsDir() || !strings.HasSuffix(info.Name(), ".json") {
			continue
		}
		data, err := afero.ReadFile(st.fs, filepath.Join(st.dir, info.Name()))
		if err != nil {
			st.logger.Warn("skipping unreadable session file",
				zap.String("file", info.Name()), zap.Error(err))
			continue
		}
		s, err := decodeSession(data)
		if err != nil {
			st.logger.Warn("skipping incompatible session file",
				zap.String("file", info.Name()), zap.Error(err))
			continue
		}
		if s.Kind == kind {
			sessions = append(sessions, s)
		}
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[j].CreatedAt.Before(sessions[i].CreatedAt)
	})
	return sessions, nil
}

// Save writes the session atomically: temp file in the same directory, then
// rename over the slot.
func (st *Store) Save(s Session) error {
	if s.Product == "" {
		return fault.New(fault.InvalidInput, "session has no product")
	}
	if err := st.fs.MkdirAll(st.dir, 0o755); err != nil {
		return fault.Wrapf(fault.IOFailed, err, "creating sessions directory %s", st.dir)
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fault.Wrap(fault.IOFailed, err, "encoding session")
	}
	data = append(data, '\n')

	path := st.path(s.Product)
	tmp := path + ".tmp"
	if err := afero.WriteFile(st.fs, tmp, data, 0o600); err != nil {
		return fault.Wrapf(fault.IOFailed, err, "writing session for %s", s.Product)
	}
	if err := st.fs.Rename(tmp, path); err != nil {
		_ = st.fs.Remove(tmp)
		return fault.Wrapf(fault.IOFailed, err, "replacing session for %s", s.Product)
	}
	return nil
}

// Clear removes the session slot. A missing slot is not an error.
func (st *Store) Clear(product string) error {
	if err := st.fs.Remove(st.path(product)); err != nil && !os.IsNotExist(err) {
		return fault.Wrapf(fault.IOFailed, err, "clearing session for %s", product)
	}
	return nil
}

func decodeSession(data []byte) (Session, error) {
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return Session{}, fault.Wrap(fault.InvalidInput, err, "session file is not valid JSON").
			WithHint("reset the wizard with --reset")
	}
	if s.Schema != SessionSchemaVersion {
		return Session{}, fault.Newf(fault.InvalidInput, "session schema %d is not supported", s.Schema).
			WithHint("the session was written by an incompatible relkit; reset the wizard with --reset")
	}
	return s, nil
}
