// Package state persists per-(record, field) descriptors of previously
// downloaded attachments under .attachments_map. These JSON files are the
// only cross-run state; their shape is a durable on-disk contract.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/sirupsen/logrus"

	"attachment-sync/pkg/models"
	"attachment-sync/pkg/utils"
)

const mapDirName = ".attachments_map"

// Store reads and writes attachment state records. One field is processed by
// exactly one task per run, so there is no concurrent writer contention per
// file.
type Store struct {
	root string // OutputBaseDir
	log  *logrus.Entry
}

// NewStore creates a state store rooted at the output base directory.
func NewStore(root string, log *logrus.Entry) *Store {
	return &Store{root: root, log: log}
}

// Path returns the deterministic location of one state record.
func (s *Store) Path(assetUID string, recordID int64, field string) string {
	return filepath.Join(s.root, mapDirName, assetUID,
		strconv.FormatInt(recordID, 10), utils.SanitizeFilename(field)+".json")
}

// Load reads the state record for (asset, record, field). A missing file or
// a structurally invalid record yields (nil, nil): both mean "no usable prior
// state" and trigger a re-download, never an error. I/O failures other than
// absence are returned.
func (s *Store) Load(assetUID string, recordID int64, field string) (*models.AttachmentState, error) {
	path := s.Path(assetUID, recordID, field)

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: reading state record '%s': %w", utils.ErrFilesystem, path, err)
	}

	var st models.AttachmentState
	if err := json.Unmarshal(data, &st); err != nil {
		s.log.WithField("path", path).Warnf("State record is not valid JSON, treating as absent: %v", err)
		return nil, nil
	}
	if !st.Valid() {
		s.log.WithField("path", path).Warn("State record is structurally incomplete, treating as absent")
		return nil, nil
	}
	return &st, nil
}

// Save writes the state record atomically (temp file + rename), creating the
// directory hierarchy as needed.
func (s *Store) Save(assetUID string, recordID int64, field string, st *models.AttachmentState) error {
	path := s.Path(assetUID, recordID, field)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("%w: creating state directory for '%s': %w", utils.ErrFilesystem, path, err)
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling state record '%s': %w", path, err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("%w: writing state record '%s': %w", utils.ErrFilesystem, tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: renaming state record into place '%s': %w", utils.ErrFilesystem, path, err)
	}

	s.log.WithField("path", path).Debug("State record saved")
	return nil
}
