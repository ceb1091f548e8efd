package sync

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"

	"attachment-sync/pkg/models"
	"attachment-sync/pkg/utils"
)

// ledgerHeader is the fixed column order of the image-info ledger.
var ledgerHeader = []string{
	"assetUid", "assetName", "recordId", "name",
	"size", "sizeMB", "mimeType", "dimensionsLabel", "width", "height", "hash",
}

// Ledger is the append-only delimited record of kept/downloaded files.
// Quoting and escaping follow RFC 4180, so values containing the delimiter
// or quotes survive round-trips.
type Ledger struct {
	mu   sync.Mutex
	file *os.File
	w    *csv.Writer
	path string
	log  *logrus.Entry
}

// OpenLedger opens (or creates) the ledger at path in append mode. The
// header row is written only when the file is newly created.
func OpenLedger(path string, delimiter rune, log *logrus.Entry) (*Ledger, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("%w: opening ledger '%s': %w", utils.ErrFilesystem, path, err)
	}

	fi, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("%w: stat ledger '%s': %w", utils.ErrFilesystem, path, err)
	}

	w := csv.NewWriter(file)
	w.Comma = delimiter

	l := &Ledger{file: file, w: w, path: path, log: log}
	if fi.Size() == 0 {
		if err := w.Write(ledgerHeader); err != nil {
			file.Close()
			return nil, fmt.Errorf("writing ledger header '%s': %w", path, err)
		}
	}
	return l, nil
}

// Append writes one row for a kept/downloaded file.
func (l *Ledger) Append(info models.ImageInfo) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	row := []string{
		info.AssetUID,
		info.AssetName,
		strconv.FormatInt(info.RecordID, 10),
		info.Name,
		strconv.FormatInt(info.Size, 10),
		info.SizeLabel,
		info.MimeType,
		info.Dimensions,
		strconv.Itoa(info.Width),
		strconv.Itoa(info.Height),
		info.Hash,
	}
	if err := l.w.Write(row); err != nil {
		return fmt.Errorf("appending ledger row for '%s': %w", info.Name, err)
	}
	return nil
}

// Close flushes buffered rows and closes the file.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.w.Flush()
	flushErr := l.w.Error()
	closeErr := l.file.Close()
	if flushErr != nil {
		return fmt.Errorf("flushing ledger '%s': %w", l.path, flushErr)
	}
	if closeErr != nil {
		return fmt.Errorf("%w: closing ledger '%s': %w", utils.ErrFilesystem, l.path, closeErr)
	}
	l.log.WithField("path", l.path).Debug("Ledger closed")
	return nil
}
