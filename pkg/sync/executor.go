// Package sync applies a built action map against the local image directory:
// it downloads stale or missing keeps, removes confirmed deletes, and records
// everything it did in the run report, state store, and image-info ledger.
package sync

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"attachment-sync/pkg/api"
	"attachment-sync/pkg/fetch"
	"attachment-sync/pkg/models"
	"attachment-sync/pkg/state"
	"attachment-sync/pkg/utils"
)

// Executor runs the per-entry keep/delete/none state machine for one asset.
// Entries are processed sequentially; errors are per-entry and never abort
// the run (context cancellation does).
type Executor struct {
	client *api.Client
	store  *state.Store
	ledger *Ledger
	log    *logrus.Entry

	assetUID  string
	assetName string

	imageDir   string
	removedDir string

	destructive      bool
	idleTimeout      time.Duration
	maxStreamRetries int
}

// NewExecutor creates an executor for one asset's reconciliation.
func NewExecutor(client *api.Client, store *state.Store, ledger *Ledger,
	assetUID, assetName, imageDir, removedDir string,
	destructive bool, idleTimeout time.Duration, maxStreamRetries int,
	log *logrus.Entry) *Executor {
	return &Executor{
		client:           client,
		store:            store,
		ledger:           ledger,
		log:              log,
		assetUID:         assetUID,
		assetName:        assetName,
		imageDir:         imageDir,
		removedDir:       removedDir,
		destructive:      destructive,
		idleTimeout:      idleTimeout,
		maxStreamRetries: maxStreamRetries,
	}
}

// Run executes every plan entry. The report is updated in place.
func (e *Executor) Run(ctx context.Context, plan *Plan, report *models.RunReport) error {
	for i := range plan.Entries {
		if err := ctx.Err(); err != nil {
			return err
		}

		entry := &plan.Entries[i]
		entryLog := e.log.WithFields(logrus.Fields{"record_id": entry.RecordID, "field": entry.Field})

		if entry.PlanErr != nil {
			entryLog.Errorf("Entry rejected during planning: %v", entry.PlanErr)
			e.recordError(report, entry, entry.PlanErr)
			continue
		}

		switch entry.Decision.Action {
		case models.ActionKeep:
			e.executeKeep(ctx, entry, report, entryLog)
		case models.ActionDelete:
			e.executeDelete(entry, report, entryLog)
		case models.ActionNone:
			// Tolerated inconsistency: a submitted value without an
			// attachment. Any matching local file is quarantined by the
			// sweeper, never here.
			entryLog.Infof("Value '%s' has no attachment; leaving any local file to the sweeper", entry.Decision.Value)
		}
	}
	return nil
}

func (e *Executor) recordError(report *models.RunReport, entry *EntryRef, err error) {
	report.Errors = append(report.Errors, models.EntryError{
		RecordID: entry.RecordID,
		Field:    entry.Field,
		Category: utils.CategorizeError(err),
		Message:  err.Error(),
	})
}

// executeKeep is the keep branch: confirm the local file is current or
// download a fresh copy, then persist state and a ledger row.
func (e *Executor) executeKeep(ctx context.Context, entry *EntryRef, report *models.RunReport, entryLog *logrus.Entry) {
	localPath := filepath.Join(e.imageDir, entry.Target)
	att := entry.Decision.Attachment

	st, err := e.store.Load(e.assetUID, entry.RecordID, entry.Field)
	if err != nil {
		entryLog.Errorf("Cannot read state record: %v", err)
		e.recordError(report, entry, err)
		return
	}

	if ok, reason := IsUpToDate(localPath, st, entry.Target, att.ID); ok {
		entryLog.Infof("'%s' is up to date", entry.Target)
		report.UpToDate++
		return
	} else if st != nil {
		entryLog.Debugf("Re-downloading '%s': %s", entry.Target, reason)
	}

	mimeType, err := e.download(ctx, att.DownloadURL, localPath)
	if err != nil {
		entryLog.Errorf("Download of '%s' failed: %v", entry.Target, err)
		e.recordError(report, entry, err)
		return
	}
	if mimeType == "" {
		mimeType = att.MimeType
	}

	info, err := probeImageInfo(localPath, e.assetUID, e.assetName, entry.RecordID, entry.Target, mimeType)
	if err != nil {
		entryLog.Errorf("Cannot measure downloaded file '%s': %v", entry.Target, err)
		e.recordError(report, entry, err)
		return
	}

	newState := &models.AttachmentState{
		ImageName:     entry.Target,
		OriginalName:  entry.Decision.Value,
		AttachmentID:  att.ID,
		SaveTimestamp: time.Now().Unix(),
		ImgInfo:       info,
	}
	if err := e.store.Save(e.assetUID, entry.RecordID, entry.Field, newState); err != nil {
		entryLog.Errorf("Cannot persist state record for '%s': %v", entry.Target, err)
		e.recordError(report, entry, err)
		return
	}

	if err := e.ledger.Append(info); err != nil {
		entryLog.Errorf("Cannot append ledger row for '%s': %v", entry.Target, err)
		e.recordError(report, entry, err)
		return
	}

	report.Downloads++
	entryLog.Infof("Downloaded '%s' (%s, attachment %d)", entry.Target, info.SizeLabel, att.ID)
}

// download streams the attachment to localPath via a temp file, retrying the
// whole stream when it stalls or breaks mid-transfer. Header-phase retries
// are handled inside the API client.
func (e *Executor) download(ctx context.Context, downloadURL, localPath string) (string, error) {
	tmpPath := localPath + ".part"

	var lastErr error
	var contentType string
	for attempt := 0; attempt <= e.maxStreamRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		dl, err := e.client.DownloadAttachment(ctx, downloadURL)
		if err != nil {
			// Retry budget for the request phase is already spent.
			return "", err
		}
		contentType = dl.ContentType

		_, streamErr := fetch.StreamToFile(dl.Body, tmpPath, e.idleTimeout, dl.CancelFunc())
		dl.Close()

		if streamErr == nil {
			lastErr = nil
			break
		}
		lastErr = streamErr
		e.log.Warnf("Stream attempt %d/%d for '%s' failed: %v", attempt+1, e.maxStreamRetries+1, localPath, streamErr)
	}
	if lastErr != nil {
		return "", fmt.Errorf("%w: %w", utils.ErrRetryFailed, lastErr)
	}

	if err := os.Rename(tmpPath, localPath); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("%w: renaming '%s' into place: %w", utils.ErrFilesystem, localPath, err)
	}
	return contentType, nil
}

// executeDelete removes (or quarantines) a file whose field value is gone,
// but only after the file's identity is confirmed against the stored hash.
func (e *Executor) executeDelete(entry *EntryRef, report *models.RunReport, entryLog *logrus.Entry) {
	if entry.State == nil {
		// Without a valid state record the file cannot be confidently
		// identified here; the sweeper handles anything left behind.
		entryLog.Info("No usable state record for delete; deferring to the orphan sweeper")
		return
	}

	localPath := filepath.Join(e.imageDir, entry.Target)
	if _, err := os.Stat(localPath); err != nil {
		if os.IsNotExist(err) {
			entryLog.Debugf("Nothing to delete, '%s' is already gone", entry.Target)
			return
		}
		wrapped := fmt.Errorf("%w: stat '%s': %w", utils.ErrFilesystem, localPath, err)
		entryLog.Error(wrapped)
		e.recordError(report, entry, wrapped)
		return
	}

	hash, err := utils.CalculateFileSHA256(localPath)
	if err != nil {
		wrapped := fmt.Errorf("%w: hashing '%s' before delete: %w", utils.ErrFilesystem, localPath, err)
		entryLog.Error(wrapped)
		e.recordError(report, entry, wrapped)
		return
	}
	if hash != entry.State.ImgInfo.Hash {
		err := fmt.Errorf("%w: '%s' does not match its recorded hash, refusing to remove", utils.ErrHashMismatch, entry.Target)
		entryLog.Error(err)
		e.recordError(report, entry, err)
		return
	}

	if e.destructive {
		if err := os.Remove(localPath); err != nil {
			wrapped := fmt.Errorf("%w: removing '%s': %w", utils.ErrFilesystem, localPath, err)
			entryLog.Error(wrapped)
			e.recordError(report, entry, wrapped)
			return
		}
		report.Deleted++
		entryLog.Infof("Deleted '%s'", entry.Target)
		return
	}

	if err := moveToDir(localPath, e.removedDir); err != nil {
		entryLog.Error(err)
		e.recordError(report, entry, err)
		return
	}
	report.Quarantined++
	entryLog.Infof("Quarantined '%s' to '%s'", entry.Target, e.removedDir)
}

// moveToDir relocates a file into dir, creating dir as needed.
func moveToDir(path, dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("%w: creating quarantine directory '%s': %w", utils.ErrFilesystem, dir, err)
	}
	dest := filepath.Join(dir, filepath.Base(path))
	if err := os.Rename(path, dest); err != nil {
		return fmt.Errorf("%w: moving '%s' to '%s': %w", utils.ErrFilesystem, path, dest, err)
	}
	return nil
}
