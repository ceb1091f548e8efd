package sync

import (
	"os"

	"attachment-sync/pkg/models"
	"attachment-sync/pkg/utils"
)

// IsUpToDate decides whether an existing local file still matches what the
// current action map expects, making a re-download unnecessary. All four
// checks must hold; the reason string names the first one that failed.
func IsUpToDate(localPath string, st *models.AttachmentState, expectedName string, attachmentID int64) (bool, string) {
	if _, err := os.Stat(localPath); err != nil {
		return false, "local file missing"
	}
	if !st.Valid() {
		return false, "no usable state record"
	}
	if st.ImageName != expectedName {
		// The expected filename changed, e.g. a resubmission carrying a
		// different original name.
		return false, "expected filename changed"
	}
	if st.AttachmentID != attachmentID {
		return false, "newer attachment exists remotely"
	}
	hash, err := utils.CalculateFileSHA256(localPath)
	if err != nil {
		return false, "cannot hash local file"
	}
	if hash != st.ImgInfo.Hash {
		return false, "content hash mismatch"
	}
	return true, ""
}
