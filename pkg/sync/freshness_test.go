package sync

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attachment-sync/pkg/models"
	"attachment-sync/pkg/utils"
)

func writeLocalFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func stateFor(name string, attachmentID int64, hash string) *models.AttachmentState {
	return &models.AttachmentState{
		ImageName:     name,
		OriginalName:  "photo.jpg",
		AttachmentID:  attachmentID,
		SaveTimestamp: 1700000000,
		ImgInfo: models.ImageInfo{
			Hash:     hash,
			RecordID: 1721,
			Name:     name,
			Size:     10,
		},
	}
}

func TestIsUpToDate_AllChecksPass(t *testing.T) {
	dir := t.TempDir()
	path := writeLocalFile(t, dir, "1721_photo.jpg", "image bytes")
	st := stateFor("1721_photo.jpg", 2395, utils.CalculateBytesSHA256([]byte("image bytes")))

	ok, reason := IsUpToDate(path, st, "1721_photo.jpg", 2395)
	assert.True(t, ok)
	assert.Empty(t, reason)
}

func TestIsUpToDate_Failures(t *testing.T) {
	dir := t.TempDir()
	hash := utils.CalculateBytesSHA256([]byte("image bytes"))

	tests := []struct {
		name         string
		setup        func(t *testing.T) (string, *models.AttachmentState)
		expectedName string
		attachmentID int64
		wantReason   string
	}{
		{
			name: "local file missing",
			setup: func(t *testing.T) (string, *models.AttachmentState) {
				return filepath.Join(dir, "absent.jpg"), stateFor("absent.jpg", 1, hash)
			},
			expectedName: "absent.jpg",
			attachmentID: 1,
			wantReason:   "local file missing",
		},
		{
			name: "nil state",
			setup: func(t *testing.T) (string, *models.AttachmentState) {
				return writeLocalFile(t, dir, "a.jpg", "image bytes"), nil
			},
			expectedName: "a.jpg",
			attachmentID: 1,
			wantReason:   "no usable state record",
		},
		{
			name: "expected name changed",
			setup: func(t *testing.T) (string, *models.AttachmentState) {
				return writeLocalFile(t, dir, "b.jpg", "image bytes"), stateFor("old_name.jpg", 1, hash)
			},
			expectedName: "b.jpg",
			attachmentID: 1,
			wantReason:   "expected filename changed",
		},
		{
			name: "newer attachment remotely",
			setup: func(t *testing.T) (string, *models.AttachmentState) {
				return writeLocalFile(t, dir, "c.jpg", "image bytes"), stateFor("c.jpg", 100, hash)
			},
			expectedName: "c.jpg",
			attachmentID: 101,
			wantReason:   "newer attachment exists remotely",
		},
		{
			name: "content drifted",
			setup: func(t *testing.T) (string, *models.AttachmentState) {
				return writeLocalFile(t, dir, "d.jpg", "tampered bytes"), stateFor("d.jpg", 1, hash)
			},
			expectedName: "d.jpg",
			attachmentID: 1,
			wantReason:   "content hash mismatch",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path, st := tt.setup(t)
			ok, reason := IsUpToDate(path, st, tt.expectedName, tt.attachmentID)
			assert.False(t, ok)
			assert.Equal(t, tt.wantReason, reason)
		})
	}
}
