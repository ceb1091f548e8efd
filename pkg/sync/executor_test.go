package sync

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attachment-sync/pkg/api"
	"attachment-sync/pkg/fetch"
	"attachment-sync/pkg/models"
	"attachment-sync/pkg/state"
	"attachment-sync/pkg/utils"
)

type executorFixture struct {
	exec       *Executor
	store      *state.Store
	ledger     *Ledger
	imageDir   string
	removedDir string
	downloads  *atomic.Int32
	server     *httptest.Server
}

// newExecutorFixture wires an executor against an httptest attachment server
// serving fixed bytes per path.
func newExecutorFixture(t *testing.T, destructive bool, payloads map[string]string) *executorFixture {
	t.Helper()
	root := t.TempDir()

	downloads := &atomic.Int32{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload, ok := payloads[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		downloads.Add(1)
		w.Header().Set("Content-Type", "image/jpeg")
		fmt.Fprint(w, payload)
	}))
	t.Cleanup(server.Close)

	policy := fetch.RetryPolicy{MaxRetries: 1, InitialDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond}
	log := testLog()
	fetcher := fetch.NewFetcher(&http.Client{Timeout: 10 * time.Second}, policy, log.Logger)
	client := api.NewClient(server.URL, "", fetcher, fetcher, 100, log.Logger)

	imageDir := filepath.Join(root, "images", "aXy123", "Survey")
	removedDir := filepath.Join(root, "images", "aXy123", "Survey_removed")
	require.NoError(t, os.MkdirAll(imageDir, 0755))

	store := state.NewStore(root, log)
	ledger, err := OpenLedger(filepath.Join(root, "image_info.csv"), ',', log)
	require.NoError(t, err)
	t.Cleanup(func() { ledger.Close() })

	exec := NewExecutor(client, store, ledger, "aXy123", "Survey", imageDir, removedDir,
		destructive, time.Second, 1, log)

	return &executorFixture{
		exec:       exec,
		store:      store,
		ledger:     ledger,
		imageDir:   imageDir,
		removedDir: removedDir,
		downloads:  downloads,
		server:     server,
	}
}

func (f *executorFixture) keepMap(recordID int64, field, value string, attID int64) *models.ActionMap {
	return actionMapOf(map[int64]map[string]*models.FieldDecision{
		recordID: {field: {
			Value:  value,
			Action: models.ActionKeep,
			Attachment: &models.Attachment{
				ID:          attID,
				MimeType:    "image/jpeg",
				Filename:    "user/attachments/" + value,
				DownloadURL: f.server.URL + "/att/" + value,
			},
		}},
	})
}

func TestExecutor_KeepDownloadsAndPersists(t *testing.T) {
	f := newExecutorFixture(t, false, map[string]string{"/att/photo.jpg": "jpeg bytes"})

	am := f.keepMap(1721, "photo", "photo.jpg", 2395)
	plan := f.exec.BuildPlan(am)

	report := &models.RunReport{}
	require.NoError(t, f.exec.Run(context.Background(), plan, report))

	assert.Equal(t, 1, report.Downloads)
	assert.Empty(t, report.Errors)

	localPath := filepath.Join(f.imageDir, "1721_photo.jpg")
	data, err := os.ReadFile(localPath)
	require.NoError(t, err)
	assert.Equal(t, "jpeg bytes", string(data))

	st, err := f.store.Load("aXy123", 1721, "photo")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, "1721_photo.jpg", st.ImageName)
	assert.Equal(t, "photo.jpg", st.OriginalName)
	assert.Equal(t, int64(2395), st.AttachmentID)
	assert.Equal(t, utils.CalculateBytesSHA256([]byte("jpeg bytes")), st.ImgInfo.Hash)
	assert.Equal(t, int64(len("jpeg bytes")), st.ImgInfo.Size)

	// No leftover partial file.
	_, err = os.Stat(localPath + ".part")
	assert.True(t, os.IsNotExist(err))
}

func TestExecutor_SecondRunIsUpToDate(t *testing.T) {
	f := newExecutorFixture(t, false, map[string]string{"/att/photo.jpg": "jpeg bytes"})
	am := f.keepMap(1721, "photo", "photo.jpg", 2395)

	report := &models.RunReport{}
	require.NoError(t, f.exec.Run(context.Background(), f.exec.BuildPlan(am), report))
	require.Equal(t, 1, report.Downloads)

	second := &models.RunReport{}
	require.NoError(t, f.exec.Run(context.Background(), f.exec.BuildPlan(am), second))

	assert.Equal(t, 0, second.Downloads)
	assert.Equal(t, 1, second.UpToDate)
	assert.Equal(t, int32(1), f.downloads.Load(), "server must only see the first run's download")
}

func TestExecutor_NewAttachmentIDForcesRedownload(t *testing.T) {
	f := newExecutorFixture(t, false, map[string]string{"/att/photo.jpg": "jpeg bytes v2"})
	am := f.keepMap(1721, "photo", "photo.jpg", 2395)

	report := &models.RunReport{}
	require.NoError(t, f.exec.Run(context.Background(), f.exec.BuildPlan(am), report))

	// The record is resubmitted: same base name, greater attachment id.
	am2 := f.keepMap(1721, "photo", "photo.jpg", 2460)
	second := &models.RunReport{}
	require.NoError(t, f.exec.Run(context.Background(), f.exec.BuildPlan(am2), second))

	assert.Equal(t, 1, second.Downloads)
	assert.Equal(t, 0, second.UpToDate)

	st, err := f.store.Load("aXy123", 1721, "photo")
	require.NoError(t, err)
	assert.Equal(t, int64(2460), st.AttachmentID)
}

func TestExecutor_DownloadFailureIsPerEntry(t *testing.T) {
	f := newExecutorFixture(t, false, map[string]string{}) // every path 404s
	am := f.keepMap(8, "photo", "gone.jpg", 12)

	report := &models.RunReport{}
	require.NoError(t, f.exec.Run(context.Background(), f.exec.BuildPlan(am), report))

	assert.Equal(t, 0, report.Downloads)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, int64(8), report.Errors[0].RecordID)
	assert.Equal(t, "HTTP_404", report.Errors[0].Category)
}

func TestExecutor_DeleteQuarantinesConfirmedFile(t *testing.T) {
	f := newExecutorFixture(t, false, nil)

	content := []byte("old image")
	localPath := filepath.Join(f.imageDir, "4_old.jpg")
	require.NoError(t, os.WriteFile(localPath, content, 0644))
	require.NoError(t, f.store.Save("aXy123", 4, "photo", &models.AttachmentState{
		ImageName:     "4_old.jpg",
		OriginalName:  "old.jpg",
		AttachmentID:  77,
		SaveTimestamp: 1700000000,
		ImgInfo:       models.ImageInfo{Hash: utils.CalculateBytesSHA256(content), RecordID: 4, Name: "4_old.jpg", Size: int64(len(content))},
	}))

	am := actionMapOf(map[int64]map[string]*models.FieldDecision{
		4: {"photo": {Action: models.ActionDelete}},
	})

	report := &models.RunReport{}
	require.NoError(t, f.exec.Run(context.Background(), f.exec.BuildPlan(am), report))

	assert.Equal(t, 1, report.Quarantined)
	assert.Equal(t, 0, report.Deleted)
	assert.Empty(t, report.Errors)

	_, err := os.Stat(localPath)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(f.removedDir, "4_old.jpg"))
	assert.NoError(t, err)
}

func TestExecutor_DestructiveDeleteRemoves(t *testing.T) {
	f := newExecutorFixture(t, true, nil)

	content := []byte("old image")
	localPath := filepath.Join(f.imageDir, "4_old.jpg")
	require.NoError(t, os.WriteFile(localPath, content, 0644))
	require.NoError(t, f.store.Save("aXy123", 4, "photo", &models.AttachmentState{
		ImageName:     "4_old.jpg",
		OriginalName:  "old.jpg",
		AttachmentID:  77,
		SaveTimestamp: 1700000000,
		ImgInfo:       models.ImageInfo{Hash: utils.CalculateBytesSHA256(content), RecordID: 4, Name: "4_old.jpg", Size: int64(len(content))},
	}))

	am := actionMapOf(map[int64]map[string]*models.FieldDecision{
		4: {"photo": {Action: models.ActionDelete}},
	})

	report := &models.RunReport{}
	require.NoError(t, f.exec.Run(context.Background(), f.exec.BuildPlan(am), report))

	assert.Equal(t, 1, report.Deleted)
	_, err := os.Stat(localPath)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(f.removedDir, "4_old.jpg"))
	assert.True(t, os.IsNotExist(err))
}

func TestExecutor_DeleteRefusesOnHashMismatch(t *testing.T) {
	f := newExecutorFixture(t, true, nil)

	localPath := filepath.Join(f.imageDir, "4_old.jpg")
	require.NoError(t, os.WriteFile(localPath, []byte("tampered content"), 0644))
	require.NoError(t, f.store.Save("aXy123", 4, "photo", &models.AttachmentState{
		ImageName:     "4_old.jpg",
		OriginalName:  "old.jpg",
		AttachmentID:  77,
		SaveTimestamp: 1700000000,
		ImgInfo:       models.ImageInfo{Hash: utils.CalculateBytesSHA256([]byte("original content")), RecordID: 4, Name: "4_old.jpg", Size: 16},
	}))

	am := actionMapOf(map[int64]map[string]*models.FieldDecision{
		4: {"photo": {Action: models.ActionDelete}},
	})

	report := &models.RunReport{}
	require.NoError(t, f.exec.Run(context.Background(), f.exec.BuildPlan(am), report))

	assert.Equal(t, 0, report.Deleted)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, "Reconcile_HashMismatch", report.Errors[0].Category)

	// The questionable file must survive untouched.
	_, err := os.Stat(localPath)
	assert.NoError(t, err)
}

func TestExecutor_PlanErrorIsReported(t *testing.T) {
	f := newExecutorFixture(t, false, map[string]string{"/att/house.jpg": "bytes"})

	am := actionMapOf(map[int64]map[string]*models.FieldDecision{
		7: {
			"front_photo": {
				Value:      "house.jpg",
				Action:     models.ActionKeep,
				Attachment: &models.Attachment{ID: 30, MimeType: "image/jpeg", DownloadURL: f.server.URL + "/att/house.jpg"},
			},
			"rear_photo": {
				Value:      "house.jpg",
				Action:     models.ActionKeep,
				Attachment: &models.Attachment{ID: 31, MimeType: "image/jpeg", DownloadURL: f.server.URL + "/att/house.jpg"},
			},
		},
	})

	report := &models.RunReport{}
	require.NoError(t, f.exec.Run(context.Background(), f.exec.BuildPlan(am), report))

	assert.Equal(t, 1, report.Downloads)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, "Reconcile_DuplicateName", report.Errors[0].Category)
	assert.Equal(t, "rear_photo", report.Errors[0].Field)
}

func TestExecutor_ContextCancelAborts(t *testing.T) {
	f := newExecutorFixture(t, false, map[string]string{"/att/photo.jpg": "bytes"})
	am := f.keepMap(1, "photo", "photo.jpg", 5)
	plan := f.exec.BuildPlan(am)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report := &models.RunReport{}
	err := f.exec.Run(ctx, plan, report)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, report.Downloads)
}
