package action

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attachment-sync/pkg/models"
	"attachment-sync/pkg/utils"
)

func testLog() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func imageAtt(id int64, filename string) models.Attachment {
	return models.Attachment{ID: id, Filename: filename, MimeType: "image/jpeg", DownloadURL: "http://x/" + filename}
}

func TestBuildRecord_Classification(t *testing.T) {
	rec := &models.Record{
		ID: 1721,
		Attachments: []models.Attachment{
			imageAtt(2394, "user/attachments/photo.jpg"),
			imageAtt(2395, "user/attachments/photo.jpg"),
		},
		Fields: map[string]string{
			"photo":    "photo.jpg", // keep: matched, newest attachment wins
			"receipt":  "",          // delete: value cleared
			"landmark": "gone.jpg",  // none: no matching attachment
		},
	}
	imageFields := []models.ImageField{
		{Autoname: "photo", Path: "photo"},
		{Autoname: "receipt", Path: "receipt"},
		{Autoname: "landmark", Path: "landmark"},
	}

	ra, warnings, err := NewBuilder(testLog()).BuildRecord(rec, imageFields)
	require.NoError(t, err)

	keep := ra.Fields["photo"]
	require.NotNil(t, keep)
	assert.Equal(t, models.ActionKeep, keep.Action)
	require.NotNil(t, keep.Attachment)
	assert.Equal(t, int64(2395), keep.Attachment.ID)
	assert.Equal(t, "photo", keep.MappedKey)

	del := ra.Fields["receipt"]
	require.NotNil(t, del)
	assert.Equal(t, models.ActionDelete, del.Action)
	assert.Nil(t, del.Attachment)

	none := ra.Fields["landmark"]
	require.NotNil(t, none)
	assert.Equal(t, models.ActionNone, none.Action)
	assert.NotEmpty(t, none.Warning)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "gone.jpg")
}

func TestBuildRecord_AbsentKeyIsDelete(t *testing.T) {
	rec := &models.Record{
		ID:          9,
		Attachments: []models.Attachment{imageAtt(1, "u/a.jpg")},
		Fields:      map[string]string{},
	}
	imageFields := []models.ImageField{{Autoname: "photo"}}

	ra, _, err := NewBuilder(testLog()).BuildRecord(rec, imageFields)
	require.NoError(t, err)
	assert.Equal(t, models.ActionDelete, ra.Fields["photo"].Action)
}

func TestBuildRecord_NestedPathMatching(t *testing.T) {
	rec := &models.Record{
		ID:          12,
		Attachments: []models.Attachment{imageAtt(7, "u/roof.jpg")},
		Fields: map[string]string{
			"group1/roof_photo": "roof.jpg",
		},
	}
	imageFields := []models.ImageField{{Autoname: "roof_photo", Path: "group1/roof_photo"}}

	ra, _, err := NewBuilder(testLog()).BuildRecord(rec, imageFields)
	require.NoError(t, err)

	d := ra.Fields["roof_photo"]
	assert.Equal(t, models.ActionKeep, d.Action)
	assert.Equal(t, "group1/roof_photo", d.MappedKey)
}

func TestBuildRecord_SuffixKeyMatching(t *testing.T) {
	// Key carries a group prefix the schema does not declare.
	rec := &models.Record{
		ID:          13,
		Attachments: []models.Attachment{imageAtt(3, "u/pic.png")},
		Fields: map[string]string{
			"section_b/pic": "pic.png",
		},
	}
	imageFields := []models.ImageField{{Autoname: "pic"}}

	ra, _, err := NewBuilder(testLog()).BuildRecord(rec, imageFields)
	require.NoError(t, err)
	assert.Equal(t, models.ActionKeep, ra.Fields["pic"].Action)
	assert.Equal(t, "section_b/pic", ra.Fields["pic"].MappedKey)
}

func TestBuildRecord_AmbiguousFieldFatal(t *testing.T) {
	rec := &models.Record{
		ID:          14,
		Attachments: []models.Attachment{imageAtt(3, "u/pic.png")},
		Fields: map[string]string{
			"pic":           "pic.png",
			"section_b/pic": "pic.png",
		},
	}
	imageFields := []models.ImageField{{Autoname: "pic"}}

	_, _, err := NewBuilder(testLog()).BuildRecord(rec, imageFields)
	require.Error(t, err)
	assert.ErrorIs(t, err, utils.ErrAmbiguousField)
}

func TestBuild_Counts(t *testing.T) {
	records := []*models.Record{
		{
			ID:          1,
			Attachments: []models.Attachment{imageAtt(10, "u/a.jpg")},
			Fields:      map[string]string{"photo": "a.jpg", "receipt": ""},
		},
		{
			ID:          2,
			Attachments: []models.Attachment{imageAtt(11, "u/b.jpg")},
			Fields:      map[string]string{"photo": "missing.jpg"},
		},
	}
	imageFields := []models.ImageField{{Autoname: "photo"}, {Autoname: "receipt"}}

	am, err := NewBuilder(testLog()).Build("aXy123", records, imageFields)
	require.NoError(t, err)

	assert.Equal(t, "aXy123", am.AssetUID)
	assert.Len(t, am.Records, 2)
	assert.Equal(t, 1, am.Counts.Keeps)
	// Record 2's receipt is absent, so deletes come from both records.
	assert.Equal(t, 2, am.Counts.Deletes)
	assert.Equal(t, 1, am.Counts.Nones)
	assert.Equal(t, 1, am.Counts.Warnings)
	assert.Len(t, am.Warnings, 1)
}

func TestBuild_AmbiguousAborts(t *testing.T) {
	records := []*models.Record{
		{
			ID:          1,
			Attachments: []models.Attachment{imageAtt(10, "u/a.jpg")},
			Fields:      map[string]string{"photo": "a.jpg", "g/photo": "a.jpg"},
		},
	}
	_, err := NewBuilder(testLog()).Build("u1", records, []models.ImageField{{Autoname: "photo"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, utils.ErrAmbiguousField)
}
