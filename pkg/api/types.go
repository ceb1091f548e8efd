package api

import (
	"encoding/json"
	"fmt"
	"strings"

	"attachment-sync/pkg/models"
	"attachment-sync/pkg/utils"
)

// Wire shapes of the forms server. Parsing failures surface as typed
// ErrMalformedResponse errors rather than scattered runtime checks.

type assetListPage struct {
	Count   int            `json:"count"`
	Next    *string        `json:"next"`
	Results []assetSummary `json:"results"`
}

type assetSummary struct {
	UID              string `json:"uid"`
	Name             string `json:"name"`
	DeploymentActive bool   `json:"deployment__active"`
}

type assetDetail struct {
	UID              string       `json:"uid"`
	Name             string       `json:"name"`
	DeploymentActive bool         `json:"deployment__active"`
	Content          assetContent `json:"content"`
}

type assetContent struct {
	Survey []surveyRow `json:"survey"`
}

type surveyRow struct {
	Type     string `json:"type"`
	Name     string `json:"name"`
	Autoname string `json:"$autoname"`
	XPath    string `json:"$xpath"`
}

type submissionPage struct {
	Count   int               `json:"count"`
	Next    *string           `json:"next"`
	Results []json.RawMessage `json:"results"`
}

type wireAttachment struct {
	ID          *int64 `json:"id"`
	InstanceID  int64  `json:"instance"`
	Filename    string `json:"filename"`
	DownloadURL string `json:"download_url"`
	MimeType    string `json:"mimetype"`
}

// toAsset converts an asset detail payload, extracting the declared image
// fields from the form schema.
func (d *assetDetail) toAsset() (*models.Asset, error) {
	if d.UID == "" {
		return nil, fmt.Errorf("%w: asset payload missing 'uid'", utils.ErrMalformedResponse)
	}

	asset := &models.Asset{
		UID:              d.UID,
		Name:             d.Name,
		DeploymentActive: d.DeploymentActive,
	}
	for _, row := range d.Content.Survey {
		if row.Type != "image" {
			continue
		}
		autoname := row.Autoname
		if autoname == "" {
			autoname = row.Name
		}
		if autoname == "" {
			return nil, fmt.Errorf("%w: image survey row of asset '%s' has no autoname or name", utils.ErrMalformedResponse, d.UID)
		}
		asset.ImageFields = append(asset.ImageFields, models.ImageField{
			Autoname: autoname,
			Path:     row.XPath,
		})
	}
	return asset, nil
}

// parseSubmission converts one raw submission object into a typed Record.
// "_id" and, when present, "_attachments" are required to be well formed;
// every other scalar string key is kept as a raw field value.
func parseSubmission(assetUID string, raw json.RawMessage) (*models.Record, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("%w: submission is not an object: %w", utils.ErrMalformedResponse, err)
	}

	idRaw, ok := obj["_id"]
	if !ok {
		return nil, fmt.Errorf("%w: submission missing '_id'", utils.ErrMalformedResponse)
	}
	var id int64
	if err := json.Unmarshal(idRaw, &id); err != nil || id <= 0 {
		return nil, fmt.Errorf("%w: submission '_id' is not a positive integer", utils.ErrMalformedResponse)
	}

	rec := &models.Record{
		ID:     id,
		Fields: make(map[string]string),
	}

	if attRaw, ok := obj["_attachments"]; ok {
		var wire []wireAttachment
		if err := json.Unmarshal(attRaw, &wire); err != nil {
			return nil, fmt.Errorf("%w: record %d '_attachments' is not a list: %w", utils.ErrMalformedResponse, id, err)
		}
		for _, w := range wire {
			if w.ID == nil || *w.ID <= 0 {
				return nil, fmt.Errorf("%w: record %d attachment missing 'id'", utils.ErrMalformedResponse, id)
			}
			if w.Filename == "" {
				return nil, fmt.Errorf("%w: record %d attachment %d missing 'filename'", utils.ErrMalformedResponse, id, *w.ID)
			}
			instance := w.InstanceID
			if instance == 0 {
				instance = id
			}
			rec.Attachments = append(rec.Attachments, models.Attachment{
				ID:          *w.ID,
				InstanceID:  instance,
				AssetUID:    assetUID,
				Filename:    w.Filename,
				DownloadURL: w.DownloadURL,
				MimeType:    w.MimeType,
			})
		}
	}

	for key, val := range obj {
		if strings.HasPrefix(key, "_") {
			continue
		}
		var s string
		if err := json.Unmarshal(val, &s); err != nil {
			// Non-string values (groups, numbers, repeats) are not image
			// field candidates.
			continue
		}
		rec.Fields[key] = s
	}

	return rec, nil
}
