package models

import (
	"fmt"
	"time"
)

// ImageField is a declared image question on an asset's form schema.
type ImageField struct {
	Autoname string `json:"autoname"`       // Unique field key
	Path     string `json:"path,omitempty"` // Optional nested group path (e.g. "group1/photo")
}

// Asset is a form/schema definition on the remote server.
type Asset struct {
	UID              string       `json:"uid"`
	Name             string       `json:"name"`
	DeploymentActive bool         `json:"deployment_active"`
	ImageFields      []ImageField `json:"image_fields,omitempty"`
}

// Attachment describes a remote binary resource linked to one record.
// IDs are assigned by the server; when several attachments share a base
// filename (historic overwrite), the greatest ID is the current one. This is
// an observed convention of the remote source, not a verified guarantee.
type Attachment struct {
	ID          int64  `json:"id"`
	InstanceID  int64  `json:"instance"` // Owning record
	AssetUID    string `json:"asset_uid"`
	Filename    string `json:"filename"` // Path-like, ends in the base name
	DownloadURL string `json:"download_url"`
	MimeType    string `json:"mimetype"`
}

// Record is one submission: its numeric id, attachment descriptors, and the
// raw field values keyed by field autoname (possibly under a group path).
type Record struct {
	ID          int64
	Attachments []Attachment
	Fields      map[string]string
}

// FieldAction classifies one (record, image field) pair for the run.
type FieldAction string

const (
	ActionKeep   FieldAction = "keep"
	ActionDelete FieldAction = "delete"
	ActionNone   FieldAction = "none"
)

// FieldDecision is one action map entry. Exactly one of three shapes holds:
// no value => delete; value + resolved attachment => keep; value without a
// resolvable attachment => none (flagged via Warning).
type FieldDecision struct {
	Value      string      `json:"value,omitempty"`
	Attachment *Attachment `json:"attachment,omitempty"`
	Action     FieldAction `json:"action"`
	MappedKey  string      `json:"subm_mapped_key,omitempty"` // Raw submission key actually matched
	Warning    string      `json:"warning,omitempty"`
}

// RecordActions holds the per-field decisions for one record.
type RecordActions struct {
	RecordID int64                     `json:"recordId"`
	Fields   map[string]*FieldDecision `json:"fields"` // Keyed by field autoname
}

// ActionCounts accumulates classification totals across an action map.
type ActionCounts struct {
	Keeps    int `json:"keeps"`
	Deletes  int `json:"deletes"`
	Nones    int `json:"nones"`
	Warnings int `json:"warnings"`
}

// ActionMap is the run-owned artifact driving reconciliation for one asset.
type ActionMap struct {
	AssetUID string                   `json:"assetUid"`
	Records  map[int64]*RecordActions `json:"records"`
	Warnings []string                 `json:"warnings,omitempty"`
	Counts   ActionCounts             `json:"counts"`
}

// TargetFilename computes the local filename for a record's field value.
func TargetFilename(recordID int64, value string) string {
	return fmt.Sprintf("%d_%s", recordID, value)
}

// ImageInfo captures the measured properties of a downloaded file. Nested in
// the persisted state record and echoed as a ledger row.
type ImageInfo struct {
	Hash       string `json:"hash"` // SHA-256 hex of the file bytes
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	Dimensions string `json:"dimensions"` // "WxH", empty when undecodable
	AssetUID   string `json:"assetUid"`
	AssetName  string `json:"assetName"`
	RecordID   int64  `json:"recordId"`
	Name       string `json:"name"` // Local filename
	MimeType   string `json:"mimeType"`
	Size       int64  `json:"size"`
	SizeLabel  string `json:"sizeMB"` // Human-readable size
}

// AttachmentState is the durable per-(record, field) descriptor of the last
// successful download. The JSON shape is an on-disk contract: a record written
// by one run must parse identically in later runs.
type AttachmentState struct {
	ImageName     string    `json:"imageName"`    // Record-id-prefixed local filename
	OriginalName  string    `json:"originalName"` // Base name as submitted
	AttachmentID  int64     `json:"attachmentId"`
	SaveTimestamp int64     `json:"saveTimestamp"` // Unix seconds
	ImgInfo       ImageInfo `json:"imgInfo"`
}

// Valid reports whether the state record is structurally complete. A partial
// or mistyped record is treated as absent by callers, never as an error.
func (s *AttachmentState) Valid() bool {
	if s == nil {
		return false
	}
	if s.ImageName == "" || s.OriginalName == "" {
		return false
	}
	if s.AttachmentID <= 0 || s.SaveTimestamp <= 0 {
		return false
	}
	if s.ImgInfo.Hash == "" || s.ImgInfo.Name == "" {
		return false
	}
	if s.ImgInfo.RecordID <= 0 || s.ImgInfo.Size < 0 {
		return false
	}
	return true
}

// EntryError is one per-entry failure surfaced in the run report.
type EntryError struct {
	RecordID int64  `json:"recordId"`
	Field    string `json:"field"`
	Category string `json:"category"`
	Message  string `json:"message"`
}

// RunReport summarizes one reconciliation run over one asset.
type RunReport struct {
	RunID       string       `json:"runId"`
	AssetUID    string       `json:"assetUid"`
	AssetName   string       `json:"assetName"`
	StartedAt   time.Time    `json:"startedAt"`
	FinishedAt  time.Time    `json:"finishedAt"`
	Records     int          `json:"records"`
	Skipped     int          `json:"skipped"` // Records with no attachments or no image fields
	Counts      ActionCounts `json:"counts"`
	Downloads   int          `json:"downloads"`
	UpToDate    int          `json:"upToDate"`
	Deleted     int          `json:"deleted"`
	Quarantined int          `json:"quarantined"`
	Orphans     int          `json:"orphans"` // Files handled by the sweeper
	Errors      []EntryError `json:"errors,omitempty"`
}
