// Package action classifies every (record, image field) pair of an asset into
// a keep/delete/none decision, producing the action map that drives the rest
// of the run.
package action

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"attachment-sync/pkg/match"
	"attachment-sync/pkg/models"
	"attachment-sync/pkg/utils"
)

// Builder constructs action maps from remote metadata. Stateless apart from
// its logger; safe to reuse across assets.
type Builder struct {
	log *logrus.Entry
}

// NewBuilder creates an action map builder.
func NewBuilder(log *logrus.Entry) *Builder {
	return &Builder{log: log}
}

// lookupValue finds the raw submission value bound to the field. A key
// matches on exact autoname, exact nested path, or a "/autoname" suffix.
// More than one distinct matching key is corrupt upstream data and fatal.
func lookupValue(rec *models.Record, field models.ImageField) (value, mappedKey string, err error) {
	var matched []string
	for key := range rec.Fields {
		if key == field.Autoname || (field.Path != "" && key == field.Path) || strings.HasSuffix(key, "/"+field.Autoname) {
			matched = append(matched, key)
		}
	}
	if len(matched) > 1 {
		return "", "", fmt.Errorf("%w: record %d field '%s' matched keys %v",
			utils.ErrAmbiguousField, rec.ID, field.Autoname, matched)
	}
	if len(matched) == 0 {
		return "", "", nil
	}
	return rec.Fields[matched[0]], matched[0], nil
}

// BuildRecord classifies all declared image fields of one record.
func (b *Builder) BuildRecord(rec *models.Record, imageFields []models.ImageField) (*models.RecordActions, []string, error) {
	ra := &models.RecordActions{
		RecordID: rec.ID,
		Fields:   make(map[string]*models.FieldDecision, len(imageFields)),
	}
	var warnings []string

	for _, field := range imageFields {
		value, mappedKey, err := lookupValue(rec, field)
		if err != nil {
			return nil, nil, err
		}

		decision := &models.FieldDecision{
			Value:     value,
			MappedKey: mappedKey,
		}

		switch {
		case value == "":
			decision.Action = models.ActionDelete

		default:
			if att := match.FindMatch(value, rec.Attachments); att != nil {
				decision.Action = models.ActionKeep
				decision.Attachment = att
			} else {
				decision.Action = models.ActionNone
				decision.Warning = fmt.Sprintf(
					"record %d field '%s': value '%s' has no matching attachment",
					rec.ID, field.Autoname, value)
				warnings = append(warnings, decision.Warning)
				b.log.WithFields(logrus.Fields{"record_id": rec.ID, "field": field.Autoname}).
					Warnf("No attachment matches submitted value '%s'", value)
			}
		}

		ra.Fields[field.Autoname] = decision
	}

	return ra, warnings, nil
}

// Build runs BuildRecord over every eligible record and accumulates run-wide
// counters. Records without attachments or image fields must be filtered out
// by the caller before this point.
func (b *Builder) Build(assetUID string, records []*models.Record, imageFields []models.ImageField) (*models.ActionMap, error) {
	am := &models.ActionMap{
		AssetUID: assetUID,
		Records:  make(map[int64]*models.RecordActions, len(records)),
	}

	for _, rec := range records {
		ra, warnings, err := b.BuildRecord(rec, imageFields)
		if err != nil {
			return nil, err
		}
		am.Records[rec.ID] = ra
		am.Warnings = append(am.Warnings, warnings...)

		for _, d := range ra.Fields {
			switch d.Action {
			case models.ActionKeep:
				am.Counts.Keeps++
			case models.ActionDelete:
				am.Counts.Deletes++
			case models.ActionNone:
				am.Counts.Nones++
			}
		}
	}
	am.Counts.Warnings = len(am.Warnings)

	b.log.WithField("asset_uid", assetUID).Infof(
		"Action map built: %d records, %d keep, %d delete, %d none, %d warnings",
		len(am.Records), am.Counts.Keeps, am.Counts.Deletes, am.Counts.Nones, am.Counts.Warnings)
	return am, nil
}
