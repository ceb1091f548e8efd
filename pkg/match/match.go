// Package match resolves a submitted image-field value against a record's
// attachment descriptors.
package match

import (
	"strings"

	"attachment-sync/pkg/models"
)

// FindMatch returns the attachment whose filename ends with expectedSuffix,
// restricted to image mimetypes. When several attachments carry the same base
// name (an overwritten submission), the one with the greatest ID is returned;
// IDs are unique so ties cannot occur. Returns nil when nothing qualifies.
func FindMatch(expectedSuffix string, attachments []models.Attachment) *models.Attachment {
	if expectedSuffix == "" {
		return nil
	}

	var best *models.Attachment
	for i := range attachments {
		a := &attachments[i]
		if !strings.HasPrefix(a.MimeType, "image/") {
			continue
		}
		if !strings.HasSuffix(a.Filename, expectedSuffix) {
			continue
		}
		if best == nil || a.ID > best.ID {
			best = a
		}
	}
	return best
}
