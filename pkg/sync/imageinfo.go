package sync

import (
	"fmt"
	"image"
	"os"

	// Decoder registrations for image.DecodeConfig. The x/image formats
	// cover webp/bmp/tiff attachments the stdlib cannot size.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/dustin/go-humanize"

	"attachment-sync/pkg/models"
	"attachment-sync/pkg/utils"
)

// probeImageInfo measures a downloaded file: content hash, byte size, and,
// when the format is decodable, pixel dimensions. Undecodable dimensions are
// not an error; width/height stay zero and the dimensions label empty.
func probeImageInfo(path, assetUID, assetName string, recordID int64, name, mimeType string) (models.ImageInfo, error) {
	info := models.ImageInfo{
		AssetUID:  assetUID,
		AssetName: assetName,
		RecordID:  recordID,
		Name:      name,
		MimeType:  mimeType,
	}

	fi, err := os.Stat(path)
	if err != nil {
		return info, fmt.Errorf("%w: stat '%s': %w", utils.ErrFilesystem, path, err)
	}
	info.Size = fi.Size()
	info.SizeLabel = humanize.Bytes(uint64(fi.Size()))

	hash, err := utils.CalculateFileSHA256(path)
	if err != nil {
		return info, fmt.Errorf("%w: hashing '%s': %w", utils.ErrFilesystem, path, err)
	}
	info.Hash = hash

	if f, err := os.Open(path); err == nil {
		if cfg, _, decErr := image.DecodeConfig(f); decErr == nil {
			info.Width = cfg.Width
			info.Height = cfg.Height
			info.Dimensions = fmt.Sprintf("%dx%d", cfg.Width, cfg.Height)
		}
		f.Close()
	}

	return info, nil
}
