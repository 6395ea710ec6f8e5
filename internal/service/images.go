package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/sakif/pairshot/internal/apperror"
	"github.com/sakif/pairshot/internal/imaging"
	"github.com/sakif/pairshot/internal/metrics"
)

// storedImage is an uploaded original and its thumbnail, as public paths.
type storedImage struct {
	original string
	thumb    string
	width    int
}

// storeImage saves file under dir and renders a size x size thumbnail into
// thumbDir. Any failure removes what was written and reports the picture by
// its client-side name.
func (d *Deps) storeImage(ctx context.Context, dir, thumbDir string, file *UploadedFile, size int) (*storedImage, error) {
	failed := apperror.ValidationFailed("file", "There was an error during the upload of the picture "+file.Name)

	f, err := d.Files.Save(dir, file.Name, file.Content)
	if err != nil {
		d.Logger.Error("upload not stored", slog.String("dir", dir), slog.String("error", err.Error()))
		return nil, failed
	}

	start := time.Now()
	desc, err := d.Images.Thumbnail(ctx, imaging.Options{
		Src:     f.Rel,
		Mode:    imaging.ModeThumbnail,
		Width:   size,
		Height:  size,
		DestDir: thumbDir,
	})
	metrics.RecordThumbnail(time.Since(start))
	if err != nil {
		d.Logger.Warn("thumbnail failed", slog.String("file", f.Rel), slog.String("error", err.Error()))
		d.removeFiles(f.Rel)
		return nil, failed
	}

	width, err := d.Images.Width(f.Rel)
	if err != nil {
		d.Logger.Warn("reading width failed", slog.String("file", f.Rel), slog.String("error", err.Error()))
		d.removeFiles(f.Rel, desc.Path)
		return nil, failed
	}

	return &storedImage{original: f.PublicPath, thumb: desc.Path, width: width}, nil
}

// removeFiles deletes stored files, logging failures.
func (d *Deps) removeFiles(paths ...string) {
	for _, p := range paths {
		if err := d.Files.Remove(p); err != nil {
			d.Logger.Warn("file not removed", slog.String("path", p), slog.String("error", err.Error()))
		}
	}
}
