package service

import (
	"context"
	"errors"
	"image"
	"io/fs"
	"log/slog"

	"github.com/sakif/pairshot/internal/apperror"
	"github.com/sakif/pairshot/internal/imaging"
	"github.com/sakif/pairshot/internal/model"
	"github.com/sakif/pairshot/internal/query"
)

// CockpitService serves the image derivative and asset listing endpoints.
type CockpitService struct {
	deps   Deps
	logger *slog.Logger
}

func NewCockpitService(deps Deps) *CockpitService {
	return &CockpitService{deps: deps, logger: deps.Logger}
}

// AssetsResult is the asset listing envelope.
type AssetsResult struct {
	Assets []model.Document `json:"assets"`
	Total  int              `json:"total"`
}

// Image renders (or reuses) a derivative of an uploaded file.
func (s *CockpitService) Image(ctx context.Context, opts imaging.Options) (*imaging.Descriptor, error) {
	if opts.Src == "" {
		return nil, apperror.ValidationFailed("src", "Missing src")
	}
	if opts.Mode == "" {
		opts.Mode = imaging.ModeThumbnail
	}

	desc, err := s.deps.Images.Thumbnail(ctx, opts)
	switch {
	case err == nil:
		return desc, nil
	case errors.Is(err, imaging.ErrOutsideRoot):
		s.logger.Warn("image outside uploads root", slog.String("src", opts.Src))
		return nil, apperror.ValidationFailed("src", "Invalid src")
	case errors.Is(err, imaging.ErrUnsupportedMode):
		return nil, apperror.ValidationFailed("m", "Unsupported mode")
	case errors.Is(err, imaging.ErrUnsupportedFilter):
		return nil, apperror.ValidationFailed("filters", "Unsupported filter")
	case errors.Is(err, image.ErrFormat):
		return nil, apperror.ValidationFailed("src", "Unsupported image")
	case errors.Is(err, fs.ErrNotExist):
		return nil, apperror.NotFoundMessage("File not found")
	default:
		return nil, err
	}
}

// Assets lists cockpit/assets, newest first unless opts sorts otherwise.
// Total follows the same rule as collection listings.
func (s *CockpitService) Assets(ctx context.Context, opts query.Options) (*AssetsResult, error) {
	if len(opts.Sort) == 0 {
		opts.Sort = []query.SortKey{{Field: model.KeyCreated, Desc: true}}
	}

	assets, err := s.deps.Store.Find(ctx, model.AssetsCollection, opts)
	if err != nil {
		return nil, storeError("listing assets", err)
	}

	total := len(assets)
	if opts.Skip != 0 || opts.Limit != 0 {
		if total, err = s.deps.Store.Count(ctx, model.AssetsCollection, opts.Filter); err != nil {
			return nil, storeError("counting assets", err)
		}
	}
	return &AssetsResult{Assets: assets, Total: total}, nil
}
