package service

import (
	"context"
	"fmt"
	"image"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/pairshot/internal/apperror"
	"github.com/sakif/pairshot/internal/imaging"
	"github.com/sakif/pairshot/internal/model"
	"github.com/sakif/pairshot/internal/query"
)

func TestImage_ErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantErr error
	}{
		{"outside root", imaging.ErrOutsideRoot, apperror.ErrValidation},
		{"mode", fmt.Errorf("%w: blur", imaging.ErrUnsupportedMode), apperror.ErrValidation},
		{"filter", fmt.Errorf("%w: solarize", imaging.ErrUnsupportedFilter), apperror.ErrValidation},
		{"not an image", fmt.Errorf("decoding: %w", image.ErrFormat), apperror.ErrValidation},
		{"missing file", fmt.Errorf("opening: %w", fs.ErrNotExist), apperror.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.images.err = tt.err
			svc := NewCockpitService(f.deps)

			_, err := svc.Image(context.Background(), imaging.Options{Src: "a.jpg"})
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestImage_MissingSrc(t *testing.T) {
	f := newFixture(t)
	_, err := NewCockpitService(f.deps).Image(context.Background(), imaging.Options{})
	assert.ErrorIs(t, err, apperror.ErrValidation)
}

func TestAssets(t *testing.T) {
	f := newFixture(t)
	svc := NewCockpitService(f.deps)

	for i := 0; i < 4; i++ {
		f.save(t, model.AssetsCollection, model.Document{"title": fmt.Sprintf("asset %d", i), model.KeyCreated: int64(100 + i)})
	}

	res, err := svc.Assets(context.Background(), query.Options{})
	require.NoError(t, err)
	require.Len(t, res.Assets, 4)
	assert.Equal(t, 4, res.Total)

	page, err := svc.Assets(context.Background(), query.Options{Limit: 1})
	require.NoError(t, err)
	require.Len(t, page.Assets, 1)
	assert.Equal(t, 4, page.Total)
}
