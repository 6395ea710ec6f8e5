// Package imaging generates resized JPEG derivatives of uploaded images.
//
// Every source path is resolved inside the uploads root; anything that would
// escape it is refused. Derivatives are cached on disk next to their
// destination and reused until a rebuild is requested.
package imaging

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	// Decoders for image.DecodeConfig.
	_ "image/gif"
	_ "image/png"

	imgproc "github.com/disintegration/imaging"
	"github.com/nfnt/resize"
)

var (
	ErrOutsideRoot       = errors.New("imaging: source is outside the uploads root")
	ErrUnsupportedMode   = errors.New("imaging: unsupported mode")
	ErrUnsupportedFilter = errors.New("imaging: unsupported filter")
)

// Modes.
const (
	// ModeThumbnail fits the image inside Width x Height keeping its aspect
	// ratio. A zero bound is unconstrained.
	ModeThumbnail = "thumbnail"
	// ModeResize scales to exactly Width x Height; a zero side keeps the
	// aspect ratio.
	ModeResize = "resize"
)

const defaultQuality = 85

// Options describes one derivative.
type Options struct {
	// Src is a path relative to the uploads root, or a public path starting
	// with the public prefix.
	Src     string
	Mode    string
	Width   int
	Height  int
	Quality int
	// Filters run after scaling, in order.
	Filters []Filter
	// DestDir is where the derivative goes, relative to the root. Empty
	// means a "thumbs" directory next to Src.
	DestDir string
	Rebuild bool
	Base64  bool
}

// Descriptor is the generated derivative.
type Descriptor struct {
	// Path is the public path, e.g. /storage/discussions/x/a_300x0.jpg.
	Path   string `json:"path"`
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	// Data is a data: URI, only set when Options.Base64 is true.
	Data string `json:"data,omitempty"`
}

// Config roots the thumbnailer in the uploads directory.
type Config struct {
	Root         string
	PublicPrefix string
	// BaseURL prefixes public paths to build absolute URLs, e.g.
	// "http://api.example.com".
	BaseURL string
}

// Thumbnailer scales with nfnt/resize and filters with
// disintegration/imaging.
type Thumbnailer struct {
	root         string
	publicPrefix string
	baseURL      string
}

func New(cfg Config) (*Thumbnailer, error) {
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("imaging: resolving root: %w", err)
	}
	return &Thumbnailer{
		root:         root,
		publicPrefix: "/" + strings.Trim(cfg.PublicPrefix, "/"),
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
	}, nil
}

// Thumbnail produces (or reuses) the derivative described by opts.
func (t *Thumbnailer) Thumbnail(ctx context.Context, opts Options) (*Descriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	src, err := t.Resolve(opts.Src)
	if err != nil {
		return nil, err
	}
	if opts.Mode == "" {
		opts.Mode = ModeThumbnail
	}
	if opts.Mode != ModeThumbnail && opts.Mode != ModeResize {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMode, opts.Mode)
	}
	filters, err := compile(opts.Filters)
	if err != nil {
		return nil, err
	}
	if opts.Quality <= 0 || opts.Quality > 100 {
		opts.Quality = defaultQuality
	}

	destDir := filepath.Join(filepath.Dir(src), "thumbs")
	if opts.DestDir != "" {
		if destDir, err = t.Resolve(opts.DestDir); err != nil {
			return nil, err
		}
	}
	dest := filepath.Join(destDir, derivativeName(src, opts))

	if _, err := os.Stat(dest); err != nil || opts.Rebuild {
		if err := t.render(src, dest, opts, filters); err != nil {
			return nil, err
		}
	}

	data, err := os.ReadFile(dest)
	if err != nil {
		return nil, fmt.Errorf("imaging: reading %s: %w", dest, err)
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("imaging: reading size of %s: %w", dest, err)
	}

	desc := &Descriptor{
		Path:   t.PublicPath(dest),
		Width:  cfg.Width,
		Height: cfg.Height,
	}
	desc.URL = t.baseURL + desc.Path
	if opts.Base64 {
		desc.Data = "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(data)
	}
	return desc, nil
}

// Width returns the pixel width of the image at p (root-relative or public).
func (t *Thumbnailer) Width(p string) (int, error) {
	abs, err := t.Resolve(p)
	if err != nil {
		return 0, err
	}
	f, err := os.Open(abs)
	if err != nil {
		return 0, fmt.Errorf("imaging: opening %s: %w", p, err)
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, fmt.Errorf("imaging: decoding %s: %w", p, err)
	}
	return cfg.Width, nil
}

// Resolve maps a root-relative or public path to an absolute path inside
// the root.
func (t *Thumbnailer) Resolve(p string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("%w: empty path", ErrOutsideRoot)
	}
	slashed := filepath.ToSlash(p)
	for _, seg := range strings.Split(slashed, "/") {
		if seg == ".." {
			return "", fmt.Errorf("%w: %s", ErrOutsideRoot, p)
		}
	}

	if filepath.IsAbs(p) && strings.HasPrefix(filepath.Clean(p), t.root+string(filepath.Separator)) {
		slashed = filepath.ToSlash(strings.TrimPrefix(filepath.Clean(p), t.root))
	} else if rest, ok := strings.CutPrefix(slashed, t.publicPrefix+"/"); ok {
		slashed = rest
	}

	return filepath.Join(t.root, filepath.FromSlash(path.Clean("/"+slashed))), nil
}

// PublicPath converts an absolute path inside the root to its public path.
func (t *Thumbnailer) PublicPath(abs string) string {
	rel, err := filepath.Rel(t.root, abs)
	if err != nil {
		return ""
	}
	return t.publicPrefix + "/" + filepath.ToSlash(rel)
}

func (t *Thumbnailer) render(src, dest string, opts Options, filters []filterFunc) error {
	// Phones store rotation in EXIF; apply it so derivatives stand upright.
	img, err := imgproc.Open(src, imgproc.AutoOrientation(true))
	if err != nil {
		return fmt.Errorf("imaging: decoding %s: %w", src, err)
	}

	switch opts.Mode {
	case ModeResize:
		img = resize.Resize(uint(max(opts.Width, 0)), uint(max(opts.Height, 0)), img, resize.Lanczos3)
	default:
		w, h := opts.Width, opts.Height
		b := img.Bounds()
		if w <= 0 {
			w = b.Dx()
		}
		if h <= 0 {
			h = b.Dy()
		}
		img = resize.Thumbnail(uint(w), uint(h), img, resize.Lanczos3)
	}

	for _, apply := range filters {
		img = apply(img)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("imaging: creating %s: %w", filepath.Dir(dest), err)
	}

	var buf bytes.Buffer
	if err := imgproc.Encode(&buf, img, imgproc.JPEG, imgproc.JPEGQuality(opts.Quality)); err != nil {
		return fmt.Errorf("imaging: encoding %s: %w", dest, err)
	}
	if err := os.WriteFile(dest, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("imaging: writing %s: %w", dest, err)
	}
	return nil
}

// derivativeName encodes every option that changes the output, so
// different requests never share a cache file.
func derivativeName(src string, opts Options) string {
	base := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
	name := fmt.Sprintf("%s_%s_%dx%d_q%d", base, opts.Mode, opts.Width, opts.Height, opts.Quality)
	for _, f := range opts.Filters {
		name += "_" + filterTag.ReplaceAllString(f.Name, "")
		if v := filterTag.ReplaceAllString(f.Value, ""); v != "" {
			name += "-" + v
		}
	}
	return name + ".jpg"
}

var filterTag = regexp.MustCompile(`[^a-zA-Z0-9.]`)
