package imaging

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"strconv"
	"strings"

	imgproc "github.com/disintegration/imaging"
)

// Filter is one image filter and its argument as sent by the client. An
// argument that is empty or just a flag ("1", "true") uses the default.
type Filter struct {
	Name  string
	Value string
}

// FilterNames lists every supported filter in the order they are applied.
var FilterNames = []string{
	"blur", "brighten",
	"colorize", "contrast",
	"darken", "desaturate",
	"edge detect", "emboss",
	"flip", "invert", "opacity", "pixelate", "sepia", "sharpen", "sketch",
}

type filterFunc func(image.Image) image.Image

// compile validates every filter up front so a bad argument fails before
// the source is decoded.
func compile(filters []Filter) ([]filterFunc, error) {
	out := make([]filterFunc, 0, len(filters))
	for _, f := range filters {
		build, ok := filterBuilders[f.Name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedFilter, f.Name)
		}
		fn, err := build(strings.TrimSpace(f.Value))
		if err != nil {
			return nil, fmt.Errorf("%w: %s=%q: %v", ErrUnsupportedFilter, f.Name, f.Value, err)
		}
		out = append(out, fn)
	}
	return out, nil
}

var filterBuilders = map[string]func(arg string) (filterFunc, error){
	"blur": func(arg string) (filterFunc, error) {
		sigma, err := number(arg, 2, 0.1, 50)
		if err != nil {
			return nil, err
		}
		return func(img image.Image) image.Image { return imgproc.Blur(img, sigma) }, nil
	},
	"brighten": func(arg string) (filterFunc, error) {
		pct, err := number(arg, 20, 0, 100)
		if err != nil {
			return nil, err
		}
		return func(img image.Image) image.Image { return imgproc.AdjustBrightness(img, pct) }, nil
	},
	"darken": func(arg string) (filterFunc, error) {
		pct, err := number(arg, 20, 0, 100)
		if err != nil {
			return nil, err
		}
		return func(img image.Image) image.Image { return imgproc.AdjustBrightness(img, -pct) }, nil
	},
	"contrast": func(arg string) (filterFunc, error) {
		pct, err := number(arg, 20, -100, 100)
		if err != nil {
			return nil, err
		}
		return func(img image.Image) image.Image { return imgproc.AdjustContrast(img, pct) }, nil
	},
	"colorize": func(arg string) (filterFunc, error) {
		tint := color.NRGBA{R: 0x70, G: 0x42, B: 0x14, A: 0xff}
		if !isFlag(arg) {
			c, err := hexColor(arg)
			if err != nil {
				return nil, err
			}
			tint = c
		}
		return func(img image.Image) image.Image {
			b := img.Bounds()
			layer := imgproc.New(b.Dx(), b.Dy(), tint)
			return imgproc.Overlay(img, layer, image.Pt(0, 0), 0.35)
		}, nil
	},
	"desaturate": simple(func(img image.Image) image.Image { return imgproc.Grayscale(img) }),
	"edge detect": simple(func(img image.Image) image.Image {
		return imgproc.Convolve3x3(imgproc.Grayscale(img), [9]float64{
			-1, -1, -1,
			-1, 8, -1,
			-1, -1, -1,
		}, nil)
	}),
	"emboss": simple(func(img image.Image) image.Image {
		return imgproc.Convolve3x3(img, [9]float64{
			-2, -1, 0,
			-1, 1, 1,
			0, 1, 2,
		}, nil)
	}),
	"flip": func(arg string) (filterFunc, error) {
		switch strings.ToLower(arg) {
		case "", "1", "true", "x", "h", "horizontal":
			return func(img image.Image) image.Image { return imgproc.FlipH(img) }, nil
		case "y", "v", "vertical":
			return func(img image.Image) image.Image { return imgproc.FlipV(img) }, nil
		case "both":
			return func(img image.Image) image.Image { return imgproc.Rotate180(img) }, nil
		}
		return nil, errors.New("want x, y or both")
	},
	"invert": simple(func(img image.Image) image.Image { return imgproc.Invert(img) }),
	"opacity": func(arg string) (filterFunc, error) {
		alpha, err := number(arg, 0.5, 0, 100)
		if err != nil {
			return nil, err
		}
		if alpha > 1 {
			alpha /= 100
		}
		// Derivatives are JPEG, so transparency is rendered over white.
		return func(img image.Image) image.Image {
			b := img.Bounds()
			return imgproc.Overlay(imgproc.New(b.Dx(), b.Dy(), color.White), img, image.Pt(0, 0), alpha)
		}, nil
	},
	"pixelate": func(arg string) (filterFunc, error) {
		block, err := number(arg, 8, 2, 256)
		if err != nil {
			return nil, err
		}
		return func(img image.Image) image.Image {
			b := img.Bounds()
			w := max(1, int(float64(b.Dx())/block))
			h := max(1, int(float64(b.Dy())/block))
			small := imgproc.Resize(img, w, h, imgproc.Box)
			return imgproc.Resize(small, b.Dx(), b.Dy(), imgproc.NearestNeighbor)
		}, nil
	},
	"sepia": simple(sepia),
	"sharpen": func(arg string) (filterFunc, error) {
		sigma, err := number(arg, 1, 0.1, 50)
		if err != nil {
			return nil, err
		}
		return func(img image.Image) image.Image { return imgproc.Sharpen(img, sigma) }, nil
	},
	"sketch": simple(sketch),
}

func simple(fn filterFunc) func(string) (filterFunc, error) {
	return func(string) (filterFunc, error) { return fn, nil }
}

// isFlag reports whether arg only switches a filter on.
func isFlag(arg string) bool {
	switch strings.ToLower(arg) {
	case "", "1", "true", "on", "yes":
		return true
	}
	return false
}

// number parses arg within [lo, hi]. A flag gives def.
func number(arg string, def, lo, hi float64) (float64, error) {
	if isFlag(arg) {
		return def, nil
	}
	n, err := strconv.ParseFloat(arg, 64)
	if err != nil || math.IsNaN(n) || n < lo || n > hi {
		return 0, fmt.Errorf("want a number between %g and %g", lo, hi)
	}
	return n, nil
}

var errBadColor = errors.New("want a #rrggbb color")

func hexColor(s string) (color.NRGBA, error) {
	s = strings.TrimPrefix(s, "#")
	if len(s) == 3 {
		s = string([]byte{s[0], s[0], s[1], s[1], s[2], s[2]})
	}
	if len(s) != 6 {
		return color.NRGBA{}, errBadColor
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return color.NRGBA{}, errBadColor
	}
	return color.NRGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}, nil
}

func sepia(img image.Image) image.Image {
	return imgproc.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
		r, g, b := float64(c.R), float64(c.G), float64(c.B)
		return color.NRGBA{
			R: clamp(0.393*r + 0.769*g + 0.189*b),
			G: clamp(0.349*r + 0.686*g + 0.168*b),
			B: clamp(0.272*r + 0.534*g + 0.131*b),
			A: c.A,
		}
	})
}

// sketch is a pencil drawing: the grayscale image color-dodged with its
// blurred negative.
func sketch(img image.Image) image.Image {
	gray := imgproc.Grayscale(img)
	soft := imgproc.Blur(imgproc.Invert(gray), 4)
	out := image.NewNRGBA(gray.Rect)
	for i := 0; i+3 < len(out.Pix); i += 4 {
		base, blend := float64(gray.Pix[i]), float64(soft.Pix[i])
		v := uint8(255)
		if blend < 255 {
			v = clamp(base * 255 / (255 - blend))
		}
		out.Pix[i], out.Pix[i+1], out.Pix[i+2], out.Pix[i+3] = v, v, v, gray.Pix[i+3]
	}
	return out
}

func clamp(v float64) uint8 {
	if v > 255 {
		return 255
	}
	if v < 0 {
		return 0
	}
	return uint8(v + 0.5)
}
