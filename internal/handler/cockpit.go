package handler

import (
	"log/slog"
	"net/http"

	"github.com/sakif/pairshot/internal/imaging"
	"github.com/sakif/pairshot/internal/service"
)

// CockpitHandler serves image derivatives and the asset listing.
type CockpitHandler struct {
	cockpit *service.CockpitService
	maxBody int64
	logger  *slog.Logger
}

func NewCockpitHandler(cockpit *service.CockpitService, maxBody int64, logger *slog.Logger) *CockpitHandler {
	return &CockpitHandler{cockpit: cockpit, maxBody: maxBody, logger: logger}
}

// imageParams are the query parameters of the image endpoint.
type imageParams struct {
	Src     string `param:"src" validate:"required"`
	Mode    string `param:"m" validate:"omitempty,oneof=thumbnail resize"`
	Width   int    `param:"w" validate:"min=0,max=4096"`
	Height  int    `param:"h" validate:"min=0,max=4096"`
	Quality int    `param:"q" validate:"min=0,max=100"`
}

// HandleImage renders a resized copy of an uploaded picture.
//
// HTTP: GET /api/cockpit/image?src=/storage/a.jpg&m=thumbnail&w=300&h=300
// REQUEST: src, m, w, h, q, r (rebuild), b64, and any of the filters in
// imaging.FilterNames with an optional argument (blur=4, colorize=#ff8800)
// RESPONSE: {"path", "url", "width", "height"}, or a data URI string when
// b64 is set.
func (h *CockpitHandler) HandleImage(w http.ResponseWriter, r *http.Request) {
	p, err := readParams(w, r, h.maxBody)
	if err != nil {
		writeError(w, err)
		return
	}

	in := imageParams{Src: p.String("src"), Mode: p.String("m")}
	for key, dst := range map[string]*int{"w": &in.Width, "h": &in.Height, "q": &in.Quality} {
		if *dst, err = p.Int(key); err != nil {
			writeError(w, err)
			return
		}
	}
	if err := check(in); err != nil {
		writeError(w, err)
		return
	}

	opts := imaging.Options{
		Src:     in.Src,
		Mode:    in.Mode,
		Width:   in.Width,
		Height:  in.Height,
		Quality: in.Quality,
		Rebuild: p.Bool("r"),
		Base64:  p.Bool("b64"),
	}
	for _, name := range imaging.FilterNames {
		if v := p.String(name); p.Bool(name) || (v != "" && v != "0" && v != "false") {
			opts.Filters = append(opts.Filters, imaging.Filter{Name: name, Value: v})
		}
	}

	desc, err := h.cockpit.Image(r.Context(), opts)
	if err != nil {
		writeError(w, err)
		return
	}
	if opts.Base64 {
		writeJSON(w, http.StatusOK, desc.Data)
		return
	}
	writeJSON(w, http.StatusOK, desc)
}

// HandleAssets lists uploaded assets, newest first by default.
//
// HTTP: GET|POST /api/cockpit/assets
// REQUEST: filter, fields, sort, skip, limit
// RESPONSE: {"assets": [...], "total": n}
func (h *CockpitHandler) HandleAssets(w http.ResponseWriter, r *http.Request) {
	p, err := readParams(w, r, h.maxBody)
	if err != nil {
		writeError(w, err)
		return
	}
	opts, err := p.findOptions()
	if err != nil {
		writeError(w, err)
		return
	}

	res, err := h.cockpit.Assets(r.Context(), opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
