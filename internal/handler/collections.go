package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/pairshot/internal/apperror"
	"github.com/sakif/pairshot/internal/auth"
	"github.com/sakif/pairshot/internal/model"
	"github.com/sakif/pairshot/internal/service"
)

// CollectionsHandler serves /api/collections: entries, collection
// definitions and discussion uploads.
type CollectionsHandler struct {
	collections *service.CollectionsService
	maxBody     int64
	logger      *slog.Logger
}

func NewCollectionsHandler(collections *service.CollectionsService, maxBody int64, logger *slog.Logger) *CollectionsHandler {
	return &CollectionsHandler{collections: collections, maxBody: maxBody, logger: logger}
}

// HandleGet lists entries.
//
// HTTP: GET|POST /api/collections/get/{collection}
// REQUEST: filter, fields, sort, skip, limit, simple, lang
// RESPONSE: {"fields": {...}, "entries": [...], "total": n}, or just the
// entries array when simple is set.
func (h *CollectionsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
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

	res, err := h.collections.Get(r.Context(), auth.ActorFromContext(r.Context()), chi.URLParam(r, "collection"), opts)
	if err != nil {
		writeError(w, err)
		return
	}
	if p.Bool("simple") {
		writeJSON(w, http.StatusOK, res.Entries)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleSave creates or replaces an entry.
//
// HTTP: POST /api/collections/save/{collection}
// REQUEST: data
func (h *CollectionsHandler) HandleSave(w http.ResponseWriter, r *http.Request) {
	p, err := readParams(w, r, h.maxBody)
	if err != nil {
		writeError(w, err)
		return
	}

	entry, err := h.collections.Save(r.Context(), auth.ActorFromContext(r.Context()), chi.URLParam(r, "collection"), p.Document("data"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// HandleRemove deletes entries.
//
// HTTP: POST /api/collections/remove/{collection}
// REQUEST: filter (an _id or a filter object), count
// RESPONSE: {"success": true, "count": n}
func (h *CollectionsHandler) HandleRemove(w http.ResponseWriter, r *http.Request) {
	p, err := readParams(w, r, h.maxBody)
	if err != nil {
		writeError(w, err)
		return
	}

	var filter any
	if obj := p.Object("filter"); obj != nil {
		filter = obj
	} else if id := p.String("filter"); id != "" {
		filter = id
	}

	res, err := h.collections.Remove(r.Context(), auth.ActorFromContext(r.Context()), chi.URLParam(r, "collection"), filter, p.Bool("count"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleCreateCollection defines a collection.
//
// HTTP: POST /api/collections/createCollection
// REQUEST: name, data = {label, fields, acl}
func (h *CollectionsHandler) HandleCreateCollection(w http.ResponseWriter, r *http.Request) {
	p, err := readParams(w, r, h.maxBody)
	if err != nil {
		writeError(w, err)
		return
	}

	coll, err := h.collections.CreateCollection(r.Context(), auth.ActorFromContext(r.Context()), p.String("name"), p.Document("data"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, coll)
}

// HandleUpdateCollection changes a collection definition.
//
// HTTP: POST /api/collections/updateCollection/{name}
// REQUEST: data = {label, fields, acl}
func (h *CollectionsHandler) HandleUpdateCollection(w http.ResponseWriter, r *http.Request) {
	p, err := readParams(w, r, h.maxBody)
	if err != nil {
		writeError(w, err)
		return
	}
	data := p.Document("data")
	if data == nil {
		writeError(w, apperror.ValidationFailed("data", "Missing data"))
		return
	}

	coll, err := h.collections.UpdateCollection(r.Context(), auth.ActorFromContext(r.Context()), chi.URLParam(r, "name"), data)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, coll)
}

// HandleCollection returns one definition.
//
// HTTP: GET /api/collections/collection/{name}
func (h *CollectionsHandler) HandleCollection(w http.ResponseWriter, r *http.Request) {
	coll, err := h.collections.Collection(r.Context(), auth.ActorFromContext(r.Context()), chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, coll)
}

// HandleListCollections lists the collections the caller may view: their
// names, or the full definitions keyed by name with ?extended=1.
//
// HTTP: GET /api/collections/listCollections
func (h *CollectionsHandler) HandleListCollections(w http.ResponseWriter, r *http.Request) {
	p, err := readParams(w, r, h.maxBody)
	if err != nil {
		writeError(w, err)
		return
	}

	colls, err := h.collections.ListCollections(r.Context(), auth.ActorFromContext(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}

	if p.Bool("extended") {
		byName := make(map[string]model.Collection, len(colls))
		for _, c := range colls {
			byName[c.Name] = c
		}
		writeJSON(w, http.StatusOK, byName)
		return
	}
	names := make([]string, 0, len(colls))
	for _, c := range colls {
		names = append(names, c.Name)
	}
	writeJSON(w, http.StatusOK, names)
}

// HandleUpload stores the picture of the photographer whose turn it is in a
// discussion.
//
// HTTP: POST /api/collections/upload (multipart)
// REQUEST: file, _id (discussion), _userid (photographer), completed,
// cancelled, continued
func (h *CollectionsHandler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	p, err := readParams(w, r, h.maxBody)
	if err != nil {
		writeError(w, err)
		return
	}

	file, closeFile, err := p.openUpload("file")
	if err != nil {
		writeError(w, err)
		return
	}
	defer closeFile()

	discussion, err := h.collections.UploadDiscussion(r.Context(), auth.ActorFromContext(r.Context()), service.DiscussionUpload{
		File:         file,
		DiscussionID: p.String("_id"),
		UserID:       p.String("_userid"),
		Completed:    p.Bool("completed"),
		Cancelled:    p.Bool("cancelled"),
		Continued:    p.Bool("continued"),
	})
	if err != nil {
		h.logger.Info("discussion upload not completed",
			slog.String("discussion", p.String("_id")),
			slog.String("error", err.Error()),
		)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, discussion)
}
