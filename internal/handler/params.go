package handler

import (
	"errors"
	"fmt"
	"io"
	"math"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"reflect"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/sakif/pairshot/internal/apperror"
	"github.com/sakif/pairshot/internal/model"
	"github.com/sakif/pairshot/internal/query"
	"github.com/sakif/pairshot/internal/service"
)

// REQUEST PARAMETERS:
// Clients of this API send the same parameter in different ways: as a query
// string (GET /api/collections/get/posts?filter[published]=true), as a form,
// as multipart fields next to an upload, or as a JSON body. params merges all
// of them into one document. JSON body values win over form values, which win
// over the query string.
//
// Values that arrived as text remember it, so filters from a query string can
// have "true" and "12" turned into real booleans and numbers while JSON
// bodies keep their types.

// params is the merged view of a request's parameters.
type params struct {
	values  model.Document
	textual map[string]bool
	files   map[string][]*multipart.FileHeader
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("param"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// readParams parses query, form, multipart and JSON parameters. maxBody
// bounds the request body in bytes.
func readParams(w http.ResponseWriter, r *http.Request, maxBody int64) (*params, error) {
	p := &params{values: model.Document{}, textual: map[string]bool{}}
	p.mergeText(r.URL.Query())

	if r.Body == nil || r.Method == http.MethodGet || r.Method == http.MethodHead {
		return p, nil
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/json":
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			return nil, invalidBody(err)
		}
		for k, v := range body {
			p.values[k] = v
			delete(p.textual, k)
		}
	case "multipart/form-data":
		if err := r.ParseMultipartForm(maxBody); err != nil {
			return nil, invalidBody(err)
		}
		p.mergeText(r.MultipartForm.Value)
		p.files = r.MultipartForm.File
	case "application/x-www-form-urlencoded":
		if err := r.ParseForm(); err != nil {
			return nil, invalidBody(err)
		}
		p.mergeText(r.PostForm)
	}
	return p, nil
}

func invalidBody(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return apperror.ValidationFailed("body", "Request body too large")
	}
	return apperror.ValidationFailed("body", "Invalid request body")
}

// mergeText adds url-encoded values. Bracketed keys build nested objects:
// filter[name]=x becomes {"filter": {"name": "x"}} and tags[]=a&tags[]=b
// becomes {"tags": ["a", "b"]}.
func (p *params) mergeText(values url.Values) {
	for key, vals := range values {
		path := splitKey(key)
		for _, v := range vals {
			setPath(p.values, path, v, len(vals) > 1)
		}
		p.textual[path[0]] = true
	}
}

func splitKey(key string) []string {
	open := strings.IndexByte(key, '[')
	if open <= 0 || !strings.HasSuffix(key, "]") {
		return []string{key}
	}
	return append([]string{key[:open]}, strings.Split(key[open+1:len(key)-1], "][")...)
}

func setPath(m map[string]any, path []string, value string, repeated bool) {
	key := path[0]
	if len(path) == 1 {
		if repeated {
			list, _ := m[key].([]any)
			m[key] = append(list, value)
			return
		}
		m[key] = value
		return
	}
	if path[1] == "" {
		list, _ := m[key].([]any)
		m[key] = append(list, value)
		return
	}
	child, ok := m[key].(map[string]any)
	if !ok {
		child = map[string]any{}
		m[key] = child
	}
	setPath(child, path[1:], value, repeated)
}

func (p *params) get(key string) any { return p.values[key] }

func (p *params) String(key string) string { return strings.TrimSpace(p.values.String(key)) }

func (p *params) Bool(key string) bool { return p.values.Bool(key) }

func (p *params) Has(key string) bool { return p.values.Has(key) }

// Document returns the object at key as sent, without coercion.
func (p *params) Document(key string) model.Document {
	if s, ok := p.values[key].(string); ok {
		return decodeObject(s)
	}
	return p.values.Map(key)
}

// Int reads a whole number. An absent or empty parameter reads as 0; any
// other value that is not a whole number is a validation error.
func (p *params) Int(key string) (int, error) {
	v := p.values[key]
	if v == nil || v == "" {
		return 0, nil
	}
	if f, ok := v.(float64); ok && f != math.Trunc(f) {
		return 0, invalidParam(key)
	}
	n, ok := p.values.Int64(key)
	if !ok {
		return 0, invalidParam(key)
	}
	return int(n), nil
}

func invalidParam(key string) error {
	return apperror.ValidationFailed(key, "Invalid parameter "+key)
}

// Object returns the object at key. Objects sent as text (query string or a
// JSON-encoded form field) get their string values coerced.
func (p *params) Object(key string) map[string]any {
	var obj map[string]any
	switch v := p.values[key].(type) {
	case string:
		// JSON inside a text field already carries its types.
		if doc := decodeObject(v); doc != nil {
			return doc
		}
		return nil
	case map[string]any:
		obj = v
	case model.Document:
		obj = v
	default:
		return nil
	}
	if p.textual[key] {
		obj, _ = query.CoerceStrings(obj).(map[string]any)
	}
	return obj
}

// decodeObject reads a JSON object sent as a single string parameter.
func decodeObject(s string) model.Document {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "{") {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	return out
}

// pageParams bounds the paging parameters shared by list endpoints.
type pageParams struct {
	Skip  int `param:"skip" validate:"min=0"`
	Limit int `param:"limit" validate:"min=0"`
}

// findOptions builds store options from filter, fields, sort, skip and limit.
func (p *params) findOptions() (query.Options, error) {
	var page pageParams
	var err error
	if page.Skip, err = p.Int("skip"); err != nil {
		return query.Options{}, err
	}
	if page.Limit, err = p.Int("limit"); err != nil {
		return query.Options{}, err
	}
	if err := check(page); err != nil {
		return query.Options{}, err
	}

	opts := query.Options{
		Filter: p.Object("filter"),
		Fields: p.Object("fields"),
		Skip:   page.Skip,
		Limit:  page.Limit,
	}
	if sort := p.Object("sort"); sort != nil {
		coerced, _ := query.CoerceStrings(sort).(map[string]any)
		opts.Sort = query.ParseSort(coerced)
	}
	return opts, nil
}

// check runs struct validation and reports the first failure as a
// validation error naming the parameter.
func check(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return apperror.ValidationFailed(fe.Field(), fmt.Sprintf("Invalid parameter %s", fe.Field()))
	}
	return fmt.Errorf("validating parameters: %w", err)
}

// openUpload opens the multipart file sent under field. A missing file is
// not an error here; the services decide what a missing file means. Files
// that are not images are refused.
func (p *params) openUpload(field string) (*service.UploadedFile, func(), error) {
	noop := func() {}
	headers := p.files[field]
	if len(headers) == 0 {
		return nil, noop, nil
	}
	fh := headers[0]

	f, err := fh.Open()
	if err != nil {
		return nil, noop, fmt.Errorf("opening upload %s: %w", fh.Filename, err)
	}
	mt, err := mimetype.DetectReader(f)
	if err != nil {
		f.Close()
		return nil, noop, fmt.Errorf("sniffing upload %s: %w", fh.Filename, err)
	}
	if !strings.HasPrefix(mt.String(), "image/") {
		f.Close()
		return nil, noop, apperror.ValidationFailed(field, "There was an error during the upload of the picture "+fh.Filename)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return nil, noop, fmt.Errorf("rewinding upload %s: %w", fh.Filename, err)
	}
	return &service.UploadedFile{Name: fh.Filename, Content: f}, func() { f.Close() }, nil
}
