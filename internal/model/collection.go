package model

// Collection is the schema description of a named set of entries.
type Collection struct {
	Name   string  `json:"name"`
	Label  string  `json:"label,omitempty"`
	Fields []Field `json:"fields"`
	// ACL grants collection-level actions per group:
	//   {"photographer": {"entries_view": true, "entries_create": true}}
	ACL      map[string]map[string]bool `json:"acl,omitempty"`
	Created  int64                      `json:"_created,omitempty"`
	Modified int64                      `json:"_modified,omitempty"`
}

// Field describes one field of a collection. A non-empty ACL restricts the
// field to the listed account ids and groups.
type Field struct {
	Name     string   `json:"name"`
	Type     string   `json:"type"`
	Localize bool     `json:"localize"`
	Options  any      `json:"options"`
	ACL      []string `json:"acl,omitempty"`
}

// FieldInfo is the public part of a Field returned by the get endpoint.
type FieldInfo struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Localize bool   `json:"localize"`
	Options  any    `json:"options"`
}

// Info strips the ACL.
func (f Field) Info() FieldInfo {
	return FieldInfo{Name: f.Name, Type: f.Type, Localize: f.Localize, Options: f.Options}
}

// Domain collections used by the upload workflows.
const (
	PhotographersCollection = "photographers"
	DiscussionsCollection   = "discussions"
	AssetsCollection        = "cockpit/assets"
)

// MaxPortfolioUploads caps a photographer's portfolio.
const MaxPortfolioUploads = 15

// Upload describes one stored image inside a photographer or discussion
// document. Time is only set for discussion uploads.
type Upload struct {
	Original string `json:"original"`
	Thumb    string `json:"thumb,omitempty"`
	Width    int    `json:"width"`
	Time     int64  `json:"time,omitempty"`
}

// Document converts the upload into the map form stored inside entries.
func (u Upload) Document() map[string]any {
	d := map[string]any{
		"original": u.Original,
		"width":    u.Width,
	}
	if u.Thumb != "" {
		d["thumb"] = u.Thumb
	}
	if u.Time != 0 {
		d["time"] = u.Time
	}
	return d
}

// Link is the reference shape Cockpit uses for collection-link fields.
type Link struct {
	ID      string `json:"_id"`
	Display string `json:"display"`
	Link    string `json:"link,omitempty"`
}

// LinkFromDocument reads a link field; nil when absent.
func LinkFromDocument(d Document) *Link {
	if d == nil || d.ID() == "" {
		return nil
	}
	return &Link{ID: d.ID(), Display: d.String("display"), Link: d.String("link")}
}

// Document converts the link to its stored form.
func (l Link) Document() map[string]any {
	d := map[string]any{"_id": l.ID, "display": l.Display}
	if l.Link != "" {
		d["link"] = l.Link
	}
	return d
}
