package mailer

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Template names. Each has an HTML file <name>.html and a plain-text
// alternative <name>_plain.html in the template directory.
const (
	TemplateVerify             = "verify"
	TemplateResetPassword      = "reset_password"
	TemplateDiscussionNewPhoto = "discussion_new_photo"
	TemplateDiscussionComplete = "discussion_completed"
)

// Vars fills placeholders: the key "name" replaces "{{name}}". Values are
// inserted literally, without escaping.
type Vars map[string]string

// Templates reads mail bodies from a directory on every render, so edits to
// the files apply without a restart.
type Templates struct {
	dir string
}

func NewTemplates(dir string) *Templates {
	return &Templates{dir: dir}
}

// Render loads file and substitutes vars.
func (t *Templates) Render(file string, vars Vars) (string, error) {
	raw, err := os.ReadFile(filepath.Join(t.dir, filepath.Base(file)))
	if err != nil {
		return "", fmt.Errorf("mailer: reading template %s: %w", file, err)
	}

	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	return strings.NewReplacer(pairs...).Replace(string(raw)), nil
}

// Compose renders both bodies of template name into a Message for to.
func (t *Templates) Compose(name, to, subject string, vars Vars) (Message, error) {
	html, err := t.Render(name+".html", vars)
	if err != nil {
		return Message{}, err
	}
	text, err := t.Render(name+"_plain.html", vars)
	if err != nil {
		return Message{}, err
	}
	return Message{To: to, Subject: subject, HTML: html, Text: text}, nil
}
