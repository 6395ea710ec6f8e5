// Package authz answers one question for every controller: may this actor
// perform this action on this resource?
//
// It wraps a casbin enforcer. Subjects are account ids, group names, or
// "anonymous" for requests without a session. An actor is allowed when either
// its id or its group is, so per-account grants and group grants compose.
package authz

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/casbin/casbin/v2"
	casbinmodel "github.com/casbin/casbin/v2/model"
	fileadapter "github.com/casbin/casbin/v2/persist/file-adapter"

	"github.com/sakif/pairshot/internal/model"
)

//go:embed model.conf
var embeddedModel string

//go:embed policy.csv
var embeddedPolicy string

// Actions checked by the controllers.
const (
	ActionEntriesView    = "entries_view"
	ActionEntriesCreate  = "entries_create"
	ActionEntriesEdit    = "entries_edit"
	ActionEntriesDelete  = "entries_delete"
	ActionCollectionEdit = "collection_edit"
	ActionList           = "list"
)

// ResourceAccounts guards the account listing.
const ResourceAccounts = "accounts"

// SubjectAnonymous is the subject used for requests without a session.
const SubjectAnonymous = "anonymous"

// CollectionResource names the resource for a collection's entries.
func CollectionResource(name string) string {
	return "collections/" + name
}

// Config points at optional model/policy files. Empty paths use the
// embedded defaults.
type Config struct {
	ModelPath  string
	PolicyPath string
}

// Policy is the single authorization component.
type Policy struct {
	enforcer *casbin.SyncedEnforcer
	logger   *slog.Logger
}

// New builds the enforcer from cfg.
func New(cfg Config, logger *slog.Logger) (*Policy, error) {
	var (
		m   casbinmodel.Model
		err error
	)
	if cfg.ModelPath != "" && fileExists(cfg.ModelPath) {
		m, err = casbinmodel.NewModelFromFile(cfg.ModelPath)
	} else {
		m, err = casbinmodel.NewModelFromString(embeddedModel)
	}
	if err != nil {
		return nil, fmt.Errorf("authz: loading casbin model: %w", err)
	}

	var enforcer *casbin.SyncedEnforcer
	if cfg.PolicyPath != "" && fileExists(cfg.PolicyPath) {
		enforcer, err = casbin.NewSyncedEnforcer(m, fileadapter.NewAdapter(cfg.PolicyPath))
	} else {
		enforcer, err = casbin.NewSyncedEnforcer(m)
		if err == nil {
			err = loadPolicy(enforcer, embeddedPolicy)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("authz: creating casbin enforcer: %w", err)
	}

	return &Policy{enforcer: enforcer, logger: logger}, nil
}

// Allows reports whether actor may perform action on resource. A nil actor
// is checked as SubjectAnonymous. Enforcement errors deny.
func (p *Policy) Allows(actor *model.Actor, resource, action string) bool {
	subjects := []string{SubjectAnonymous}
	if actor != nil {
		subjects = []string{actor.ID, actor.Group}
	}

	for _, sub := range subjects {
		if sub == "" {
			continue
		}
		ok, err := p.enforcer.Enforce(sub, resource, action)
		if err != nil {
			p.logger.Error("authz: enforce failed",
				slog.String("subject", sub),
				slog.String("resource", resource),
				slog.String("action", action),
				slog.String("error", err.Error()),
			)
			return false
		}
		if ok {
			return true
		}
	}
	return false
}

// SetCollectionACL replaces the runtime grants for a collection with acl,
// which maps a subject (group or account id) to its actions:
//
//	{"photographer": {"entries_view": true, "entries_create": true}}
//
// Grants from the default policy that target the same collection by exact
// name are replaced too; wildcard grants are untouched.
func (p *Policy) SetCollectionACL(collection string, acl map[string]map[string]bool) error {
	resource := CollectionResource(collection)

	if _, err := p.enforcer.RemoveFilteredPolicy(1, resource); err != nil {
		return fmt.Errorf("authz: clearing grants for %s: %w", resource, err)
	}

	var rules [][]string
	for subject, actions := range acl {
		for action, allowed := range actions {
			if allowed {
				rules = append(rules, []string{subject, resource, action})
			}
		}
	}
	if len(rules) == 0 {
		return nil
	}
	if _, err := p.enforcer.AddPolicies(rules); err != nil {
		return fmt.Errorf("authz: granting %s: %w", resource, err)
	}
	return nil
}

// loadPolicy parses policy CSV lines ("p, sub, obj, act" and
// "g, member, role") into the enforcer.
func loadPolicy(enforcer *casbin.SyncedEnforcer, policy string) error {
	for _, line := range strings.Split(policy, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.Split(line, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}

		switch {
		case parts[0] == "p" && len(parts) >= 4:
			if _, err := enforcer.AddPolicy(parts[1], parts[2], parts[3]); err != nil {
				return fmt.Errorf("adding policy %v: %w", parts[1:], err)
			}
		case parts[0] == "g" && len(parts) >= 3:
			if _, err := enforcer.AddGroupingPolicy(parts[1], parts[2]); err != nil {
				return fmt.Errorf("adding grouping policy %v: %w", parts[1:], err)
			}
		}
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
