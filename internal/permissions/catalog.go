package permissions

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Definition describes a permission known to the engine. Definitions are
// immutable catalog entries; deprecation hides them from new grants without
// invalidating history.
type Definition struct {
	Key         string
	Name        string
	Description string
	Deprecated  bool
}

// RoleDefault maps a role key to the permission keys it grants by default.
type RoleDefault struct {
	RoleKey     string
	Name        string
	Permissions []string
}

// Catalog is the process-wide, immutable registry of permission definitions
// and role defaults. It is constructed once at startup and injected into the
// components that need it; there is no runtime mutation.
type Catalog struct {
	definitions map[string]Definition
	roles       map[string]RoleDefault
	adminRoles  map[string]struct{}
}

var (
	errEmptyKey     = errors.New("catalog: permission key is required")
	errDuplicateKey = errors.New("catalog: duplicate permission key")
	// ErrUnknownPermission indicates a lookup for a key absent from the catalog.
	ErrUnknownPermission = errors.New("catalog: unknown permission")
)

// NewCatalog builds a catalog from the supplied definitions and role defaults.
// Role defaults referencing unknown permissions are rejected.
func NewCatalog(defs []Definition, roles []RoleDefault, adminRoles []string) (*Catalog, error) {
	c := &Catalog{
		definitions: make(map[string]Definition, len(defs)),
		roles:       make(map[string]RoleDefault, len(roles)),
		adminRoles:  make(map[string]struct{}, len(adminRoles)),
	}

	for _, def := range defs {
		key := strings.TrimSpace(def.Key)
		if key == "" {
			return nil, errEmptyKey
		}
		if _, exists := c.definitions[key]; exists {
			return nil, fmt.Errorf("%w: %s", errDuplicateKey, key)
		}
		def.Key = key
		c.definitions[key] = def
	}

	for _, role := range roles {
		roleKey := strings.TrimSpace(role.RoleKey)
		if roleKey == "" {
			return nil, errors.New("catalog: role key is required")
		}
		for _, perm := range role.Permissions {
			if _, ok := c.definitions[perm]; !ok {
				return nil, fmt.Errorf("%w %q in role %q defaults", ErrUnknownPermission, perm, roleKey)
			}
		}
		role.RoleKey = roleKey
		role.Permissions = append([]string(nil), role.Permissions...)
		c.roles[roleKey] = role
	}

	for _, roleKey := range adminRoles {
		c.adminRoles[strings.TrimSpace(roleKey)] = struct{}{}
	}

	return c, nil
}

// Lookup returns the definition for the supplied key.
func (c *Catalog) Lookup(key string) (Definition, bool) {
	def, ok := c.definitions[strings.TrimSpace(key)]
	return def, ok
}

// Definitions returns all definitions sorted by key.
func (c *Catalog) Definitions() []Definition {
	out := make([]Definition, 0, len(c.definitions))
	for _, def := range c.definitions {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// RoleDefaults returns the default permission keys for a role, or nil when
// the role is unknown.
func (c *Catalog) RoleDefaults(roleKey string) []string {
	role, ok := c.roles[strings.TrimSpace(roleKey)]
	if !ok {
		return nil
	}
	return append([]string(nil), role.Permissions...)
}

// Roles returns all role defaults sorted by role key.
func (c *Catalog) Roles() []RoleDefault {
	out := make([]RoleDefault, 0, len(c.roles))
	for _, role := range c.roles {
		role.Permissions = append([]string(nil), role.Permissions...)
		out = append(out, role)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoleKey < out[j].RoleKey })
	return out
}

// HasRole reports whether the role key exists in the catalog.
func (c *Catalog) HasRole(roleKey string) bool {
	_, ok := c.roles[strings.TrimSpace(roleKey)]
	return ok
}

// IsAdminRole reports whether the role key carries administrative privilege.
func (c *Catalog) IsAdminRole(roleKey string) bool {
	_, ok := c.adminRoles[strings.TrimSpace(roleKey)]
	return ok
}
