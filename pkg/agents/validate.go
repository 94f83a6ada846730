package agents

import (
	"fmt"
	"strings"
)

// Validation caps. The role prompts in live phase files run well past 4k
// characters, so the text cap is generous on purpose.
const (
	MaxModes    = 200
	MaxTextLen  = 20000
	MaxTitleLen = 128
	MaxGroups   = 50
	MaxGroupLen = 128
	MaxTools    = 200
	MaxToolLen  = 128
)

// ValidationError reports the first rule a record set breaks. The API layer
// maps it to a 400.
type ValidationError struct {
	Slug  string
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Slug == "" {
		return fmt.Sprintf("agent records: %s: %s", e.Field, e.Msg)
	}
	return fmt.Sprintf("agent record %q: %s: %s", e.Slug, e.Field, e.Msg)
}

func invalid(slug, field, format string, args ...any) error {
	return &ValidationError{Slug: slug, Field: field, Msg: fmt.Sprintf(format, args...)}
}

// Validate checks a record set against the caps and uniqueness rules.
// Fail-fast: the first violation is returned.
func Validate(records []Record) error {
	if len(records) > MaxModes {
		return invalid("", "customModes", "too many records (max %d)", MaxModes)
	}

	slugs := make(map[string]struct{}, len(records))
	keys := make(map[string]string, len(records))

	for _, r := range records {
		slug := strings.TrimSpace(r.Slug)
		if slug == "" {
			return invalid("", "slug", "required")
		}
		if len(slug) > MaxTitleLen {
			return invalid(slug, "slug", "too long (max %d chars)", MaxTitleLen)
		}
		if _, dup := slugs[slug]; dup {
			return invalid(slug, "slug", "duplicate")
		}
		slugs[slug] = struct{}{}

		// Distinct slugs deriving the same internal key would cross-write
		// the same report field downstream; reject at load time.
		key := InternalKey(slug)
		if other, dup := keys[key]; dup {
			return invalid(slug, "slug", "derives the same internal key %q as %q", key, other)
		}
		keys[key] = slug

		if strings.TrimSpace(r.Name) == "" {
			return invalid(slug, "name", "required")
		}
		if len(r.Name) > MaxTitleLen {
			return invalid(slug, "name", "too long (max %d chars)", MaxTitleLen)
		}
		if strings.TrimSpace(r.RoleDefinition) == "" {
			return invalid(slug, "roleDefinition", "required")
		}
		if len(r.RoleDefinition) > MaxTextLen {
			return invalid(slug, "roleDefinition", "too long (max %d chars)", MaxTextLen)
		}
		if len(r.Description) > MaxTextLen {
			return invalid(slug, "description", "too long (max %d chars)", MaxTextLen)
		}
		if len(r.WhenToUse) > MaxTextLen {
			return invalid(slug, "whenToUse", "too long (max %d chars)", MaxTextLen)
		}
		if len(r.Source) > MaxTextLen {
			return invalid(slug, "source", "too long (max %d chars)", MaxTextLen)
		}

		if len(r.Groups) > MaxGroups {
			return invalid(slug, "groups", "too many entries (max %d)", MaxGroups)
		}
		for _, g := range r.Groups {
			if strings.TrimSpace(g) == "" {
				return invalid(slug, "groups", "blank entry")
			}
			if len(g) > MaxGroupLen {
				return invalid(slug, "groups", "entry too long (max %d chars)", MaxGroupLen)
			}
		}

		seen := make(map[string]struct{}, len(r.Tools))
		deduped := 0
		for _, tool := range r.Tools {
			if strings.TrimSpace(tool) == "" {
				return invalid(slug, "tools", "blank entry")
			}
			if len(tool) > MaxToolLen {
				return invalid(slug, "tools", "entry too long (max %d chars)", MaxToolLen)
			}
			if _, dup := seen[tool]; dup {
				continue
			}
			seen[tool] = struct{}{}
			deduped++
		}
		if deduped > MaxTools {
			return invalid(slug, "tools", "too many entries (max %d)", MaxTools)
		}
	}

	return nil
}

// Normalize trims fields and fills the save-time defaults: description
// falls back to the slug, groups serialize as an empty list rather than
// null, and explicit tool lists are deduplicated order-preserving. An
// empty tool list is dropped entirely since it means "full toolset".
func Normalize(records []Record) []Record {
	out := make([]Record, 0, len(records))
	for _, r := range records {
		r.Slug = strings.TrimSpace(r.Slug)
		r.Name = strings.TrimSpace(r.Name)
		r.RoleDefinition = strings.TrimSpace(r.RoleDefinition)
		r.Description = strings.TrimSpace(r.Description)
		r.WhenToUse = strings.TrimSpace(r.WhenToUse)
		r.Source = strings.TrimSpace(r.Source)

		if r.Description == "" {
			r.Description = r.Slug
		}
		if r.Groups == nil {
			r.Groups = []string{}
		} else {
			groups := make([]string, 0, len(r.Groups))
			for _, g := range r.Groups {
				groups = append(groups, strings.TrimSpace(g))
			}
			r.Groups = groups
		}

		if len(r.Tools) == 0 {
			r.Tools = nil
		} else {
			seen := make(map[string]struct{}, len(r.Tools))
			tools := make([]string, 0, len(r.Tools))
			for _, tool := range r.Tools {
				tool = strings.TrimSpace(tool)
				if _, dup := seen[tool]; dup {
					continue
				}
				seen[tool] = struct{}{}
				tools = append(tools, tool)
			}
			r.Tools = tools
		}

		out = append(out, r)
	}
	return out
}
