// Package agents loads and serves the declarative analyst records: YAML
// phase files, lookup by the derived identifiers, and the display metadata
// the progress channel needs. Records are the only place an analyst's
// behavior is defined; the graph controller iterates them instead of
// carrying per-analyst code.
package agents

import "strings"

// Record is one customModes entry. Slug, Name, and RoleDefinition are
// required; an empty Tools list means the full toolset.
type Record struct {
	Slug           string   `yaml:"slug" json:"slug"`
	Name           string   `yaml:"name" json:"name"`
	RoleDefinition string   `yaml:"roleDefinition" json:"roleDefinition"`
	Description    string   `yaml:"description,omitempty" json:"description,omitempty"`
	WhenToUse      string   `yaml:"whenToUse,omitempty" json:"whenToUse,omitempty"`
	Source         string   `yaml:"source,omitempty" json:"source,omitempty"`
	Groups         []string `yaml:"groups" json:"groups"`
	Tools          []string `yaml:"tools,omitempty" json:"tools,omitempty"`
}

// PhaseFile is the on-disk document shape shared by all four phase files.
type PhaseFile struct {
	CustomModes []Record `yaml:"customModes" json:"customModes"`
}

// InternalKey derives the state key prefix from a slug: "-analyst" stripped,
// dashes to underscores. "china-market-analyst" → "china_market", whose
// report lands in state as "china_market_report".
func InternalKey(slug string) string {
	return strings.ReplaceAll(strings.ReplaceAll(slug, "-analyst", ""), "-", "_")
}

// InternalKey is the record's derived state key prefix.
func (r Record) InternalKey() string { return InternalKey(r.Slug) }

// NodeName is the graph node identifier, "China_Market Analyst" style.
func (r Record) NodeName() string {
	return titleKey(r.InternalKey()) + " Analyst"
}

// DisplayName is the user-facing progress label: icon plus the record name.
func (r Record) DisplayName() string {
	return r.Icon() + " " + r.Name
}

// Icon picks the display icon by keyword. Order matters: "china-market"
// is 🇨🇳, not 📊.
func (r Record) Icon() string {
	slug := strings.ToLower(r.Slug)
	switch {
	case strings.Contains(slug, "news") || strings.Contains(r.Name, "新闻"):
		return "📰"
	case strings.Contains(slug, "social") || strings.Contains(slug, "sentiment") ||
		strings.Contains(r.Name, "社交") || strings.Contains(r.Name, "情绪"):
		return "💬"
	case strings.Contains(slug, "fundamental") || strings.Contains(r.Name, "基本面"):
		return "💼"
	case strings.Contains(slug, "china") || strings.Contains(r.Name, "中国"):
		return "🇨🇳"
	case strings.Contains(slug, "capital") || strings.Contains(r.Name, "资金"):
		return "💸"
	case strings.Contains(slug, "market") || strings.Contains(r.Name, "市场") || strings.Contains(r.Name, "技术"):
		return "📊"
	default:
		return "🤖"
	}
}

// ToolCategory hints which local tool family suits the record:
// market, news, social, or fundamentals.
func (r Record) ToolCategory() string {
	slug := strings.ToLower(r.Slug)
	switch {
	case strings.Contains(slug, "news") || strings.Contains(r.Name, "新闻"):
		return "news"
	case strings.Contains(slug, "social") || strings.Contains(slug, "sentiment") ||
		strings.Contains(r.Name, "社交") || strings.Contains(r.Name, "情绪"):
		return "social"
	case strings.Contains(slug, "fundamental") || strings.Contains(r.Name, "基本面"):
		return "fundamentals"
	default:
		return "market"
	}
}

// EnabledAnalysts filters records down to the usable stage-one analysts:
// those carrying both a slug and a role definition.
func EnabledAnalysts(records []Record) []Record {
	var enabled []Record
	for _, r := range records {
		if r.Slug != "" && r.RoleDefinition != "" {
			enabled = append(enabled, r)
		}
	}
	return enabled
}

// SelectAnalysts narrows enabled records to the requested keys, matching
// slug or internal key. An empty request selects everything. A request
// matching nothing also keeps the full set; the second return reports
// whether the request matched so callers can log the fallback.
func SelectAnalysts(enabled []Record, requested []string) ([]Record, bool) {
	if len(requested) == 0 {
		return enabled, true
	}
	keys := make(map[string]bool, len(requested))
	for _, key := range requested {
		keys[strings.TrimSpace(key)] = true
	}
	var selected []Record
	for _, r := range enabled {
		if keys[r.Slug] || keys[r.InternalKey()] {
			selected = append(selected, r)
		}
	}
	if len(selected) == 0 {
		return enabled, false
	}
	return selected, true
}

// titleKey capitalizes each underscore-separated word keeping the
// underscores: "china_market" → "China_Market".
func titleKey(key string) string {
	parts := strings.Split(key, "_")
	for i, p := range parts {
		if p == "" {
			continue
		}
		parts[i] = strings.ToUpper(p[:1]) + strings.ToLower(p[1:])
	}
	return strings.Join(parts, "_")
}
