package catalog

import (
	"sort"
	"strings"
)

// Candidate is one entity that looks relevant to a natural-language
// query. Used only by the planner's heuristic fallback.
type Candidate struct {
	MCPID          string              `json:"mcp_id"`
	DBType         DBType              `json:"db_type"`
	Entity         string              `json:"entity"`
	EntityTags     []string            `json:"entity_tags,omitempty"`
	Fields         []string            `json:"fields"`
	FieldTags      map[string][]string `json:"field_tags,omitempty"`
	DefaultIDField string              `json:"default_id_field,omitempty"`
	Score          int                 `json:"score"`
}

// DiscoverCandidates scores every cached entity against the query with
// simple lexical rules over semantic tags. Only positive scores are
// returned, sorted descending; ties break on source id then entity name
// so the result is deterministic.
func (c *SchemaCatalog) DiscoverCandidates(nlQuery string) []Candidate {
	q := strings.ToLower(nlQuery)
	var matches []Candidate

	for _, source := range c.sortedSchemas() {
		for _, ent := range source.Entities {
			score := 0

			if strings.Contains(q, "customer") && ent.HasTag("entity:customer") {
				score += 5
			}
			if strings.Contains(q, "order") || strings.Contains(q, "purchase") {
				if ent.HasTag("entity:order") {
					score += 5
				}
			}
			if strings.Contains(q, "email") && anyFieldHasTag(ent.Fields, "email") {
				score += 3
			}
			if strings.Contains(q, "similar") || strings.Contains(q, "embedding") {
				if anyFieldHasTag(ent.Fields, "embedding") {
					score += 3
				}
			}
			if strings.Contains(q, "referral") || strings.Contains(q, "referred") {
				if ent.HasTag("referral") {
					score += 3
				}
			}

			if score <= 0 {
				continue
			}

			fields := make([]string, 0, len(ent.Fields))
			fieldTags := make(map[string][]string, len(ent.Fields))
			for _, f := range ent.Fields {
				fields = append(fields, f.Name)
				fieldTags[f.Name] = f.SemanticTags
			}

			matches = append(matches, Candidate{
				MCPID:          source.MCPID,
				DBType:         source.DBType,
				Entity:         ent.Name,
				EntityTags:     ent.SemanticTags,
				Fields:         fields,
				FieldTags:      fieldTags,
				DefaultIDField: ent.DefaultIDField,
				Score:          score,
			})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		if matches[i].MCPID != matches[j].MCPID {
			return matches[i].MCPID < matches[j].MCPID
		}
		return matches[i].Entity < matches[j].Entity
	})

	return matches
}

func anyFieldHasTag(fields []Field, tag string) bool {
	for i := range fields {
		if fields[i].HasTag(tag) {
			return true
		}
	}
	return false
}

// FieldHit is one result of a debug schema search.
type FieldHit struct {
	ID     string `json:"id"`
	MCP    string `json:"mcp"`
	Parent string `json:"parent"`
	Field  string `json:"field"`
	Score  int    `json:"score"`
}

// SearchFields performs a lexical search over entity fields and their
// semantic tags. It backs the debug /api/v1/schema/search endpoint.
func (c *SchemaCatalog) SearchFields(query string) []FieldHit {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}

	var hits []FieldHit
	for _, source := range c.sortedSchemas() {
		for _, ent := range source.Entities {
			for _, f := range ent.Fields {
				score := 0
				name := strings.ToLower(f.Name)
				switch {
				case name == q:
					score += 3
				case strings.Contains(name, q):
					score += 2
				}
				for _, tag := range f.SemanticTags {
					if strings.Contains(strings.ToLower(tag), q) {
						score++
						break
					}
				}
				if score == 0 {
					continue
				}
				hits = append(hits, FieldHit{
					ID:     source.MCPID + "." + ent.Name + "." + f.Name,
					MCP:    source.MCPID,
					Parent: ent.Name,
					Field:  f.Name,
					Score:  score,
				})
			}
		}
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})

	return hits
}
