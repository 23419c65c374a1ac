package portfolio

import (
	"slices"
	"strings"
	"unicode"
)

type Kind string

const (
	KindProject     Kind = "project"
	KindPublication Kind = "publication"
	KindSkill       Kind = "skill"
)

type Hit struct {
	Kind    Kind   `json:"kind"`
	Slug    string `json:"slug,omitempty"`
	Title   string `json:"title"`
	Summary string `json:"summary,omitempty"`
	URL     string `json:"url,omitempty"`
	Score   int    `json:"score"`
}

// field weights
const (
	weightTitle   = 3
	weightTag     = 2
	weightSummary = 1
)

type document struct {
	hit     Hit
	title   map[string]bool
	tags    map[string]bool
	summary map[string]bool
}

func (s *Site) buildIndex() []document {
	var docs []document
	for _, p := range s.Projects {
		docs = append(docs, document{
			hit:     Hit{Kind: KindProject, Slug: p.Slug, Title: p.Title, Summary: p.Summary, URL: p.URL},
			title:   tokenSet(p.Title),
			tags:    tokenSet(strings.Join(p.Tags, " ")),
			summary: tokenSet(p.Summary),
		})
	}
	for _, p := range s.Publications {
		docs = append(docs, document{
			hit:     Hit{Kind: KindPublication, Title: p.Title, Summary: p.Venue, URL: p.URL},
			title:   tokenSet(p.Title),
			summary: tokenSet(p.Venue),
		})
	}
	for _, sk := range s.Skills {
		docs = append(docs, document{
			hit:   Hit{Kind: KindSkill, Title: sk.Name, Summary: sk.Category},
			title: tokenSet(sk.Name),
			tags:  tokenSet(sk.Category),
		})
	}
	return docs
}

// Search scores every document against the query tokens and returns at most limit hits
// ordered by score, then title. An empty query or non-positive limit returns nil.
func (s *Site) Search(query string, limit int) []Hit {
	terms := tokens(query)
	if len(terms) == 0 || limit <= 0 {
		return nil
	}
	var hits []Hit
	for _, d := range s.index {
		score := 0
		for _, t := range terms {
			if d.title[t] {
				score += weightTitle
			}
			if d.tags[t] {
				score += weightTag
			}
			if d.summary[t] {
				score += weightSummary
			}
		}
		if score > 0 {
			h := d.hit
			h.Score = score
			hits = append(hits, h)
		}
	}
	slices.SortStableFunc(hits, func(a, b Hit) int {
		if a.Score != b.Score {
			return b.Score - a.Score
		}
		return strings.Compare(strings.ToLower(a.Title), strings.ToLower(b.Title))
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

// tokens lowercases s and splits on anything that is not a letter or digit.
// Duplicate tokens are kept once.
func tokens(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	slices.Sort(fields)
	return slices.Compact(fields)
}

func tokenSet(s string) map[string]bool {
	out := make(map[string]bool)
	for _, t := range tokens(s) {
		out[t] = true
	}
	return out
}
