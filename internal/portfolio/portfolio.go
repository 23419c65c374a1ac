// Package portfolio loads the embedded portfolio content and answers search and chat
// context queries over it.
package portfolio

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io/fs"
	"strings"

	"github.com/keithlinneman/portfolio-web/internal/xerrors"
)

type Owner struct {
	Name    string `json:"name"`
	Title   string `json:"title"`
	Summary string `json:"summary"`
}

type Project struct {
	Slug    string   `json:"slug"`
	Title   string   `json:"title"`
	Summary string   `json:"summary"`
	Tags    []string `json:"tags,omitempty"`
	URL     string   `json:"url,omitempty"`
	Year    int      `json:"year,omitempty"`
}

type Skill struct {
	Name     string `json:"name"`
	Category string `json:"category"`
}

type Publication struct {
	Title string `json:"title"`
	Venue string `json:"venue,omitempty"`
	Year  int    `json:"year,omitempty"`
	URL   string `json:"url,omitempty"`
}

// Site is immutable after Load and safe for concurrent use.
type Site struct {
	Version      string        `json:"version"`
	Owner        Owner         `json:"owner"`
	Projects     []Project     `json:"projects"`
	Skills       []Skill       `json:"skills"`
	Publications []Publication `json:"publications"`

	hash   string
	digest string
	index  []document
}

// Load reads, validates and indexes the content file name from fsys.
func Load(fsys fs.FS, name string) (*Site, error) {
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, xerrors.Wrapf(err, "read portfolio %s", name)
	}

	var s Site
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&s); err != nil {
		return nil, xerrors.Wrapf(err, "decode portfolio %s", name)
	}
	if err := s.validate(); err != nil {
		return nil, err
	}

	sum := sha256.Sum256(data)
	s.hash = hex.EncodeToString(sum[:])
	s.digest = s.buildDigest()
	s.index = s.buildIndex()
	return &s, nil
}

func (s *Site) validate() error {
	if strings.TrimSpace(s.Version) == "" {
		return xerrors.New("portfolio: version is required")
	}
	if strings.TrimSpace(s.Owner.Name) == "" {
		return xerrors.New("portfolio: owner.name is required")
	}
	seen := make(map[string]bool, len(s.Projects))
	for i, p := range s.Projects {
		if p.Slug == "" || p.Title == "" {
			return xerrors.Newf("portfolio: project %d needs slug and title", i)
		}
		if seen[p.Slug] {
			return xerrors.Newf("portfolio: duplicate project slug %q", p.Slug)
		}
		seen[p.Slug] = true
	}
	for i, p := range s.Publications {
		if p.Title == "" {
			return xerrors.Newf("portfolio: publication %d needs a title", i)
		}
	}
	return nil
}

// ContentVersion and ContentHash satisfy httpmw.ContentInfo.
func (s *Site) ContentVersion() string { return s.Version }
func (s *Site) ContentHash() string    { return s.hash }

// Digest is a compact plain-text rendering of the site used as chat context.
func (s *Site) Digest() string { return s.digest }

func (s *Site) buildDigest() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s, %s.\n%s\n", s.Owner.Name, s.Owner.Title, s.Owner.Summary)
	if len(s.Projects) > 0 {
		b.WriteString("\nProjects:\n")
		for _, p := range s.Projects {
			fmt.Fprintf(&b, "- %s", p.Title)
			if p.Year > 0 {
				fmt.Fprintf(&b, " (%d)", p.Year)
			}
			fmt.Fprintf(&b, ": %s", p.Summary)
			if len(p.Tags) > 0 {
				fmt.Fprintf(&b, " [%s]", strings.Join(p.Tags, ", "))
			}
			b.WriteByte('\n')
		}
	}
	if len(s.Skills) > 0 {
		b.WriteString("\nSkills: ")
		names := make([]string, len(s.Skills))
		for i, sk := range s.Skills {
			names[i] = sk.Name
		}
		b.WriteString(strings.Join(names, ", "))
		b.WriteByte('\n')
	}
	if len(s.Publications) > 0 {
		b.WriteString("\nWriting:\n")
		for _, p := range s.Publications {
			fmt.Fprintf(&b, "- %s", p.Title)
			if p.Venue != "" {
				fmt.Fprintf(&b, " (%s", p.Venue)
				if p.Year > 0 {
					fmt.Fprintf(&b, ", %d", p.Year)
				}
				b.WriteByte(')')
			}
			b.WriteByte('\n')
		}
	}
	return b.String()
}
