package content

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/yuin/goldmark"
	goldmarkHTML "github.com/yuin/goldmark/renderer/html"
	"gopkg.in/yaml.v3"

	issueDomain "hartwig/internal/domain/issue"
)

// Lookup resolves a newsletter issue's rendered body and metadata.
type Lookup interface {
	// HTML returns the rendered body for an issue.
	// PRE: issueNumber >= 1
	// POST: Returns non-empty HTML or an error
	HTML(ctx context.Context, issueNumber int64) (string, error)

	// Metadata returns title, description and canonical URL for an issue.
	// PRE: issueNumber >= 1
	// POST: Returns validated metadata or issue.ErrUnknownIssue
	Metadata(ctx context.Context, issueNumber int64) (issueDomain.Issue, error)
}

// frontMatter is the YAML header of an issue markdown file.
type frontMatter struct {
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
	Slug        string `yaml:"slug"`
}

// FileLookup reads issues from a directory of markdown files named
// <number>.md, each with a YAML front-matter block followed by the body.
type FileLookup struct {
	dir     string
	baseURL string // Site base, e.g. https://example.com (no trailing slash)
	md      goldmark.Markdown
}

// NewFileLookup creates a lookup over the given issues directory.
// PRE: dir exists; baseURL has no trailing slash
// POST: Returns a ready-to-use lookup
func NewFileLookup(dir, baseURL string) *FileLookup {
	return &FileLookup{
		dir:     dir,
		baseURL: strings.TrimRight(baseURL, "/"),
		// Raw HTML in markdown input is escaped (WithUnsafe is NOT set).
		md: goldmark.New(
			goldmark.WithRendererOptions(
				goldmarkHTML.WithHardWraps(),
			),
		),
	}
}

// HTML returns the rendered body for an issue.
// PRE: issueNumber >= 1
// POST: Returns non-empty HTML or an error
func (l *FileLookup) HTML(_ context.Context, issueNumber int64) (string, error) {
	_, body, err := l.read(issueNumber)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(body) == "" {
		return "", issueDomain.ErrEmptyBody
	}
	var buf bytes.Buffer
	if err := l.md.Convert([]byte(body), &buf); err != nil {
		return "", fmt.Errorf("failed to render issue %d: %w", issueNumber, err)
	}
	return buf.String(), nil
}

// Metadata returns title, description and canonical URL for an issue.
// PRE: issueNumber >= 1
// POST: Returns validated metadata or issue.ErrUnknownIssue
func (l *FileLookup) Metadata(_ context.Context, issueNumber int64) (issueDomain.Issue, error) {
	meta, _, err := l.read(issueNumber)
	if err != nil {
		return issueDomain.Issue{}, err
	}

	slug := meta.Slug
	if slug == "" {
		slug = fmt.Sprintf("%d", issueNumber)
	}
	iss := issueDomain.Issue{
		Number:      issueNumber,
		Title:       meta.Title,
		Description: meta.Description,
		WebURL:      fmt.Sprintf("%s/issues/%s", l.baseURL, slug),
	}
	if err := iss.Validate(); err != nil {
		return issueDomain.Issue{}, fmt.Errorf("issue %d metadata invalid: %w", issueNumber, err)
	}
	return iss, nil
}

// read loads and splits one issue file into front matter and body.
func (l *FileLookup) read(issueNumber int64) (frontMatter, string, error) {
	path := filepath.Join(l.dir, fmt.Sprintf("%d.md", issueNumber))
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return frontMatter{}, "", issueDomain.ErrUnknownIssue
		}
		return frontMatter{}, "", fmt.Errorf("failed to read issue %d: %w", issueNumber, err)
	}

	text := string(raw)
	var meta frontMatter
	body := text
	if strings.HasPrefix(text, "---\n") {
		rest := text[len("---\n"):]
		header, after, found := strings.Cut(rest, "\n---\n")
		if found {
			if err := yaml.Unmarshal([]byte(header), &meta); err != nil {
				return frontMatter{}, "", fmt.Errorf("issue %d front matter invalid: %w", issueNumber, err)
			}
			body = after
		}
	}
	return meta, body, nil
}
