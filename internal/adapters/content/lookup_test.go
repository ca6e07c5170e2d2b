package content

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	issueDomain "hartwig/internal/domain/issue"
)

// writeIssue drops an issue markdown file into a temp dir.
func writeIssue(t *testing.T, dir, name, contents string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(contents), 0o644); err != nil {
		t.Fatalf("failed to write issue file: %v", err)
	}
}

// TestMetadata tests front-matter parsing and URL construction.
func TestMetadata(t *testing.T) {
	dir := t.TempDir()
	writeIssue(t, dir, "7.md", `---
title: On Writing Less
description: Why shorter posts win.
slug: on-writing-less
---
Some *thoughts* here.
`)

	lookup := NewFileLookup(dir, "https://example.com/")
	iss, err := lookup.Metadata(context.Background(), 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if iss.Title != "On Writing Less" {
		t.Errorf("Title = %q, want %q", iss.Title, "On Writing Less")
	}
	if iss.Description != "Why shorter posts win." {
		t.Errorf("Description = %q, want %q", iss.Description, "Why shorter posts win.")
	}
	if iss.WebURL != "https://example.com/issues/on-writing-less" {
		t.Errorf("WebURL = %q, want slug-based URL", iss.WebURL)
	}
}

// TestMetadata_DefaultSlug tests the numeric fallback slug.
func TestMetadata_DefaultSlug(t *testing.T) {
	dir := t.TempDir()
	writeIssue(t, dir, "3.md", "---\ntitle: Plain\n---\nbody\n")

	lookup := NewFileLookup(dir, "https://example.com")
	iss, err := lookup.Metadata(context.Background(), 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if iss.WebURL != "https://example.com/issues/3" {
		t.Errorf("WebURL = %q, want numeric slug", iss.WebURL)
	}
}

// TestMetadata_UnknownIssue tests the missing-file mapping.
func TestMetadata_UnknownIssue(t *testing.T) {
	lookup := NewFileLookup(t.TempDir(), "https://example.com")
	_, err := lookup.Metadata(context.Background(), 99)
	if err != issueDomain.ErrUnknownIssue {
		t.Errorf("error = %v, want ErrUnknownIssue", err)
	}
}

// TestHTML tests markdown rendering and raw-HTML escaping.
func TestHTML(t *testing.T) {
	dir := t.TempDir()
	writeIssue(t, dir, "1.md", `---
title: First
---
Hello **reader**.

<script>alert(1)</script>
`)

	lookup := NewFileLookup(dir, "https://example.com")
	html, err := lookup.HTML(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(html, "<strong>reader</strong>") {
		t.Errorf("html = %q, want bold rendering", html)
	}
	if strings.Contains(html, "<script>") {
		t.Error("raw script tag survived rendering, want escaped")
	}
}

// TestHTML_EmptyBody tests the empty-body guard.
func TestHTML_EmptyBody(t *testing.T) {
	dir := t.TempDir()
	writeIssue(t, dir, "2.md", "---\ntitle: Hollow\n---\n\n")

	lookup := NewFileLookup(dir, "https://example.com")
	_, err := lookup.HTML(context.Background(), 2)
	if err != issueDomain.ErrEmptyBody {
		t.Errorf("error = %v, want ErrEmptyBody", err)
	}
}
