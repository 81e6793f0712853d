package collab

import (
	"strings"
	"testing"

	"github.com/astromechza/codecollab/pkg/schema"
)

func TestBuildPreviewInlinesAssets(t *testing.T) {
	files := []schema.FileEntry{
		{Filename: "index.html", Content: "<h1>hi</h1>"},
		{Filename: "styles.css", Content: "h1 { color: red; }"},
		{Filename: "script.js", Content: "console.log(1)"},
	}
	got := BuildPreview(files, "styles.css")
	for _, want := range []string{"<style>h1 { color: red; }</style>", "<h1>hi</h1>", "<script>console.log(1)</script>"} {
		if !strings.Contains(got, want) {
			t.Errorf("preview missing %q:\n%s", want, got)
		}
	}
	if strings.Index(got, "<style>") > strings.Index(got, "<h1>") {
		t.Error("styles should come before the markup")
	}
}

func TestBuildPreviewFallbacks(t *testing.T) {
	files := []schema.FileEntry{
		{Filename: "page.html", Content: "<p>page</p>"},
		{Filename: "app.js", Content: "render()"},
	}
	got := BuildPreview(files, "page.html")
	if !strings.Contains(got, "<p>page</p>") {
		t.Errorf("selected markup missing:\n%s", got)
	}
	if !strings.Contains(got, "<script>render()</script>") {
		t.Errorf("first .js file not inlined:\n%s", got)
	}
	if strings.Contains(got, "<style>") {
		t.Errorf("unexpected style block:\n%s", got)
	}
}
