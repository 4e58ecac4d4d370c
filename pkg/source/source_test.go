package source

import (
	"net/url"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"plex/pkg/asset"
	"plex/pkg/multiplex"
)

func TestParsePairs(t *testing.T) {
	s, ids, err := ParsePairs([]string{"hi=https://x/hi.png", "lo=/tmp/lo.png"})
	if err != nil {
		t.Fatalf("ParsePairs failed: %v", err)
	}
	if diff := cmp.Diff([]string{"hi", "lo"}, ids); diff != "" {
		t.Errorf("ids mismatch (-want +got):\n%s", diff)
	}
	if l, ok := s.LocatorFor("lo"); !ok || l != "/tmp/lo.png" {
		t.Errorf("LocatorFor(lo) = %q, %v", l, ok)
	}

	for _, bad := range [][]string{{"nolocator"}, {"=x"}, {"a=1", "a=2"}} {
		if _, _, err := ParsePairs(bad); err == nil {
			t.Errorf("ParsePairs(%v) should fail", bad)
		}
	}
}

func TestStatic(t *testing.T) {
	s := NewStatic()
	s.SetLocator("a", "mem://a")
	a := &asset.Asset{Format: "png"}
	s.SetAsset("a", a)

	res := multiplex.ResolverFor[string, *asset.Asset](s).Resolve("a")
	if res.Kind != multiplex.ResolvedAsset || res.Asset != a {
		t.Errorf("Resolve(a) = %v, want the asset", res.Kind)
	}
	s.Remove("a")
	if res := multiplex.ResolverFor[string, *asset.Asset](s).Resolve("a"); res.Kind != multiplex.ResolvedNone {
		t.Errorf("Resolve after Remove = %v", res.Kind)
	}
}

const manifest = `{
  "sizes": {
    "large": {"url": "https://cdn.example.com/l.jpg"},
    "small": {"url": "https://cdn.example.com/s.jpg"},
    "broken": {"url": 42}
  },
  "order": ["large", "medium", "small"]
}`

func TestJQ(t *testing.T) {
	j, err := NewJQ([]byte(manifest), `.sizes[$id].url`, nil)
	if err != nil {
		t.Fatalf("NewJQ failed: %v", err)
	}
	tests := map[string]multiplex.Locator{
		"large":  "https://cdn.example.com/l.jpg",
		"small":  "https://cdn.example.com/s.jpg",
		"medium": "",
		"broken": "",
	}
	for id, want := range tests {
		got, ok := j.LocatorFor(id)
		if got != want || ok != (want != "") {
			t.Errorf("LocatorFor(%s) = %q, %v; want %q", id, got, ok, want)
		}
	}

	if _, err := NewJQ([]byte(manifest), `.sizes[`, nil); err == nil {
		t.Error("expected parse error")
	}
	if _, err := NewJQ([]byte(manifest), `$other`, nil); err == nil {
		t.Error("expected compile error for undefined variable")
	}
	if _, err := NewJQ([]byte("{"), `.`, nil); err == nil {
		t.Error("expected manifest error")
	}
}

func TestIdentifiers(t *testing.T) {
	ids, err := Identifiers([]byte(manifest), `.order[]`)
	if err != nil {
		t.Fatalf("Identifiers failed: %v", err)
	}
	if diff := cmp.Diff([]string{"large", "medium", "small"}, ids); diff != "" {
		t.Errorf("ids mismatch (-want +got):\n%s", diff)
	}
	if _, err := Identifiers([]byte(manifest), `.sizes.large`); err == nil {
		t.Error("expected error for non-string result")
	}
}

func TestParseSrcset(t *testing.T) {
	got := ParseSrcset("a.jpg 480w, b.jpg 1080w,c.jpg, d.jpg 2x, bad.jpg 12q, data:image/png;base64,AA== 3x")
	want := []Candidate{
		{URL: "a.jpg", Descriptor: "480w", Width: 480},
		{URL: "b.jpg", Descriptor: "1080w", Width: 1080},
		{URL: "c.jpg", Descriptor: "1x", Density: 1},
		{URL: "d.jpg", Descriptor: "2x", Density: 2},
		{URL: "data:image/png;base64,AA==", Descriptor: "3x", Density: 3},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("candidates mismatch (-want +got):\n%s", diff)
	}
	if got := ParseSrcset("  "); len(got) != 0 {
		t.Errorf("empty srcset = %v", got)
	}
}

func TestPageImages(t *testing.T) {
	page := `<html><body>
<img alt="hero" src="/img/hero-small.jpg" srcset="/img/hero-480.jpg 480w, /img/hero-1600.jpg 1600w, https://other.example/hero-960.jpg 960w">
<img alt="logo" src="logo.png">
<img alt="empty">
</body></html>`
	base, _ := url.Parse("https://example.com/articles/1")

	images, err := PageImages(strings.NewReader(page), "text/html; charset=utf-8", base)
	if err != nil {
		t.Fatalf("PageImages failed: %v", err)
	}
	if len(images) != 2 {
		t.Fatalf("images = %d, want 2", len(images))
	}

	hero := images[0]
	if diff := cmp.Diff([]string{"1600w", "960w", "480w", FallbackID}, hero.Ranking()); diff != "" {
		t.Errorf("ranking mismatch (-want +got):\n%s", diff)
	}
	for id, want := range map[string]multiplex.Locator{
		"1600w":    "https://example.com/img/hero-1600.jpg",
		"960w":     "https://other.example/hero-960.jpg",
		FallbackID: "https://example.com/img/hero-small.jpg",
	} {
		if got, _ := hero.LocatorFor(id); got != want {
			t.Errorf("LocatorFor(%s) = %q, want %q", id, got, want)
		}
	}

	logo := images[1]
	if got, _ := logo.LocatorFor(FallbackID); got != "https://example.com/articles/logo.png" {
		t.Errorf("logo locator = %q", got)
	}
	if logo.String() != "logo" {
		t.Errorf("String() = %q", logo.String())
	}
}

func TestPageImagesLatin1(t *testing.T) {
	page := "<html><body><img alt=\"caf\xe9\" src=\"a.png\"></body></html>"
	images, err := PageImages(strings.NewReader(page), "text/html; charset=iso-8859-1", nil)
	if err != nil {
		t.Fatalf("PageImages failed: %v", err)
	}
	if len(images) != 1 || images[0].Alt != "café" {
		t.Errorf("images = %v, want one image with alt café", images)
	}
}

const script = `
sizes = json.decode('{"large": 2048, "medium": 1024}')

def ranking():
    return ["large", "medium", "thumb"]

def locate(id):
    if id == "thumb":
        return None
    if id == "fail":
        fail("no such size")
    return "https://cdn.example.com/%d/photo.jpg" % sizes[id]
`

func TestScript(t *testing.T) {
	s, err := NewScript("sizes.star", script, nil)
	if err != nil {
		t.Fatalf("NewScript failed: %v", err)
	}
	ids, err := s.Ranking()
	if err != nil {
		t.Fatalf("Ranking failed: %v", err)
	}
	if diff := cmp.Diff([]string{"large", "medium", "thumb"}, ids); diff != "" {
		t.Errorf("ranking mismatch (-want +got):\n%s", diff)
	}

	if got, ok := s.LocatorFor("medium"); !ok || got != "https://cdn.example.com/1024/photo.jpg" {
		t.Errorf("LocatorFor(medium) = %q, %v", got, ok)
	}
	for _, id := range []string{"thumb", "fail"} {
		if got, ok := s.LocatorFor(id); ok {
			t.Errorf("LocatorFor(%s) = %q, want none", id, got)
		}
	}
}

func TestScriptErrors(t *testing.T) {
	if _, err := NewScript("bad.star", "def locate(id)\n", nil); err == nil {
		t.Error("expected syntax error")
	}
	if _, err := NewScript("nolocate.star", "x = 1\n", nil); err == nil {
		t.Error("expected error for missing locate")
	}
	s, err := NewScript("noranking.star", "def locate(id):\n    return id\n", nil)
	if err != nil {
		t.Fatalf("NewScript failed: %v", err)
	}
	if _, err := s.Ranking(); err == nil {
		t.Error("expected error for missing ranking")
	}
}
