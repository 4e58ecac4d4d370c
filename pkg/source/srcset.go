package source

import (
	"cmp"
	"fmt"
	"io"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html/charset"

	"plex/pkg/multiplex"
)

// FallbackID identifies the plain src attribute of an image. It ranks below
// every srcset candidate.
const FallbackID = "src"

// Candidate is one entry of a srcset attribute.
type Candidate struct {
	URL string
	// Descriptor is the raw descriptor ("800w", "2x"), or "1x" when omitted.
	Descriptor string
	Width      int
	Density    float64
}

// ParseSrcset splits a srcset attribute into candidates. Malformed entries are
// skipped.
func ParseSrcset(attr string) []Candidate {
	var out []Candidate
	for _, part := range splitSrcset(attr) {
		fields := strings.Fields(part)
		if len(fields) == 0 {
			continue
		}
		c := Candidate{URL: fields[0], Descriptor: "1x", Density: 1}
		if len(fields) > 1 {
			d := fields[1]
			switch {
			case strings.HasSuffix(d, "w"):
				w, err := strconv.Atoi(strings.TrimSuffix(d, "w"))
				if err != nil || w <= 0 {
					continue
				}
				c.Width, c.Density = w, 0
			case strings.HasSuffix(d, "x"):
				x, err := strconv.ParseFloat(strings.TrimSuffix(d, "x"), 64)
				if err != nil || x <= 0 {
					continue
				}
				c.Density = x
			default:
				continue
			}
			c.Descriptor = d
		}
		out = append(out, c)
	}
	return out
}

// splitSrcset splits on the commas that separate candidates, leaving commas
// inside URLs (e.g. data: URIs) alone.
func splitSrcset(attr string) []string {
	var parts []string
	for attr = strings.TrimSpace(attr); attr != ""; attr = strings.TrimSpace(attr) {
		end := strings.IndexFunc(attr, isSpace)
		if end < 0 {
			parts = append(parts, strings.TrimSuffix(attr, ","))
			break
		}
		urlPart := attr[:end]
		if strings.HasSuffix(urlPart, ",") {
			parts = append(parts, strings.TrimSuffix(urlPart, ","))
			attr = attr[end:]
			continue
		}
		rest := attr[end:]
		comma := strings.IndexByte(rest, ',')
		if comma < 0 {
			parts = append(parts, attr)
			break
		}
		parts = append(parts, urlPart+rest[:comma])
		attr = rest[comma+1:]
	}
	return parts
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\f'
}

// Image is one <img> element turned into a ranked locator table.
// Immutable
type Image struct {
	Alt      string
	ranking  []string
	locators map[string]multiplex.Locator
}

var _ multiplex.LocatorSource[string] = (*Image)(nil)

// Ranking returns the identifiers of the image, largest first.
func (img *Image) Ranking() []string {
	return slices.Clone(img.ranking)
}

func (img *Image) LocatorFor(id string) (multiplex.Locator, bool) {
	l, ok := img.locators[id]
	return l, ok
}

func (img *Image) String() string {
	if img.Alt != "" {
		return img.Alt
	}
	if len(img.ranking) > 0 {
		return string(img.locators[img.ranking[0]])
	}
	return "<img>"
}

// PageImages extracts every <img> with a srcset or src from an HTML page.
// contentType selects the page encoding as in an HTTP header; base resolves
// relative URLs and may be nil.
func PageImages(r io.Reader, contentType string, base *url.URL) ([]*Image, error) {
	utf8, err := charset.NewReader(r, contentType)
	if err != nil {
		return nil, fmt.Errorf("failed to detect page encoding: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(utf8)
	if err != nil {
		return nil, fmt.Errorf("failed to parse page: %w", err)
	}

	var images []*Image
	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		srcset, _ := s.Attr("srcset")
		src, _ := s.Attr("src")
		alt, _ := s.Attr("alt")
		if img := NewImage(alt, srcset, src, base); img != nil {
			images = append(images, img)
		}
	})
	return images, nil
}

// NewImage ranks the srcset candidates of an image, widest (then densest)
// first, followed by src. It returns nil when there is nothing to load.
func NewImage(alt, srcset, src string, base *url.URL) *Image {
	cands := ParseSrcset(srcset)
	slices.SortStableFunc(cands, func(a, b Candidate) int {
		if c := cmp.Compare(b.Width, a.Width); c != 0 {
			return c
		}
		return cmp.Compare(b.Density, a.Density)
	})

	img := &Image{Alt: alt, locators: make(map[string]multiplex.Locator)}
	for _, c := range cands {
		if _, dup := img.locators[c.Descriptor]; dup {
			continue
		}
		img.ranking = append(img.ranking, c.Descriptor)
		img.locators[c.Descriptor] = resolve(base, c.URL)
	}
	if src = strings.TrimSpace(src); src != "" {
		img.ranking = append(img.ranking, FallbackID)
		img.locators[FallbackID] = resolve(base, src)
	}
	if len(img.ranking) == 0 {
		return nil
	}
	return img
}

func resolve(base *url.URL, ref string) multiplex.Locator {
	if base == nil {
		return multiplex.Locator(ref)
	}
	u, err := url.Parse(ref)
	if err != nil {
		return multiplex.Locator(ref)
	}
	return multiplex.Locator(base.ResolveReference(u).String())
}
