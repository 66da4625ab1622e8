package extract

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const stateMarker = "__PRODUCT_DETAIL_APP_INITIAL_STATE__"

// Snapshot is the rendered markup of a product page captured once per
// scrape. Strategies only ever read from it.
type Snapshot struct {
	URL   string
	Title string
	HTML  string

	doc *goquery.Document

	ldParsed bool
	product  map[string]any

	stateParsed bool
	state       map[string]any

	area *goquery.Selection
}

// priceAreas are tried in order for the block holding the product's own
// price. The body is used when none match.
var priceAreas = []string{
	".product-detail-container",
	".pr-in-w",
	".product-price-container",
	".price-wrapper",
	".ty-plus-price-container",
	".price-container",
	".product-detail-price",
	`[class*="detail"][class*="price"]`,
}

// excludedAreas render other products' prices.
const excludedAreas = `.p-card-wrppr, .prdct-cntnr-wrppr, .reco-slider, ` +
	`[class*="product-card"], [class*="recommendation"], [class*="similar"], ` +
	`[class*="related"], [class*="popular"], [class*="upsell"], [class*="cross-sell"], ` +
	`[class*="carousel"], [class*="slider"], [class*="widget"]`

func excluded(el *goquery.Selection) bool {
	return el.Closest(excludedAreas).Length() > 0
}

func NewSnapshot(url, title, html string) (*Snapshot, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	return &Snapshot{
		URL:   url,
		Title: title,
		HTML:  html,
		doc:   doc,
	}, nil
}

func (s *Snapshot) Doc() *goquery.Document {
	return s.doc
}

// Text returns the trimmed text of the first selector that matches a
// non-empty element.
func (s *Snapshot) Text(selectors ...string) (string, bool) {
	return firstText(s.doc.Selection, selectors, nil)
}

// PriceText is Text limited to the price area. Matches inside product
// cards, recommendations and carousels are skipped.
func (s *Snapshot) PriceText(selectors ...string) (string, bool) {
	return firstText(s.PriceArea(), selectors, excluded)
}

func firstText(root *goquery.Selection, selectors []string, skip func(*goquery.Selection) bool) (string, bool) {
	for _, sel := range selectors {
		var found string
		root.Find(sel).EachWithBreak(func(_ int, el *goquery.Selection) bool {
			if skip != nil && skip(el) {
				return true
			}
			if t := strings.TrimSpace(el.Text()); t != "" {
				found = t
				return false
			}
			return true
		})
		if found != "" {
			return found, true
		}
	}
	return "", false
}

func (s *Snapshot) Attr(attr string, selectors ...string) (string, bool) {
	for _, sel := range selectors {
		var found string
		s.doc.Find(sel).EachWithBreak(func(_ int, el *goquery.Selection) bool {
			if v, ok := el.Attr(attr); ok && strings.TrimSpace(v) != "" {
				found = strings.TrimSpace(v)
				return false
			}
			return true
		})
		if found != "" {
			return found, true
		}
	}
	return "", false
}

// PriceArea resolves the main price block once per snapshot.
func (s *Snapshot) PriceArea() *goquery.Selection {
	if s.area != nil {
		return s.area
	}
	s.area = s.doc.Find("body")
	for _, sel := range priceAreas {
		found := s.doc.Find(sel).FilterFunction(func(_ int, el *goquery.Selection) bool {
			return !excluded(el)
		})
		if found.Length() > 0 {
			s.area = found.First()
			break
		}
	}
	return s.area
}

// PriceAreaText is the text of the price area without scripts and without
// other products' blocks.
func (s *Snapshot) PriceAreaText() string {
	area := s.PriceArea().Clone()
	area.Find("script, style, noscript, " + excludedAreas).Remove()
	return area.Text()
}

// ProductLD returns the first JSON-LD node typed Product or ProductGroup.
func (s *Snapshot) ProductLD() (map[string]any, bool) {
	if !s.ldParsed {
		s.ldParsed = true
		s.doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, el *goquery.Selection) bool {
			var raw any
			if err := json.Unmarshal([]byte(el.Text()), &raw); err != nil {
				return true
			}
			s.product = findProductNode(raw)
			return s.product == nil
		})
	}
	return s.product, s.product != nil
}

func findProductNode(v any) map[string]any {
	switch node := v.(type) {
	case []any:
		for _, item := range node {
			if p := findProductNode(item); p != nil {
				return p
			}
		}
	case map[string]any:
		if isProductType(node["@type"]) {
			return node
		}
		if graph, ok := node["@graph"]; ok {
			return findProductNode(graph)
		}
	}
	return nil
}

func isProductType(t any) bool {
	switch v := t.(type) {
	case string:
		return v == "Product" || v == "ProductGroup"
	case []any:
		for _, item := range v {
			if isProductType(item) {
				return true
			}
		}
	}
	return false
}

// State returns the product detail state object the storefront embeds in an
// inline script, when present.
func (s *Snapshot) State() (map[string]any, bool) {
	if !s.stateParsed {
		s.stateParsed = true
		s.doc.Find("script").EachWithBreak(func(_ int, el *goquery.Selection) bool {
			text := el.Text()
			idx := strings.Index(text, stateMarker)
			if idx < 0 {
				return true
			}
			rest := text[idx+len(stateMarker):]
			eq := strings.Index(rest, "=")
			if eq < 0 {
				return true
			}
			var state map[string]any
			dec := json.NewDecoder(strings.NewReader(rest[eq+1:]))
			if err := dec.Decode(&state); err != nil {
				return true
			}
			s.state = state
			return false
		})
	}
	return s.state, s.state != nil
}

// lookup walks nested objects; integer-looking keys index into arrays.
func lookup(v any, path ...string) (any, bool) {
	cur := v
	for _, key := range path {
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[key]
			if !ok || next == nil {
				return nil, false
			}
			cur = next
		case []any:
			if key != "0" || len(node) == 0 {
				return nil, false
			}
			cur = node[0]
		default:
			return nil, false
		}
	}
	return cur, true
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		return ParsePrice(n)
	}
	return 0, false
}

func asString(v any) (string, bool) {
	switch n := v.(type) {
	case string:
		n = strings.TrimSpace(n)
		return n, n != ""
	case []any:
		if len(n) > 0 {
			return asString(n[0])
		}
	case map[string]any:
		if name, ok := n["name"]; ok {
			return asString(name)
		}
		if u, ok := n["url"]; ok {
			return asString(u)
		}
	}
	return "", false
}
