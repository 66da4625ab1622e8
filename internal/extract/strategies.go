package extract

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Price is the pair a price strategy reads together. List is nil when the
// strategy saw no crossed-out price.
type Price struct {
	Discounted float64
	List       *float64
}

const imageCDN = "https://cdn.dsmcdn.com"

var regexPrice = regexp.MustCompile(`(\d{1,3}(?:\.\d{3})+(?:,\d{1,2})?|\d+(?:[.,]\d{1,2})?)\s*(?:TL|₺)`)

type priceGroup struct {
	name       string
	discounted []string
	original   []string
}

// Storefront price blocks, most specific first.
var priceGroups = []priceGroup{
	{
		name:       "lowest_price_button",
		discounted: []string{".price-view .discounted"},
		original:   []string{".price-view .original"},
	},
	{
		name:       "plus_price",
		discounted: []string{".ty-plus-price-discounted-price"},
		original:   []string{".ty-plus-price-original-price"},
	},
	{
		name:       "campaign_price",
		discounted: []string{".price-campaign-price-variant-common-price .new-price", ".campaign-price-wrapper .new-price"},
		original:   []string{".price-campaign-price-variant-common-price .old-price", ".campaign-price-wrapper .old-price"},
	},
	{
		name:       "standard_discount",
		discounted: []string{".price-container .discounted", ".prc-dsc", ".discounted"},
		original:   []string{".price-container .original", ".prc-org", ".original"},
	},
	{
		name:       "product_price",
		discounted: []string{".product-price", ".product-price-container .prc-slg"},
	},
}

func domPrice(g priceGroup) Strategy[Price] {
	return Strategy[Price]{
		Name: "dom:" + g.name,
		Fn: func(s *Snapshot) (Price, bool) {
			text, ok := s.PriceText(g.discounted...)
			if !ok {
				return Price{}, false
			}
			discounted, ok := ParsePrice(text)
			if !ok {
				return Price{}, false
			}
			p := Price{Discounted: discounted}
			if text, ok := s.PriceText(g.original...); ok {
				if list, ok := ParsePrice(text); ok {
					p.List = &list
				}
			}
			return p, true
		},
	}
}

func jsonLDPrice(s *Snapshot) (Price, bool) {
	product, ok := s.ProductLD()
	if !ok {
		return Price{}, false
	}
	offers, ok := product["offers"]
	if !ok {
		offers, ok = lookup(product, "hasVariant", "0", "offers")
		if !ok {
			return Price{}, false
		}
	}
	for _, key := range []string{"price", "lowPrice"} {
		if v, ok := lookup(offers, key); ok {
			if f, ok := asFloat(v); ok && f >= 0 {
				return Price{Discounted: f}, true
			}
		}
		if v, ok := lookup(offers, "0", key); ok {
			if f, ok := asFloat(v); ok && f >= 0 {
				return Price{Discounted: f}, true
			}
		}
	}
	return Price{}, false
}

func statePrice(s *Snapshot) (Price, bool) {
	state, ok := s.State()
	if !ok {
		return Price{}, false
	}
	price, ok := lookup(state, "product", "price")
	if !ok {
		return Price{}, false
	}

	value := func(key string) (float64, bool) {
		v, ok := lookup(price, key, "value")
		if !ok {
			return 0, false
		}
		f, ok := asFloat(v)
		return f, ok && f >= 0
	}

	discounted, ok := value("discountedPrice")
	if !ok || discounted == 0 {
		if selling, found := value("sellingPrice"); found {
			discounted, ok = selling, true
		}
	}
	if !ok {
		return Price{}, false
	}

	p := Price{Discounted: discounted}
	if original, ok := value("originalPrice"); ok && original > 0 {
		p.List = &original
	}
	return p, true
}

func regexPriceFn(s *Snapshot) (Price, bool) {
	m := regexPrice.FindStringSubmatch(s.PriceAreaText())
	if m == nil {
		return Price{}, false
	}
	v, ok := ParsePrice(m[1])
	if !ok {
		return Price{}, false
	}
	return Price{Discounted: v}, true
}

func priceStrategies() []Strategy[Price] {
	out := []Strategy[Price]{
		{Name: "jsonld", Fn: jsonLDPrice},
		{Name: "state", Fn: statePrice},
	}
	for _, g := range priceGroups {
		out = append(out, domPrice(g))
	}
	return append(out, Strategy[Price]{Name: "regex", Fn: regexPriceFn})
}

func listPriceStrategies() []Strategy[float64] {
	out := []Strategy[float64]{
		{Name: "state", Fn: func(s *Snapshot) (float64, bool) {
			p, ok := statePrice(s)
			if !ok || p.List == nil {
				return 0, false
			}
			return *p.List, true
		}},
	}
	for _, g := range priceGroups {
		if len(g.original) == 0 {
			continue
		}
		selectors := g.original
		out = append(out, Strategy[float64]{
			Name: "dom:" + g.name,
			Fn: func(s *Snapshot) (float64, bool) {
				text, ok := s.PriceText(selectors...)
				if !ok {
					return 0, false
				}
				return ParsePrice(text)
			},
		})
	}
	return out
}

func ldString(path ...string) func(*Snapshot) (string, bool) {
	return func(s *Snapshot) (string, bool) {
		product, ok := s.ProductLD()
		if !ok {
			return "", false
		}
		v, ok := lookup(product, path...)
		if !ok {
			return "", false
		}
		return asString(v)
	}
}

func stateString(path ...string) func(*Snapshot) (string, bool) {
	return func(s *Snapshot) (string, bool) {
		state, ok := s.State()
		if !ok {
			return "", false
		}
		v, ok := lookup(state, path...)
		if !ok {
			return "", false
		}
		return asString(v)
	}
}

func domText(selectors ...string) func(*Snapshot) (string, bool) {
	return func(s *Snapshot) (string, bool) {
		return s.Text(selectors...)
	}
}

func nameStrategies() []Strategy[string] {
	return []Strategy[string]{
		{Name: "jsonld", Fn: ldString("name")},
		{Name: "state", Fn: stateString("product", "name")},
		{Name: "dom:title", Fn: domText("h1.product-title span", ".product-name", "h1.pr-new-br span", "h1")},
	}
}

func brandStrategies() []Strategy[string] {
	return []Strategy[string]{
		{Name: "jsonld", Fn: ldString("brand")},
		{Name: "state", Fn: stateString("product", "brand", "name")},
		{Name: "dom:brand", Fn: domText("a.product-brand-name-with-link", "h1.product-title a", ".brand-name", "h1.pr-new-br a")},
	}
}

func absoluteImage(src string) string {
	switch {
	case strings.HasPrefix(src, "//"):
		return "https:" + src
	case strings.HasPrefix(src, "/"):
		return imageCDN + src
	}
	return src
}

func imageStrategies() []Strategy[string] {
	wrap := func(fn func(*Snapshot) (string, bool)) func(*Snapshot) (string, bool) {
		return func(s *Snapshot) (string, bool) {
			v, ok := fn(s)
			if !ok {
				return "", false
			}
			return absoluteImage(v), true
		}
	}
	return []Strategy[string]{
		{Name: "jsonld", Fn: wrap(ldString("image"))},
		{Name: "state", Fn: wrap(stateString("product", "images", "0"))},
		{Name: "dom:gallery", Fn: wrap(func(s *Snapshot) (string, bool) {
			return s.Attr("src", ".product-slide img", ".gallery-container img", ".base-product-image img", `img[data-testid="image"]`)
		})},
	}
}

func ldFloat(path ...string) func(*Snapshot) (float64, bool) {
	return func(s *Snapshot) (float64, bool) {
		product, ok := s.ProductLD()
		if !ok {
			return 0, false
		}
		v, ok := lookup(product, path...)
		if !ok {
			return 0, false
		}
		return asFloat(v)
	}
}

func stateFloat(path ...string) func(*Snapshot) (float64, bool) {
	return func(s *Snapshot) (float64, bool) {
		state, ok := s.State()
		if !ok {
			return 0, false
		}
		v, ok := lookup(state, path...)
		if !ok {
			return 0, false
		}
		return asFloat(v)
	}
}

func ratingStrategies() []Strategy[float64] {
	inRange := func(fn func(*Snapshot) (float64, bool)) func(*Snapshot) (float64, bool) {
		return func(s *Snapshot) (float64, bool) {
			v, ok := fn(s)
			return v, ok && v >= 0 && v <= 5
		}
	}
	return []Strategy[float64]{
		{Name: "jsonld", Fn: inRange(ldFloat("aggregateRating", "ratingValue"))},
		{Name: "state", Fn: inRange(stateFloat("product", "ratingScore", "averageRating"))},
		{Name: "dom:rating", Fn: func(s *Snapshot) (float64, bool) {
			text, ok := s.Text(".rating-score", ".pr-rnv-rating-score", ".reviews-summary-rating-detail")
			if !ok {
				return 0, false
			}
			return ParseRating(text)
		}},
	}
}

func toCount(fn func(*Snapshot) (float64, bool)) func(*Snapshot) (int64, bool) {
	return func(s *Snapshot) (int64, bool) {
		v, ok := fn(s)
		if !ok || v < 0 {
			return 0, false
		}
		return int64(v), true
	}
}

func domCount(selectors ...string) func(*Snapshot) (int64, bool) {
	return func(s *Snapshot) (int64, bool) {
		text, ok := s.Text(selectors...)
		if !ok {
			return 0, false
		}
		return ParseCount(text)
	}
}

func ratingCountStrategies() []Strategy[int64] {
	return []Strategy[int64]{
		{Name: "jsonld", Fn: func(s *Snapshot) (int64, bool) {
			if v, ok := toCount(ldFloat("aggregateRating", "ratingCount"))(s); ok {
				return v, true
			}
			return toCount(ldFloat("aggregateRating", "reviewCount"))(s)
		}},
		{Name: "state", Fn: toCount(stateFloat("product", "ratingScore", "totalCount"))},
		{Name: "dom:reviews", Fn: domCount(".reviews-summary-reviews-detail", ".total-review-count", `[data-testid="review-info-link"]`, ".rating-line-count")},
	}
}

type socialKind struct {
	alt      string
	keywords []string
}

var (
	socialFavorite = socialKind{alt: "favorite-count", keywords: []string{"favori"}}
	socialCart     = socialKind{alt: "basket-count", keywords: []string{"sepet"}}
	socialView     = socialKind{alt: "page-view-count", keywords: []string{"görüntü", "baktı"}}
)

func (k socialKind) matches(item *goquery.Selection) bool {
	if alt, ok := item.Find("img").Attr("alt"); ok && strings.Contains(strings.ToLower(alt), k.alt) {
		return true
	}
	text := strings.ToLower(item.Text())
	for _, kw := range k.keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

func socialProof(kind socialKind) func(*Snapshot) (int64, bool) {
	return func(s *Snapshot) (int64, bool) {
		var (
			count int64
			found bool
		)
		items := s.Doc().Find(`[data-testid="social-proof-item"], .social-proof-item, .social-proof-content > div`)
		items.EachWithBreak(func(_ int, item *goquery.Selection) bool {
			if !kind.matches(item) {
				return true
			}
			text := strings.TrimSpace(item.Find(".social-proof-item-focused-text").Text())
			if text == "" {
				text = item.Text()
			}
			count, found = ParseCount(text)
			return !found
		})
		return count, found
	}
}

func favoriteStrategies() []Strategy[int64] {
	return []Strategy[int64]{
		{Name: "state", Fn: toCount(stateFloat("product", "favoriteCount"))},
		{Name: "social_proof", Fn: socialProof(socialFavorite)},
		{Name: "dom:favorites", Fn: domCount(".favorite-count", ".fv-dt")},
	}
}

func cartStrategies() []Strategy[int64] {
	return []Strategy[int64]{
		{Name: "state", Fn: toCount(stateFloat("product", "basketCount"))},
		{Name: "social_proof", Fn: socialProof(socialCart)},
	}
}

func viewStrategies() []Strategy[int64] {
	return []Strategy[int64]{
		{Name: "state", Fn: toCount(stateFloat("product", "pageViewCount"))},
		{Name: "social_proof", Fn: socialProof(socialView)},
	}
}

func discountStrategies() []Strategy[float64] {
	return []Strategy[float64]{
		{Name: "badge", Fn: func(s *Snapshot) (float64, bool) {
			text, ok := s.PriceText(".discount-percentage", `[class*="discount-percentage"]`, ".product-discount-rate", ".pr-bx-pr-dsc")
			if !ok {
				return 0, false
			}
			return ParseDiscountBadge(text)
		}},
	}
}

var rankPattern = regexp.MustCompile(`(\d+)`)

func salesRankStrategies() []Strategy[int] {
	return []Strategy[int]{
		{Name: "state", Fn: func(s *Snapshot) (int, bool) {
			v, ok := stateFloat("product", "bestSellerRank")(s)
			if !ok || v < 1 {
				return 0, false
			}
			return int(v), true
		}},
		{Name: "dom:best_seller", Fn: func(s *Snapshot) (int, bool) {
			text, ok := s.Text(`[data-testid="best-seller-badge"]`, ".best-seller-badge", ".product-best-seller")
			if !ok {
				return 0, false
			}
			m := rankPattern.FindStringSubmatch(text)
			if m == nil {
				return 0, false
			}
			rank, err := strconv.Atoi(m[1])
			if err != nil || rank < 1 {
				return 0, false
			}
			return rank, true
		}},
	}
}
