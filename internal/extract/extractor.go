package extract

// Extractor runs a fixed cascade of strategies per field.
type Extractor struct {
	price       []Strategy[Price]
	listPrice   []Strategy[float64]
	discount    []Strategy[float64]
	name        []Strategy[string]
	brand       []Strategy[string]
	image       []Strategy[string]
	rating      []Strategy[float64]
	ratingCount []Strategy[int64]
	favorites   []Strategy[int64]
	cart        []Strategy[int64]
	views       []Strategy[int64]
	salesRank   []Strategy[int]
}

func New() *Extractor {
	return &Extractor{
		price:       priceStrategies(),
		listPrice:   listPriceStrategies(),
		discount:    discountStrategies(),
		name:        nameStrategies(),
		brand:       brandStrategies(),
		image:       imageStrategies(),
		rating:      ratingStrategies(),
		ratingCount: ratingCountStrategies(),
		favorites:   favoriteStrategies(),
		cart:        cartStrategies(),
		views:       viewStrategies(),
		salesRank:   salesRankStrategies(),
	}
}

// PriceStrategies lists the price cascade in evaluation order.
func (e *Extractor) PriceStrategies() []string {
	names := make([]string, len(e.price))
	for i, st := range e.price {
		names[i] = st.Name
	}
	return names
}

func (e *Extractor) Extract(s *Snapshot) Record {
	rec := Record{
		URL:     s.URL,
		Methods: make(map[string]string),
	}

	if p, method, ok := First(s, e.price); ok {
		discounted := p.Discounted
		rec.DiscountedPrice = &discounted
		rec.PriceMethod = method
		rec.Methods["price"] = method

		list := p.List
		listMethod := method
		if list == nil {
			if v, m, ok := First(s, e.listPrice); ok {
				list = &v
				listMethod = m
			} else {
				listMethod = "discounted"
			}
		}
		normalized := NormalizeListPrice(discounted, list)
		rec.ListPrice = &normalized
		rec.Methods["list_price"] = listMethod
	}

	if v, m, ok := First(s, e.discount); ok {
		rec.DiscountRate = &v
		rec.Methods["discount_rate"] = m
	} else if rec.ListPrice != nil {
		if v, ok := DiscountRate(*rec.ListPrice, *rec.DiscountedPrice); ok {
			rec.DiscountRate = &v
			rec.Methods["discount_rate"] = "derived"
		}
	}

	rec.Name = firstString(s, e.name, "name", rec.Methods)
	rec.Brand = firstString(s, e.brand, "brand", rec.Methods)
	rec.ImageURL = firstString(s, e.image, "image", rec.Methods)

	if v, m, ok := First(s, e.rating); ok {
		rec.AvgRating = &v
		rec.Methods["avg_rating"] = m
	}

	rec.RatingCount = firstCount(s, e.ratingCount, "rating_count", rec.Methods)
	rec.FavoriteCount = firstCount(s, e.favorites, "favorite_count", rec.Methods)
	rec.CartCount = firstCount(s, e.cart, "cart_count", rec.Methods)
	rec.ViewCount = firstCount(s, e.views, "view_count", rec.Methods)

	if v, m, ok := First(s, e.salesRank); ok {
		rec.SalesRank = &v
		rec.Methods["sales_rank"] = m
	}

	return rec
}

func firstString(s *Snapshot, strategies []Strategy[string], field string, methods map[string]string) *string {
	v, m, ok := First(s, strategies)
	if !ok {
		return nil
	}
	methods[field] = m
	return &v
}

func firstCount(s *Snapshot, strategies []Strategy[int64], field string, methods map[string]string) *int64 {
	v, m, ok := First(s, strategies)
	if !ok {
		return nil
	}
	methods[field] = m
	return &v
}
