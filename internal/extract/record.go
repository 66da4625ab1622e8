package extract

// Record holds everything read from one product page. Nil pointers mean the
// field was not found on the page.
type Record struct {
	URL             string
	Name            *string
	Brand           *string
	ImageURL        *string
	ListPrice       *float64
	DiscountedPrice *float64
	DiscountRate    *float64
	AvgRating       *float64
	RatingCount     *int64
	FavoriteCount   *int64
	CartCount       *int64
	ViewCount       *int64
	SalesRank       *int

	PriceMethod string
	// Methods maps field name to the strategy that produced it.
	Methods map[string]string
}

func (r Record) HasPrice() bool {
	return r.DiscountedPrice != nil
}
