package database

import "time"

const (
	PriceStateOK   = "ok"
	PriceStateZero = "zero"
)

// ProductFields are the identity attributes written on every scrape. Nil
// values never overwrite stored ones.
type ProductFields struct {
	URL      string
	Name     *string
	Brand    *string
	ImageURL *string
}

// MetricFields is one observation of a product. Nil values are stored as
// NULL.
type MetricFields struct {
	ListPrice        *float64 `json:"list_price"`
	DiscountedPrice  *float64 `json:"discounted_price"`
	DiscountRate     *float64 `json:"discount_rate"`
	AvgRating        *float64 `json:"avg_rating"`
	RatingCount      *int64   `json:"rating_count"`
	FavoriteCount    *int64   `json:"favorite_count"`
	CartCount        *int64   `json:"cart_count"`
	ViewCount        *int64   `json:"view_count"`
	SalesRank        *int     `json:"sales_rank"`
	ExtractionMethod string   `json:"extraction_method"`
	PriceState       string   `json:"price_state"`
}

type Product struct {
	ID               int64      `json:"id"`
	URL              string     `json:"url"`
	Name             *string    `json:"name"`
	Brand            *string    `json:"brand"`
	ImageURL         *string    `json:"image_url"`
	LastPrice        *float64   `json:"last_price"`
	LastDiscountRate *float64   `json:"last_discount_rate"`
	CreatedAt        time.Time  `json:"created_at"`
	LastScrapedAt    *time.Time `json:"last_scraped_at"`
}

type DailyMetric struct {
	ID         int64     `json:"id"`
	ProductID  int64     `json:"product_id"`
	RecordedAt time.Time `json:"recorded_at"`
	MetricFields
}
