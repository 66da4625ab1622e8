package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

const productColumns = `id, url, name, brand, image_url,
	last_price::double precision, last_discount_rate::double precision,
	created_at, last_scraped_at`

const metricColumns = `id, product_id, recorded_at,
	list_price::double precision, discounted_price::double precision,
	discount_rate::double precision, avg_rating::double precision,
	rating_count, favorite_count, cart_count, view_count, sales_rank,
	extraction_method, price_state`

// UpsertProduct inserts the product or returns the existing id for its URL.
// Stored name, brand and image are kept; new values only fill gaps.
func (db *DB) UpsertProduct(ctx context.Context, p ProductFields) (int64, error) {
	query := `
		INSERT INTO products (url, name, brand, image_url)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (url) DO UPDATE SET
			name = COALESCE(products.name, EXCLUDED.name),
			brand = COALESCE(products.brand, EXCLUDED.brand),
			image_url = COALESCE(products.image_url, EXCLUDED.image_url)
		RETURNING id`

	var id int64
	if err := db.pool.QueryRow(ctx, query, p.URL, p.Name, p.Brand, p.ImageURL).Scan(&id); err != nil {
		return 0, wrapErr("upsert product", err)
	}

	return id, nil
}

// AppendMetric records one observation and stamps the product in a single
// transaction.
func (db *DB) AppendMetric(ctx context.Context, productID int64, m MetricFields, at time.Time) (int64, error) {
	var id int64
	err := db.Transaction(ctx, func(tx pgx.Tx) error {
		var err error
		id, err = db.AppendMetricTx(ctx, tx, productID, m, at)
		return err
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (db *DB) AppendMetricTx(ctx context.Context, tx pgx.Tx, productID int64, m MetricFields, at time.Time) (int64, error) {
	if m.PriceState == "" {
		m.PriceState = PriceStateOK
	}

	query := `
		INSERT INTO daily_metrics (
			product_id, recorded_at, list_price, discounted_price, discount_rate,
			avg_rating, rating_count, favorite_count, cart_count, view_count,
			sales_rank, extraction_method, price_state
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id`

	var id int64
	err := tx.QueryRow(ctx, query,
		productID, at, m.ListPrice, m.DiscountedPrice, m.DiscountRate,
		m.AvgRating, m.RatingCount, m.FavoriteCount, m.CartCount, m.ViewCount,
		m.SalesRank, m.ExtractionMethod, m.PriceState,
	).Scan(&id)
	if err != nil {
		return 0, wrapErr("append metric", err)
	}

	if m.PriceState == PriceStateOK {
		_, err = tx.Exec(ctx, `
			UPDATE products SET
				last_price = $2,
				last_discount_rate = $3,
				last_scraped_at = $4
			WHERE id = $1`,
			productID, m.DiscountedPrice, m.DiscountRate, at)
	} else {
		_, err = tx.Exec(ctx, `UPDATE products SET last_scraped_at = $2 WHERE id = $1`, productID, at)
	}
	if err != nil {
		return 0, wrapErr("stamp product", err)
	}

	return id, nil
}

// ProductURLTx reads the product URL inside tx.
func (db *DB) ProductURLTx(ctx context.Context, tx pgx.Tx, id int64) (string, error) {
	var url string
	if err := tx.QueryRow(ctx, `SELECT url FROM products WHERE id = $1`, id).Scan(&url); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("product %d: %w", id, ErrNotFound)
		}
		return "", wrapErr("read product url", err)
	}
	return url, nil
}

func (db *DB) GetProduct(ctx context.Context, id int64) (*Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1`

	p, err := scanProduct(db.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("product %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, wrapErr("get product", err)
	}
	return p, nil
}

// StaleProducts returns products that were never scraped first, then the
// least recently scraped.
func (db *DB) StaleProducts(ctx context.Context, limit int) ([]Product, error) {
	query := `
		SELECT ` + productColumns + `
		FROM products
		ORDER BY last_scraped_at ASC NULLS FIRST, id ASC
		LIMIT $1`

	rows, err := db.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, wrapErr("get stale products", err)
	}
	defer rows.Close()

	var products []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, *p)
	}

	if err := rows.Err(); err != nil {
		return nil, wrapErr("iterate products", err)
	}

	return products, nil
}

// MetricHistory returns the newest metrics of a product first.
func (db *DB) MetricHistory(ctx context.Context, productID int64, limit int) ([]DailyMetric, error) {
	query := `
		SELECT ` + metricColumns + `
		FROM daily_metrics
		WHERE product_id = $1
		ORDER BY recorded_at DESC, id DESC
		LIMIT $2`

	rows, err := db.pool.Query(ctx, query, productID, limit)
	if err != nil {
		return nil, wrapErr("get metric history", err)
	}
	defer rows.Close()

	var metrics []DailyMetric
	for rows.Next() {
		var m DailyMetric
		err := rows.Scan(
			&m.ID, &m.ProductID, &m.RecordedAt,
			&m.ListPrice, &m.DiscountedPrice, &m.DiscountRate, &m.AvgRating,
			&m.RatingCount, &m.FavoriteCount, &m.CartCount, &m.ViewCount, &m.SalesRank,
			&m.ExtractionMethod, &m.PriceState,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan metric: %w", err)
		}
		metrics = append(metrics, m)
	}

	if err := rows.Err(); err != nil {
		return nil, wrapErr("iterate metrics", err)
	}

	return metrics, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (*Product, error) {
	var p Product
	err := row.Scan(
		&p.ID, &p.URL, &p.Name, &p.Brand, &p.ImageURL,
		&p.LastPrice, &p.LastDiscountRate,
		&p.CreatedAt, &p.LastScrapedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
