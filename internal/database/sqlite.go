package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is the single-file store used for local runs and tests. It
// has no outbox; events are only produced by the Postgres store.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and applies
// the schema. Use ":memory:" for a throwaway database.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, wrapErr("open sqlite", err)
	}
	// One connection keeps ":memory:" databases shared and serialises writers.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite: %w: %w", ErrUnavailable, err)
	}

	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
		db.Close()
		return nil, wrapErr("enable foreign keys", err)
	}

	if _, err := db.ExecContext(ctx, SQLiteSchema); err != nil {
		db.Close()
		return nil, wrapErr("apply schema", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping sqlite: %w: %w", ErrUnavailable, err)
	}
	return nil
}

func (s *SQLiteStore) UpsertProduct(ctx context.Context, p ProductFields) (int64, error) {
	query := `
		INSERT INTO products (url, name, brand, image_url, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (url) DO UPDATE SET
			name = COALESCE(products.name, excluded.name),
			brand = COALESCE(products.brand, excluded.brand),
			image_url = COALESCE(products.image_url, excluded.image_url)
		RETURNING id`

	var id int64
	err := s.db.QueryRowContext(ctx, query, p.URL, p.Name, p.Brand, p.ImageURL, time.Now().UTC()).Scan(&id)
	if err != nil {
		return 0, wrapErr("upsert product", err)
	}
	return id, nil
}

func (s *SQLiteStore) AppendMetric(ctx context.Context, productID int64, m MetricFields, at time.Time) (id int64, err error) {
	if m.PriceState == "" {
		m.PriceState = PriceStateOK
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, wrapErr("begin transaction", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	query := `
		INSERT INTO daily_metrics (
			product_id, recorded_at, list_price, discounted_price, discount_rate,
			avg_rating, rating_count, favorite_count, cart_count, view_count,
			sales_rank, extraction_method, price_state
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	res, err := tx.ExecContext(ctx, query,
		productID, at.UTC(), m.ListPrice, m.DiscountedPrice, m.DiscountRate,
		m.AvgRating, m.RatingCount, m.FavoriteCount, m.CartCount, m.ViewCount,
		m.SalesRank, m.ExtractionMethod, m.PriceState,
	)
	if err != nil {
		return 0, wrapErr("append metric", err)
	}
	if id, err = res.LastInsertId(); err != nil {
		return 0, wrapErr("read metric id", err)
	}

	if m.PriceState == PriceStateOK {
		_, err = tx.ExecContext(ctx,
			`UPDATE products SET last_price = ?, last_discount_rate = ?, last_scraped_at = ? WHERE id = ?`,
			m.DiscountedPrice, m.DiscountRate, at.UTC(), productID)
	} else {
		_, err = tx.ExecContext(ctx, `UPDATE products SET last_scraped_at = ? WHERE id = ?`, at.UTC(), productID)
	}
	if err != nil {
		return 0, wrapErr("stamp product", err)
	}

	if err = tx.Commit(); err != nil {
		return 0, wrapErr("commit transaction", err)
	}
	return id, nil
}

func (s *SQLiteStore) GetProduct(ctx context.Context, id int64) (*Product, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, url, name, brand, image_url, last_price, last_discount_rate, created_at, last_scraped_at
		FROM products WHERE id = ?`, id)

	p, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("product %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, wrapErr("get product", err)
	}
	return p, nil
}

func (s *SQLiteStore) StaleProducts(ctx context.Context, limit int) ([]Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, url, name, brand, image_url, last_price, last_discount_rate, created_at, last_scraped_at
		FROM products
		ORDER BY last_scraped_at ASC NULLS FIRST, id ASC
		LIMIT ?`, limit)
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

func (s *SQLiteStore) MetricHistory(ctx context.Context, productID int64, limit int) ([]DailyMetric, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, product_id, recorded_at, list_price, discounted_price, discount_rate, avg_rating,
			rating_count, favorite_count, cart_count, view_count, sales_rank, extraction_method, price_state
		FROM daily_metrics
		WHERE product_id = ?
		ORDER BY recorded_at DESC, id DESC
		LIMIT ?`, productID, limit)
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

// CountMetrics returns how many metric rows exist for a product.
func (s *SQLiteStore) CountMetrics(ctx context.Context, productID int64) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM daily_metrics WHERE product_id = ?`, productID).Scan(&n); err != nil {
		return 0, wrapErr("count metrics", err)
	}
	return n, nil
}
