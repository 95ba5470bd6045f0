package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/furnishly/catalog-cli/internal/db"
	"github.com/furnishly/catalog-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const upsertProductSQL = `INSERT INTO catalog_products
	 (id, vendor, sku, name, img_url, product_url, price, in_stock, room_types, product_type, fixture_type, updated_at)
	 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	 ON CONFLICT (vendor, sku) DO UPDATE SET
	   name = EXCLUDED.name, img_url = EXCLUDED.img_url, product_url = EXCLUDED.product_url,
	   price = EXCLUDED.price, in_stock = EXCLUDED.in_stock, room_types = EXCLUDED.room_types,
	   product_type = EXCLUDED.product_type, fixture_type = EXCLUDED.fixture_type,
	   updated_at = EXCLUDED.updated_at`

const listProductsSQL = `SELECT id, vendor, sku, name, img_url, product_url, price::text, in_stock, room_types, product_type, fixture_type, created_at, updated_at
	 FROM catalog_products WHERE vendor = $1 ORDER BY sku`

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hot store operations.
var preparedStatements = map[string]string{
	"upsert_product":  upsertProductSQL,
	"list_products":   listProductsSQL,
	"delete_products": `DELETE FROM catalog_products WHERE vendor = $1 AND sku = ANY($2)`,
	"list_vendors":    `SELECT DISTINCT vendor FROM catalog_products ORDER BY vendor`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool. Used by tests.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS catalog_products (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	vendor       TEXT NOT NULL,
	sku          TEXT NOT NULL,
	name         TEXT NOT NULL DEFAULT '',
	img_url      TEXT NOT NULL DEFAULT '',
	product_url  TEXT NOT NULL DEFAULT '',
	price        NUMERIC,
	in_stock     TEXT NOT NULL DEFAULT '',
	room_types   JSONB NOT NULL DEFAULT '[]',
	product_type TEXT NOT NULL DEFAULT '',
	fixture_type TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (vendor, sku)
);

CREATE INDEX IF NOT EXISTS idx_catalog_products_vendor ON catalog_products(vendor);
CREATE INDEX IF NOT EXISTS idx_catalog_products_product_type ON catalog_products(product_type);
CREATE INDEX IF NOT EXISTS idx_catalog_products_updated_at ON catalog_products(updated_at);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) ListExisting(ctx context.Context, vendor string) ([]model.PersistedRecord, error) {
	rows, err := s.pool.Query(ctx, listProductsSQL, vendor)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list products for %s", vendor)
	}
	defer rows.Close()

	var records []model.PersistedRecord
	for rows.Next() {
		var (
			r         model.PersistedRecord
			priceText *string
			roomsJSON []byte
		)
		if err := rows.Scan(&r.ID, &r.Vendor, &r.SKU, &r.Name, &r.ImageURL, &r.ProductURL,
			&priceText, &r.Availability, &roomsJSON, &r.ProductType, &r.FixtureType,
			&r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan product")
		}
		if priceText != nil {
			d, err := decimal.NewFromString(*priceText)
			if err != nil {
				return nil, eris.Wrapf(err, "postgres: parse price for %s/%s", r.Vendor, r.SKU)
			}
			r.Price = &d
		}
		if len(roomsJSON) > 0 {
			if err := json.Unmarshal(roomsJSON, &r.RoomTypes); err != nil {
				return nil, eris.Wrapf(err, "postgres: unmarshal room types for %s/%s", r.Vendor, r.SKU)
			}
		}
		records = append(records, r)
	}
	return records, eris.Wrap(rows.Err(), "postgres: list products iterate")
}

// UpsertBatch writes all products in one temp-table bulk upsert, falling
// back to per-record writes when the bulk path fails so one bad record
// cannot sink its batch mates.
func (s *PostgresStore) UpsertBatch(ctx context.Context, vendor string, products []model.CanonicalProduct) []RecordResult {
	results := make([]RecordResult, len(products))
	for i, p := range products {
		results[i].SKU = p.SKU
	}
	if len(products) == 0 {
		return results
	}

	err := s.bulkUpsert(ctx, vendor, products)
	if err == nil {
		return results
	}
	zap.L().Warn("bulk upsert failed, retrying per record",
		zap.String("vendor", vendor),
		zap.Int("batch", len(products)),
		zap.Error(err),
	)

	now := time.Now().UTC()
	for i, p := range products {
		roomsJSON, err := json.Marshal(p.RoomTypes)
		if err != nil {
			results[i].Err = eris.Wrapf(err, "postgres: marshal room types for %s", p.SKU)
			continue
		}
		_, err = s.pool.Exec(ctx, upsertProductSQL,
			uuid.New().String(), vendor, p.SKU, p.Name, p.ImageURL, p.ProductURL,
			p.Price, p.Availability, roomsJSON, p.ProductType, p.FixtureType, now,
		)
		if err != nil {
			results[i].Err = eris.Wrapf(err, "postgres: upsert %s/%s", vendor, p.SKU)
		}
	}
	return results
}

func (s *PostgresStore) bulkUpsert(ctx context.Context, vendor string, products []model.CanonicalProduct) error {
	now := time.Now().UTC()
	rows := make([][]any, 0, len(products))
	for _, p := range products {
		roomsJSON, err := json.Marshal(p.RoomTypes)
		if err != nil {
			return eris.Wrapf(err, "postgres: marshal room types for %s", p.SKU)
		}
		rows = append(rows, []any{
			uuid.New().String(), vendor, p.SKU, p.Name, p.ImageURL, p.ProductURL,
			p.Price, p.Availability, roomsJSON, p.ProductType, p.FixtureType, now,
		})
	}

	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table: "catalog_products",
		Columns: []string{
			"id", "vendor", "sku", "name", "img_url", "product_url",
			"price", "in_stock", "room_types", "product_type", "fixture_type", "updated_at",
		},
		ConflictKeys: []string{"vendor", "sku"},
		UpdateCols: []string{
			"name", "img_url", "product_url", "price", "in_stock",
			"room_types", "product_type", "fixture_type", "updated_at",
		},
	}, rows)
	return err
}

func (s *PostgresStore) DeleteBatch(ctx context.Context, vendor string, skus []string) (int64, error) {
	if len(skus) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM catalog_products WHERE vendor = $1 AND sku = ANY($2)`,
		vendor, skus,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: delete products for %s", vendor)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) Vendors(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT vendor FROM catalog_products ORDER BY vendor`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list vendors")
	}
	defer rows.Close()

	var vendors []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, eris.Wrap(err, "postgres: scan vendor")
		}
		vendors = append(vendors, v)
	}
	return vendors, eris.Wrap(rows.Err(), "postgres: list vendors iterate")
}
