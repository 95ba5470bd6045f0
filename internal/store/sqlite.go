package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/furnishly/catalog-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	sqldb, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := sqldb.Exec(pragma); err != nil {
			sqldb.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: sqldb}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS catalog_products (
	id           TEXT PRIMARY KEY,
	vendor       TEXT NOT NULL,
	sku          TEXT NOT NULL,
	name         TEXT NOT NULL DEFAULT '',
	img_url      TEXT NOT NULL DEFAULT '',
	product_url  TEXT NOT NULL DEFAULT '',
	price        TEXT,
	in_stock     TEXT NOT NULL DEFAULT '',
	room_types   TEXT NOT NULL DEFAULT '[]',
	product_type TEXT NOT NULL DEFAULT '',
	fixture_type TEXT NOT NULL DEFAULT '',
	created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (vendor, sku)
);

CREATE INDEX IF NOT EXISTS idx_catalog_products_vendor ON catalog_products(vendor);
CREATE INDEX IF NOT EXISTS idx_catalog_products_product_type ON catalog_products(product_type);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) ListExisting(ctx context.Context, vendor string) ([]model.PersistedRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, vendor, sku, name, img_url, product_url, price, in_stock, room_types, product_type, fixture_type, created_at, updated_at
		 FROM catalog_products WHERE vendor = ? ORDER BY sku`,
		vendor,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list products for %s", vendor)
	}
	defer rows.Close()

	var records []model.PersistedRecord
	for rows.Next() {
		var (
			r         model.PersistedRecord
			priceText sql.NullString
			roomsJSON string
		)
		if err := rows.Scan(&r.ID, &r.Vendor, &r.SKU, &r.Name, &r.ImageURL, &r.ProductURL,
			&priceText, &r.Availability, &roomsJSON, &r.ProductType, &r.FixtureType,
			&r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan product")
		}
		if priceText.Valid {
			d, err := decimal.NewFromString(priceText.String)
			if err != nil {
				return nil, eris.Wrapf(err, "sqlite: parse price for %s/%s", r.Vendor, r.SKU)
			}
			r.Price = &d
		}
		if roomsJSON != "" {
			if err := json.Unmarshal([]byte(roomsJSON), &r.RoomTypes); err != nil {
				return nil, eris.Wrapf(err, "sqlite: unmarshal room types for %s/%s", r.Vendor, r.SKU)
			}
		}
		records = append(records, r)
	}
	return records, eris.Wrap(rows.Err(), "sqlite: list products iterate")
}

func (s *SQLiteStore) UpsertBatch(ctx context.Context, vendor string, products []model.CanonicalProduct) []RecordResult {
	results := make([]RecordResult, len(products))
	now := time.Now().UTC()

	for i, p := range products {
		results[i].SKU = p.SKU

		roomsJSON, err := json.Marshal(p.RoomTypes)
		if err != nil {
			results[i].Err = eris.Wrapf(err, "sqlite: marshal room types for %s", p.SKU)
			continue
		}

		var price any
		if p.Price != nil {
			price = p.Price.String()
		}

		_, err = s.db.ExecContext(ctx,
			`INSERT INTO catalog_products
			 (id, vendor, sku, name, img_url, product_url, price, in_stock, room_types, product_type, fixture_type, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (vendor, sku) DO UPDATE SET
			   name = excluded.name, img_url = excluded.img_url, product_url = excluded.product_url,
			   price = excluded.price, in_stock = excluded.in_stock, room_types = excluded.room_types,
			   product_type = excluded.product_type, fixture_type = excluded.fixture_type,
			   updated_at = excluded.updated_at`,
			uuid.New().String(), vendor, p.SKU, p.Name, p.ImageURL, p.ProductURL,
			price, p.Availability, string(roomsJSON), p.ProductType, p.FixtureType, now, now,
		)
		if err != nil {
			results[i].Err = eris.Wrapf(err, "sqlite: upsert %s/%s", vendor, p.SKU)
		}
	}
	return results
}

func (s *SQLiteStore) DeleteBatch(ctx context.Context, vendor string, skus []string) (int64, error) {
	if len(skus) == 0 {
		return 0, nil
	}

	placeholders := strings.Repeat("?,", len(skus))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]any, 0, len(skus)+1)
	args = append(args, vendor)
	for _, sku := range skus {
		args = append(args, sku)
	}

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM catalog_products WHERE vendor = ? AND sku IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: delete products for %s", vendor)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: rows affected")
	}
	return n, nil
}

func (s *SQLiteStore) Vendors(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT vendor FROM catalog_products ORDER BY vendor`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list vendors")
	}
	defer rows.Close()

	var vendors []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan vendor")
		}
		vendors = append(vendors, v)
	}
	return vendors, eris.Wrap(rows.Err(), "sqlite: list vendors iterate")
}
