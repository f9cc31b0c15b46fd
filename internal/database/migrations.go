package database

import (
	"context"
	"fmt"

	"nextplace/validator/internal/models"
)

var schema = []struct {
	name  string
	query string
}{
	{
		name: "properties",
		query: `
		CREATE TABLE IF NOT EXISTS properties (
			nextplace_id TEXT PRIMARY KEY,
			property_id TEXT,
			listing_id TEXT,
			address TEXT,
			city TEXT,
			state TEXT,
			zip_code TEXT,
			price INTEGER,
			beds INTEGER,
			baths REAL,
			sqft INTEGER,
			lot_size INTEGER,
			year_built INTEGER,
			days_on_market INTEGER,
			latitude REAL,
			longitude REAL,
			property_type TEXT,
			last_sale_date TEXT,
			hoa_dues INTEGER,
			market TEXT,
			observed_at TEXT NOT NULL
		)`,
	},
	{
		name:  "properties observed_at index",
		query: `CREATE INDEX IF NOT EXISTS idx_properties_observed_at ON properties(observed_at)`,
	},
	{
		name:  "properties market index",
		query: `CREATE INDEX IF NOT EXISTS idx_properties_market ON properties(market)`,
	},
	{
		name: "sales",
		query: `
		CREATE TABLE IF NOT EXISTS sales (
			nextplace_id TEXT PRIMARY KEY,
			property_id TEXT,
			sale_price REAL NOT NULL,
			sale_date TEXT NOT NULL
		)`,
	},
}

// RunMigrations creates the fixed tables. Per-miner prediction tables are
// created on demand during ingestion.
func (d *Database) RunMigrations() error {
	return d.WithLock(context.Background(), func(s *Session) error {
		for _, step := range schema {
			if _, err := s.exec(step.query); err != nil {
				return fmt.Errorf("failed to create %s: %w", step.name, err)
			}
		}

		if err := s.orm.AutoMigrate(&models.DailyScore{}, &models.MinerScore{}, &models.ActiveMiner{}); err != nil {
			return fmt.Errorf("failed to migrate score tables: %w", err)
		}
		return nil
	})
}
