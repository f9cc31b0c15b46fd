package database

import (
	"database/sql"
	"fmt"
	"strings"

	"nextplace/validator/internal/models"
)

// sqlite caps bound parameters per statement
const maxStatementVars = 900

const propertyColumns = `nextplace_id, property_id, listing_id, address, city, state, zip_code,
	price, beds, baths, sqft, lot_size, year_built, days_on_market, latitude, longitude,
	property_type, last_sale_date, hoa_dues, market, observed_at`

const propertyColumnCount = 21

// InsertProperties adds properties to the pool. Rows whose id already exists
// are ignored. It returns the number of rows actually inserted.
func (s *Session) InsertProperties(properties []models.Property) (int, error) {
	if len(properties) == 0 {
		return 0, nil
	}

	inserted := 0
	err := s.Transaction(func(tx *Session) error {
		rowsPerStmt := maxStatementVars / propertyColumnCount
		for start := 0; start < len(properties); start += rowsPerStmt {
			end := start + rowsPerStmt
			if end > len(properties) {
				end = len(properties)
			}
			chunk := properties[start:end]

			placeholders := make([]string, len(chunk))
			args := make([]interface{}, 0, len(chunk)*propertyColumnCount)
			for i, p := range chunk {
				placeholders[i] = "(" + strings.TrimSuffix(strings.Repeat("?, ", propertyColumnCount), ", ") + ")"
				args = append(args,
					p.ID, p.PropertyID, p.ListingID, p.Address, p.City, p.State, p.ZipCode,
					p.Price, p.Beds, p.Baths, p.SquareFeet, p.LotSize, p.YearBuilt, p.DaysOnMarket,
					p.Latitude, p.Longitude, p.PropertyType, p.LastSaleDate, p.HOADues, p.Market,
					formatTimestamp(p.ObservedAt),
				)
			}

			query := fmt.Sprintf("INSERT OR IGNORE INTO properties (%s) VALUES %s", propertyColumns, strings.Join(placeholders, ", "))
			n, err := tx.exec(query, args...)
			if err != nil {
				return fmt.Errorf("failed to insert properties: %w", err)
			}
			inserted += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

func (s *Session) CountProperties() (int, error) {
	var count int64
	if err := s.orm.Table("properties").Count(&count).Error; err != nil {
		return 0, mapError(err)
	}
	return int(count), nil
}

func (s *Session) CountPropertiesByMarket() (map[string]int, error) {
	rows, err := s.query(`SELECT COALESCE(market, ''), COUNT(*) FROM properties GROUP BY market`)
	if err != nil {
		return nil, fmt.Errorf("failed to count properties by market: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var market string
		var count int
		if err := rows.Scan(&market, &count); err != nil {
			return nil, err
		}
		counts[market] = count
	}
	return counts, rows.Err()
}

// LatestPropertyMarket returns the market of the most recently observed pool row.
func (s *Session) LatestPropertyMarket() (string, bool, error) {
	rows, err := s.query(`SELECT COALESCE(market, '') FROM properties ORDER BY observed_at DESC LIMIT 1`)
	if err != nil {
		return "", false, fmt.Errorf("failed to query latest property market: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return "", false, rows.Err()
	}
	var market string
	if err := rows.Scan(&market); err != nil {
		return "", false, err
	}
	return market, market != "", nil
}

// TakeProperties removes up to limit properties from the pool and returns
// them. The read and the delete happen in one transaction so the same rows
// are never handed out twice.
func (s *Session) TakeProperties(limit int) ([]models.Property, error) {
	var properties []models.Property
	err := s.Transaction(func(tx *Session) error {
		var err error
		properties, err = tx.selectProperties(`ORDER BY days_on_market DESC, nextplace_id LIMIT ?`, limit)
		if err != nil {
			return err
		}

		ids := make([]string, len(properties))
		for i, p := range properties {
			ids[i] = p.ID
		}
		for _, chunk := range chunkStrings(ids, maxStatementVars) {
			if _, err := tx.exec(`DELETE FROM properties WHERE nextplace_id IN ?`, chunk); err != nil {
				return fmt.Errorf("failed to delete taken properties: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return properties, nil
}

// ListProperties returns up to limit pool rows without removing them.
func (s *Session) ListProperties(market string, limit int) ([]models.Property, error) {
	if market != "" {
		return s.selectProperties(`WHERE LOWER(market) = LOWER(?) ORDER BY observed_at DESC LIMIT ?`, market, limit)
	}
	return s.selectProperties(`ORDER BY observed_at DESC LIMIT ?`, limit)
}

func (s *Session) selectProperties(clause string, args ...interface{}) ([]models.Property, error) {
	rows, err := s.query(fmt.Sprintf("SELECT %s FROM properties %s", propertyColumns, clause), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query properties: %w", err)
	}
	defer rows.Close()

	var properties []models.Property
	for rows.Next() {
		var p models.Property
		var propertyID, listingID, address, city, state, zipCode sql.NullString
		var propertyType, lastSaleDate, market sql.NullString
		var price, beds, sqft, lotSize, yearBuilt, daysOnMarket, hoaDues sql.NullInt64
		var baths, latitude, longitude sql.NullFloat64
		var observedAt string

		err := rows.Scan(
			&p.ID,
			&propertyID,
			&listingID,
			&address,
			&city,
			&state,
			&zipCode,
			&price,
			&beds,
			&baths,
			&sqft,
			&lotSize,
			&yearBuilt,
			&daysOnMarket,
			&latitude,
			&longitude,
			&propertyType,
			&lastSaleDate,
			&hoaDues,
			&market,
			&observedAt,
		)
		if err != nil {
			return nil, err
		}

		p.PropertyID = propertyID.String
		p.ListingID = listingID.String
		p.Address = address.String
		p.City = city.String
		p.State = state.String
		p.ZipCode = zipCode.String
		p.PropertyType = propertyType.String
		p.LastSaleDate = lastSaleDate.String
		p.Market = market.String
		p.ObservedAt = parseTimestamp(observedAt)

		p.Price = nullInt64(price)
		p.HOADues = nullInt64(hoaDues)
		p.Beds = nullInt(beds)
		p.SquareFeet = nullInt(sqft)
		p.LotSize = nullInt(lotSize)
		p.YearBuilt = nullInt(yearBuilt)
		p.DaysOnMarket = nullInt(daysOnMarket)
		p.Baths = nullFloat(baths)
		p.Latitude = nullFloat(latitude)
		p.Longitude = nullFloat(longitude)

		properties = append(properties, p)
	}
	return properties, rows.Err()
}

func nullInt64(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

func nullInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func chunkStrings(values []string, size int) [][]string {
	var chunks [][]string
	for start := 0; start < len(values); start += size {
		end := start + size
		if end > len(values) {
			end = len(values)
		}
		chunks = append(chunks, values[start:end])
	}
	return chunks
}
