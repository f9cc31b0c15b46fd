package database

import (
	"fmt"
	"strings"

	"nextplace/validator/internal/models"
)

func (s *Session) ClearSales() error {
	if _, err := s.exec(`DELETE FROM sales`); err != nil {
		return fmt.Errorf("failed to clear sales: %w", err)
	}
	return nil
}

// InsertSales bulk inserts sales, ignoring duplicate property ids.
func (s *Session) InsertSales(sales []models.Sale) (int, error) {
	if len(sales) == 0 {
		return 0, nil
	}

	inserted := 0
	err := s.Transaction(func(tx *Session) error {
		rowsPerStmt := maxStatementVars / 3
		for start := 0; start < len(sales); start += rowsPerStmt {
			end := start + rowsPerStmt
			if end > len(sales) {
				end = len(sales)
			}
			chunk := sales[start:end]

			placeholders := make([]string, len(chunk))
			args := make([]interface{}, 0, len(chunk)*3)
			for i, sale := range chunk {
				placeholders[i] = "(?, ?, ?)"
				args = append(args, sale.PropertyID, sale.SalePrice, sale.SaleDate)
			}

			n, err := tx.exec(`INSERT OR IGNORE INTO sales (nextplace_id, sale_price, sale_date) VALUES `+strings.Join(placeholders, ", "), args...)
			if err != nil {
				return fmt.Errorf("failed to insert sales: %w", err)
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

// ReplaceSales clears the sales table and fills it with sales in one transaction.
func (s *Session) ReplaceSales(sales []models.Sale) (int, error) {
	inserted := 0
	err := s.Transaction(func(tx *Session) error {
		if err := tx.ClearSales(); err != nil {
			return err
		}
		n, err := tx.InsertSales(sales)
		inserted = n
		return err
	})
	return inserted, err
}

func (s *Session) CountSales() (int, error) {
	var count int64
	if err := s.orm.Table("sales").Count(&count).Error; err != nil {
		return 0, mapError(err)
	}
	return int(count), nil
}

// JoinSales matches the miner's predictions against sales. Predictions
// submitted on or after the sale date are excluded.
func (s *Session) JoinSales(t PredictionTable) ([]models.JoinedPrediction, error) {
	query := fmt.Sprintf(`
		SELECT
			p.nextplace_id,
			p.predicted_sale_price,
			p.predicted_sale_date,
			p.submitted_at,
			COALESCE(p.market, ''),
			s.sale_price,
			s.sale_date
		FROM %s p
		JOIN sales s ON p.nextplace_id = s.nextplace_id
		WHERE DATE(p.submitted_at) < DATE(s.sale_date)
		ORDER BY p.nextplace_id
	`, t.quoted())

	rows, err := s.query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to join sales for %s: %w", t.minerID, err)
	}
	defer rows.Close()

	var joined []models.JoinedPrediction
	for rows.Next() {
		var j models.JoinedPrediction
		if err := rows.Scan(&j.PropertyID, &j.PredictedPrice, &j.PredictedDate, &j.SubmittedAt, &j.Market, &j.SalePrice, &j.SaleDate); err != nil {
			return nil, err
		}
		joined = append(joined, j)
	}
	return joined, rows.Err()
}
