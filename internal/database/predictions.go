package database

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"nextplace/validator/internal/models"
)

var ErrInvalidMinerID = errors.New("invalid miner id")

const predictionTablePrefix = "predictions_"

var minerIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// ConflictPolicy decides what happens when a prediction key already exists.
type ConflictPolicy int

const (
	// KeepFirst ignores the new row (first write wins).
	KeepFirst ConflictPolicy = iota
	// Overwrite replaces the stored row (last write wins).
	Overwrite
)

func (p ConflictPolicy) verb() string {
	if p == Overwrite {
		return "INSERT OR REPLACE"
	}
	return "INSERT OR IGNORE"
}

// PredictionTable is the handle of one miner's prediction table. It can only
// be built from a validated miner id.
type PredictionTable struct {
	minerID string
}

func PredictionTableFor(minerID string) (PredictionTable, error) {
	if !minerIDPattern.MatchString(minerID) {
		return PredictionTable{}, fmt.Errorf("%w: %q", ErrInvalidMinerID, minerID)
	}
	return PredictionTable{minerID: minerID}, nil
}

func (t PredictionTable) MinerID() string {
	return t.minerID
}

func (t PredictionTable) Name() string {
	return predictionTablePrefix + t.minerID
}

func (t PredictionTable) quoted() string {
	return `"` + t.Name() + `"`
}

func (t PredictionTable) index(suffix string) string {
	return `"idx_` + t.Name() + "_" + suffix + `"`
}

// EnsurePredictionTable creates the miner's table and its indexes if missing.
func (s *Session) EnsurePredictionTable(t PredictionTable) error {
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			nextplace_id TEXT NOT NULL,
			miner_id TEXT NOT NULL,
			predicted_sale_price REAL NOT NULL,
			predicted_sale_date TEXT NOT NULL,
			submitted_at TEXT NOT NULL,
			market TEXT,
			force_update INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (nextplace_id, miner_id)
		)`, t.quoted()),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s(submitted_at)`, t.index("submitted_at"), t.quoted()),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s(market)`, t.index("market"), t.quoted()),
	}
	for _, stmt := range statements {
		if _, err := s.exec(stmt); err != nil {
			return fmt.Errorf("failed to create prediction table for %s: %w", t.minerID, err)
		}
	}
	return nil
}

func (s *Session) PredictionTableExists(t PredictionTable) (bool, error) {
	var count int64
	err := s.orm.Raw(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, t.Name()).Scan(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check prediction table: %w", err)
	}
	return count > 0, nil
}

func (s *Session) DropPredictionTable(t PredictionTable) error {
	if _, err := s.exec(fmt.Sprintf(`DROP TABLE IF EXISTS %s`, t.quoted())); err != nil {
		return fmt.Errorf("failed to drop prediction table for %s: %w", t.minerID, err)
	}
	return nil
}

// PredictionTables lists the handles of every prediction table in the store.
func (s *Session) PredictionTables() ([]PredictionTable, error) {
	rows, err := s.query(`SELECT name FROM sqlite_master WHERE type = 'table' AND name LIKE 'predictions\_%' ESCAPE '\'`)
	if err != nil {
		return nil, fmt.Errorf("failed to list prediction tables: %w", err)
	}
	defer rows.Close()

	var tables []PredictionTable
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		t, err := PredictionTableFor(strings.TrimPrefix(name, predictionTablePrefix))
		if err != nil {
			continue
		}
		tables = append(tables, t)
	}
	return tables, rows.Err()
}

const predictionColumnCount = 7

// InsertPredictions writes predictions into the miner's table with the given
// conflict policy.
func (s *Session) InsertPredictions(t PredictionTable, predictions []models.Prediction, policy ConflictPolicy) (int, error) {
	if len(predictions) == 0 {
		return 0, nil
	}

	written := 0
	err := s.Transaction(func(tx *Session) error {
		rowsPerStmt := maxStatementVars / predictionColumnCount
		for start := 0; start < len(predictions); start += rowsPerStmt {
			end := start + rowsPerStmt
			if end > len(predictions) {
				end = len(predictions)
			}
			chunk := predictions[start:end]

			placeholders := make([]string, len(chunk))
			args := make([]interface{}, 0, len(chunk)*predictionColumnCount)
			for i, p := range chunk {
				placeholders[i] = "(?, ?, ?, ?, ?, ?, ?)"
				args = append(args, p.PropertyID, t.minerID, p.PredictedPrice, p.PredictedDate,
					formatTimestamp(p.SubmittedAt), p.Market, p.Overwrite)
			}

			query := fmt.Sprintf(`%s INTO %s (nextplace_id, miner_id, predicted_sale_price, predicted_sale_date, submitted_at, market, force_update) VALUES %s`,
				policy.verb(), t.quoted(), strings.Join(placeholders, ", "))
			n, err := tx.exec(query, args...)
			if err != nil {
				return fmt.Errorf("failed to insert predictions for %s: %w", t.minerID, err)
			}
			written += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return written, nil
}

// GetPrediction returns the stored prediction for a property, or nil.
func (s *Session) GetPrediction(t PredictionTable, propertyID string) (*models.Prediction, error) {
	predictions, err := s.selectPredictions(t, `WHERE nextplace_id = ?`, propertyID)
	if err != nil {
		return nil, err
	}
	if len(predictions) == 0 {
		return nil, nil
	}
	return &predictions[0], nil
}

// ListPredictions returns up to limit predictions, newest first.
func (s *Session) ListPredictions(t PredictionTable, limit int) ([]models.Prediction, error) {
	return s.selectPredictions(t, `ORDER BY submitted_at DESC LIMIT ?`, limit)
}

func (s *Session) selectPredictions(t PredictionTable, clause string, args ...interface{}) ([]models.Prediction, error) {
	query := fmt.Sprintf(`SELECT nextplace_id, miner_id, predicted_sale_price, predicted_sale_date, submitted_at, COALESCE(market, ''), force_update FROM %s %s`,
		t.quoted(), clause)
	rows, err := s.query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query predictions for %s: %w", t.minerID, err)
	}
	defer rows.Close()

	var predictions []models.Prediction
	for rows.Next() {
		var p models.Prediction
		var submittedAt string
		if err := rows.Scan(&p.PropertyID, &p.MinerID, &p.PredictedPrice, &p.PredictedDate, &submittedAt, &p.Market, &p.Overwrite); err != nil {
			return nil, err
		}
		p.SubmittedAt = parseTimestamp(submittedAt)
		predictions = append(predictions, p)
	}
	return predictions, rows.Err()
}

func (s *Session) CountPredictions(t PredictionTable) (int, error) {
	var count int64
	if err := s.orm.Table(t.Name()).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count predictions for %s: %w", t.minerID, mapError(err))
	}
	return int(count), nil
}

// DeletePredictions removes the given property ids from the miner's table.
func (s *Session) DeletePredictions(t PredictionTable, propertyIDs []string) (int, error) {
	deleted := 0
	for _, chunk := range chunkStrings(propertyIDs, maxStatementVars) {
		n, err := s.exec(fmt.Sprintf(`DELETE FROM %s WHERE nextplace_id IN ?`, t.quoted()), chunk)
		if err != nil {
			return deleted, fmt.Errorf("failed to delete predictions for %s: %w", t.minerID, err)
		}
		deleted += int(n)
	}
	return deleted, nil
}

// EvictPredictionsBefore removes rows submitted before cutoff.
func (s *Session) EvictPredictionsBefore(t PredictionTable, cutoff time.Time) (int, error) {
	n, err := s.exec(fmt.Sprintf(`DELETE FROM %s WHERE submitted_at < ?`, t.quoted()), formatTimestamp(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to evict predictions for %s: %w", t.minerID, err)
	}
	return int(n), nil
}

// DistinctMarketsSince counts the markets the miner predicted on since the given time.
func (s *Session) DistinctMarketsSince(t PredictionTable, since time.Time) (int, error) {
	var count int64
	query := fmt.Sprintf(`SELECT COUNT(DISTINCT market) FROM %s WHERE submitted_at >= ?`, t.quoted())
	if err := s.orm.Raw(query, formatTimestamp(since)).Scan(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count markets for %s: %w", t.minerID, mapError(err))
	}
	return int(count), nil
}

// LatestPredictionMarket returns the market of the most recent prediction
// across every miner table.
func (s *Session) LatestPredictionMarket() (string, bool, error) {
	tables, err := s.PredictionTables()
	if err != nil {
		return "", false, err
	}

	var latestMarket, latestAt string
	for _, t := range tables {
		var row struct {
			Market      string
			SubmittedAt string
		}
		query := fmt.Sprintf(`SELECT COALESCE(market, '') AS market, submitted_at FROM %s ORDER BY submitted_at DESC LIMIT 1`, t.quoted())
		result := s.orm.Raw(query).Scan(&row)
		if result.Error != nil {
			return "", false, fmt.Errorf("failed to query latest prediction for %s: %w", t.minerID, mapError(result.Error))
		}
		if result.RowsAffected == 0 {
			continue
		}
		if row.SubmittedAt > latestAt {
			latestAt = row.SubmittedAt
			latestMarket = row.Market
		}
	}
	return latestMarket, latestMarket != "", nil
}
