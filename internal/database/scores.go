package database

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"nextplace/validator/internal/models"
)

// MergeDailyScore folds n new scores summing to sum into the miner's row for
// date, creating it when absent.
func (s *Session) MergeDailyScore(minerID, date string, sum float64, n int) (models.DailyScore, error) {
	row := models.DailyScore{MinerID: minerID, Date: date}
	if n <= 0 {
		return row, nil
	}

	err := s.orm.Where("miner_id = ? AND date = ?", minerID, date).Take(&row).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		row.Merge(sum, n)
		if err := s.orm.Create(&row).Error; err != nil {
			return row, fmt.Errorf("failed to create daily score: %w", err)
		}
	case err != nil:
		return row, fmt.Errorf("failed to load daily score: %w", err)
	default:
		row.Merge(sum, n)
		err := s.orm.Model(&models.DailyScore{}).
			Where("miner_id = ? AND date = ?", minerID, date).
			Updates(map[string]interface{}{"mean_score": row.MeanScore, "count": row.Count}).Error
		if err != nil {
			return row, fmt.Errorf("failed to update daily score: %w", err)
		}
	}
	return row, nil
}

// MergeMinerScore folds n new scores into the miner's lifetime aggregate.
func (s *Session) MergeMinerScore(minerID string, sum float64, n int, now time.Time) (models.MinerScore, error) {
	row := models.MinerScore{MinerID: minerID}
	if n <= 0 {
		return row, nil
	}

	err := s.orm.Where("miner_id = ?", minerID).Take(&row).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		row.Merge(sum, n, now)
		if err := s.orm.Create(&row).Error; err != nil {
			return row, fmt.Errorf("failed to create miner score: %w", err)
		}
	case err != nil:
		return row, fmt.Errorf("failed to load miner score: %w", err)
	default:
		row.Merge(sum, n, now)
		err := s.orm.Model(&models.MinerScore{}).
			Where("miner_id = ?", minerID).
			Updates(map[string]interface{}{
				"lifetime_mean": row.LifetimeMean,
				"total_count":   row.TotalCount,
				"last_update":   row.LastUpdate,
			}).Error
		if err != nil {
			return row, fmt.Errorf("failed to update miner score: %w", err)
		}
	}
	return row, nil
}

func (s *Session) MinerScore(minerID string) (*models.MinerScore, error) {
	var row models.MinerScore
	err := s.orm.Where("miner_id = ?", minerID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load miner score: %w", err)
	}
	return &row, nil
}

// DailyScores returns the miner's rows dated on or after since, oldest first.
// An empty since returns the full history.
func (s *Session) DailyScores(minerID, since string) ([]models.DailyScore, error) {
	var rows []models.DailyScore
	q := s.orm.Where("miner_id = ?", minerID)
	if since != "" {
		q = q.Where("date >= ?", since)
	}
	if err := q.Order("date").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load daily scores: %w", err)
	}
	return rows, nil
}

// OldestDailyScoreDate returns the earliest scored day of the miner.
func (s *Session) OldestDailyScoreDate(minerID string) (string, bool, error) {
	var row models.DailyScore
	err := s.orm.Where("miner_id = ?", minerID).Order("date").Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to load oldest daily score: %w", err)
	}
	return row.Date, true, nil
}

// AddActiveMiners inserts miner ids into the registry, ignoring existing members.
func (s *Session) AddActiveMiners(minerIDs []string, now time.Time) error {
	if len(minerIDs) == 0 {
		return nil
	}
	rows := make([]models.ActiveMiner, len(minerIDs))
	for i, id := range minerIDs {
		rows[i] = models.ActiveMiner{MinerID: id, CreatedAt: now}
	}
	if err := s.orm.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error; err != nil {
		return fmt.Errorf("failed to register active miners: %w", err)
	}
	return nil
}

func (s *Session) ActiveMiners() ([]string, error) {
	var ids []string
	if err := s.orm.Model(&models.ActiveMiner{}).Order("miner_id").Pluck("miner_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("failed to list active miners: %w", err)
	}
	return ids, nil
}

// Deregister removes the miner's prediction table, score rows and registry
// entry in one transaction.
func (s *Session) Deregister(t PredictionTable) error {
	return s.Transaction(func(tx *Session) error {
		if err := tx.DropPredictionTable(t); err != nil {
			return err
		}
		for _, model := range []interface{}{&models.DailyScore{}, &models.MinerScore{}, &models.ActiveMiner{}} {
			if err := tx.orm.Where("miner_id = ?", t.minerID).Delete(model).Error; err != nil {
				return fmt.Errorf("failed to delete rows for %s: %w", t.minerID, err)
			}
		}
		return nil
	})
}
