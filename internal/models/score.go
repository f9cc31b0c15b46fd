package models

import "time"

// DailyScore is the per-miner per-day score aggregate.
type DailyScore struct {
	MinerID   string  `gorm:"primaryKey;column:miner_id" json:"miner_id"`
	Date      string  `gorm:"primaryKey;column:date" json:"date"`
	MeanScore float64 `gorm:"column:mean_score;not null" json:"mean_score"`
	Count     int     `gorm:"column:count;not null" json:"count"`
}

func (DailyScore) TableName() string {
	return "daily_scores"
}

// Merge folds n new scores with the given sum into the row using a weighted mean.
// Count never decreases.
func (d *DailyScore) Merge(sum float64, n int) {
	if n <= 0 {
		return
	}
	total := d.MeanScore*float64(d.Count) + sum
	d.Count += n
	d.MeanScore = total / float64(d.Count)
}

// MinerScore is the lifetime aggregate of a miner.
type MinerScore struct {
	MinerID      string    `gorm:"primaryKey;column:miner_id" json:"miner_id"`
	LifetimeMean float64   `gorm:"column:lifetime_mean;not null" json:"lifetime_mean"`
	TotalCount   int       `gorm:"column:total_count;not null" json:"total_count"`
	LastUpdate   time.Time `gorm:"column:last_update" json:"last_update"`
}

func (MinerScore) TableName() string {
	return "miner_scores"
}

// Merge folds n new scores with the given sum into the lifetime mean.
func (m *MinerScore) Merge(sum float64, n int, now time.Time) {
	if n <= 0 {
		return
	}
	total := m.LifetimeMean*float64(m.TotalCount) + sum
	m.TotalCount += n
	m.LifetimeMean = total / float64(m.TotalCount)
	m.LastUpdate = now
}

// ActiveMiner is a member of the active-miner registry.
type ActiveMiner struct {
	MinerID   string    `gorm:"primaryKey;column:miner_id" json:"miner_id"`
	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
}

func (ActiveMiner) TableName() string {
	return "active_miners"
}
