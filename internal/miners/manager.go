package miners

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"nextplace/validator/internal/database"
)

// MinerDirectory lists the miners currently registered on the network.
type MinerDirectory interface {
	Miners(ctx context.Context) ([]string, error)
}

// StaticDirectory is a fixed miner list, used when the network is not
// reachable from this process.
type StaticDirectory []string

func (d StaticDirectory) Miners(context.Context) ([]string, error) {
	return d, nil
}

// Manager keeps the active-miner registry in step with the network.
type Manager struct {
	db     *database.Database
	logger *logrus.Logger
}

func NewManager(db *database.Database, logger *logrus.Logger) *Manager {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	return &Manager{db: db, logger: logger}
}

// Active returns the registry members.
func (m *Manager) Active(ctx context.Context) ([]string, error) {
	var miners []string
	err := m.db.WithLock(ctx, func(s *database.Session) error {
		var err error
		miners, err = s.ActiveMiners()
		return err
	})
	return miners, err
}

// Deregister drops the miner's prediction table along with its score rows
// and registry entry.
func (m *Manager) Deregister(ctx context.Context, minerID string) error {
	table, err := database.PredictionTableFor(minerID)
	if err != nil {
		return err
	}
	if err := m.db.WithLock(ctx, func(s *database.Session) error {
		return s.Deregister(table)
	}); err != nil {
		return fmt.Errorf("failed to deregister %s: %w", minerID, err)
	}
	m.logger.WithField("miner", minerID).Info("Deregistered miner")
	return nil
}

// Sync deregisters every miner missing from networkMiners in a single
// critical section and returns the removed ids. Prediction tables left
// behind by miners that never reached the registry are dropped too.
func (m *Manager) Sync(ctx context.Context, networkMiners []string) ([]string, error) {
	present := make(map[string]struct{}, len(networkMiners))
	for _, id := range networkMiners {
		present[id] = struct{}{}
	}

	var removed []string
	err := m.db.WithLock(ctx, func(s *database.Session) error {
		registered, err := s.ActiveMiners()
		if err != nil {
			return err
		}
		tables, err := s.PredictionTables()
		if err != nil {
			return err
		}

		seen := make(map[string]struct{}, len(registered))
		for _, id := range registered {
			seen[id] = struct{}{}
			if _, ok := present[id]; ok {
				continue
			}
			table, err := database.PredictionTableFor(id)
			if err != nil {
				m.logger.WithError(err).WithField("miner", id).Warn("Skipping registry entry with invalid id")
				continue
			}
			if err := s.Deregister(table); err != nil {
				return err
			}
			removed = append(removed, id)
		}

		for _, table := range tables {
			id := table.MinerID()
			if _, ok := seen[id]; ok {
				continue
			}
			if _, ok := present[id]; ok {
				continue
			}
			if err := s.Deregister(table); err != nil {
				return err
			}
			removed = append(removed, id)
		}
		return nil
	})
	if err != nil {
		return removed, fmt.Errorf("failed to sync miner registry: %w", err)
	}

	if len(removed) > 0 {
		m.logger.WithFields(logrus.Fields{
			"count":   len(removed),
			"removed": removed,
		}).Info("Removed miners no longer on the network")
	}
	return removed, nil
}

// SyncFrom fetches the network miners from dir and syncs against them.
func (m *Manager) SyncFrom(ctx context.Context, dir MinerDirectory) ([]string, error) {
	network, err := dir.Miners(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list network miners: %w", err)
	}
	return m.Sync(ctx, network)
}
