package api

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"nextplace/validator/internal/database"
	"nextplace/validator/internal/geometry"
	"nextplace/validator/internal/market"
	"nextplace/validator/internal/models"
	"nextplace/validator/internal/pipeline"
	"nextplace/validator/internal/scoring"
	"nextplace/validator/internal/synapse"
	"nextplace/validator/internal/weights"
)

const (
	defaultPoolLimit = 1000
	maxPoolLimit     = 10000
)

type Handler struct {
	db       *database.Database
	markets  *market.Manager
	setter   *weights.Setter
	pipeline *pipeline.Pipeline
	logger   *logrus.Logger
	now      func() time.Time
}

type MinerSummary struct {
	MinerID  string             `json:"miner_id"`
	Lifetime *models.MinerScore `json:"lifetime,omitempty"`
}

type MinerScores struct {
	MinerID        string              `json:"miner_id"`
	Lifetime       *models.MinerScore  `json:"lifetime,omitempty"`
	Daily          []models.DailyScore `json:"daily"`
	TimeGatedScore float64             `json:"time_gated_score"`
	PendingCount   int                 `json:"pending_predictions"`
}

type ResponsesRequest struct {
	Responses []models.MinerResponse `json:"responses" binding:"required"`
}

// NewHandler builds the API handler. Markets, setter and pipeline may be nil,
// in which case their endpoints report the feature as unavailable.
func NewHandler(db *database.Database, markets *market.Manager, setter *weights.Setter, p *pipeline.Pipeline, logger *logrus.Logger) *Handler {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}

	return &Handler{
		db:       db,
		markets:  markets,
		setter:   setter,
		pipeline: p,
		logger:   logger,
		now:      time.Now,
	}
}

func (h *Handler) GetHealth(c *gin.Context) {
	status := gin.H{"status": "ok"}
	if h.markets != nil {
		status["market"] = h.markets.CurrentMarket().Name
		status["market_state"] = h.markets.State().String()
	}
	if h.pipeline != nil {
		status["pending_batches"] = h.pipeline.Pending().Len()
	}
	c.JSON(http.StatusOK, status)
}

func (h *Handler) GetMarkets(c *gin.Context) {
	if h.markets == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Market cycle is not running"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"markets": h.markets.Markets(),
		"current": h.markets.MarketIndex(),
		"state":   h.markets.State().String(),
	})
}

func (h *Handler) GetMiners(c *gin.Context) {
	var miners []MinerSummary
	err := h.db.WithLock(c.Request.Context(), func(s *database.Session) error {
		ids, err := s.ActiveMiners()
		if err != nil {
			return err
		}
		miners = make([]MinerSummary, 0, len(ids))
		for _, id := range ids {
			lifetime, err := s.MinerScore(id)
			if err != nil {
				return err
			}
			miners = append(miners, MinerSummary{MinerID: id, Lifetime: lifetime})
		}
		return nil
	})
	if err != nil {
		h.storeError(c, err, "Failed to get miners")
		return
	}

	c.JSON(http.StatusOK, miners)
}

func (h *Handler) GetMinerScores(c *gin.Context) {
	minerID := c.Param("id")
	table, err := database.PredictionTableFor(minerID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid miner id"})
		return
	}

	today := h.now().UTC()
	result := MinerScores{MinerID: minerID}
	found := false
	err = h.db.WithLock(c.Request.Context(), func(s *database.Session) error {
		var err error
		if result.Lifetime, err = s.MinerScore(minerID); err != nil {
			return err
		}
		if result.Daily, err = s.DailyScores(minerID, ""); err != nil {
			return err
		}
		result.TimeGatedScore = scoring.TimeGatedScore(result.Daily, today)

		exists, err := s.PredictionTableExists(table)
		if err != nil {
			return err
		}
		if exists {
			if result.PendingCount, err = s.CountPredictions(table); err != nil {
				return err
			}
		}
		found = exists || result.Lifetime != nil || len(result.Daily) > 0
		return nil
	})
	if err != nil {
		h.storeError(c, err, "Failed to get miner scores")
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "Miner not found"})
		return
	}
	if result.Daily == nil {
		result.Daily = []models.DailyScore{}
	}

	c.JSON(http.StatusOK, result)
}

func (h *Handler) GetWeights(c *gin.Context) {
	if h.setter == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Weight setter is not running"})
		return
	}
	result, ok := h.setter.Last()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "No weights computed yet"})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) GetPool(c *gin.Context) {
	var stats models.PoolStats
	err := h.db.WithLock(c.Request.Context(), func(s *database.Session) error {
		var err error
		if stats.TotalProperties, err = s.CountProperties(); err != nil {
			return err
		}
		stats.ByMarket, err = s.CountPropertiesByMarket()
		return err
	})
	if err != nil {
		h.storeError(c, err, "Failed to get pool stats")
		return
	}

	c.JSON(http.StatusOK, stats)
}

func (h *Handler) GetPoolGeoJSON(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultPoolLimit)))
	if err != nil || limit <= 0 {
		limit = defaultPoolLimit
	}
	if limit > maxPoolLimit {
		limit = maxPoolLimit
	}

	var properties []models.Property
	err = h.db.WithLock(c.Request.Context(), func(s *database.Session) error {
		var err error
		properties, err = s.ListProperties(c.Query("market"), limit)
		return err
	})
	if err != nil {
		h.storeError(c, err, "Failed to get pool properties")
		return
	}

	c.JSON(http.StatusOK, geometry.PoolCollection(properties))
}

func (h *Handler) CreateBatch(c *gin.Context) {
	if h.pipeline == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Pipeline is not running"})
		return
	}

	batch, err := h.pipeline.Dispatch(c.Request.Context())
	if errors.Is(err, synapse.ErrNotReady) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "No properties available"})
		return
	}
	if err != nil {
		h.storeError(c, err, "Failed to build batch")
		return
	}

	c.JSON(http.StatusCreated, batch)
}

func (h *Handler) SubmitResponses(c *gin.Context) {
	if h.pipeline == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Pipeline is not running"})
		return
	}

	var req ResponsesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.WithError(err).Warn("Invalid responses request")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	summary, err := h.pipeline.Submit(c.Request.Context(), c.Param("id"), req.Responses)
	if errors.Is(err, pipeline.ErrUnknownBatch) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown or expired batch"})
		return
	}
	if err != nil && summary.Miners == 0 {
		h.storeError(c, err, "Failed to ingest responses")
		return
	}
	if err != nil {
		// Some miners were committed
		h.logger.WithError(err).WithField("batch_id", c.Param("id")).Error("Partially ingested responses")
	}

	c.JSON(http.StatusOK, summary)
}

// storeError maps store failures onto status codes.
func (h *Handler) storeError(c *gin.Context, err error, message string) {
	switch {
	case errors.Is(err, database.ErrBusy):
		c.Header("Retry-After", "5")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Store is busy"})
	case errors.Is(err, context.Canceled):
		c.Status(http.StatusRequestTimeout)
	default:
		h.logger.WithError(err).Error(message)
		c.JSON(http.StatusInternalServerError, gin.H{"error": message})
	}
}
