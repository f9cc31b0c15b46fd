package reporting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"nextplace/validator/internal/metrics"
	"nextplace/validator/internal/models"
	"nextplace/validator/internal/queue"
)

// DrainTimeout bounds how long Close keeps delivering queued reports.
const DrainTimeout = 10 * time.Second

// Reporter receives prediction events for the dashboard. Implementations
// must never block the caller.
type Reporter interface {
	Report(events []models.PredictionEvent)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Report([]models.PredictionEvent) {}

// Sender posts event batches to the dashboard API.
type Sender struct {
	baseURL string
	client  *http.Client
	logger  *logrus.Logger
}

func NewSender(baseURL string, timeout time.Duration, logger *logrus.Logger) *Sender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Sender{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// Send posts one batch to <base>/Predictions.
func (s *Sender) Send(events []models.PredictionEvent) error {
	if len(events) == 0 {
		return nil
	}

	jsonData, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("failed to marshal report payload: %w", err)
	}

	resp, err := s.client.Post(s.baseURL+"/Predictions", "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to send report to dashboard: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		switch resp.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return errors.New("dashboard rejected the validator credentials")
		case http.StatusBadRequest:
			return fmt.Errorf("dashboard rejected the payload: %s", string(body))
		default:
			return fmt.Errorf("dashboard returned status %d: %s", resp.StatusCode, string(body))
		}
	}

	s.logger.WithField("count", len(events)).Debug("Sent predictions to dashboard")
	return nil
}

// Dashboard queues batches for a Sender and drops them when the queue is full.
type Dashboard struct {
	queue  *queue.ReportQueue
	logger *logrus.Logger
}

func NewDashboard(sender *Sender, queueSize int, logger *logrus.Logger) *Dashboard {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	q := queue.NewReportQueue(queueSize, func(events []models.PredictionEvent) error {
		if err := sender.Send(events); err != nil {
			metrics.ReportsDropped.Inc()
			return err
		}
		return nil
	}, logger)
	return &Dashboard{queue: q, logger: logger}
}

func (d *Dashboard) Report(events []models.PredictionEvent) {
	if len(events) == 0 {
		return
	}
	if err := d.queue.Offer(events); err != nil {
		metrics.ReportsDropped.Inc()
		d.logger.WithError(err).WithField("count", len(events)).Warn("Dropped dashboard report")
	}
}

// Close delivers queued reports for up to DrainTimeout.
func (d *Dashboard) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), DrainTimeout)
	defer cancel()
	return d.queue.Close(ctx)
}
