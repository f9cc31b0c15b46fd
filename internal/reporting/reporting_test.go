package reporting

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nextplace/validator/internal/models"
)

func TestSender_Send(t *testing.T) {
	var received []models.PredictionEvent
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/Predictions", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	sender := NewSender(server.URL+"/", time.Second, logrus.New())
	score := 93.1
	err := sender.Send([]models.PredictionEvent{{
		NextplaceID:        "p1",
		MinerHotKey:        "m1",
		PredictionScore:    &score,
		PredictedSalePrice: 290000,
		PredictedSaleDate:  "2024-03-01",
	}})
	require.NoError(t, err)
	require.Len(t, received, 1)
	assert.Equal(t, "p1", received[0].NextplaceID)
	assert.Equal(t, 93.1, *received[0].PredictionScore)
}

func TestSender_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad", http.StatusBadRequest)
	}))
	defer server.Close()

	sender := NewSender(server.URL, time.Second, logrus.New())
	err := sender.Send([]models.PredictionEvent{{NextplaceID: "p1"}})
	assert.Error(t, err)
}

func TestDashboard_ReportIsFireAndForget(t *testing.T) {
	var mu sync.Mutex
	count := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		count++
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	dashboard := NewDashboard(NewSender(server.URL, time.Second, logger), 4, logger)
	defer dashboard.Close()

	dashboard.Report([]models.PredictionEvent{{NextplaceID: "p1"}})
	dashboard.Report(nil)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 1
	}, time.Second, 10*time.Millisecond)
}
