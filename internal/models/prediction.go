package models

import "time"

// Prediction is one miner's stored forecast for one property.
type Prediction struct {
	PropertyID     string    `json:"nextplace_id"`
	MinerID        string    `json:"miner_id"`
	PredictedPrice float64   `json:"predicted_price"`
	PredictedDate  string    `json:"predicted_date"`
	SubmittedAt    time.Time `json:"submitted_at"`
	Market         string    `json:"market"`
	Overwrite      bool      `json:"overwrite"`
}

// PredictionInput is a single prediction tuple as returned by a miner.
type PredictionInput struct {
	PropertyID     string   `json:"nextplace_id"`
	PredictedPrice *float64 `json:"predicted_sale_price"`
	PredictedDate  *string  `json:"predicted_sale_date"`
	Market         string   `json:"market"`
	Overwrite      bool     `json:"force_update_past_predictions"`
}

// MinerResponse carries every prediction one miner returned for a batch.
type MinerResponse struct {
	MinerID     string            `json:"miner_id"`
	ColdKey     string            `json:"cold_key,omitempty"`
	Predictions []PredictionInput `json:"predictions"`
}

// JoinedPrediction is a prediction matched against its sale.
type JoinedPrediction struct {
	PropertyID     string
	PredictedPrice float64
	PredictedDate  string
	SubmittedAt    string
	Market         string
	SalePrice      float64
	SaleDate       string
}
