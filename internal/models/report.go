package models

// PredictionEvent is the dashboard payload for one prediction.
// Score is nil until the prediction has been scored.
type PredictionEvent struct {
	NextplaceID        string   `json:"nextplaceId"`
	MinerHotKey        string   `json:"minerHotKey"`
	MinerColdKey       string   `json:"minerColdKey"`
	PredictionScore    *float64 `json:"predictionScore"`
	PredictionDate     string   `json:"predictionDate"`
	PredictedSalePrice float64  `json:"predictedSalePrice"`
	PredictedSaleDate  string   `json:"predictedSaleDate"`
}
