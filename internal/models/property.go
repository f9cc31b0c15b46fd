package models

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Property is a listed-for-sale home in the available pool.
type Property struct {
	ID           string    `json:"nextplace_id"`
	PropertyID   string    `json:"property_id"`
	ListingID    string    `json:"listing_id"`
	Address      string    `json:"address"`
	City         string    `json:"city"`
	State        string    `json:"state"`
	ZipCode      string    `json:"zip_code"`
	Price        *int64    `json:"price"`
	Beds         *int      `json:"beds"`
	Baths        *float64  `json:"baths"`
	SquareFeet   *int      `json:"sqft"`
	LotSize      *int      `json:"lot_size"`
	YearBuilt    *int      `json:"year_built"`
	DaysOnMarket *int      `json:"days_on_market"`
	Latitude     *float64  `json:"latitude"`
	Longitude    *float64  `json:"longitude"`
	PropertyType string    `json:"property_type"`
	LastSaleDate string    `json:"last_sale_date"`
	HOADues      *int64    `json:"hoa_dues"`
	Market       string    `json:"market"`
	ObservedAt   time.Time `json:"observed_at"`
}

// SoldHome is one record from the sold-homes source.
type SoldHome struct {
	ID         string `json:"nextplace_id"`
	PropertyID string `json:"property_id"`
	Address    string `json:"address"`
	City       string `json:"city"`
	State      string `json:"state"`
	ZipCode    string `json:"zip_code"`
	SalePrice  *int64 `json:"sale_price"`
	// Raw sale timestamp as returned by the source
	SaleDate string `json:"sale_date"`
}

// Sale is a ground-truth row of the transient sales table.
type Sale struct {
	PropertyID string  `json:"nextplace_id"`
	SalePrice  float64 `json:"sale_price"`
	SaleDate   string  `json:"sale_date"`
}

type PoolStats struct {
	TotalProperties int            `json:"total_properties"`
	ByMarket        map[string]int `json:"by_market"`
}

// NextplaceID derives the deterministic property id from address and zip code.
func NextplaceID(address, zipCode string) string {
	key := strings.ToLower(strings.TrimSpace(address)) + "|" + strings.TrimSpace(zipCode)
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
