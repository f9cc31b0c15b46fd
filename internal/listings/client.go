package listings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"nextplace/validator/config"
	"nextplace/validator/internal/models"
)

const (
	searchSalePath = "/properties/search-sale"
	searchSoldPath = "/properties/search-sold"
)

type Options struct {
	BaseURL         string
	APIKey          string
	APIHost         string
	PageSize        int
	SoldWithinDays  int
	RateLimit       float64
	Burst           int
	Timeout         time.Duration
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

// Client pages the listings and sold-homes endpoints of the Redfin RapidAPI.
type Client struct {
	opts    Options
	client  *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	logger  *logrus.Logger
	now     func() time.Time
}

func NewClient(opts Options, logger *logrus.Logger) *Client {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 350
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.BreakerFailures == 0 {
		opts.BreakerFailures = 5
	}

	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}

	settings := gobreaker.Settings{
		Name:    "listings",
		Timeout: opts.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Listings circuit breaker changed state")
		},
	}

	return &Client{
		opts:    opts,
		client:  &http.Client{Timeout: opts.Timeout},
		limiter: rate.NewLimiter(limit, burst),
		breaker: gobreaker.NewCircuitBreaker(settings),
		logger:  logger,
		now:     time.Now,
	}
}

// PageSize is the number of rows requested per page. A shorter page is the last one.
func (c *Client) PageSize() int {
	return c.opts.PageSize
}

// FetchListings returns one page of for-sale properties of the market. Pages
// start at 1. Every row of the page is returned; rows without an address or
// zip code have an empty ID.
func (c *Client) FetchListings(ctx context.Context, market config.Market, page int) ([]models.Property, error) {
	params := url.Values{
		"regionId": []string{market.ID},
		"limit":    []string{strconv.Itoa(c.opts.PageSize)},
		"page":     []string{strconv.Itoa(page)},
	}

	homes, err := c.search(ctx, searchSalePath, params)
	if err != nil {
		return nil, err
	}

	observedAt := c.now().UTC()
	properties := make([]models.Property, 0, len(homes))
	for _, h := range homes {
		d := h.HomeData
		address := d.AddressInfo.FormattedStreetLine
		zip := d.AddressInfo.Zip
		properties = append(properties, models.Property{
			ID:           homeID(address, zip),
			PropertyID:   string(d.PropertyID),
			ListingID:    string(d.ListingID),
			Address:      address,
			City:         d.AddressInfo.City,
			State:        d.AddressInfo.State,
			ZipCode:      zip,
			Price:        d.PriceInfo.Amount.asInt64(),
			Beds:         d.Beds.asInt(),
			Baths:        d.Baths.asFloat(),
			SquareFeet:   d.SqftInfo.Amount.asInt(),
			LotSize:      d.LotSize.Amount.asInt(),
			YearBuilt:    d.YearBuilt.YearBuilt.asInt(),
			DaysOnMarket: d.DaysOnMarket.DaysOnMarket.asInt(),
			Latitude:     d.AddressInfo.Centroid.Centroid.Latitude.asFloat(),
			Longitude:    d.AddressInfo.Centroid.Centroid.Longitude.asFloat(),
			PropertyType: string(d.PropertyType),
			LastSaleDate: d.LastSaleData.LastSoldDate,
			HOADues:      d.HOADues.Amount.asInt64(),
			Market:       market.Name,
			ObservedAt:   observedAt,
		})
	}
	return properties, nil
}

// FetchSold returns one page of recently sold homes of the market.
func (c *Client) FetchSold(ctx context.Context, market config.Market, page int) ([]models.SoldHome, error) {
	params := url.Values{
		"regionId": []string{market.ID},
		"limit":    []string{strconv.Itoa(c.opts.PageSize)},
		"page":     []string{strconv.Itoa(page)},
	}
	if c.opts.SoldWithinDays > 0 {
		params.Set("soldWithin", strconv.Itoa(c.opts.SoldWithinDays))
	}

	homes, err := c.search(ctx, searchSoldPath, params)
	if err != nil {
		return nil, err
	}

	sold := make([]models.SoldHome, 0, len(homes))
	for _, h := range homes {
		d := h.HomeData
		address := d.AddressInfo.FormattedStreetLine
		zip := d.AddressInfo.Zip
		sold = append(sold, models.SoldHome{
			ID:         homeID(address, zip),
			PropertyID: string(d.PropertyID),
			Address:    address,
			City:       d.AddressInfo.City,
			State:      d.AddressInfo.State,
			ZipCode:    zip,
			SalePrice:  d.PriceInfo.Amount.asInt64(),
			SaleDate:   d.LastSaleData.LastSoldDate,
		})
	}
	return sold, nil
}

// search returns the raw homes of one page.
func (c *Client) search(ctx context.Context, path string, params url.Values) ([]searchResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body, err := c.breaker.Execute(func() (interface{}, error) {
		return c.get(ctx, path, params)
	})
	if err != nil {
		c.logger.WithError(err).WithFields(logrus.Fields{
			"path":   path,
			"region": params.Get("regionId"),
			"page":   params.Get("page"),
		}).Error("Listings request failed")
		return nil, err
	}

	var resp searchResponse
	if err := json.Unmarshal(body.([]byte), &resp); err != nil {
		return nil, fmt.Errorf("failed to parse listings response: %w", err)
	}
	return resp.Data, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(c.opts.BaseURL, "/")+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.URL.RawQuery = params.Encode()
	req.Header.Set("X-RapidAPI-Key", c.opts.APIKey)
	req.Header.Set("X-RapidAPI-Host", c.opts.APIHost)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("listings request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("listings API returned status %d: %s", resp.StatusCode, truncate(body, 200))
	}
	return body, nil
}

func homeID(address, zip string) string {
	if address == "" || zip == "" {
		return ""
	}
	return models.NextplaceID(address, zip)
}

func truncate(body []byte, n int) string {
	if len(body) > n {
		body = body[:n]
	}
	return string(bytes.TrimSpace(body))
}

type searchResponse struct {
	Data []searchResult `json:"data"`
}

type searchResult struct {
	HomeData homeData `json:"homeData"`
}

type homeData struct {
	PropertyID  flexString `json:"propertyId"`
	ListingID   flexString `json:"listingId"`
	AddressInfo struct {
		FormattedStreetLine string `json:"formattedStreetLine"`
		City                string `json:"city"`
		State               string `json:"state"`
		Zip                 string `json:"zip"`
		Centroid            struct {
			Centroid struct {
				Latitude  *flexNumber `json:"latitude"`
				Longitude *flexNumber `json:"longitude"`
			} `json:"centroid"`
		} `json:"centroid"`
	} `json:"addressInfo"`
	PriceInfo struct {
		Amount *flexNumber `json:"amount"`
	} `json:"priceInfo"`
	Beds     *flexNumber `json:"beds"`
	Baths    *flexNumber `json:"baths"`
	SqftInfo struct {
		Amount *flexNumber `json:"amount"`
	} `json:"sqftInfo"`
	LotSize struct {
		Amount *flexNumber `json:"amount"`
	} `json:"lotSize"`
	YearBuilt struct {
		YearBuilt *flexNumber `json:"yearBuilt"`
	} `json:"yearBuilt"`
	DaysOnMarket struct {
		DaysOnMarket *flexNumber `json:"daysOnMarket"`
	} `json:"daysOnMarket"`
	PropertyType flexString `json:"propertyType"`
	LastSaleData struct {
		LastSoldDate string `json:"lastSoldDate"`
	} `json:"lastSaleData"`
	HOADues struct {
		Amount *flexNumber `json:"amount"`
	} `json:"hoaDues"`
}

// flexString accepts a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// flexNumber accepts a JSON number or a numeric string.
type flexNumber float64

func (f *flexNumber) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err == nil {
		*f = flexNumber(v)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return nil
	}
	*f = flexNumber(v)
	return nil
}

func (f *flexNumber) asFloat() *float64 {
	if f == nil {
		return nil
	}
	v := float64(*f)
	return &v
}

func (f *flexNumber) asInt() *int {
	if f == nil {
		return nil
	}
	v := int(*f)
	return &v
}

func (f *flexNumber) asInt64() *int64 {
	if f == nil {
		return nil
	}
	v := int64(*f)
	return &v
}
