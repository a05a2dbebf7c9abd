package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"l3-health-alerts/internal/metric"
)

const statsPath = "/v1/chain-stats"

// IndexerOptions parameterise the protocol indexer source.
type IndexerOptions struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// Indexer pulls protocol-level metrics (TVL, volume, active addresses,
// batch posting) from an off-chain indexer API. Batch posting age is
// not observable through a standard chain RPC, so it comes from here.
type Indexer struct {
	opts    IndexerOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewIndexer constructs an indexer source.
func NewIndexer(opts IndexerOptions, logger zerolog.Logger) *Indexer {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Indexer{
		opts:    opts,
		logger:  logger.With().Str("component", "indexer_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
	}
}

// Name identifies the source in logs.
func (x *Indexer) Name() string { return "indexer" }

type statsResponse struct {
	TVL             *float64 `json:"tvl"`
	Volume24h       *float64 `json:"volume_24h"`
	ActiveAddresses *float64 `json:"active_addresses"`
	LastBatchTS     *int64   `json:"last_batch_ts"`
}

// Fetch retrieves the indexer's latest protocol stats. A field the
// indexer omits simply produces no sample for its key.
func (x *Indexer) Fetch(ctx context.Context, now time.Time) ([]metric.Sample, error) {
	if x.baseURL == "" {
		return nil, fmt.Errorf("indexer base url not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, x.baseURL+statsPath, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(x.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := x.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, parseHTTPError(resp.StatusCode, payload)
	}

	var stats statsResponse
	if err := json.Unmarshal(payload, &stats); err != nil {
		return nil, fmt.Errorf("decode indexer payload: %w", err)
	}

	var samples []metric.Sample
	if stats.TVL != nil {
		samples = append(samples, metric.Sample{Key: metric.KeyProtocolTVL, Value: *stats.TVL, ObservedAt: now})
	}
	if stats.Volume24h != nil {
		samples = append(samples, metric.Sample{Key: metric.KeyProtocolVolume, Value: *stats.Volume24h, ObservedAt: now})
	}
	if stats.ActiveAddresses != nil {
		samples = append(samples, metric.Sample{Key: metric.KeyActiveAddresses, Value: *stats.ActiveAddresses, ObservedAt: now})
	}
	if stats.LastBatchTS != nil {
		age := now.Sub(time.Unix(*stats.LastBatchTS, 0)).Seconds()
		if age < 0 {
			age = 0
		}
		samples = append(samples, metric.Sample{Key: metric.KeyLastBatchAge, Value: age, ObservedAt: now})
	}

	return samples, nil
}

type errorResponse struct {
	ErrorType   string `json:"errorType"`
	Description string `json:"description"`
	Message     string `json:"message"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Description != "" {
			return fmt.Errorf("indexer api error (%d): %s", status, apiErr.Description)
		}
		if apiErr.Message != "" {
			return fmt.Errorf("indexer api error (%d): %s", status, apiErr.Message)
		}
		if apiErr.ErrorType != "" {
			return fmt.Errorf("indexer api error (%d): %s", status, apiErr.ErrorType)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("indexer api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("indexer api error (%d)", status)
}

var _ SampleSource = (*Indexer)(nil)
