package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sensorhub/alert-engine/internal/errors"
	"github.com/sensorhub/alert-engine/internal/logger"
)

// Fetcher returns the latest telemetry of a device. It never fails: when
// no data is available, or the store cannot be reached, the snapshot is
// empty and the device is skipped for the cycle.
type Fetcher interface {
	Latest(ctx context.Context, tenantID, deviceID string) Snapshot
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, tenantID, deviceID string) Snapshot

func (f FetcherFunc) Latest(ctx context.Context, tenantID, deviceID string) Snapshot {
	return f(ctx, tenantID, deviceID)
}

// HTTPFetcherConfig configures the telemetry store client.
type HTTPFetcherConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// HTTPFetcher reads the latest values from the telemetry store REST API.
type HTTPFetcher struct {
	client   *resty.Client
	timeout  time.Duration
	errCount prometheus.Counter
	log      logger.Logger
}

// latestResponse is the body of the latest-telemetry endpoint.
type latestResponse struct {
	Values map[string]any `json:"values"`
}

// NewHTTPFetcher creates a fetcher. errCounter may be nil.
func NewHTTPFetcher(cfg HTTPFetcherConfig, errCounter prometheus.Counter, log logger.Logger) *HTTPFetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		client.SetHeader("X-API-Key", cfg.APIKey)
	}
	return &HTTPFetcher{
		client:   client,
		timeout:  cfg.Timeout,
		errCount: errCounter,
		log:      log.Module("telemetry"),
	}
}

// Client exposes the underlying resty client, mainly for tests.
func (f *HTTPFetcher) Client() *resty.Client {
	return f.client
}

// Latest fetches the device's latest snapshot.
func (f *HTTPFetcher) Latest(ctx context.Context, tenantID, deviceID string) Snapshot {
	snapshot, err := f.fetch(ctx, tenantID, deviceID)
	if err != nil {
		if f.errCount != nil {
			f.errCount.Inc()
		}
		f.log.Warn("telemetry fetch failed",
			logger.String("tenant_id", tenantID),
			logger.String("device_id", deviceID),
			logger.Error(err))
		return Snapshot{}
	}
	return snapshot
}

func (f *HTTPFetcher) fetch(ctx context.Context, tenantID, deviceID string) (Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	path := fmt.Sprintf("/api/v1/tenants/%s/devices/%s/telemetry/latest",
		url.PathEscape(tenantID), url.PathEscape(deviceID))

	resp, err := f.client.R().SetContext(ctx).Get(path)
	if err != nil {
		return nil, errors.Wrap(fmt.Errorf("failed to request telemetry: %w", err)).
			Component("telemetry").
			Category(errors.CategoryNetwork).
			Context("device_id", deviceID).
			Build()
	}

	switch resp.StatusCode() {
	case http.StatusNoContent, http.StatusNotFound:
		return Snapshot{}, nil
	case http.StatusOK:
	default:
		return nil, errors.Newf("telemetry store returned status %d", resp.StatusCode()).
			Component("telemetry").
			Category(errors.CategoryNetwork).
			Context("device_id", deviceID).
			Build()
	}

	var body latestResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return nil, errors.Wrap(fmt.Errorf("failed to decode telemetry: %w", err)).
			Component("telemetry").
			Category(errors.CategoryValidation).
			Context("device_id", deviceID).
			Build()
	}
	return SnapshotFromMap(body.Values), nil
}
