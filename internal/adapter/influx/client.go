// Package influx reads smoothed water levels from, and writes accepted
// readings to, an InfluxDB v2 bucket.
package influx

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/couchcryptid/flood-alert-service/internal/domain"
)

const (
	measurement = "water_level"
	field       = "value"
	tagLocation = "location_id"
)

// Client wraps the InfluxDB query and blocking write APIs.
// It implements pipeline.LevelSource.
type Client struct {
	client influxdb2.Client
	query  api.QueryAPI
	write  api.WriteAPIBlocking
	bucket string
}

// NewClient creates a client for the given server and bucket.
func NewClient(url, token, org, bucket string) *Client {
	c := influxdb2.NewClientWithOptions(url, token,
		influxdb2.DefaultOptions().SetHTTPRequestTimeout(10))
	return &Client{
		client: c,
		query:  c.QueryAPI(org),
		write:  c.WriteAPIBlocking(org, bucket),
		bucket: bucket,
	}
}

// MeanLevel returns the mean of the location's readings over the trailing
// window. ok is false when the window holds no samples.
func (c *Client) MeanLevel(ctx context.Context, locationID string, window time.Duration) (float64, bool, error) {
	result, err := c.query.Query(ctx, meanQuery(c.bucket, locationID, window))
	if err != nil {
		return 0, false, fmt.Errorf("query mean level: %w", err)
	}
	defer result.Close()

	var (
		mean  float64
		found bool
	)
	for result.Next() {
		v, ok := toFloat(result.Record().Value())
		if !ok {
			continue
		}
		mean, found = v, true
	}
	if err := result.Err(); err != nil {
		return 0, false, fmt.Errorf("read mean level: %w", err)
	}
	if !found || math.IsNaN(mean) {
		return 0, false, nil
	}
	return mean, true, nil
}

// WriteReading stores an accepted reading so later evaluations can smooth
// over it.
func (c *Client) WriteReading(ctx context.Context, r domain.Reading) error {
	p := influxdb2.NewPoint(measurement,
		map[string]string{tagLocation: r.LocationID},
		map[string]any{field: r.Value},
		r.ObservedAt,
	)
	if err := c.write.WritePoint(ctx, p); err != nil {
		return fmt.Errorf("write reading: %w", err)
	}
	return nil
}

// CheckReadiness pings the server.
func (c *Client) CheckReadiness(ctx context.Context) error {
	ok, err := c.client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("influxdb not reachable: %w", err)
	}
	if !ok {
		return errors.New("influxdb ping failed")
	}
	return nil
}

func (c *Client) Close() {
	c.client.Close()
}

// meanQuery builds the Flux query for the trailing mean. locationID has
// already been restricted to a safe charset by domain validation.
func meanQuery(bucket, locationID string, window time.Duration) string {
	w := fmt.Sprintf("%ds", int64(window/time.Second))
	return fmt.Sprintf(`from(bucket: %q)
  |> range(start: -%s)
  |> filter(fn: (r) => r._measurement == %q and r._field == %q and r.%s == %q)
  |> aggregateWindow(every: %s, fn: mean, createEmpty: false)
  |> last()`, bucket, w, measurement, field, tagLocation, locationID, w)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
