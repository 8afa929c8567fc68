package influx

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/strefethen/upnp-control-go/internal/sink"
)

// Measurement is the InfluxDB measurement state changes are written to.
const Measurement = "upnp_state"

const (
	defaultConnectTimeout = 10 * time.Second
	defaultBatchSize      = 100
	defaultFlushInterval  = 1000 // milliseconds
)

// ErrConnectionFailed is returned when the server cannot be reached at startup.
var ErrConnectionFailed = errors.New("influxdb: connection failed")

// Options configures the InfluxDB connection.
type Options struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// Writer writes state changes through the non-blocking write API.
type Writer struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	logger   *log.Logger
}

// Connect creates the client, pings the server and starts the write error logger.
func Connect(ctx context.Context, opts Options, logger *log.Logger) (*Writer, error) {
	client := influxdb2.NewClientWithOptions(
		opts.URL,
		opts.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(defaultBatchSize).
			SetFlushInterval(defaultFlushInterval),
	)

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnectTimeout)
	defer cancel()

	healthy, err := client.Ping(pingCtx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	w := newWriter(client.WriteAPI(opts.Org, opts.Bucket), logger)
	w.client = client
	return w, nil
}

func newWriter(writeAPI api.WriteAPI, logger *log.Logger) *Writer {
	if logger == nil {
		logger = log.Default()
	}
	w := &Writer{writeAPI: writeAPI, logger: logger}
	if errorsCh := writeAPI.Errors(); errorsCh != nil {
		go w.logWriteErrors(errorsCh)
	}
	return w
}

func (w *Writer) logWriteErrors(errorsCh <-chan error) {
	for err := range errorsCh {
		w.logger.Printf("SINK: influx write failed: %v", err)
	}
}

// Publish implements sink.Sink. Points are batched and flushed by the client.
func (w *Writer) Publish(_ context.Context, changes []sink.Change) error {
	for _, c := range changes {
		w.writeAPI.WritePoint(Point(c))
	}
	return nil
}

// Close flushes pending points and closes the client.
func (w *Writer) Close() {
	w.writeAPI.Flush()
	if w.client != nil {
		w.client.Close()
	}
}

// Point converts a change to a line protocol point. Numeric and boolean
// values also get a typed "value" field so they can be graphed.
func Point(c sink.Change) *write.Point {
	tags := map[string]string{
		"udn":      c.DeviceUDN,
		"service":  c.ServiceID,
		"variable": c.Variable,
	}
	if c.DeviceName != "" {
		tags["device"] = c.DeviceName
	}

	fields := map[string]any{"wire_value": c.WireValue}
	switch v := c.Value.(type) {
	case int:
		fields["value"] = v
	case bool:
		fields["value"] = v
	}

	ts := c.ChangedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	return write.NewPoint(Measurement, tags, fields, ts)
}
