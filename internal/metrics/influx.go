package metrics

import (
	"context"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/rs/zerolog"
)

// InfluxConfig holds connection settings for the optional InfluxDB
// time-series export. A blank URL disables the sink entirely.
type InfluxConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// InfluxSink periodically pushes Snapshot fields as points to InfluxDB.
// Export is best-effort: a write failure is logged and otherwise
// ignored, since the time-series copy never gates a scaling decision.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	bucket   string
	log      zerolog.Logger
}

// NewInfluxSink dials InfluxDB per cfg. A zero-value Config yields a
// sink whose Write calls are silent no-ops.
func NewInfluxSink(cfg InfluxConfig, log zerolog.Logger) *InfluxSink {
	if cfg.URL == "" {
		return &InfluxSink{log: log}
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		bucket:   cfg.Bucket,
		log:      log,
	}
}

// Write pushes one point derived from snap. It never blocks the caller
// for longer than the per-call context allows.
func (s *InfluxSink) Write(ctx context.Context, snap Snapshot) {
	if s.writeAPI == nil {
		return
	}

	point := influxdb2.NewPoint(
		"fleet_snapshot",
		map[string]string{},
		map[string]interface{}{
			"fleet":             snap.Fleet,
			"scale_ups_total":   snap.ScaleUpsTotal,
			"scale_downs_total": snap.ScaleDownsTotal,
			"rmse":              snap.RMSE,
			"mae":               snap.MAE,
			"mape":              snap.MAPE,
			"ci_hit_rate":       snap.CIHitRate,
			"mean_wait_ms":      snap.MeanWait,
			"max_wait_ms":       snap.MaxWait,
			"waiting_now":       snap.WaitingNow,
		},
		time.Now(),
	)

	if err := s.writeAPI.WritePoint(ctx, point); err != nil {
		s.log.Warn().Err(err).Msg("influx: point write failed")
	}
}

// Close releases the underlying HTTP client, if one was created.
func (s *InfluxSink) Close() {
	if s.client != nil {
		s.client.Close()
	}
}
