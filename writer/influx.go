package writer

import (
	"context"
	"fmt"
	"strings"
	"time"

	influx "github.com/influxdata/influxdb1-client/v2"

	"cryptomonitor/logger"
	"cryptomonitor/models"
)

// InfluxConfig holds the connection parameters of the time-series sink.
// Bucket and Org name the 2.x compatibility mapping of Database.
type InfluxConfig struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
	Bucket   string
	Org      string
	Timeout  time.Duration
}

// URL returns the HTTP endpoint of the server.
func (c InfluxConfig) URL() string {
	return fmt.Sprintf("http://%s:%d", c.Host, c.Port)
}

// TimeSeriesSink is the part of an InfluxDB client the archiver needs.
type TimeSeriesSink interface {
	Ping(ctx context.Context) error
	CreateDatabase(ctx context.Context, name string) error
	WritePoints(ctx context.Context, database string, points []models.Point) error
	Close() error
}

// SinkDialer opens a TimeSeriesSink.
type SinkDialer func(cfg InfluxConfig) (TimeSeriesSink, error)

// InfluxArchiver writes one point per coin to InfluxDB. A connection is
// opened and closed for every Archive call.
type InfluxArchiver struct {
	cfg  InfluxConfig
	dial SinkDialer
	tags func(id string) map[string]string
	log  *logger.Log
}

// InfluxOption customises an InfluxArchiver.
type InfluxOption func(*InfluxArchiver)

// WithSinkDialer replaces the InfluxDB client factory.
func WithSinkDialer(d SinkDialer) InfluxOption {
	return func(a *InfluxArchiver) { a.dial = d }
}

// WithTags merges configured per-coin tags into every point.
func WithTags(tags func(id string) map[string]string) InfluxOption {
	return func(a *InfluxArchiver) { a.tags = tags }
}

// NewInfluxArchiver creates an InfluxArchiver.
func NewInfluxArchiver(cfg InfluxConfig, opts ...InfluxOption) *InfluxArchiver {
	a := &InfluxArchiver{
		cfg:  cfg,
		dial: DialInflux,
		log:  logger.GetLogger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *InfluxArchiver) Name() string { return SinkInflux }

// Archive connects, ensures the database exists and writes all points in one
// batch. Failures are logged here and returned as *ArchiveError; they are
// never fatal to the caller.
func (a *InfluxArchiver) Archive(ctx context.Context, record models.QuoteRecord) error {
	log := a.log.WithComponent("influx_archiver").WithFields(logger.Fields{
		"url":      a.cfg.URL(),
		"database": a.cfg.Database,
		"bucket":   a.cfg.Bucket,
		"org":      a.cfg.Org,
	})

	sink, err := a.dial(a.cfg)
	if err != nil {
		return a.fail(log, StageConnect, err)
	}
	defer func() {
		if cerr := sink.Close(); cerr != nil {
			log.WithError(cerr).Warn("failed to close influx client")
		}
	}()

	if err := sink.Ping(ctx); err != nil {
		return a.fail(log, StageConnect, err)
	}
	log.Debug("client connection to influxdb successful")

	if err := sink.CreateDatabase(ctx, a.cfg.Database); err != nil {
		return a.fail(log, StageCreate, err)
	}
	log.Debug("client create database successful")

	points := models.Points(record, a.tags)
	if err := sink.WritePoints(ctx, a.cfg.Database, points); err != nil {
		return a.fail(log.WithFields(logger.Fields{"points": len(points)}), StageWrite, err)
	}

	log.WithFields(logger.Fields{"points": len(points)}).Debug("client write to influxdb successful")
	return nil
}

func (a *InfluxArchiver) fail(log *logger.Entry, stage string, err error) error {
	archiveErr := &ArchiveError{Sink: SinkInflux, Stage: stage, Err: err}
	log.WithError(err).WithFields(logger.Fields{
		"stage":      stage,
		"error_type": fmt.Sprintf("%T", err),
		"error_full": fmt.Sprintf("%+v", err),
	}).Error("problem with client connection to influxdb")
	return archiveErr
}

// influxSink adapts the InfluxDB 1.x HTTP client.
type influxSink struct {
	client  influx.Client
	timeout time.Duration
}

// DialInflux creates an HTTP client for cfg. No request is made until Ping.
func DialInflux(cfg InfluxConfig) (TimeSeriesSink, error) {
	c, err := influx.NewHTTPClient(influx.HTTPConfig{
		Addr:      cfg.URL(),
		Username:  cfg.User,
		Password:  cfg.Password,
		UserAgent: "cryptomonitor",
		Timeout:   cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("create influx client: %w", err)
	}
	return &influxSink{client: c, timeout: cfg.Timeout}, nil
}

func (s *influxSink) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, _, err := s.client.Ping(s.timeout); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

func (s *influxSink) CreateDatabase(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	resp, err := s.client.Query(influx.NewQuery("CREATE DATABASE "+quoteIdent(name), "", ""))
	if err != nil {
		return fmt.Errorf("create database %s: %w", name, err)
	}
	if resp != nil && resp.Error() != nil {
		return fmt.Errorf("create database %s: %w", name, resp.Error())
	}
	return nil
}

func (s *influxSink) WritePoints(ctx context.Context, database string, points []models.Point) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	bp, err := influx.NewBatchPoints(influx.BatchPointsConfig{
		Database:  database,
		Precision: "s",
	})
	if err != nil {
		return fmt.Errorf("create batch: %w", err)
	}
	for _, p := range points {
		pt, err := influx.NewPoint(p.Measurement, p.Tags, p.Fields, p.Time)
		if err != nil {
			return fmt.Errorf("build point for %s: %w", p.Tags["coin"], err)
		}
		bp.AddPoint(pt)
	}
	if err := s.client.Write(bp); err != nil {
		return fmt.Errorf("write points: %w", err)
	}
	return nil
}

func (s *influxSink) Close() error {
	return s.client.Close()
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `\"`) + `"`
}
