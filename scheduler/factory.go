package scheduler

import (
	"context"

	"golang.org/x/time/rate"

	"cryptomonitor/config"
	"cryptomonitor/logger"
	"cryptomonitor/models"
	"cryptomonitor/reader/coingecko"
	"cryptomonitor/writer"
)

// DefaultFactory builds CoinGecko fetchers and the archivers enabled in the
// settings. The request limiter survives across cycles while QUOTE_MAX_RPM
// is unchanged.
type DefaultFactory struct {
	limiter    *rate.Limiter
	limiterRPM int
}

// NewDefaultFactory creates a DefaultFactory.
func NewDefaultFactory() *DefaultFactory {
	return &DefaultFactory{}
}

func (f *DefaultFactory) Fetcher(s *config.Settings) Fetcher {
	if s.CoinGecko.MaxRPM != f.limiterRPM {
		f.limiter = coingecko.NewLimiter(s.CoinGecko.MaxRPM)
		f.limiterRPM = s.CoinGecko.MaxRPM
	}

	var opts []coingecko.Option
	if f.limiter != nil {
		opts = append(opts, coingecko.WithLimiter(f.limiter))
	}
	return coingecko.New(coingecko.Config{
		BaseURL:      s.CoinGecko.URL,
		APIKey:       s.CoinGecko.APIKey,
		APIKeyHeader: s.CoinGecko.APIKeyHeader,
		Timeout:      s.CoinGecko.RequestTimeout,
	}, opts...)
}

func (f *DefaultFactory) Archivers(ctx context.Context, s *config.Settings, tags func(id string) map[string]string) []writer.Archiver {
	var archivers []writer.Archiver

	if s.FileArchive {
		archivers = append(archivers, writer.NewFileArchiver(s.WorkDir))
	}

	if s.InfluxArchive {
		archivers = append(archivers, writer.NewInfluxArchiver(writer.InfluxConfig{
			Host:     s.Influx.Host,
			Port:     s.Influx.Port,
			Database: s.Influx.Database,
			User:     s.Influx.User,
			Password: s.Influx.Password,
			Bucket:   s.Influx.Bucket,
			Org:      s.Influx.Org,
			Timeout:  s.Influx.Timeout,
		}, writer.WithTags(tags)))
	}

	if s.S3Archive {
		cfg := writer.S3Config{
			Bucket:          s.S3.Bucket,
			Prefix:          s.S3.Prefix,
			Format:          s.S3.Format,
			Region:          s.S3.Region,
			Endpoint:        s.S3.Endpoint,
			PathStyle:       s.S3.PathStyle,
			AccessKeyID:     s.S3.AccessKeyID,
			SecretAccessKey: s.S3.SecretAccessKey,
			Timeout:         s.S3.Timeout,
		}
		client, err := writer.NewS3Client(ctx, cfg)
		if err != nil {
			logger.GetLogger().WithComponent("scheduler").WithError(err).
				WithFields(logger.Fields{"bucket": cfg.Bucket, "region": cfg.Region}).
				Warn("failed to create S3 client")
			archivers = append(archivers, unavailable{sink: writer.SinkS3, err: err})
		} else {
			archivers = append(archivers, writer.NewS3Archiver(cfg, client))
		}
	}

	return archivers
}

// unavailable stands in for an archiver whose client could not be built so
// the failure is counted like any other archive failure.
type unavailable struct {
	sink string
	err  error
}

func (u unavailable) Name() string { return u.sink }

func (u unavailable) Archive(context.Context, models.QuoteRecord) error {
	return &writer.ArchiveError{Sink: u.sink, Stage: writer.StageConnect, Err: u.err}
}

// EnvLoader reloads the env file from envDir and decodes the settings on
// every call.
func EnvLoader(envDir string) SettingsLoader {
	return func() (*config.Settings, error) {
		return config.Load(envDir)
	}
}

