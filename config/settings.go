package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/robfig/cron/v3"
)

// Settings is the process configuration of one cycle. It is decoded from
// the environment and not mutated afterwards.
type Settings struct {
	TargetEnv string `env:"TARGET_ENV,default=dev"`
	Debug     bool   `env:"DEBUG,default=false"`
	SleepTime int    `env:"SLEEP_TIME,default=300"`
	Schedule  string `env:"SCHEDULE"`
	WorkDir   string `env:"WORKDIR,default=."`
	CoinsFile string `env:"COINS_FILE,default=coins_list_usd.yml"`
	Currency  string `env:"VS_CURRENCY,default=usd"`

	FileArchive   bool `env:"FILE_ARCHIVE,default=false"`
	InfluxArchive bool `env:"INFLUX_ARCHIVE,default=false"`
	S3Archive     bool `env:"S3_ARCHIVE,default=false"`

	Influx     InfluxSettings
	S3         S3Settings
	CoinGecko  CoinGeckoSettings
	Logging    LoggingSettings
	CloudWatch CloudWatchSettings

	MetricsAddr string `env:"METRICS_ADDR"`
}

type InfluxSettings struct {
	Host     string        `env:"INFLUX_HOST,default=localhost"`
	Port     int           `env:"INFLUX_PORT,default=8086"`
	Database string        `env:"INFLUX_DB,default=maindb"`
	User     string        `env:"INFLUX_USER,default=coinarchiver"`
	Password string        `env:"INFLUX_PASS,default=coinpass"`
	Bucket   string        `env:"INFLUX_BUCKET,default=cryptomon"`
	Org      string        `env:"INFLUX_ORG,default=cryptomon"`
	Timeout  time.Duration `env:"INFLUX_TIMEOUT,default=10s"`
}

type S3Settings struct {
	Bucket          string        `env:"S3_BUCKET"`
	Prefix          string        `env:"S3_PREFIX"`
	Format          string        `env:"S3_FORMAT,default=json"`
	Region          string        `env:"AWS_REGION"`
	Endpoint        string        `env:"S3_ENDPOINT"`
	PathStyle       bool          `env:"S3_PATH_STYLE,default=false"`
	AccessKeyID     string        `env:"AWS_ACCESS_KEY_ID"`
	SecretAccessKey string        `env:"AWS_SECRET_ACCESS_KEY"`
	Timeout         time.Duration `env:"S3_TIMEOUT,default=30s"`
}

type CoinGeckoSettings struct {
	URL            string        `env:"COINGECKO_URL,default=https://api.coingecko.com/api/v3"`
	APIKey         string        `env:"COINGECKO_API_KEY"`
	APIKeyHeader   string        `env:"COINGECKO_API_KEY_HEADER,default=x-cg-demo-api-key"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT,default=30s"`
	MaxRPM         int           `env:"QUOTE_MAX_RPM,default=0"`
}

type LoggingSettings struct {
	Level  string `env:"LOG_LEVEL,default=info"`
	Format string `env:"LOG_FORMAT,default=json"`
	Output string `env:"LOG_OUTPUT,default=stdout"`
	MaxAge int    `env:"LOG_MAX_AGE,default=0"`
}

type CloudWatchSettings struct {
	Enabled   bool   `env:"CLOUDWATCH_ENABLED,default=false"`
	Namespace string `env:"CLOUDWATCH_NAMESPACE,default=CryptoMonitor"`
	Dashboard string `env:"CLOUDWATCH_DASHBOARD,default=CryptoMonitor"`
}

// LoadSettings decodes the current environment into Settings and validates
// the result.
func LoadSettings() (*Settings, error) {
	var s Settings
	if err := envdecode.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}

	s.TargetEnv = getTargetEnvironment()
	s.Currency = strings.ToLower(strings.TrimSpace(s.Currency))
	s.Schedule = strings.TrimSpace(s.Schedule)
	s.S3.Bucket = strings.TrimSpace(s.S3.Bucket)
	s.S3.Format = strings.ToLower(strings.TrimSpace(s.S3.Format))
	s.S3.Prefix = strings.Trim(s.S3.Prefix, "/")
	if s.Debug {
		s.Logging.Level = "debug"
	}

	if err := validateSettings(&s); err != nil {
		return nil, fmt.Errorf("settings validation failed: %w", err)
	}
	return &s, nil
}

// Load loads the env file for the target environment from envDir and then
// decodes the settings.
func Load(envDir string) (*Settings, error) {
	if _, err := LoadEnvFile(envDir); err != nil {
		return nil, err
	}
	return LoadSettings()
}

func validateSettings(s *Settings) error {
	if s.Schedule == "" && s.SleepTime <= 0 {
		return fmt.Errorf("SLEEP_TIME must be greater than 0")
	}
	if s.Schedule != "" {
		if _, err := cron.ParseStandard(s.Schedule); err != nil {
			return fmt.Errorf("SCHEDULE %q is invalid: %w", s.Schedule, err)
		}
	}
	if s.WorkDir == "" {
		return fmt.Errorf("WORKDIR not set")
	}
	if s.CoinsFile == "" {
		return fmt.Errorf("COINS_FILE is required")
	}
	if s.Currency == "" {
		return fmt.Errorf("VS_CURRENCY is required")
	}

	if s.InfluxArchive {
		if s.Influx.Host == "" {
			return fmt.Errorf("INFLUX_HOST is required when INFLUX_ARCHIVE is enabled")
		}
		if s.Influx.Port <= 0 || s.Influx.Port > 65535 {
			return fmt.Errorf("INFLUX_PORT %d is out of range", s.Influx.Port)
		}
		if s.Influx.Database == "" {
			return fmt.Errorf("INFLUX_DB is required when INFLUX_ARCHIVE is enabled")
		}
	}

	if s.S3Archive {
		if s.S3.Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required when S3_ARCHIVE is enabled")
		}
		if s.S3.Region == "" {
			return fmt.Errorf("AWS_REGION is required when S3_ARCHIVE is enabled")
		}
		if !isValidS3Bucket(s.S3.Bucket) {
			return fmt.Errorf("S3_BUCKET '%s' is invalid", s.S3.Bucket)
		}
		if s.S3.Format != "json" && s.S3.Format != "parquet" {
			return fmt.Errorf("S3_FORMAT must be json or parquet, got '%s'", s.S3.Format)
		}
	}

	switch s.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or text, got '%s'", s.Logging.Format)
	}

	return nil
}

// NextRun returns the start of the cycle following one that began or ended
// at t.
func (s *Settings) NextRun(t time.Time) time.Time {
	if s.Schedule != "" {
		// Validated in LoadSettings.
		if sched, err := cron.ParseStandard(s.Schedule); err == nil {
			return sched.Next(t)
		}
	}
	return cron.Every(time.Duration(s.SleepTime) * time.Second).Next(t)
}

// CoinsPath resolves the coin document against WorkDir.
func (s *Settings) CoinsPath() string {
	if filepath.IsAbs(s.CoinsFile) {
		return s.CoinsFile
	}
	return filepath.Join(s.WorkDir, s.CoinsFile)
}

// CheckWorkDir verifies that WorkDir exists and is a directory.
func (s *Settings) CheckWorkDir() error {
	info, err := os.Stat(s.WorkDir)
	if err != nil {
		return fmt.Errorf("WORKDIR does not exist: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("WORKDIR %s is not a directory", s.WorkDir)
	}
	return nil
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
