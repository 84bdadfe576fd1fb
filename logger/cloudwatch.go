package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// maxDatumsPerPut bounds one PutMetricData request.
const maxDatumsPerPut = 20

var (
	cwClient    *cloudwatch.Client
	cwNamespace = "CryptoMonitor"
	cwDashboard = "CryptoMonitor"
)

// InitCloudWatch creates the CloudWatch client used by LogMetric and the
// runtime report, then makes sure the dashboard exists. region falls back to
// AWS_REGION. On error publishing stays disabled.
func InitCloudWatch(ctx context.Context, region, namespace, dashboard string) error {
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	cwClient = cloudwatch.NewFromConfig(cfg)
	if namespace != "" {
		cwNamespace = namespace
	}
	if dashboard != "" {
		cwDashboard = dashboard
	}

	GetLogger().WithComponent("cloudwatch").
		WithFields(Fields{"region": region, "namespace": cwNamespace, "dashboard": cwDashboard}).
		Info("initialized CloudWatch client")

	if err := ensureDashboard(ctx); err != nil {
		GetLogger().WithComponent("cloudwatch").WithError(err).Warn("failed to create CloudWatch dashboard")
	}
	return nil
}

// publishMetrics sends data in batches. It is a no-op until InitCloudWatch
// succeeded.
func publishMetrics(ctx context.Context, data []cwtypes.MetricDatum) {
	if cwClient == nil || len(data) == 0 {
		return
	}
	log := GetLogger().WithComponent("cloudwatch")

	for start := 0; start < len(data); start += maxDatumsPerPut {
		end := start + maxDatumsPerPut
		if end > len(data) {
			end = len(data)
		}
		batch := data[start:end]

		if _, err := cwClient.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
			Namespace:  aws.String(cwNamespace),
			MetricData: batch,
		}); err != nil {
			log.WithError(err).Warn("failed to publish CloudWatch metrics")
			return
		}

		names := make([]string, 0, len(batch))
		for _, d := range batch {
			names = append(names, aws.ToString(d.MetricName))
		}
		log.WithFields(Fields{"metrics": strings.Join(names, ",")}).Debug("published metrics to CloudWatch")
	}
}

type dashboardWidget struct {
	Type       string           `json:"type"`
	Width      int              `json:"width"`
	Height     int              `json:"height"`
	Properties widgetProperties `json:"properties"`
}

type widgetProperties struct {
	Metrics [][]string `json:"metrics"`
	Period  int        `json:"period"`
	Stat    string     `json:"stat"`
	Title   string     `json:"title"`
}

// dashboardBody renders the collection and host widgets for namespace.
func dashboardBody(namespace string) (string, error) {
	metric := func(name string, dims ...string) []string {
		return append([]string{namespace, name}, dims...)
	}
	body := struct {
		Widgets []dashboardWidget `json:"widgets"`
	}{
		Widgets: []dashboardWidget{
			{
				Type: "metric", Width: 12, Height: 6,
				Properties: widgetProperties{
					Metrics: [][]string{
						metric("Cycles"),
						metric("FetchFailures"),
						metric("ArchiveWrites", "Sink", "file"),
						metric("ArchiveWrites", "Sink", "influx"),
						metric("ArchiveWrites", "Sink", "s3"),
					},
					Period: 300,
					Stat:   "Maximum",
					Title:  "Coin collection",
				},
			},
			{
				Type: "metric", Width: 12, Height: 6,
				Properties: widgetProperties{
					Metrics: [][]string{
						metric("CPUPercent"),
						metric("MemoryMB"),
						metric("DiskMB"),
					},
					Period: 60,
					Stat:   "Average",
					Title:  "Host",
				},
			},
		},
	}
	out, err := json.Marshal(body)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func ensureDashboard(ctx context.Context) error {
	if cwClient == nil {
		return nil
	}
	body, err := dashboardBody(cwNamespace)
	if err != nil {
		return err
	}
	_, err = cwClient.PutDashboard(ctx, &cloudwatch.PutDashboardInput{
		DashboardName: aws.String(cwDashboard),
		DashboardBody: aws.String(body),
	})
	return err
}
