package logger

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

type componentStat struct {
	warns  int64
	errors int64
}

var (
	cyclesRun      int64
	fetchFailures  int64
	quotesFetched  int64
	archiveWrites  sync.Map // map[string]*int64, keyed by sink
	componentStats sync.Map // map[string]*componentStat
)

func statFor(component string) *componentStat {
	v, _ := componentStats.LoadOrStore(component, &componentStat{})
	return v.(*componentStat)
}

func recordWarn(component string) {
	atomic.AddInt64(&statFor(component).warns, 1)
}

func recordError(component string) {
	atomic.AddInt64(&statFor(component).errors, 1)
}

// IncrementCycle counts a completed cycle and the number of quotes it fetched.
func IncrementCycle(quotes int) {
	atomic.AddInt64(&cyclesRun, 1)
	atomic.AddInt64(&quotesFetched, int64(quotes))
}

// IncrementFetchFailure counts a cycle whose quote fetch failed.
func IncrementFetchFailure() {
	atomic.AddInt64(&fetchFailures, 1)
}

// IncrementArchiveWrite counts a successful write to sink.
func IncrementArchiveWrite(sink string) {
	v, _ := archiveWrites.LoadOrStore(sink, new(int64))
	atomic.AddInt64(v.(*int64), 1)
}

// StartReport begins periodic logging of system and cycle statistics.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

func reportFields() Fields {
	writes := map[string]int64{}
	archiveWrites.Range(func(k, v any) bool {
		writes[k.(string)] = atomic.LoadInt64(v.(*int64))
		return true
	})
	components := map[string]map[string]int64{}
	componentStats.Range(func(k, v any) bool {
		cs := v.(*componentStat)
		components[k.(string)] = map[string]int64{
			"warns":  atomic.LoadInt64(&cs.warns),
			"errors": atomic.LoadInt64(&cs.errors),
		}
		return true
	})

	return Fields{
		"cycles":         atomic.LoadInt64(&cyclesRun),
		"fetch_failures": atomic.LoadInt64(&fetchFailures),
		"quotes":         atomic.LoadInt64(&quotesFetched),
		"archive_writes": writes,
		"components":     components,
		"goroutines":     runtime.NumGoroutine(),
	}
}

func logReport(ctx context.Context, log *Log) {
	cpuPercent, _ := cpu.Percent(0, false)
	memStats, _ := mem.VirtualMemory()
	diskStats, _ := disk.Usage("/")

	cpuPct := 0.0
	if len(cpuPercent) > 0 {
		cpuPct = cpuPercent[0]
	}
	var memMB, diskMB float64
	if memStats != nil {
		memMB = float64(memStats.Used) / 1024 / 1024
	}
	if diskStats != nil {
		diskMB = float64(diskStats.Used) / 1024 / 1024
	}

	fields := reportFields()
	fields["cpu_percent"] = cpuPct
	fields["memory_mb"] = int64(memMB)
	fields["disk_mb"] = int64(diskMB)

	log.WithComponent("report").WithFields(fields).Info("runtime report")

	data := []cwtypes.MetricDatum{
		{MetricName: aws.String("CPUPercent"), Unit: cwtypes.StandardUnitPercent, Value: aws.Float64(cpuPct)},
		{MetricName: aws.String("MemoryMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(memMB)},
		{MetricName: aws.String("DiskMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(diskMB)},
		{MetricName: aws.String("Cycles"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["cycles"].(int64)))},
		{MetricName: aws.String("FetchFailures"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["fetch_failures"].(int64)))},
	}
	for sink, n := range fields["archive_writes"].(map[string]int64) {
		data = append(data, cwtypes.MetricDatum{
			MetricName: aws.String("ArchiveWrites"),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: []cwtypes.Dimension{{Name: aws.String("Sink"), Value: aws.String(sink)}},
			Value:      aws.Float64(float64(n)),
		})
	}

	publishMetrics(ctx, data)
}
