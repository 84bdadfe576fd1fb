package logger

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestWithComponent(t *testing.T) {
	log := Logger()
	entry := log.WithComponent("test")
	if v, ok := entry.Entry.Data["component"]; !ok || v != "test" {
		t.Fatalf("component field missing: %v", entry.Entry.Data)
	}
}

func TestConfigureInvalidLevel(t *testing.T) {
	// Ensure environment variables do not override the provided level
	t.Setenv("LOG_LEVEL", "")

	log := Logger()
	if err := log.Configure("invalid", "json", "stdout", 0); err == nil {
		t.Fatalf("expected error for invalid level")
	}
}

func TestWithEnv(t *testing.T) {
	os.Setenv("FOO", "bar")
	log := Logger()
	entry := log.WithEnv("FOO")
	if v, ok := entry.Entry.Data["FOO"]; !ok || v != "bar" {
		t.Fatalf("env field not set: %v", entry.Entry.Data)
	}
}

func TestConfigureRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "monitor.log")
	log := Logger()
	if err := log.Configure("debug", "text", path, 7); err != nil {
		t.Fatalf("configure: %v", err)
	}
	if log.GetLevel() != logrus.DebugLevel {
		t.Fatalf("expected debug level, got %s", log.GetLevel())
	}
	log.WithComponent("test").Info("hello")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "hello") {
		t.Fatalf("log line not written: %q", data)
	}
}

func TestConfigureInvalidFormat(t *testing.T) {
	log := Logger()
	if err := log.Configure("info", "xml", "stdout", 0); err == nil {
		t.Fatalf("expected error for invalid format")
	}
}

func TestErrorCountsPerComponent(t *testing.T) {
	log := Logger()
	log.SetOutput(io.Discard)
	log.WithComponent("report_test").Error("boom")
	log.WithComponent("report_test").Warn("careful")

	components := reportFields()["components"].(map[string]map[string]int64)
	if components["report_test"]["errors"] != 1 || components["report_test"]["warns"] != 1 {
		t.Fatalf("unexpected component stats: %v", components["report_test"])
	}
}

func TestReportCounters(t *testing.T) {
	IncrementCycle(3)
	IncrementArchiveWrite("file")
	IncrementFetchFailure()

	fields := reportFields()
	if fields["cycles"].(int64) < 1 || fields["quotes"].(int64) < 3 || fields["fetch_failures"].(int64) < 1 {
		t.Fatalf("unexpected report fields: %v", fields)
	}
	if fields["archive_writes"].(map[string]int64)["file"] < 1 {
		t.Fatalf("file write not counted: %v", fields["archive_writes"])
	}
}

func TestDashboardBody(t *testing.T) {
	body, err := dashboardBody("CryptoMonitor")
	if err != nil {
		t.Fatalf("dashboard body: %v", err)
	}
	for _, want := range []string{`["CryptoMonitor","Cycles"]`, `["CryptoMonitor","ArchiveWrites","Sink","influx"]`} {
		if !strings.Contains(body, want) {
			t.Errorf("dashboard body missing %s: %s", want, body)
		}
	}
}

func TestPublishMetricsWithoutClient(t *testing.T) {
	// Must not panic before InitCloudWatch.
	log := Logger()
	log.SetOutput(io.Discard)
	log.WithComponent("test").LogMetric("test", "Cycles", 1, "", nil)
}
