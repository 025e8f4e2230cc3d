package ui

import (
	"strings"
	"testing"
	"time"

	"adbdash/internal/telemetry"

	tea "github.com/charmbracelet/bubbletea"
)

func TestDeviceView_ShowsSnapshot(t *testing.T) {
	snap := telemetry.NewSnapshot()
	now := time.Now()
	snap.Update(telemetry.Sample{Metric: telemetry.MetricCPU, Value: 42, Time: now})
	snap.Update(telemetry.Sample{Metric: telemetry.MetricRx, Value: 2048, Time: now})
	snap.SetRows([]telemetry.Row{{Key: "model", Name: "Model", Value: "Pixel 7"}})
	snap.SetPackages([]telemetry.Package{{Name: "com.example.app", Version: "1.2.3", LastUpdated: "2024-05-01 10:00:00"}})

	d := NewDeviceView(pixel)
	d.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	d.Load(snap)
	out := d.View()

	for _, want := range []string{"Pixel 7", "42.0%", "2.0 KiB/s", "Model", "com.example.app", "Packages (1)"} {
		if !strings.Contains(out, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestDeviceView_EmptyWhileCollecting(t *testing.T) {
	d := NewDeviceView(pixel)
	d.Load(telemetry.NewSnapshot())
	out := d.View()
	if !strings.Contains(out, "Collecting system information") || !strings.Contains(out, "Listing packages") {
		t.Errorf("expected placeholders:\n%s", out)
	}
}

func TestDeviceView_TabSwitchesTable(t *testing.T) {
	d := NewDeviceView(pixel)
	if d.focus.Current != focusInfo || !d.info.Focused() {
		t.Fatal("info table should start focused")
	}
	d.Update(keyMsg("tab"))
	if d.focus.Current != focusPackages || !d.packages.Focused() || d.info.Focused() {
		t.Error("tab should focus the package table")
	}
	d.Update(keyMsg("shift+tab"))
	if d.focus.Current != focusInfo {
		t.Error("shift+tab should go back")
	}
}

func TestFormatSample(t *testing.T) {
	tests := []struct {
		s    telemetry.Sample
		want string
	}{
		{telemetry.Sample{Metric: telemetry.MetricMemory, Value: 63.25}, "63.2%"},
		{telemetry.Sample{Metric: telemetry.MetricTemperature, Value: 38.4}, "38.4°C"},
		{telemetry.Sample{Metric: telemetry.MetricTx, Value: 0}, "0 B/s"},
	}
	for _, tt := range tests {
		if got := formatSample(tt.s); got != tt.want {
			t.Errorf("formatSample(%v) = %q, want %q", tt.s.Metric, got, tt.want)
		}
	}
}
