package ui

import (
	"fmt"
	"strings"

	"adbdash/internal/backend"
	"adbdash/internal/telemetry"
	"adbdash/internal/ui/textutil"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Focus IDs of the device screen tables.
const (
	focusInfo     = "info"
	focusPackages = "packages"
)

// gaugeMax is the full-scale value of each gauge; rates have none.
var gaugeMax = map[telemetry.Metric]float64{
	telemetry.MetricCPU:         100,
	telemetry.MetricMemory:      100,
	telemetry.MetricDisk:        100,
	telemetry.MetricTemperature: 100,
}

var metricLabels = map[telemetry.Metric]string{
	telemetry.MetricCPU:         "CPU",
	telemetry.MetricMemory:      "Memory",
	telemetry.MetricDisk:        "Disk",
	telemetry.MetricRx:          "Download",
	telemetry.MetricTx:          "Upload",
	telemetry.MetricTemperature: "Temperature",
}

// DeviceView shows live gauges, system information and installed packages
// of the connected device.
type DeviceView struct {
	Backend  backend.Backend
	samples  map[telemetry.Metric]telemetry.Sample
	gauge    progress.Model
	info     table.Model
	packages table.Model
	focus    FocusManager
	width    int
	height   int
}

// Ensure DeviceView implements View.
var _ View = (*DeviceView)(nil)

// NewDeviceView creates the device screen for b.
func NewDeviceView(b backend.Backend) *DeviceView {
	d := &DeviceView{
		Backend: b,
		samples: make(map[telemetry.Metric]telemetry.Sample),
		gauge: progress.New(
			progress.WithGradient("#5A56E0", "#EE6FF8"),
			progress.WithWidth(30),
			progress.WithoutPercentage(),
		),
		info: table.New(
			table.WithColumns([]table.Column{{Title: "Property", Width: 18}, {Title: "Value", Width: 40}}),
			table.WithHeight(10),
			table.WithStyles(tableStyles()),
		),
		packages: table.New(
			table.WithColumns([]table.Column{{Title: "Package", Width: 36}, {Title: "Version", Width: 14}, {Title: "Updated", Width: 19}}),
			table.WithHeight(10),
			table.WithStyles(tableStyles()),
		),
		width:  100,
		height: 40,
	}
	d.focus = FocusManager{
		Current: focusInfo,
		Order:   []string{focusInfo, focusPackages},
		OnChange: func(_, to string) {
			if to == focusInfo {
				d.info.Focus()
				d.packages.Blur()
			} else {
				d.packages.Focus()
				d.info.Blur()
			}
		},
	}
	d.info.Focus()
	return d
}

// Load copies the latest snapshot into the screen.
func (d *DeviceView) Load(snap *telemetry.Snapshot) {
	if snap == nil {
		return
	}
	clear(d.samples)
	for _, s := range snap.Samples() {
		d.samples[s.Metric] = s
	}

	rows := snap.Rows()
	infoRows := make([]table.Row, len(rows))
	for i, r := range rows {
		infoRows[i] = table.Row{r.Name, r.Value}
	}
	d.info.SetRows(infoRows)

	pkgs := snap.Packages()
	pkgRows := make([]table.Row, len(pkgs))
	for i, p := range pkgs {
		pkgRows[i] = table.Row{p.Name, p.Version, p.LastUpdated}
	}
	d.packages.SetRows(pkgRows)
}

// Init implements View.
func (d *DeviceView) Init() tea.Cmd {
	return nil
}

// Update implements View.
func (d *DeviceView) Update(msg tea.Msg) (View, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		d.resize(msg.Width, msg.Height)
		return d, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "tab":
			d.focus.Next()
			return d, nil
		case "shift+tab":
			d.focus.Prev()
			return d, nil
		case "esc":
			return d, nil // Caller handles back navigation
		}
	}

	var cmd tea.Cmd
	if d.focus.Current == focusPackages {
		d.packages, cmd = d.packages.Update(msg)
	} else {
		d.info, cmd = d.info.Update(msg)
	}
	return d, cmd
}

func (d *DeviceView) resize(width, height int) {
	d.width, d.height = width, height
	// gauges take eight lines, headers and hints four more
	tableHeight := height - 16
	if tableHeight < 5 {
		tableHeight = 5
	}
	d.info.SetHeight(tableHeight)
	d.packages.SetHeight(tableHeight)

	half := width/2 - 4
	if half < 50 {
		half = 50
	}
	d.info.SetColumns([]table.Column{{Title: "Property", Width: 18}, {Title: "Value", Width: half - 20}})
	d.packages.SetColumns([]table.Column{
		{Title: "Package", Width: half - 37},
		{Title: "Version", Width: 14},
		{Title: "Updated", Width: 19},
	})
	d.gauge.Width = width/2 - 24
	if d.gauge.Width < 10 {
		d.gauge.Width = 10
	}
}

// View implements View.
func (d *DeviceView) View() string {
	var b strings.Builder
	name := "device"
	if d.Backend != nil {
		name = kindBadge(d.Backend.Kind()) + " " + d.Backend.Name()
	}
	b.WriteString(Styles.Title.Render("Device info") + "  " + name + "\n")
	b.WriteString(Styles.Hint.Render("Tab: switch table  Esc: back  Press [SPC] for commands") + "\n\n")

	for _, m := range telemetry.Metrics {
		b.WriteString(d.gaugeLine(m) + "\n")
	}
	b.WriteString("\n")

	infoStyle, pkgStyle := Styles.Panel, Styles.PanelFocus
	if d.focus.Current == focusInfo {
		infoStyle, pkgStyle = Styles.PanelFocus, Styles.Panel
	}
	info := infoStyle.Render(Styles.Section.Render("System") + "\n" + d.tableOrEmpty(d.info, "Collecting system information…"))
	pkgs := pkgStyle.Render(Styles.Section.Render(fmt.Sprintf("Packages (%d)", len(d.packages.Rows()))) + "\n" + d.tableOrEmpty(d.packages, "Listing packages…"))
	if d.width >= 100 {
		b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, info, " ", pkgs))
	} else {
		b.WriteString(info + "\n" + pkgs)
	}
	return b.String()
}

func (d *DeviceView) tableOrEmpty(t table.Model, empty string) string {
	if len(t.Rows()) == 0 {
		return Styles.Empty.Render(empty)
	}
	return t.View()
}

// gaugeLine renders one metric: a bar for bounded values, text for rates.
func (d *DeviceView) gaugeLine(m telemetry.Metric) string {
	label := textutil.PadRight(metricLabels[m], 12)
	s, ok := d.samples[m]
	if !ok {
		return Styles.Muted.Render(label + " –")
	}
	value := formatSample(s)
	full, bounded := gaugeMax[m]
	if !bounded {
		return label + " " + value
	}
	frac := s.Value / full
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}
	return label + " " + d.gauge.ViewAs(frac) + " " + value
}

// formatSample renders a sample value with its unit.
func formatSample(s telemetry.Sample) string {
	switch s.Metric {
	case telemetry.MetricRx, telemetry.MetricTx:
		return telemetry.FormatRate(s.Value)
	default:
		return fmt.Sprintf("%.1f%s", s.Value, s.Metric.Unit())
	}
}
