package telemetry

import (
	"context"
	"fmt"
	"strings"

	"adbdash/internal/backend"

	"github.com/dustin/go-humanize"
)

// ExecFunc runs a one-shot shell command on the device.
type ExecFunc func(ctx context.Context, cmd string) (string, error)

// Shell commands scraped by the collector and the sampler.
const (
	CmdProps       = "getprop"
	CmdCPUSerial   = "cat /proc/cpuinfo|grep Serial"
	CmdUptime      = "cat /proc/uptime"
	CmdCameraCount = "dumpsys media.camera|grep 'Number of camera devices'"
	CmdCameraOpen  = "dumpsys media.camera|grep 'is open'|busybox wc -l"
	CmdDisplays    = "dumpsys display|grep 'Display Devices'"
	CmdNetDev      = "cat /proc/net/dev"
	CmdDisk        = "df -h /data 2>/dev/null|grep '/data'"
	CmdMemInfo     = "dumpsys meminfo|grep RAM"
	CmdTemperature = "cat /sys/class/thermal/thermal_zone0/temp 2>/dev/null;" +
		"cat /sys/bus/platform/drivers/tsadc/ff280000.tsadc/temp1_input 2>/dev/null;" +
		"cat /sys/devices/ff280000.tsadc/temp1_input 2>/dev/null"
	CmdCPUTop = "busybox top -d1|grep CPU:"
)

// DefaultInterface is the network interface watched when none is configured.
const DefaultInterface = "wlan0"

// DataMount is the filesystem reported as disk usage.
const DataMount = "/data"

// Row is one line of the system information table.
type Row struct {
	Key   string `json:"key"`
	Name  string `json:"name"`
	Value string `json:"value"`
}

// PropLabel names a system property shown in the table.
type PropLabel struct {
	Key   string
	Label string
}

// PropLabels are the properties shown, in display order.
var PropLabels = []PropLabel{
	{"ro.product.model", "Model"},
	{"ro.product.device", "Device"},
	{"ro.product.brand", "Brand"},
	{"ro.product.manufacturer", "Manufacturer"},
	{"ro.build.version.release", "Android version"},
	{"ro.build.date", "Build date"},
	{"ro.build.description", "Build fingerprint"},
}

// Collector gathers the one-shot parts of the device info view.
type Collector struct {
	Exec ExecFunc
	// Interface is reported as WiFi traffic; DefaultInterface when empty.
	Interface string
}

// CollectSystemInfo is Collector{Exec: exec}.SystemInfo.
func CollectSystemInfo(ctx context.Context, exec ExecFunc, backendName string) []Row {
	return Collector{Exec: exec}.SystemInfo(ctx, backendName)
}

// SystemInfo builds the system information rows. Every row is collected
// independently; a failing command only drops its own row.
func (c Collector) SystemInfo(ctx context.Context, backendName string) []Row {
	var rows []Row
	if id := backend.DeviceID(backendName); id != "" {
		rows = append(rows, Row{Key: "id", Name: "Device ID", Value: id})
	}

	if out, err := c.Exec(ctx, CmdProps); err == nil {
		props := ParseProps(out)
		for _, p := range PropLabels {
			if v, ok := props[p.Key]; ok {
				rows = append(rows, Row{Key: p.Key, Name: p.Label, Value: v})
			}
		}
	}

	if out, err := c.Exec(ctx, CmdCPUSerial); err == nil {
		if serial, err := ParseCPUSerial(out); err == nil {
			rows = append(rows, Row{Key: "serial", Name: "Board serial", Value: serial})
		}
	}

	if out, err := c.Exec(ctx, CmdUptime); err == nil {
		if d, err := ParseUptime(out); err == nil {
			rows = append(rows, Row{Key: "boottime", Name: "Uptime", Value: FormatUptime(d)})
		}
	}

	if out, err := c.Exec(ctx, CmdCameraCount); err == nil {
		n, _ := ParseFirstInt(out)
		rows = append(rows, Row{Key: "cameranum", Name: "Cameras", Value: fmt.Sprint(n)})
	}

	if out, err := c.Exec(ctx, CmdCameraOpen); err == nil {
		v := strings.TrimSpace(out)
		if v == "" {
			v = "0"
		}
		rows = append(rows, Row{Key: "cameraopened", Name: "Cameras open", Value: v})
	}

	if out, err := c.Exec(ctx, CmdDisplays); err == nil {
		n, _ := ParseFirstInt(out)
		rows = append(rows, Row{Key: "displaysize", Name: "Displays", Value: fmt.Sprint(n)})
	}

	iface := c.Interface
	if iface == "" {
		iface = DefaultInterface
	}
	if out, err := c.Exec(ctx, CmdNetDev); err == nil {
		if rx, tx, err := ParseNetDev(out, iface); err == nil {
			rows = append(rows, Row{
				Key:   "nettraffic",
				Name:  "WiFi traffic",
				Value: fmt.Sprintf("received %s, sent %s", humanize.IBytes(rx), humanize.IBytes(tx)),
			})
		}
	}

	if out, err := c.Exec(ctx, CmdDisk); err == nil {
		if d, err := ParseDF(out, DataMount); err == nil {
			rows = append(rows, Row{Key: "diskused", Name: "Disk usage", Value: d.Used + " / " + d.Size})
		}
	}

	if out, err := c.Exec(ctx, CmdMemInfo); err == nil {
		if m, err := ParseMemInfo(out); err == nil {
			rows = append(rows, Row{
				Key:   "memused",
				Name:  "Memory usage",
				Value: FormatKB(m.UsedKB) + " / " + FormatKB(m.TotalKB),
			})
		}
	}
	return rows
}

// CollectPackages is Collector{Exec: exec}.Packages.
func CollectPackages(ctx context.Context, exec ExecFunc, filter string) ([]Package, error) {
	return Collector{Exec: exec}.Packages(ctx, filter)
}

// Packages lists installed packages whose name matches the extended regular
// expression filter. An empty filter lists third-party packages.
func (c Collector) Packages(ctx context.Context, filter string) ([]Package, error) {
	out, err := c.Exec(ctx, PackagesCommand(filter))
	if err != nil {
		return nil, err
	}
	return ParsePackages(out), nil
}

// PackagesCommand builds the dumpsys pipeline behind Packages.
func PackagesCommand(filter string) string {
	list := "pm list packages|cut -d: -f2"
	if filter == "" {
		list = "pm list packages -3|cut -d: -f2"
	} else {
		list += "|grep -E " + shellQuote(filter)
	}
	return list + "|busybox xargs -n1 dumpsys package|grep -E 'Package \\[|lastUpdateTime|versionName'"
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// FormatKB renders a KiB count with binary units.
func FormatKB(kb int64) string {
	if kb < 0 {
		return "-" + humanize.IBytes(uint64(-kb)*1024)
	}
	return humanize.IBytes(uint64(kb) * 1024)
}

// FormatRate renders a byte rate.
func FormatRate(bytesPerSec float64) string {
	if bytesPerSec < 0 {
		bytesPerSec = 0
	}
	return humanize.IBytes(uint64(bytesPerSec)) + "/s"
}
