// Package telemetry scrapes device health out of shell command output.
// Parsing is best effort: every parser returns an error instead of a guess,
// and callers skip the tick.
package telemetry

import (
	"bufio"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var errNoMatch = errors.New("telemetry: no match")

// ParseUptime reads the first field of /proc/uptime.
func ParseUptime(out string) (time.Duration, error) {
	fields := strings.Fields(out)
	if len(fields) == 0 {
		return 0, fmt.Errorf("uptime: %w", errNoMatch)
	}
	secs, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, fmt.Errorf("uptime: %w", err)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// FormatUptime renders whole seconds as HH:MM:SS. Hours grow past two
// digits rather than rolling over into days.
func FormatUptime(d time.Duration) string {
	secs := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", secs/3600, secs%3600/60, secs%60)
}

// ParseNetDev finds iface in /proc/net/dev output and returns its received
// and transmitted byte counters.
func ParseNetDev(out, iface string) (rx, tx uint64, err error) {
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		name, counters, ok := strings.Cut(sc.Text(), ":")
		if !ok || strings.TrimSpace(name) != iface {
			continue
		}
		fields := strings.Fields(counters)
		if len(fields) < 9 {
			return 0, 0, fmt.Errorf("net dev %s: %d fields", iface, len(fields))
		}
		if rx, err = strconv.ParseUint(fields[0], 10, 64); err != nil {
			return 0, 0, fmt.Errorf("net dev %s rx: %w", iface, err)
		}
		if tx, err = strconv.ParseUint(fields[8], 10, 64); err != nil {
			return 0, 0, fmt.Errorf("net dev %s tx: %w", iface, err)
		}
		return rx, tx, nil
	}
	return 0, 0, fmt.Errorf("net dev %s: %w", iface, errNoMatch)
}

// MemInfo is the RAM summary of dumpsys meminfo, in KiB.
type MemInfo struct {
	TotalKB int64
	UsedKB  int64
	LostKB  int64
}

// Percent is the share of RAM in use, counting lost RAM as used.
func (m MemInfo) Percent() float64 {
	if m.TotalKB <= 0 {
		return 0
	}
	return float64(m.UsedKB+m.LostKB) / float64(m.TotalKB) * 100
}

// ParseMemInfo reads the "Total RAM", "Used RAM" and "Lost RAM" lines of
// dumpsys meminfo. Thousands separators are ignored.
func ParseMemInfo(out string) (MemInfo, error) {
	text := strings.ToLower(strings.ReplaceAll(out, ",", ""))
	var m MemInfo
	var err error
	if m.TotalKB, err = kilobytesAfter(text, "total ram:"); err != nil {
		return MemInfo{}, err
	}
	if m.UsedKB, err = kilobytesAfter(text, "used ram:"); err != nil {
		return MemInfo{}, err
	}
	if m.LostKB, err = kilobytesAfter(text, "lost ram:"); err != nil {
		return MemInfo{}, err
	}
	if m.TotalKB <= 0 {
		return MemInfo{}, fmt.Errorf("meminfo: total is %d", m.TotalKB)
	}
	return m, nil
}

// kilobytesAfter parses "<label> <int>k".
func kilobytesAfter(text, label string) (int64, error) {
	i := strings.Index(text, label)
	if i < 0 {
		return 0, fmt.Errorf("meminfo %q: %w", label, errNoMatch)
	}
	rest := strings.TrimLeft(text[i+len(label):], " \t")
	end := 0
	for end < len(rest) && (rest[end] == '-' && end == 0 || rest[end] >= '0' && rest[end] <= '9') {
		end++
	}
	n, err := strconv.ParseInt(rest[:end], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("meminfo %q: %w", label, err)
	}
	if !strings.HasPrefix(strings.TrimLeft(rest[end:], " \t"), "k") {
		return 0, fmt.Errorf("meminfo %q: missing unit", label)
	}
	return n, nil
}

// DiskUsage is one df row.
type DiskUsage struct {
	// Size and Used are df's own human readable columns.
	Size, Used            string
	TotalBytes, UsedBytes uint64
}

// Percent is the used share of the filesystem.
func (d DiskUsage) Percent() float64 {
	if d.TotalBytes == 0 {
		return 0
	}
	return float64(d.UsedBytes) / float64(d.TotalBytes) * 100
}

// ParseDF reads the first row of `df -h` output that mentions mount and
// is not the header.
func ParseDF(out, mount string) (DiskUsage, error) {
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		line := sc.Text()
		if !strings.Contains(line, mount) || strings.HasPrefix(line, "Filesystem") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}
		total, err := ParseSize(fields[1])
		if err != nil {
			return DiskUsage{}, fmt.Errorf("df size: %w", err)
		}
		used, err := ParseSize(fields[2])
		if err != nil {
			return DiskUsage{}, fmt.Errorf("df used: %w", err)
		}
		return DiskUsage{Size: fields[1], Used: fields[2], TotalBytes: total, UsedBytes: used}, nil
	}
	return DiskUsage{}, fmt.Errorf("df %s: %w", mount, errNoMatch)
}

// ParseSize converts df's "1.5G" notation to bytes. Units are binary; a bare
// number is bytes.
func ParseSize(s string) (uint64, error) {
	s = strings.TrimSuffix(strings.TrimSpace(s), "B")
	if s == "" {
		return 0, errNoMatch
	}
	mult := 1.0
	switch s[len(s)-1] {
	case 'K', 'k':
		mult = 1 << 10
	case 'M':
		mult = 1 << 20
	case 'G':
		mult = 1 << 30
	case 'T':
		mult = 1 << 40
	}
	if mult != 1 {
		s = s[:len(s)-1]
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("size %q: %w", s, errNoMatch)
	}
	return uint64(v * mult), nil
}

// ParseTemperature reads the first numeric line of a thermal node. Values
// above 200 are taken as millidegrees.
func ParseTemperature(out string) (float64, error) {
	for _, line := range strings.Split(out, "\n") {
		v, err := strconv.ParseFloat(strings.TrimSpace(line), 64)
		if err != nil {
			continue
		}
		if v > 200 {
			v /= 1000
		}
		return v, nil
	}
	return 0, fmt.Errorf("temperature: %w", errNoMatch)
}

// cpuBufferLimit bounds the bytes kept while looking for a CPU line.
const cpuBufferLimit = 1000

// CPUParser pulls "CPU: N%" out of a streamed top session.
type CPUParser struct {
	buf strings.Builder
}

// Feed appends a chunk and reports the CPU usage once a complete value is
// seen. The buffer resets after a match or when it grows past the limit.
func (p *CPUParser) Feed(chunk []byte) (float64, bool) {
	p.buf.Write(chunk)
	text := p.buf.String()
	if v, ok := findCPU(text); ok {
		p.buf.Reset()
		return v, true
	}
	if p.buf.Len() > cpuBufferLimit {
		p.buf.Reset()
	}
	return 0, false
}

func findCPU(text string) (float64, bool) {
	for {
		i := strings.Index(text, "CPU:")
		if i < 0 {
			return 0, false
		}
		text = text[i+len("CPU:"):]
		rest := strings.TrimLeft(text, " \t")
		end := 0
		for end < len(rest) && (rest[end] == '.' || rest[end] >= '0' && rest[end] <= '9') {
			end++
		}
		if end == 0 || end == len(rest) || rest[end] != '%' {
			continue
		}
		if v, err := strconv.ParseFloat(rest[:end], 64); err == nil {
			return v, true
		}
	}
}

// ParseProps reads `getprop` lines of the form "[key]: [value]".
func ParseProps(out string) map[string]string {
	props := make(map[string]string)
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		k, v, ok := strings.Cut(sc.Text(), "]: [")
		if !ok {
			continue
		}
		k = strings.TrimPrefix(strings.TrimSpace(k), "[")
		v = strings.TrimSuffix(strings.TrimSpace(v), "]")
		if k != "" {
			props[k] = v
		}
	}
	return props
}

// ParseCPUSerial returns the last field of the cpuinfo Serial line.
func ParseCPUSerial(out string) (string, error) {
	fields := strings.Fields(out)
	if len(fields) == 0 {
		return "", fmt.Errorf("cpu serial: %w", errNoMatch)
	}
	return fields[len(fields)-1], nil
}

// ParseFirstInt returns the first run of digits in out.
func ParseFirstInt(out string) (int, bool) {
	start := strings.IndexAny(out, "0123456789")
	if start < 0 {
		return 0, false
	}
	end := start
	for end < len(out) && out[end] >= '0' && out[end] <= '9' {
		end++
	}
	n, err := strconv.Atoi(out[start:end])
	return n, err == nil
}

// Package is one installed application.
type Package struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	LastUpdated string `json:"last_updated"`
}

// ParsePackages reads filtered `dumpsys package` output: blocks starting at
// "Package [name]" followed by versionName= and lastUpdateTime= lines.
// Blocks missing either field are skipped.
func ParsePackages(out string) []Package {
	var pkgs []Package
	for _, block := range strings.Split(out, "Package [")[1:] {
		name, rest, ok := strings.Cut(block, "]")
		if !ok || name == "" {
			continue
		}
		version, ok := fieldValue(rest, "versionName=")
		if !ok {
			continue
		}
		updated, ok := fieldValue(rest, "lastUpdateTime=")
		if !ok {
			continue
		}
		pkgs = append(pkgs, Package{Name: name, Version: version, LastUpdated: updated})
	}
	return pkgs
}

// fieldValue returns the rest of the line after key.
func fieldValue(block, key string) (string, bool) {
	i := strings.Index(block, key)
	if i < 0 {
		return "", false
	}
	v := block[i+len(key):]
	if j := strings.IndexAny(v, "\r\n"); j >= 0 {
		v = v[:j]
	}
	return strings.TrimSpace(v), true
}
