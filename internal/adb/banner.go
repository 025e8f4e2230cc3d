package adb

import "strings"

// Banner is the identity a device sends in its CNXN payload, e.g.
// "device::ro.product.name=x;ro.product.model=y;ro.product.device=z;features=shell_v2,cmd".
type Banner struct {
	State      string
	Product    string
	Model      string
	Device     string
	Features   []string
	Properties map[string]string
}

// ParseBanner parses a connection banner. Unknown keys land in Properties.
func ParseBanner(raw string) Banner {
	raw = strings.TrimRight(raw, "\x00")
	b := Banner{Properties: make(map[string]string)}
	state, rest, _ := strings.Cut(raw, ":")
	b.State = state
	// the second field is the legacy serial slot, always empty today
	_, props, _ := strings.Cut(rest, ":")
	for _, kv := range strings.Split(props, ";") {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		switch k {
		case "ro.product.name":
			b.Product = v
		case "ro.product.model":
			b.Model = v
		case "ro.product.device":
			b.Device = v
		case "features":
			for _, f := range strings.Split(v, ",") {
				if f != "" {
					b.Features = append(b.Features, f)
				}
			}
		default:
			b.Properties[k] = v
		}
	}
	return b
}

// HasFeature reports whether the device advertised feature f.
func (b Banner) HasFeature(f string) bool {
	for _, x := range b.Features {
		if x == f {
			return true
		}
	}
	return false
}

// hostFeatures is what the host advertises in its own CNXN.
var hostFeatures = []string{
	"shell_v2",
	"cmd",
	"stat_v2",
	"ls_v2",
	"fixed_push_mkdir",
	"apex",
	"abb",
	"fixed_push_symlink_timestamp",
	"abb_exec",
	"remount_shell",
	"track_app",
	"sendrecv_v2",
}

func hostBanner() []byte {
	return []byte("host::features=" + strings.Join(hostFeatures, ",") + "\x00")
}
