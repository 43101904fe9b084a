// Package wifi defines the radio fingerprint model and the scanner contract.
//
// A Fingerprint is a snapshot of the networks visible at one instant. How the
// snapshot is taken is platform business: adapters implement Scanner on top
// of whatever radio API the host exposes. The package ships a Replay scanner
// that feeds recorded fingerprints back, used by the simulator command and
// by tests.
package wifi

import (
	"context"
	"errors"
	"strings"

	"github.com/geoping/geoping/pkg/jsontime"
)

// Scan failure classes. Throttled and radio-off scans are transient: the
// caller skips the tick and tries again next cycle. Permission denial is
// sticky until the platform grants the permission, but is still retried.
var (
	ErrThrottled        = errors.New("wifi: scan throttled")
	ErrPermissionDenied = errors.New("wifi: scan permission denied")
	ErrRadioOff         = errors.New("wifi: radio disabled")
)

// Observation is a single network sighting within a scan.
type Observation struct {
	BSSID string `json:"bssid"`
	SSID  string `json:"ssid"`
	RSSI  int    `json:"rssi"`
}

// Fingerprint is the set of observations captured atomically from one scan.
// Order carries no meaning. An empty fingerprint is valid but carries no
// classification value.
type Fingerprint struct {
	Taken        jsontime.Milli `json:"taken"`
	Observations []Observation  `json:"observations"`
}

// Empty reports whether the fingerprint contains no observations.
func (f Fingerprint) Empty() bool {
	return len(f.Observations) == 0
}

// Find returns the strongest observation whose SSID matches the given name.
// SSIDs are compared with surrounding quotes stripped, since some platforms
// report quoted names.
func (f Fingerprint) Find(ssid string) (Observation, bool) {
	want := strings.Trim(ssid, `"`)
	var best Observation
	found := false
	for _, obs := range f.Observations {
		if strings.Trim(obs.SSID, `"`) != want {
			continue
		}
		if !found || obs.RSSI > best.RSSI {
			best = obs
			found = true
		}
	}
	return best, found
}

// SSIDs returns the distinct network names present in the fingerprint,
// quotes stripped.
func (f Fingerprint) SSIDs() []string {
	seen := make(map[string]struct{}, len(f.Observations))
	var out []string
	for _, obs := range f.Observations {
		name := strings.Trim(obs.SSID, `"`)
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

// Scanner triggers one radio scan and returns its result. Scan blocks until
// the platform delivers the scan outcome or ctx is done.
type Scanner interface {
	Scan(ctx context.Context) (Fingerprint, error)
}

// ScannerFunc adapts a function to the Scanner interface.
type ScannerFunc func(ctx context.Context) (Fingerprint, error)

func (f ScannerFunc) Scan(ctx context.Context) (Fingerprint, error) {
	return f(ctx)
}
