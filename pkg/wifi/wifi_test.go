package wifi_test

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/geoping/geoping/pkg/wifi"
)

func TestFindStrongest(t *testing.T) {
	fp := wifi.Fingerprint{Observations: []wifi.Observation{
		{BSSID: "aa:aa", SSID: "lab-net", RSSI: -80},
		{BSSID: "bb:bb", SSID: "lab-net", RSSI: -62},
		{BSSID: "cc:cc", SSID: "other", RSSI: -40},
	}}

	obs, ok := fp.Find("lab-net")
	if !ok {
		t.Fatal("Find: lab-net not found")
	}
	if obs.BSSID != "bb:bb" || obs.RSSI != -62 {
		t.Fatalf("Find = %+v, want strongest lab-net AP", obs)
	}

	if _, ok := fp.Find("missing"); ok {
		t.Fatal("Find: unexpected match for missing SSID")
	}
}

func TestFindStripsQuotes(t *testing.T) {
	fp := wifi.Fingerprint{Observations: []wifi.Observation{
		{BSSID: "aa:aa", SSID: `"lab-net"`, RSSI: -70},
	}}

	if _, ok := fp.Find("lab-net"); !ok {
		t.Fatal("Find should match quoted SSID")
	}
	if _, ok := fp.Find(`"lab-net"`); !ok {
		t.Fatal("Find should match when the query is quoted too")
	}
}

func TestSSIDsDeduplicates(t *testing.T) {
	fp := wifi.Fingerprint{Observations: []wifi.Observation{
		{BSSID: "aa:aa", SSID: "lab-net", RSSI: -80},
		{BSSID: "bb:bb", SSID: `"lab-net"`, RSSI: -62},
		{BSSID: "cc:cc", SSID: "other", RSSI: -40},
	}}

	got := fp.SSIDs()
	slices.Sort(got)
	want := []string{"lab-net", "other"}
	if !slices.Equal(got, want) {
		t.Fatalf("SSIDs = %v, want %v", got, want)
	}
}

func TestEmpty(t *testing.T) {
	if !(wifi.Fingerprint{}).Empty() {
		t.Fatal("zero fingerprint should be empty")
	}
	fp := wifi.Fingerprint{Observations: []wifi.Observation{{SSID: "x"}}}
	if fp.Empty() {
		t.Fatal("non-empty fingerprint reported empty")
	}
}

func TestReplaySequence(t *testing.T) {
	ctx := context.Background()
	r := wifi.NewReplay(
		wifi.Fingerprint{Observations: []wifi.Observation{{SSID: "a", RSSI: -50}}},
		wifi.Fingerprint{Observations: []wifi.Observation{{SSID: "b", RSSI: -60}}},
	)

	fp, err := r.Scan(ctx)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if fp.Observations[0].SSID != "a" {
		t.Fatalf("first scan = %q, want a", fp.Observations[0].SSID)
	}

	fp, _ = r.Scan(ctx)
	if fp.Observations[0].SSID != "b" {
		t.Fatalf("second scan = %q, want b", fp.Observations[0].SSID)
	}

	// Without Loop, the last fingerprint repeats.
	fp, _ = r.Scan(ctx)
	if fp.Observations[0].SSID != "b" {
		t.Fatalf("third scan = %q, want b (hold last)", fp.Observations[0].SSID)
	}
}

func TestReplayLoop(t *testing.T) {
	ctx := context.Background()
	r := wifi.NewReplay(
		wifi.Fingerprint{Observations: []wifi.Observation{{SSID: "a"}}},
		wifi.Fingerprint{Observations: []wifi.Observation{{SSID: "b"}}},
	)
	r.Loop = true

	var got []string
	for range 4 {
		fp, err := r.Scan(ctx)
		if err != nil {
			t.Fatalf("Scan: %v", err)
		}
		got = append(got, fp.Observations[0].SSID)
	}
	want := []string{"a", "b", "a", "b"}
	if !slices.Equal(got, want) {
		t.Fatalf("loop sequence = %v, want %v", got, want)
	}
}

func TestReplayEmptyIsRadioOff(t *testing.T) {
	r := wifi.NewReplay()
	_, err := r.Scan(context.Background())
	if !errors.Is(err, wifi.ErrRadioOff) {
		t.Fatalf("Scan = %v, want ErrRadioOff", err)
	}
}

func TestLoadReplay(t *testing.T) {
	input := strings.Join([]string{
		`{"observations":[{"bssid":"aa:aa","ssid":"lab-net","rssi":-70}]}`,
		``,
		`{"observations":[{"bssid":"aa:aa","ssid":"lab-net","rssi":-90}]}`,
	}, "\n")

	r, err := wifi.LoadReplay(strings.NewReader(input))
	if err != nil {
		t.Fatalf("LoadReplay: %v", err)
	}

	fp, err := r.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if got := fp.Observations[0].RSSI; got != -70 {
		t.Fatalf("first replayed RSSI = %d, want -70", got)
	}
	if fp.Taken.IsZero() {
		t.Fatal("replayed fingerprint should carry a fresh Taken stamp")
	}
}

func TestLoadReplayBadLine(t *testing.T) {
	_, err := wifi.LoadReplay(strings.NewReader("{not json}\n"))
	if err == nil {
		t.Fatal("expected error for malformed replay line")
	}
	if !strings.Contains(err.Error(), "line 1") {
		t.Fatalf("error should name the line: %v", err)
	}
}
