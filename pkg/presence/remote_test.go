package presence

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/geoping/geoping/pkg/auth"
	"github.com/geoping/geoping/pkg/rooms"
	"github.com/geoping/geoping/pkg/wifi"
)

func TestRemoteClassify(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/presence/update" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok123" {
			t.Errorf("Authorization = %q", got)
		}
		var req scoreRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		if req.RoomID != "r1" {
			t.Errorf("room_id = %q", req.RoomID)
		}
		if len(req.WifiScanResults) != 1 || req.WifiScanResults[0].SSID != "OfficeNet" {
			t.Errorf("wifi_scan_results = %+v", req.WifiScanResults)
		}
		json.NewEncoder(w).Encode(map[string]any{"inside": true, "confidence": 0.87})
	}))
	defer srv.Close()

	oracle := &Remote{
		BaseURL:       srv.URL,
		Authorization: func() string { return "Bearer tok123" },
	}
	d, err := oracle.Classify(context.Background(), rooms.Room{ID: "r1", SSID: "OfficeNet"},
		fingerprintWith("OfficeNet", -60))
	if err != nil {
		t.Fatal(err)
	}
	if d.Verdict != VerdictInside || d.Confidence != 0.87 {
		t.Errorf("got %v (%.2f), want inside (0.87)", d.Verdict, d.Confidence)
	}
}

func TestRemoteClassifyOutside(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"inside": false, "confidence": 0.12})
	}))
	defer srv.Close()

	oracle := &Remote{BaseURL: srv.URL}
	d, err := oracle.Classify(context.Background(), rooms.Room{ID: "r1"}, wifi.Fingerprint{})
	if err != nil {
		t.Fatal(err)
	}
	if d.Verdict != VerdictOutside || d.Confidence != 0.12 {
		t.Errorf("got %v (%.2f), want outside (0.12)", d.Verdict, d.Confidence)
	}
}

func TestRemoteClassifyUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	oracle := &Remote{BaseURL: srv.URL}
	_, err := oracle.Classify(context.Background(), rooms.Room{ID: "r1"}, wifi.Fingerprint{})
	if !errors.Is(err, auth.ErrUnauthorized) {
		t.Errorf("got %v, want auth.ErrUnauthorized", err)
	}
}

func TestRemoteClassifyServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"message": "model not trained"})
	}))
	defer srv.Close()

	oracle := &Remote{BaseURL: srv.URL}
	_, err := oracle.Classify(context.Background(), rooms.Room{ID: "r1"}, wifi.Fingerprint{})
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, auth.ErrUnauthorized) {
		t.Error("server error misclassified as unauthorized")
	}
}

func TestRemoteClassifyBadResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	oracle := &Remote{BaseURL: srv.URL}
	if _, err := oracle.Classify(context.Background(), rooms.Room{ID: "r1"}, wifi.Fingerprint{}); err == nil {
		t.Error("expected error on malformed response body")
	}
}

func TestRemoteClassifyUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	oracle := &Remote{BaseURL: srv.URL}
	if _, err := oracle.Classify(context.Background(), rooms.Room{ID: "r1"}, wifi.Fingerprint{}); err == nil {
		t.Error("expected error when the server is unreachable")
	}
}
