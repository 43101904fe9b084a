package presence

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/geoping/geoping/pkg/auth"
	"github.com/geoping/geoping/pkg/rooms"
	"github.com/geoping/geoping/pkg/wifi"
)

// Remote is the confidence oracle. It posts the fingerprint to the scoring
// endpoint and parses the inside/confidence verdict. Any transport failure,
// non-2xx status, or malformed response makes the tick inconclusive: the
// caller retains the previous presence record and retries next cycle.
type Remote struct {
	// BaseURL is the server root, e.g. "http://10.0.0.2:3000".
	BaseURL string

	// HTTPClient is used for scoring requests. Defaults to a client with a
	// 10 second timeout.
	HTTPClient *http.Client

	// Authorization supplies the Authorization header value for each
	// request, e.g. auth.Credentials.AuthorizationHeader. Optional.
	Authorization func() string
}

type scoreRequest struct {
	RoomID          string             `json:"room_id"`
	WifiScanResults []wifi.Observation `json:"wifi_scan_results"`
}

type scoreResponse struct {
	Inside     bool    `json:"inside"`
	Confidence float64 `json:"confidence"`
	Message    string  `json:"message"`
}

func (r *Remote) httpClient() *http.Client {
	if r.HTTPClient != nil {
		return r.HTTPClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}

// Classify scores the fingerprint against the room's learned signature.
func (r *Remote) Classify(ctx context.Context, room rooms.Room, fp wifi.Fingerprint) (Decision, error) {
	payload := scoreRequest{
		RoomID:          room.ID,
		WifiScanResults: fp.Observations,
	}
	if payload.WifiScanResults == nil {
		payload.WifiScanResults = []wifi.Observation{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Decision{}, fmt.Errorf("presence: encode scoring request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.BaseURL+"/api/presence/update", bytes.NewReader(body))
	if err != nil {
		return Decision{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if r.Authorization != nil {
		if header := r.Authorization(); header != "" {
			req.Header.Set("Authorization", header)
		}
	}

	resp, err := r.httpClient().Do(req)
	if err != nil {
		return Decision{}, fmt.Errorf("presence: scoring request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Decision{}, fmt.Errorf("presence: read scoring response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return Decision{}, fmt.Errorf("%w: scoring endpoint returned HTTP %d", auth.ErrUnauthorized, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		var parsed scoreResponse
		_ = json.Unmarshal(raw, &parsed)
		if parsed.Message != "" {
			return Decision{}, fmt.Errorf("presence: scoring endpoint HTTP %d: %s", resp.StatusCode, parsed.Message)
		}
		return Decision{}, fmt.Errorf("presence: scoring endpoint HTTP %d", resp.StatusCode)
	}

	var parsed scoreResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Decision{}, fmt.Errorf("presence: decode scoring response: %w", err)
	}

	verdict := VerdictOutside
	if parsed.Inside {
		verdict = VerdictInside
	}
	return Decision{Verdict: verdict, Confidence: parsed.Confidence}, nil
}
