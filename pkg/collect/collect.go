// Package collect talks to the training side of the backend: submitting
// labeled fingerprints, checking sample counts, and driving model training.
package collect

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"time"

	"github.com/geoping/geoping/pkg/auth"
	"github.com/geoping/geoping/pkg/wifi"
)

// Train event types.
const (
	TrainLog      = "log"
	TrainError    = "error"
	TrainComplete = "complete"
)

// Client issues the data-collection and training requests.
type Client struct {
	// BaseURL is the server root, e.g. "http://10.0.0.2:3000".
	BaseURL string

	// DeviceID identifies this install in submitted samples.
	DeviceID string

	// HTTPClient defaults to a client with a 10 second timeout. Train
	// overrides the timeout to zero for the duration of the stream.
	HTTPClient *http.Client

	// Authorization supplies the Authorization header value. Optional.
	Authorization func() string
}

// SampleStatus reports how much training data a room label has.
type SampleStatus struct {
	RoomLabel   string `json:"room_label"`
	SampleCount int    `json:"sample_count"`
	MinRequired int    `json:"min_required"`
	CanTrain    bool   `json:"can_train"`
	Message     string `json:"message"`
}

// TrainEvent is one line of the training progress stream.
type TrainEvent struct {
	Type        string `json:"type"`
	Message     string `json:"message"`
	Success     bool   `json:"success"`
	RoomLabel   string `json:"room_label"`
	SampleCount int    `json:"sample_count"`
}

type submitRequest struct {
	RoomLabel       string             `json:"room_label"`
	DeviceID        string             `json:"device_id"`
	WifiScanResults []wifi.Observation `json:"wifi_scan_results"`
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Authorization != nil {
		if header := c.Authorization(); header != "" {
			req.Header.Set("Authorization", header)
		}
	}
	return req, nil
}

func checkStatus(resp *http.Response, raw []byte) error {
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: HTTP %d", auth.ErrUnauthorized, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		var body struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		_ = json.Unmarshal(raw, &body)
		if body.Message != "" {
			return fmt.Errorf("collect: HTTP %d: %s", resp.StatusCode, body.Message)
		}
		if body.Error != "" {
			return fmt.Errorf("collect: HTTP %d: %s", resp.StatusCode, body.Error)
		}
		return fmt.Errorf("collect: HTTP %d", resp.StatusCode)
	}
	return nil
}

// Submit stores one labeled fingerprint as training data for the room.
func (c *Client) Submit(ctx context.Context, roomLabel string, fp wifi.Fingerprint) error {
	payload := submitRequest{
		RoomLabel:       roomLabel,
		DeviceID:        c.DeviceID,
		WifiScanResults: fp.Observations,
	}
	if payload.WifiScanResults == nil {
		payload.WifiScanResults = []wifi.Observation{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("collect: encode sample: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/collect", bytes.NewReader(body))
	if err != nil {
		return err
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("collect: submit sample: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	return checkStatus(resp, raw)
}

// CheckSamples reports the sample count for a room label and whether it
// meets the training minimum.
func (c *Client) CheckSamples(ctx context.Context, roomLabel string) (SampleStatus, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/check-samples/"+roomLabel, nil)
	if err != nil {
		return SampleStatus{}, err
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return SampleStatus{}, fmt.Errorf("collect: check samples: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return SampleStatus{}, fmt.Errorf("collect: read response: %w", err)
	}
	if err := checkStatus(resp, raw); err != nil {
		return SampleStatus{}, err
	}

	var status SampleStatus
	if err := json.Unmarshal(raw, &status); err != nil {
		return SampleStatus{}, fmt.Errorf("collect: decode sample status: %w", err)
	}
	return status, nil
}

// Train starts model training for a room label and streams its progress.
// The server writes one JSON event per line for the lifetime of the run;
// the sequence ends after the complete (or error) event, a decode failure,
// or a transport error. Training runs are long: pass a context with an
// appropriate deadline.
func (c *Client) Train(ctx context.Context, roomLabel string) iter.Seq2[TrainEvent, error] {
	return func(yield func(TrainEvent, error) bool) {
		req, err := c.newRequest(ctx, http.MethodPost, "/api/train/"+roomLabel, nil)
		if err != nil {
			yield(TrainEvent{}, err)
			return
		}

		// The stream outlives any sane per-request timeout.
		client := &http.Client{Transport: c.httpClient().Transport}
		resp, err := client.Do(req)
		if err != nil {
			yield(TrainEvent{}, fmt.Errorf("collect: start training: %w", err))
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
			yield(TrainEvent{}, checkStatus(resp, raw))
			return
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var ev TrainEvent
			if err := json.Unmarshal(line, &ev); err != nil {
				yield(TrainEvent{}, fmt.Errorf("collect: decode training event: %w", err))
				return
			}
			if !yield(ev, nil) {
				return
			}
			if ev.Type == TrainComplete || ev.Type == TrainError {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			yield(TrainEvent{}, fmt.Errorf("collect: read training stream: %w", err))
		}
	}
}
