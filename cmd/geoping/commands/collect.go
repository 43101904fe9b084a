package commands

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/geoping/geoping/pkg/auth"
	"github.com/geoping/geoping/pkg/collect"
	"github.com/geoping/geoping/pkg/presence"
	"github.com/geoping/geoping/pkg/rooms"
	"github.com/geoping/geoping/pkg/wifi"
)

var (
	collectReplay   string
	collectCount    int
	collectInterval time.Duration
)

var collectCmd = &cobra.Command{
	Use:   "collect <room-label>",
	Short: "Submit labeled fingerprints as training data",
	Long: `Submit fingerprints labeled with a room so the server can learn its
signature. Sampling runs at the collection cadence (3s) until --count
samples are sent or the trace runs out.

Examples:
  geoping collect office --replay scans.ndjson --count 30`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		label := args[0]
		if collectReplay == "" {
			return fmt.Errorf("--replay is required: no platform radio is available here")
		}
		scanner, err := wifi.LoadReplayFile(collectReplay)
		if err != nil {
			return err
		}

		client, closeKV, err := newCollectClient(cmd)
		if err != nil {
			return err
		}
		defer closeKV()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		interval := collectInterval
		if interval == 0 {
			interval = presence.CollectionInterval
		}

		sent := 0
		for sent < collectCount {
			fp, err := scanner.Scan(ctx)
			if err != nil {
				if errors.Is(err, wifi.ErrRadioOff) {
					break // empty trace
				}
				return err
			}
			if err := client.Submit(ctx, label, fp); err != nil {
				return err
			}
			sent++
			fmt.Printf("sample %d/%d sent\n", sent, collectCount)

			if sent == collectCount {
				break
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(interval):
			}
		}

		status, err := client.CheckSamples(ctx, label)
		if err != nil {
			return err
		}
		fmt.Printf("%s: %d/%d samples, can_train=%v\n",
			status.RoomLabel, status.SampleCount, status.MinRequired, status.CanTrain)
		return nil
	},
}

var checkSamplesCmd = &cobra.Command{
	Use:   "check-samples <room-label>",
	Short: "Show how much training data a room has",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, closeKV, err := newCollectClient(cmd)
		if err != nil {
			return err
		}
		defer closeKV()

		status, err := client.CheckSamples(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("%s: %d/%d samples, can_train=%v\n",
			status.RoomLabel, status.SampleCount, status.MinRequired, status.CanTrain)
		if status.Message != "" {
			fmt.Println(status.Message)
		}
		return nil
	},
}

var trainCmd = &cobra.Command{
	Use:   "train <room-label>",
	Short: "Train the server model for a room",
	Long: `Start server-side training for a room label and stream its progress.
Training needs enough samples; check with 'geoping check-samples' first.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, closeKV, err := newCollectClient(cmd)
		if err != nil {
			return err
		}
		defer closeKV()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		for ev, err := range client.Train(ctx, args[0]) {
			if err != nil {
				return err
			}
			switch ev.Type {
			case collect.TrainError:
				return fmt.Errorf("training failed: %s", ev.Message)
			case collect.TrainComplete:
				fmt.Printf("training complete: %s (%d samples)\n", ev.Message, ev.SampleCount)
			default:
				fmt.Println(ev.Message)
			}
		}
		return nil
	},
}

// newCollectClient builds a collection client with endpoint, credential,
// and a stable device ID. The returned func closes the backing store.
func newCollectClient(cmd *cobra.Command) (*collect.Client, func(), error) {
	cfg, err := GetConfig()
	if err != nil {
		return nil, nil, err
	}

	backend, err := openKV()
	if err != nil {
		return nil, nil, err
	}
	closeKV := func() { backend.Close() }

	ctx := cmd.Context()
	endpoint, err := resolveEndpoint(ctx, rooms.NewStore(backend))
	if err != nil {
		closeKV()
		return nil, nil, err
	}

	if cfg.DeviceID == "" {
		cfg.DeviceID = uuid.NewString()
		if err := cfg.Save(); err != nil {
			closeKV()
			return nil, nil, err
		}
	}

	client := &collect.Client{
		BaseURL:  endpoint,
		DeviceID: cfg.DeviceID,
	}
	if creds, err := auth.NewStore(backend).Load(ctx); err == nil {
		client.Authorization = creds.AuthorizationHeader
	}
	return client, closeKV, nil
}

func init() {
	collectCmd.Flags().StringVar(&collectReplay, "replay", "", "recorded scan trace, one JSON fingerprint per line")
	collectCmd.Flags().IntVar(&collectCount, "count", 30, "number of samples to submit")
	collectCmd.Flags().DurationVar(&collectInterval, "interval", 0, "sampling period (default 3s)")

	rootCmd.AddCommand(collectCmd)
	rootCmd.AddCommand(checkSamplesCmd)
	rootCmd.AddCommand(trainCmd)
}
