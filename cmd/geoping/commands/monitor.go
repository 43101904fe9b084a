package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/geoping/geoping/pkg/auth"
	"github.com/geoping/geoping/pkg/channel"
	"github.com/geoping/geoping/pkg/presence"
	"github.com/geoping/geoping/pkg/rooms"
	"github.com/geoping/geoping/pkg/wifi"
)

var (
	monitorPolicy   string
	monitorReplay   string
	monitorLoop     bool
	monitorInterval time.Duration
	monitorConfirm  int
	monitorEnter    int
	monitorExit     int
	monitorHolder   string
	monitorOffline  bool
)

var (
	statusLabel = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00ff9f"))
	statusDim   = lipgloss.NewStyle().Foreground(lipgloss.Color("#6e7681"))
	msgSender   = lipgloss.NewStyle().Bold(true)
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Run the presence monitor",
	Long: `Scan periodically, classify every subscribed room, and join or leave
its messaging channel on presence transitions.

Scans come from a recorded trace (--replay): one JSON fingerprint per
line, as written by platform scan recorders. With --loop the trace
repeats; otherwise the last fingerprint holds.

The local policy compares signal strength against enter/exit thresholds.
The remote policy asks the server's trained model and debounces with a
confirmation count.

Examples:
  geoping monitor --replay scans.ndjson --policy local
  geoping monitor --replay scans.ndjson --policy remote --confirm 3
  geoping monitor --replay scans.ndjson --offline   # no channel, local only`,
	RunE: runMonitor,
}

func runMonitor(cmd *cobra.Command, args []string) error {
	cfg, err := GetConfig()
	if err != nil {
		return err
	}

	policy := monitorPolicy
	if policy == "" {
		policy = cfg.Presence.Policy
	}
	if policy == "" {
		policy = "local"
	}
	if policy != "local" && policy != "remote" {
		return fmt.Errorf("unknown policy %q (want local or remote)", policy)
	}
	if monitorOffline && policy == "remote" {
		return fmt.Errorf("--offline requires the local policy")
	}
	if monitorReplay == "" {
		return fmt.Errorf("--replay is required: no platform radio is available here")
	}

	scanner, err := wifi.LoadReplayFile(monitorReplay)
	if err != nil {
		return err
	}
	scanner.Loop = monitorLoop

	backend, err := openKV()
	if err != nil {
		return err
	}
	defer backend.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	roomStore := rooms.NewStore(backend)
	authStore := auth.NewStore(backend)

	var endpoint string
	if !monitorOffline {
		endpoint, err = resolveEndpoint(ctx, roomStore)
		if err != nil {
			return err
		}
	}

	creds, credErr := authStore.Load(ctx)
	if credErr != nil && !errors.Is(credErr, auth.ErrNoCredentials) {
		return credErr
	}

	// Oracle.
	enter := monitorEnter
	if enter == 0 {
		enter = cfg.Presence.EnterThreshold
	}
	exit := monitorExit
	if exit == 0 {
		exit = cfg.Presence.ExitThreshold
	}
	var oracle presence.Oracle
	switch policy {
	case "local":
		oracle, err = presence.NewHysteresis(enter, exit)
		if err != nil {
			return err
		}
	case "remote":
		if credErr != nil {
			return fmt.Errorf("remote policy needs a credential: run 'geoping login' first")
		}
		oracle = &presence.Remote{
			BaseURL:       endpoint,
			Authorization: creds.AuthorizationHeader,
		}
	}

	confirm := monitorConfirm
	if confirm == 0 {
		confirm = cfg.Presence.ConfirmCount
	}
	if confirm == 0 {
		if policy == "remote" {
			confirm = 2
		} else {
			confirm = 1
		}
	}
	tracker := presence.NewTracker(confirm)

	// Messaging channel.
	if !monitorOffline {
		manager := channel.NewManager(channel.Config{})
		defer manager.Disconnect()

		if credErr == nil {
			if err := manager.Connect(ctx, endpoint, creds.Token); err != nil {
				slog.Warn("messaging channel unavailable", "error", err)
			}
		} else {
			slog.Warn("not logged in; presence runs without messaging")
		}

		unbind := presence.BindChannel(tracker, manager, monitorHolder, slog.Default())
		defer unbind()

		cancelMsg := manager.On(channel.EventNewMessage, func(data json.RawMessage) {
			var msg channel.Message
			if err := json.Unmarshal(data, &msg); err != nil {
				return
			}
			fmt.Printf("%s %s %s\n",
				statusDim.Render("["+msg.RoomID+"]"),
				msgSender.Render(msg.Sender+":"),
				msg.Body)
		})
		defer cancelMsg()
	}

	interval := monitorInterval
	if interval == 0 {
		interval = cfg.ScanInterval()
	}

	mon, err := presence.NewMonitor(presence.MonitorConfig{
		Scanner:   scanner,
		Oracle:    oracle,
		Tracker:   tracker,
		Rooms:     roomStore,
		Interval:  interval,
		DropAfter: cfg.Presence.DropAfter,
		Status: func(text string) {
			fmt.Printf("%s %s\n", statusLabel.Render("presence"), statusDim.Render(text))
		},
		OnAuthExpired: func() {
			slog.Warn("credential expired; run 'geoping login' again")
		},
	})
	if err != nil {
		return err
	}

	if err := mon.Start(ctx); err != nil {
		return err
	}
	fmt.Printf("%s policy=%s confirm=%d interval=%s (ctrl-c to stop)\n",
		statusLabel.Render("monitor"), policy, confirm, intervalString(interval))

	<-ctx.Done()
	mon.Stop()
	return nil
}

func intervalString(d time.Duration) string {
	if d == 0 {
		return presence.DefaultMonitorInterval.String()
	}
	return d.String()
}

func init() {
	monitorCmd.Flags().StringVar(&monitorPolicy, "policy", "", "presence policy: local or remote (default from config, else local)")
	monitorCmd.Flags().StringVar(&monitorReplay, "replay", "", "recorded scan trace, one JSON fingerprint per line")
	monitorCmd.Flags().BoolVar(&monitorLoop, "loop", false, "repeat the trace instead of holding the last fingerprint")
	monitorCmd.Flags().DurationVar(&monitorInterval, "interval", 0, "scan period (default 10s)")
	monitorCmd.Flags().IntVar(&monitorConfirm, "confirm", 0, "consecutive confirming verdicts per transition")
	monitorCmd.Flags().IntVar(&monitorEnter, "enter", 0, "enter threshold in dBm (local policy)")
	monitorCmd.Flags().IntVar(&monitorExit, "exit", 0, "exit threshold in dBm (local policy)")
	monitorCmd.Flags().StringVar(&monitorHolder, "holder", "monitor", "membership holder tag for this process")
	monitorCmd.Flags().BoolVar(&monitorOffline, "offline", false, "run without server or messaging channel")

	rootCmd.AddCommand(monitorCmd)
}
