package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"activewatcher/internal/client"
	"activewatcher/internal/watcher"
)

var (
	idleSource      string
	idleSessionID   string
	idleThreshold   int
	idlePoll        float64
	idleHeartbeat   int
	idleLockProcess string
	idleEndOnExit   bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run a watcher that reports to the server",
}

var watchIdleCmd = &cobra.Command{
	Use:   "idle",
	Short: "Report logind idle and lock state (bucket idle)",
	Long: `Poll the systemd-logind session over the system D-Bus and report
whether the user is away. A running lock-screen process counts as away.`,
	RunE: runWatchIdle,
}

func init() {
	f := watchIdleCmd.Flags()
	f.StringVar(&idleSource, "source", "", "source name (default from config)")
	f.StringVar(&idleSessionID, "session", "", "logind session ID (default $XDG_SESSION_ID)")
	f.IntVar(&idleThreshold, "threshold-seconds", 0, "idle time before reporting AFK")
	f.Float64Var(&idlePoll, "poll-seconds", 0, "poll interval")
	f.IntVar(&idleHeartbeat, "heartbeat-seconds", 0, "resend unchanged state this often; 0 disables")
	f.StringVar(&idleLockProcess, "lock-process", "", `treat as AFK while this process runs ("" disables)`)
	f.BoolVar(&idleEndOnExit, "end-on-exit", true, "close the idle interval on shutdown")

	watchCmd.AddCommand(watchIdleCmd)
}

func runWatchIdle(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	idle := cfg.Watch.Idle
	flags := cmd.Flags()
	if flags.Changed("source") {
		idle.Source = idleSource
	}
	if flags.Changed("threshold-seconds") {
		idle.ThresholdSeconds = idleThreshold
	}
	if flags.Changed("poll-seconds") {
		idle.PollSeconds = idlePoll
	}
	if flags.Changed("heartbeat-seconds") {
		idle.HeartbeatSeconds = idleHeartbeat
	}
	if flags.Changed("lock-process") {
		idle.LockProcess = idleLockProcess
	}
	if idle.Source == "" {
		return fmt.Errorf("--source must not be empty")
	}

	logger, err := newLogger(cfg.Logging, "watcher")
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session, err := watcher.ConnectLogind(ctx, idleSessionID)
	if err != nil {
		return err
	}
	defer session.Close()

	c := client.New(cfg.Watch.ServerURL, time.Duration(cfg.Watch.TimeoutSec)*time.Second)
	reporter := client.NewReporter(c, client.ReporterConfig{
		Bucket:    watcher.BucketIdle,
		Source:    idle.Source,
		Heartbeat: time.Duration(idle.HeartbeatSeconds) * time.Second,
		Logger:    logger,
	})

	w := watcher.NewIdle(session, reporter, watcher.Config{
		Threshold:   time.Duration(idle.ThresholdSeconds) * time.Second,
		Poll:        time.Duration(idle.PollSeconds * float64(time.Second)),
		LockProcess: idle.LockProcess,
		EndOnExit:   idleEndOnExit,
		Logger:      logger,
	})
	return w.Run(ctx)
}
