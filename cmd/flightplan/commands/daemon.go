package commands

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/marcus/flightplan/internal/config"
	"github.com/marcus/flightplan/internal/daemon"
	"github.com/marcus/flightplan/internal/logging"
	"github.com/marcus/flightplan/internal/state"
)

const (
	pidFileName = "flightplan.pid"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Manage the rehearsal daemon",
	Long:  `Start, stop, or check status of the flightplan background daemon.`,
}

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the rehearsal daemon",
	Long: `Start the flightplan daemon as a background process.

The daemon rehearses every plan listed under daemon.plans on the
configured schedule (cron or interval), records outcomes in history
and state, and skips plans that already ran today.`,
	RunE: runDaemonStart,
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the rehearsal daemon",
	Long:  `Stop the running flightplan daemon by sending SIGTERM.`,
	RunE:  runDaemonStop,
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check daemon status",
	Long:  `Check if the flightplan daemon is running and show status information.`,
	RunE:  runDaemonStatus,
}

var daemonForegroundFlag bool

func init() {
	daemonStartCmd.Flags().BoolVarP(&daemonForegroundFlag, "foreground", "f", false, "Run in foreground (don't daemonize)")
	daemonCmd.AddCommand(daemonStartCmd)
	daemonCmd.AddCommand(daemonStopCmd)
	daemonCmd.AddCommand(daemonStatusCmd)
	rootCmd.AddCommand(daemonCmd)
}

// pidFilePath returns the path to the PID file.
func pidFilePath() string {
	return filepath.Join(config.DefaultDataDir(), pidFileName)
}

// ensurePidDir ensures the PID file directory exists.
func ensurePidDir() error {
	return os.MkdirAll(filepath.Dir(pidFilePath()), 0755)
}

// writePidFile writes the current process PID to the PID file.
func writePidFile() error {
	if err := ensurePidDir(); err != nil {
		return fmt.Errorf("creating pid dir: %w", err)
	}
	return os.WriteFile(pidFilePath(), []byte(strconv.Itoa(os.Getpid())), 0644)
}

// readPidFile reads the PID from the PID file.
func readPidFile() (int, error) {
	data, err := os.ReadFile(pidFilePath())
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(string(data))
}

// removePidFile removes the PID file.
func removePidFile() error {
	return os.Remove(pidFilePath())
}

// isProcessRunning checks if a process with the given PID is running.
func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// On Unix, FindProcess always succeeds; send signal 0 to check if alive
	err = process.Signal(syscall.Signal(0))
	return err == nil
}

// isDaemonRunning checks if the daemon is currently running.
func isDaemonRunning() (bool, int) {
	pid, err := readPidFile()
	if err != nil {
		return false, 0
	}
	return isProcessRunning(pid), pid
}

func runDaemonStart(cmd *cobra.Command, args []string) error {
	if running, pid := isDaemonRunning(); running {
		return fmt.Errorf("daemon already running (pid %d)", pid)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.Daemon.Schedule == "" && cfg.Daemon.Interval <= 0 {
		return fmt.Errorf("no schedule configured (set daemon.schedule or daemon.interval in config)")
	}
	if len(cfg.Daemon.Plans) == 0 {
		return fmt.Errorf("no plans configured (set daemon.plans in config)")
	}

	if daemonForegroundFlag {
		return runDaemonLoop(cfg)
	}

	// Daemonize: start a new process with --foreground flag
	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("getting executable: %w", err)
	}

	child := exec.Command(executable, "daemon", "start", "--foreground")
	child.Stdout = nil
	child.Stderr = nil
	child.Stdin = nil
	// Detach from parent process group
	child.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}

	if err := child.Start(); err != nil {
		return fmt.Errorf("starting daemon: %w", err)
	}

	fmt.Printf("daemon started (pid %d)\n", child.Process.Pid)
	return nil
}

func runDaemonLoop(cfg *config.Config) error {
	if err := initLogging(cfg); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	log := logging.Component("daemon")

	if err := writePidFile(); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer func() { _ = removePidFile() }()

	log.Info("daemon starting")

	// Scheduled runs are always rehearsals
	registry, err := buildRegistry(cfg, false)
	if err != nil {
		return fmt.Errorf("build registry: %w", err)
	}

	d, err := daemon.New(cfg, registry)
	if err != nil {
		return fmt.Errorf("init daemon: %w", err)
	}
	defer func() { _ = d.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Infof("received signal %v, shutting down", sig)
		cancel()
	}()

	if err := d.Run(ctx); err != nil && err != context.Canceled {
		return err
	}
	return nil
}

func runDaemonStop(cmd *cobra.Command, args []string) error {
	running, pid := isDaemonRunning()
	if !running {
		// Check if PID file exists but process is dead
		if _, err := readPidFile(); err == nil {
			_ = removePidFile()
			fmt.Println("daemon not running (stale pid file removed)")
			return nil
		}
		fmt.Println("daemon not running")
		return nil
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("finding process: %w", err)
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("sending SIGTERM: %w", err)
	}

	fmt.Printf("stopping daemon (pid %d)...\n", pid)

	timeout := time.After(10 * time.Second)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()

	for {
		select {
		case <-timeout:
			fmt.Println("daemon did not stop, sending SIGKILL")
			_ = process.Signal(syscall.SIGKILL)
			_ = removePidFile()
			return nil
		case <-tick.C:
			if !isProcessRunning(pid) {
				fmt.Println("daemon stopped")
				_ = removePidFile()
				return nil
			}
		}
	}
}

func runDaemonStatus(cmd *cobra.Command, args []string) error {
	running, pid := isDaemonRunning()

	if !running {
		fmt.Println("Status: not running")
		return nil
	}

	fmt.Printf("Status: running\n")
	fmt.Printf("PID: %d\n", pid)

	cfg, err := loadConfig(cmd)
	if err == nil {
		if cfg.Daemon.Interval > 0 {
			fmt.Printf("Schedule: every %s\n", cfg.Daemon.Interval)
		} else if cfg.Daemon.Schedule != "" {
			fmt.Printf("Schedule: cron %s\n", cfg.Daemon.Schedule)
		}
		if cfg.Daemon.Window.Start != "" || cfg.Daemon.Window.End != "" {
			fmt.Printf("Window: %s - %s", cfg.Daemon.Window.Start, cfg.Daemon.Window.End)
			if cfg.Daemon.Window.Timezone != "" {
				fmt.Printf(" (%s)", cfg.Daemon.Window.Timezone)
			}
			fmt.Println()
		}
		fmt.Printf("Plans: %d configured\n", len(cfg.Daemon.Plans))

		if st, err := state.New(cfg.ExpandedStatePath()); err == nil {
			today := st.TodaySummary()
			fmt.Printf("Today: %d run(s), %d succeeded, %d failed\n",
				today.Runs, today.Succeeded, today.Failed)
		}
	}

	fmt.Printf("PID file: %s\n", pidFilePath())
	return nil
}
