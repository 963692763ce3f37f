package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/blimon/internal/backend/goble"
	"github.com/srg/blimon/internal/backend/tinygo"
	"github.com/srg/blimon/internal/central"
	"github.com/srg/blimon/internal/groutine"
	"github.com/srg/blimon/pkg/config"
)

// monitorCmd represents the monitor command
var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Monitor peripherals exposing the service signature",
	Long: `Register interest in the monitored service, connect every peripheral that
shows up and walk it through service discovery, characteristic discovery and
notification subscription. The peripheral table and the event log are redrawn
on every change.

Without auto-connect, peripherals wait in awaiting_connection until selected
with --select.`,
	Example: `  blimon monitor
  blimon monitor --service 180D --characteristic 2A37
  blimon monitor --auto-connect=false --select 0
  blimon monitor --format json --backend tinygo`,
	RunE: runMonitor,
}

var (
	monitorBackend        string
	monitorService        string
	monitorCharacteristic string
	monitorAutoConnect    bool
	monitorSelect         int
	monitorFormat         string
	monitorConnectTimeout time.Duration
	monitorStageTimeout   time.Duration
	monitorLogTail        int
)

// newController creates the platform backend. Replaced in tests.
var newController = func(backend string, logger *logrus.Logger) (central.Controller, error) {
	switch backend {
	case config.BackendGoBLE:
		return goble.NewController(logger), nil
	case config.BackendTinyGo:
		return tinygo.NewController(logger), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", backend)
	}
}

func init() {
	monitorCmd.Flags().StringVarP(&monitorBackend, "backend", "b", config.BackendGoBLE, "BLE backend (goble, tinygo)")
	monitorCmd.Flags().StringVarP(&monitorService, "service", "s", central.DefaultServiceUUID, "Monitored service UUID")
	monitorCmd.Flags().StringVarP(&monitorCharacteristic, "characteristic", "c", central.DefaultCharacteristicUUID, "Monitored characteristic UUID")
	monitorCmd.Flags().BoolVar(&monitorAutoConnect, "auto-connect", true, "Connect peripherals as soon as they show up")
	monitorCmd.Flags().IntVar(&monitorSelect, "select", -1, "Connect the peripheral at this row once it is listed (-1 for none)")
	monitorCmd.Flags().StringVarP(&monitorFormat, "format", "f", config.FormatTable, "Output format (table, json)")
	monitorCmd.Flags().DurationVar(&monitorConnectTimeout, "connect-timeout", central.DefaultConnectTimeout, "Connection timeout (0 to wait forever)")
	monitorCmd.Flags().DurationVar(&monitorStageTimeout, "stage-timeout", central.DefaultStageTimeout, "Discovery stage timeout (0 to wait forever)")
	monitorCmd.Flags().IntVar(&monitorLogTail, "log-tail", defaultLogTail, "Event log lines shown in the table (0 for all)")
}

// applyMonitorFlags overrides the configuration with explicitly set flags.
func applyMonitorFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("backend") {
		cfg.Backend = monitorBackend
	}
	if flags.Changed("service") {
		cfg.ServiceUUID = monitorService
	}
	if flags.Changed("characteristic") {
		cfg.CharacteristicUUID = monitorCharacteristic
	}
	if flags.Changed("auto-connect") {
		cfg.AutoConnect = monitorAutoConnect
	}
	if flags.Changed("format") {
		cfg.OutputFormat = monitorFormat
	}
	if flags.Changed("connect-timeout") {
		cfg.ConnectTimeout = monitorConnectTimeout
	}
	if flags.Changed("stage-timeout") {
		cfg.StageTimeout = monitorStageTimeout
	}
}

func runMonitor(cmd *cobra.Command, _ []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	applyMonitorFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctrl, err := newController(cfg.Backend, logger)
	if err != nil {
		return err
	}
	c, err := central.New(ctrl, logger, cfg.CentralOptions())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r := newRenderer(cmd.OutOrStdout(), cfg.OutputFormat, monitorLogTail)
	return monitor(ctx, c, r, monitorSelect, cmd.ErrOrStderr())
}

// monitor runs c until ctx is cancelled, redrawing on every change and
// printing status events to errOut. A selectRow >= 0 is connected once the
// peripheral list is long enough.
func monitor(ctx context.Context, c *central.Central, r *renderer, selectRow int, errOut io.Writer) error {
	changed := make(chan struct{}, 1)
	c.OnChange(func(central.Change) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})

	runErr := make(chan error, 1)
	groutine.Go(ctx, "monitor-central", func(ctx context.Context) {
		runErr <- c.Run(ctx)
	})

	selected := selectRow < 0
	status := c.Status()
	for {
		select {
		case err := <-runErr:
			// status is closed before Run returns
			if status != nil {
				for ev := range status {
					printStatus(errOut, ev)
				}
			}
			if err != nil {
				return err
			}
			if err := r.Render(takeSnapshot(c)); err != nil {
				return err
			}
			return ctx.Err()

		case ev, ok := <-status:
			if !ok {
				status = nil
				continue
			}
			printStatus(errOut, ev)

		case <-changed:
			if !selected && len(c.Peripherals()) > selectRow {
				selected = true
				if _, err := c.SelectRow(ctx, selectRow); err != nil {
					printStatus(errOut, central.StatusEvent{Time: time.Now(), Err: err})
				}
			}
			if err := r.Render(takeSnapshot(c)); err != nil {
				return err
			}
		}
	}
}

func printStatus(w io.Writer, ev central.StatusEvent) {
	prefix := color.YellowString("WARN")
	if ev.Peer != "" {
		prefix += " " + string(ev.Peer)
	}
	fmt.Fprintf(w, "%s %s\n", prefix, FormatUserError(ev.Err))
}
