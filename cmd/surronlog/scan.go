package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/surronlog/internal/session"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Continuously scan for Surron devices",
	Long: `Runs continuous BLE discovery and prints Surron devices as they appear and expire.

A device is listed when its advertised name starts with the configured prefix
(device.name_prefix, "surron-" by default, case-insensitive). Devices not heard
from within scan.stale_after are reported as gone.

Examples:
  # Scan until Ctrl+C
  surronlog scan

  # Scan for 30 seconds and print a table of devices still in range
  surronlog scan --duration 30s

  # Same, as JSON
  surronlog scan -d 30s --format json`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

var (
	scanDuration time.Duration
	scanFormat   string
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 0, "Scan duration (0 scans until Ctrl+C)")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "table", "Summary format (table, json)")
}

// scanResult is the JSON shape of one device in the summary
type scanResult struct {
	Address  string    `json:"address"`
	Name     string    `json:"name"`
	RSSI     int       `json:"rssi"`
	LastSeen time.Time `json:"last_seen"`
}

func runScan(cmd *cobra.Command, args []string) error {
	if scanFormat != "table" && scanFormat != "json" {
		return fmt.Errorf("invalid format '%s': must be one of [table json]", scanFormat)
	}

	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cfg.Scan.AutoStart = true

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, stop := signalContext(cmd)
	defer stop()
	if scanDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, scanDuration)
		defer cancel()
	}

	out := &lockedWriter{w: cmd.OutOrStdout()}
	printer := newPrinter(cmd, out, PrinterOptions{Devices: true, Status: true, Timestamp: true})

	r, err := startSession(cfg, logger, out, printer)
	if err != nil {
		return err
	}
	defer r.Close()

	<-ctx.Done()

	// Snapshot before shutdown: stopping the scan clears the registry
	var devices []session.DeviceRecord
	for _, d := range r.ctrl.Devices() {
		if cfg.Device.MatchesPrefix(d.Name) {
			devices = append(devices, d)
		}
	}
	r.Close()

	if scanDuration == 0 {
		// Interrupted by the user, nothing more to report
		return nil
	}
	return writeScanSummary(out, devices)
}

func writeScanSummary(out io.Writer, devices []session.DeviceRecord) error {
	if scanFormat == "json" {
		results := make([]scanResult, 0, len(devices))
		for _, d := range devices {
			results = append(results, scanResult{Address: d.Address, Name: d.Name, RSSI: d.RSSI, LastSeen: d.LastSeen})
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	if len(devices) == 0 {
		_, err := fmt.Fprintln(out, "No devices in range")
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tADDRESS\tRSSI\tLAST SEEN")
	for _, d := range devices {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d dBm\t%s\n", d.Name, d.Address, d.RSSI, d.LastSeen.Format(timeLayout))
	}
	return w.Flush()
}
