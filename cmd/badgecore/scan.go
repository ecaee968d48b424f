package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/joehacksalot/badgecore/internal/bleobserver"
)

// scanCmd runs a BLE scan standalone, printing what it sees instead of
// dispatching PeerHeartbeatDetected events to a running core — adapted from
// cmd/blim/scan.go's single/watch scan modes, pointed at
// internal/bleobserver.ScanHost instead of the teacher's device.Scanner.
// Sightings are keyed by manufacturer data, so advertisements carrying the
// same manufacturer payload collapse into one row holding the latest RSSI.
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for nearby badges and BLE peripherals",
	Long: `Runs a BLE scan standalone and prints the manufacturer data of each
advertisement observed, as hex, with its RSSI and last-seen time. Peer badge
beacons are not decoded, and service data is not shown.`,
	RunE: runScan,
}

var (
	scanDuration    time.Duration
	scanFormat      string
	scanNoDuplicate bool
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 10*time.Second, "Scan duration (0 for indefinite)")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "table", "Output format (table, json)")
	scanCmd.Flags().BoolVar(&scanNoDuplicate, "no-duplicates", true, "Filter duplicate advertisements")
	scanCmd.Flags().Bool("verbose", false, "Verbose logging")
}

type scanSighting struct {
	ManufacturerDataHex string    `json:"manufacturer_data_hex"`
	RSSI                int       `json:"rssi"`
	LastSeen            time.Time `json:"last_seen"`
}

func runScan(cmd *cobra.Command, args []string) error {
	if scanFormat != "table" && scanFormat != "json" {
		return fmt.Errorf("invalid format %q: must be table or json", scanFormat)
	}

	logger, err := configureLogger(cmd, "verbose")
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	host, err := newTinygoAdapter()
	if err != nil {
		return err
	}

	baseCtx := cmd.Context()
	if scanDuration > 0 {
		var cancel context.CancelFunc
		baseCtx, cancel = context.WithTimeout(baseCtx, scanDuration)
		defer cancel()
	}
	ctx, cancel := context.WithCancel(baseCtx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		fmt.Println("\nCtrl+C pressed, cancelling scan...")
		cancel()
	}()

	progress := NewCountdownProgressPrinter("Scanning for badges", "Scanning", scanDuration, "Processing results")
	progress.Start()
	defer progress.Stop()

	sightings := make(map[string]scanSighting)
	err = host.Scan(ctx, scanNoDuplicate, func(adv bleobserver.Advertisement) {
		key := fmt.Sprintf("%x", adv.ManufacturerData())
		sightings[key] = scanSighting{
			ManufacturerDataHex: key,
			RSSI:                adv.RSSI(),
			LastSeen:            time.Now(),
		}
	})
	progress.Stop()

	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		logger.WithError(err).Error("scan failed")
		return err
	}

	if scanFormat == "json" {
		return displaySightingsJSON(sightings)
	}
	return displaySightingsTable(sightings)
}

func displaySightingsTable(sightings map[string]scanSighting) error {
	keys := make([]string, 0, len(sightings))
	for k := range sightings {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "MANUFACTURER DATA\tRSSI\tLAST SEEN")
	for _, k := range keys {
		s := sightings[k]
		fmt.Fprintf(w, "%s\t%d\t%s\n", s.ManufacturerDataHex, s.RSSI, s.LastSeen.Format(time.RFC3339))
	}
	return w.Flush()
}

func displaySightingsJSON(sightings map[string]scanSighting) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(sightings)
}
