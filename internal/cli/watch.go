package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/lu-zhengda/portscope/internal/filter"
	"github.com/lu-zhengda/portscope/internal/port"
	"github.com/lu-zhengda/portscope/internal/reconcile"
	"github.com/lu-zhengda/portscope/internal/refresh"
	"github.com/spf13/cobra"
)

var (
	watchInterval int
	watchFilter   string
	watchAlert    bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print listeners as they open and close",
	Long: `Rescan periodically and print a line for every listener that
appears or disappears between consecutive scans.

With --alert, exits with an error as soon as a new listener appears
after the initial scan. Useful for security monitoring.`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().IntVar(&watchInterval, "interval", 0, "Refresh interval in seconds (default from config)")
	watchCmd.Flags().StringVarP(&watchFilter, "filter", "f", "", "Port filter, e.g. 80,443,8000-9000")
	watchCmd.Flags().BoolVar(&watchAlert, "alert", false, "Alert and exit on new port listeners")
}

// alertExitError is returned when --alert detects new ports.
// The CLI should exit with code 1.
type alertExitError struct {
	count int
}

func (e *alertExitError) Error() string {
	return fmt.Sprintf("alert: %d new port listener(s) detected", e.count)
}

// change is one opened or closed listener.
type change struct {
	At     time.Time
	Opened bool
	Record port.Record
}

// changesBetween lists listeners that opened or closed going from prev
// to next. Listeners present in both are not reported.
func changesBetween(prev, next *port.Snapshot, spec filter.Spec) []change {
	var before, after []port.Record
	if prev != nil {
		before = filter.Apply(spec, prev.Records)
	}
	at := time.Now()
	if next != nil {
		after = filter.Apply(spec, next.Records)
		at = next.ScannedAt
	}

	var out []change
	for _, op := range reconcile.Diff(before, after) {
		switch op.Kind {
		case reconcile.Insert:
			out = append(out, change{At: at, Opened: true, Record: op.Record})
		case reconcile.Remove:
			out = append(out, change{At: at, Opened: false, Record: op.Record})
		}
	}
	return out
}

func runWatch(cmd *cobra.Command, args []string) error {
	c, err := newCore(newLogger(os.Stderr))
	if err != nil {
		return err
	}

	spec, err := parseFilterFlag(watchFilter, c.cfg.DefaultFilter, c.logger)
	if err != nil {
		return err
	}

	interval := c.cfg.Interval()
	if watchInterval > 0 {
		interval = time.Duration(watchInterval) * time.Second
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer cancel()

	coord := c.newCoordinator(ctx, interval)
	go func() {
		if err := coord.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Error("refresh loop stopped", "err", err)
		}
	}()

	var baseline *port.Snapshot
	for {
		select {
		case <-ctx.Done():
			if !jsonOutput {
				fmt.Println("\nStopped watching.")
			}
			return nil
		case ev := <-coord.Events():
			if ev.Kind == refresh.ScanEnded && ev.Err != nil && ev.Failures >= c.cfg.FailureThreshold {
				fmt.Fprintf(os.Stderr, "Warning: scanning has failed %d times in a row: %v\n", ev.Failures, ev.Err)
			}
			if ev.Kind != refresh.SnapshotUpdated || ev.Snapshot == nil {
				continue
			}

			if baseline == nil {
				baseline = ev.Snapshot
				if !jsonOutput {
					records := filter.Apply(spec, baseline.Records)
					fmt.Printf("Watching %d listener(s) every %s. Ctrl+C to stop.\n\n", len(records), interval)
					if err := printTable(os.Stdout, records); err != nil {
						return err
					}
					fmt.Println()
				}
				continue
			}

			changes := changesBetween(baseline, ev.Snapshot, spec)
			if watchAlert {
				if err := alertOnOpened(os.Stdout, changes); err != nil {
					return err
				}
				// Alert mode compares against the initial scan only.
				continue
			}
			if err := printChanges(os.Stdout, changes); err != nil {
				return err
			}
			baseline = ev.Snapshot
		}
	}
}

func alertOnOpened(w io.Writer, changes []change) error {
	var opened []port.Record
	for _, ch := range changes {
		if ch.Opened {
			opened = append(opened, ch.Record)
		}
	}
	if len(opened) == 0 {
		return nil
	}

	if jsonOutput {
		out := struct {
			Alert   string       `json:"alert"`
			Count   int          `json:"count"`
			Entries []jsonRecord `json:"entries"`
		}{Alert: "new_port_listeners", Count: len(opened)}
		for _, r := range opened {
			out.Entries = append(out.Entries, toJSONRecord(r))
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			return fmt.Errorf("failed to encode alert JSON: %w", err)
		}
	} else {
		fmt.Fprintf(w, "\nALERT: %d new port listener(s) detected!\n\n", len(opened))
		if err := printTable(w, opened); err != nil {
			return err
		}
	}
	return &alertExitError{count: len(opened)}
}

func printChanges(w io.Writer, changes []change) error {
	for _, ch := range changes {
		event := "CLOSE"
		if ch.Opened {
			event = "OPEN"
		}
		if jsonOutput {
			line := struct {
				Timestamp string `json:"timestamp"`
				Event     string `json:"event"`
				jsonRecord
			}{ch.At.Format(time.RFC3339), event, toJSONRecord(ch.Record)}
			if err := json.NewEncoder(w).Encode(line); err != nil {
				return fmt.Errorf("failed to encode event: %w", err)
			}
			continue
		}
		fmt.Fprintf(w, "%s  %-5s  %-5d  %s (PID %d, %s)\n",
			ch.At.Format("15:04:05"), event, ch.Record.Port,
			ch.Record.ProcessName, ch.Record.PID, ch.Record.Owner)
	}
	return nil
}
