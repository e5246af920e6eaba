package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/lu-zhengda/portscope/internal/filter"
	"github.com/lu-zhengda/portscope/internal/port"
	"github.com/spf13/cobra"
)

var listFilter string

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all listening ports",
	Long: `Display a table of all TCP ports in LISTEN state with the owning
process, its resource usage, and its parent process.`,
	RunE: runList,
}

func init() {
	listCmd.Flags().StringVarP(&listFilter, "filter", "f", "", "Port filter, e.g. 80,443,8000-9000")
}

func runList(cmd *cobra.Command, args []string) error {
	c, err := newCore(newLogger(os.Stderr))
	if err != nil {
		return err
	}

	spec, err := parseFilterFlag(listFilter, c.cfg.DefaultFilter, c.logger)
	if err != nil {
		return err
	}

	snap, err := c.scanner.Scan(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to scan ports: %w", err)
	}
	records := filter.Apply(spec, snap.Records)

	if jsonOutput {
		return printJSON(os.Stdout, records)
	}
	return printTable(os.Stdout, records)
}

// parseFilterFlag parses the --filter value, falling back to the
// configured default. Skipped tokens are logged; an expression with no
// usable token at all is an error.
func parseFilterFlag(text, fallback string, logger *slog.Logger) (filter.Spec, error) {
	if text == "" {
		text = fallback
	}
	spec, err := filter.Parse(text)
	if err != nil {
		if !spec.Active() {
			return nil, fmt.Errorf("invalid filter %q: %w", text, err)
		}
		logger.Warn("ignoring invalid filter tokens", "err", err)
	}
	return spec, nil
}

func printTable(w io.Writer, records []port.Record) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PORT\tPID\tPROCESS\tUSER\tCPU\tMEM\tPARENT")
	for _, r := range records {
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%.1f%%\t%s (%.1f%%)\t%s (%d)\n",
			r.Port, r.PID, r.ProcessName, r.Owner, r.CPUPercent,
			r.MemoryRaw, r.MemoryPercent, r.ParentProcessName, r.ParentPID)
	}
	return tw.Flush()
}

type jsonRecord struct {
	Port          int     `json:"port"`
	PID           int     `json:"pid"`
	Process       string  `json:"process"`
	User          string  `json:"user"`
	Executable    string  `json:"executable"`
	Command       string  `json:"command"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	Memory        string  `json:"memory"`
	ParentPID     int     `json:"parent_pid"`
	ParentProcess string  `json:"parent_process"`
}

func toJSONRecord(r port.Record) jsonRecord {
	return jsonRecord{
		Port:          r.Port,
		PID:           r.PID,
		Process:       r.ProcessName,
		User:          r.Owner,
		Executable:    r.ExecutablePath,
		Command:       r.CommandLine,
		CPUPercent:    r.CPUPercent,
		MemoryPercent: r.MemoryPercent,
		Memory:        r.MemoryRaw,
		ParentPID:     r.ParentPID,
		ParentProcess: r.ParentProcessName,
	}
}

func printJSON(w io.Writer, records []port.Record) error {
	out := make([]jsonRecord, len(records))
	for i, r := range records {
		out[i] = toJSONRecord(r)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
