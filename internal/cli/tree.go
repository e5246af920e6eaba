package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/lu-zhengda/portscope/internal/ancestry"
	"github.com/lu-zhengda/portscope/internal/port"
	"github.com/spf13/cobra"
	"github.com/xlab/treeprint"
)

var treeFilter string

var treeCmd = &cobra.Command{
	Use:   "tree",
	Short: "Show listening ports with their parent process chains",
	Long: `Display each listening port as a tree whose branches walk up the
owning process's ancestry, a few levels deep.`,
	RunE: runTree,
}

func init() {
	treeCmd.Flags().StringVarP(&treeFilter, "filter", "f", "", "Port filter, e.g. 80,443,8000-9000")
}

func runTree(cmd *cobra.Command, args []string) error {
	c, err := newCore(newLogger(os.Stderr))
	if err != nil {
		return err
	}

	spec, err := parseFilterFlag(treeFilter, c.cfg.DefaultFilter, c.logger)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	snap, err := c.scanner.Scan(ctx)
	if err != nil {
		return fmt.Errorf("failed to scan ports: %w", err)
	}

	var records []port.Record
	chains := make(map[int]*ancestry.Node)
	for _, r := range snap.Records {
		if !spec.Matches(r.Port) {
			continue
		}
		records = append(records, r)
		if _, ok := chains[r.PID]; !ok {
			chains[r.PID] = c.ancestry.Chain(ctx, r.PID)
		}
	}

	if jsonOutput {
		return printTreeJSON(records, chains)
	}

	fmt.Println(buildTree(records, chains).String())
	return nil
}

// buildTree renders one branch per record with the ancestry chain nested
// beneath it.
func buildTree(records []port.Record, chains map[int]*ancestry.Node) treeprint.Tree {
	tree := treeprint.New()
	tree.SetValue(fmt.Sprintf("%d listening", len(records)))
	for _, r := range records {
		branch := tree.AddMetaBranch(r.Port, fmt.Sprintf("%s (PID %d, %s, cpu %.1f%%, mem %s)",
			r.ProcessName, r.PID, r.Owner, r.CPUPercent, r.MemoryRaw))
		for n := chains[r.PID]; n != nil; n = n.Parent {
			branch = branch.AddBranch(fmt.Sprintf("%s (PID %d) %s", n.ProcessName, n.PID, n.ExecutablePath))
		}
	}
	return tree
}

func printTreeJSON(records []port.Record, chains map[int]*ancestry.Node) error {
	type jsonAncestor struct {
		PID        int     `json:"pid"`
		Process    string  `json:"process"`
		Executable string  `json:"executable"`
		Command    string  `json:"command"`
		CPUPercent float64 `json:"cpu_percent"`
		Memory     string  `json:"memory"`
	}
	type jsonTreeRecord struct {
		jsonRecord
		Ancestry []jsonAncestor `json:"ancestry"`
	}

	out := make([]jsonTreeRecord, len(records))
	for i, r := range records {
		out[i] = jsonTreeRecord{jsonRecord: toJSONRecord(r), Ancestry: []jsonAncestor{}}
		for n := chains[r.PID]; n != nil; n = n.Parent {
			out[i].Ancestry = append(out[i].Ancestry, jsonAncestor{
				PID:        n.PID,
				Process:    n.ProcessName,
				Executable: n.ExecutablePath,
				Command:    n.CommandLine,
				CPUPercent: n.CPUPercent,
				Memory:     n.MemoryRaw,
			})
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
