package cli

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/lu-zhengda/portscope/internal/port"
	"github.com/lu-zhengda/portscope/internal/process"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"
)

// gracefulWait is how long kill waits for SIGTERM to take effect.
const gracefulWait = 3 * time.Second

var (
	forceKill  bool
	signalFlag string
)

var killCmd = &cobra.Command{
	Use:   "kill <port>",
	Short: "Kill process listening on a port",
	Long: `Send a signal to the process listening on the specified port.
By default SIGTERM is sent and portscope waits a few seconds for the
process to exit.`,
	Args: cobra.ExactArgs(1),
	RunE: runKill,
}

func init() {
	killCmd.Flags().BoolVar(&forceKill, "force", false, "Send SIGKILL instead of SIGTERM")
	killCmd.Flags().StringVar(&signalFlag, "signal", "", "Custom signal to send (e.g. SIGINT, HUP, 9)")
}

func runKill(cmd *cobra.Command, args []string) error {
	portNum, err := strconv.Atoi(args[0])
	if err != nil || portNum < 1 || portNum > 65535 {
		return fmt.Errorf("invalid port number: %q", args[0])
	}

	sig, err := resolveSignal()
	if err != nil {
		return err
	}

	c, err := newCore(newLogger(os.Stderr))
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	listeners, err := c.scanner.FindByPort(ctx, portNum)
	if err != nil {
		return fmt.Errorf("failed to find processes on port %d: %w", portNum, err)
	}
	if len(listeners) == 0 {
		return fmt.Errorf("no process listening on port %d", portNum)
	}

	// Kill all listeners on the port (usually just one process).
	for _, r := range listeners {
		// Verify the process is what we expect.
		if !c.controller.VerifyProcess(ctx, r.PID, r.ProcessName) {
			fmt.Printf("Warning: PID %d may have changed since scan, skipping.\n", r.PID)
			continue
		}

		fmt.Printf("Killing %s (PID %d) on port %d with %s...\n",
			r.ProcessName, r.PID, r.Port, process.SignalName(sig))

		if sig != unix.SIGTERM {
			if err := c.controller.Kill(r.PID, sig); err != nil {
				return killError(r, err)
			}
			fmt.Printf("Sent %s to PID %d.\n", process.SignalName(sig), r.PID)
			continue
		}

		exited, err := c.controller.GracefulKill(ctx, r.PID, gracefulWait)
		if err != nil {
			return killError(r, err)
		}
		if exited {
			fmt.Printf("Process %s (PID %d) terminated gracefully.\n", r.ProcessName, r.PID)
		} else {
			fmt.Printf("Process %s (PID %d) did not exit after SIGTERM.\n", r.ProcessName, r.PID)
			fmt.Println("Use --force to send SIGKILL.")
		}
	}

	return nil
}

func resolveSignal() (unix.Signal, error) {
	if forceKill {
		return unix.SIGKILL, nil
	}
	if signalFlag != "" {
		return process.ParseSignal(signalFlag)
	}
	return unix.SIGTERM, nil
}

func killError(r port.Record, err error) error {
	if errors.Is(err, process.ErrPermission) {
		return fmt.Errorf("failed to kill PID %d (owned by %s): %w; try sudo", r.PID, r.Owner, err)
	}
	return fmt.Errorf("failed to kill PID %d: %w", r.PID, err)
}
