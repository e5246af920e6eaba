package port

import (
	"strconv"
	"strings"
)

const (
	minPort = 1
	maxPort = 65535
)

// Listener is one parsed lsof line: a pid owning a listening port.
type Listener struct {
	Process string
	PID     int
	User    string
	Port    int
}

// ParseLsofOutput parses the columnar output from
// lsof -iTCP -sTCP:LISTEN -P -n. Lines that do not describe a valid
// listener, including the header, are skipped.
func ParseLsofOutput(output string) []Listener {
	var listeners []Listener
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		l, ok := parseLsofLine(line)
		if !ok {
			continue
		}
		listeners = append(listeners, l)
	}
	return listeners
}

// parseLsofLine parses a single lsof output line.
// Format: COMMAND  PID  USER  FD  TYPE  DEVICE  SIZE/OFF  NODE  NAME [(STATE)]
func parseLsofLine(line string) (Listener, bool) {
	fields := strings.Fields(line)
	if len(fields) < 9 {
		return Listener{}, false
	}

	pid, err := strconv.Atoi(fields[1])
	if err != nil || pid <= 0 {
		return Listener{}, false
	}

	name := fields[len(fields)-1]
	if strings.HasPrefix(name, "(") {
		name = fields[len(fields)-2]
	}

	port, ok := parseAddressPort(name)
	if !ok {
		return Listener{}, false
	}

	return Listener{
		Process: fields[0],
		PID:     pid,
		User:    fields[2],
		Port:    port,
	}, true
}

// parseAddressPort extracts the local port from an lsof NAME field.
// NAME formats:
//   - "*:8080" or "127.0.0.1:8080"
//   - "[::1]:8080"
//   - "*:8080(LISTEN)" when the state is glued on
//   - "127.0.0.1:8080->127.0.0.1:54321" (local side is used)
func parseAddressPort(name string) (int, bool) {
	if idx := strings.Index(name, "("); idx != -1 {
		name = name[:idx]
	}

	local := name
	if idx := strings.Index(name, "->"); idx != -1 {
		local = name[:idx]
	}

	idx := strings.LastIndex(local, ":")
	if idx == -1 {
		return 0, false
	}

	port, err := strconv.Atoi(local[idx+1:])
	if err != nil || port < minPort || port > maxPort {
		return 0, false
	}
	return port, true
}
