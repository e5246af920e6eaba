package port

import (
	"testing"
)

func TestParseLsofOutput(t *testing.T) {
	input := `COMMAND     PID      USER   FD   TYPE             DEVICE SIZE/OFF NODE NAME
nginx      1234      root    6u  IPv4 0x1234567890      0t0  TCP *:80 (LISTEN)
nginx      1234      root    7u  IPv4 0x1234567891      0t0  TCP *:443 (LISTEN)
node       5678   zhengda    8u  IPv6 0x1234567892      0t0  TCP [::1]:3000 (LISTEN)
postgres   9012 _postgres    9u  IPv4 0x1234567893      0t0  TCP 127.0.0.1:5432 (LISTEN)
java       3456   zhengda   10u  IPv4 0x1234567894      0t0  TCP *:8080 (LISTEN)
`

	listeners := ParseLsofOutput(input)

	if len(listeners) != 5 {
		t.Fatalf("expected 5 listeners, got %d", len(listeners))
	}

	tests := []struct {
		idx     int
		process string
		pid     int
		user    string
		port    int
	}{
		{0, "nginx", 1234, "root", 80},
		{1, "nginx", 1234, "root", 443},
		{2, "node", 5678, "zhengda", 3000},
		{3, "postgres", 9012, "_postgres", 5432},
		{4, "java", 3456, "zhengda", 8080},
	}

	for _, tt := range tests {
		l := listeners[tt.idx]
		if l.Process != tt.process {
			t.Errorf("[%d] process: got %q, want %q", tt.idx, l.Process, tt.process)
		}
		if l.PID != tt.pid {
			t.Errorf("[%d] pid: got %d, want %d", tt.idx, l.PID, tt.pid)
		}
		if l.User != tt.user {
			t.Errorf("[%d] user: got %q, want %q", tt.idx, l.User, tt.user)
		}
		if l.Port != tt.port {
			t.Errorf("[%d] port: got %d, want %d", tt.idx, l.Port, tt.port)
		}
	}
}

func TestParseLsofOutput_SkipsMalformed(t *testing.T) {
	input := `COMMAND     PID      USER   FD   TYPE             DEVICE SIZE/OFF NODE NAME
short line
weird      abc      root    6u  IPv4 0x1234567890      0t0  TCP *:80 (LISTEN)
star       100      root    6u  IPv4 0x1234567890      0t0  TCP *:* (LISTEN)
huge       101      root    6u  IPv4 0x1234567890      0t0  TCP *:70000 (LISTEN)
zero       102      root    6u  IPv4 0x1234567890      0t0  TCP *:0 (LISTEN)
good       103      root    6u  IPv4 0x1234567890      0t0  TCP *:22 (LISTEN)
`
	listeners := ParseLsofOutput(input)
	if len(listeners) != 1 {
		t.Fatalf("expected 1 listener, got %d: %+v", len(listeners), listeners)
	}
	if listeners[0].Port != 22 || listeners[0].Process != "good" {
		t.Errorf("got %+v", listeners[0])
	}
}

func TestParseLsofOutput_EmptyInput(t *testing.T) {
	if got := ParseLsofOutput(""); len(got) != 0 {
		t.Errorf("expected 0 listeners, got %d", len(got))
	}
}

func TestParseLsofOutput_HeaderOnly(t *testing.T) {
	input := `COMMAND     PID      USER   FD   TYPE             DEVICE SIZE/OFF NODE NAME
`
	if got := ParseLsofOutput(input); len(got) != 0 {
		t.Errorf("expected 0 listeners, got %d", len(got))
	}
}

func TestParseAddressPort(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantPort int
		wantOK   bool
	}{
		{"wildcard", "*:8080", 8080, true},
		{"localhost", "127.0.0.1:3000", 3000, true},
		{"ipv6", "[::1]:9229", 9229, true},
		{"glued state", "*:443(LISTEN)", 443, true},
		{"connection", "192.168.1.10:54321->93.184.216.34:443", 54321, true},
		{"wildcard port", "*:*", 0, false},
		{"no colon", "localhost", 0, false},
		{"out of range", "*:65536", 0, false},
		{"max port", "*:65535", 65535, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			port, ok := parseAddressPort(tt.input)
			if ok != tt.wantOK {
				t.Fatalf("ok: got %v, want %v", ok, tt.wantOK)
			}
			if port != tt.wantPort {
				t.Errorf("port: got %d, want %d", port, tt.wantPort)
			}
		})
	}
}
