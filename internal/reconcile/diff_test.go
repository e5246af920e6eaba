package reconcile

import (
	"testing"

	"github.com/lu-zhengda/portscope/internal/port"
)

func rec(p, pid int, name string) port.Record {
	return port.Record{Port: p, PID: pid, ProcessName: name}
}

// applyOps replays ops on a plain slice the way View does.
func applyOps(prev []port.Record, ops []Op) []port.Record {
	out := append([]port.Record(nil), prev...)
	for _, op := range ops {
		switch op.Kind {
		case Remove:
			out = append(out[:op.Index], out[op.Index+1:]...)
		case Insert:
			out = append(out, port.Record{})
			copy(out[op.Index+1:], out[op.Index:])
			out[op.Index] = op.Record
		case Update:
			out[op.Index] = op.Record
		}
	}
	return out
}

func equalRecords(a, b []port.Record) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestDiff(t *testing.T) {
	tests := []struct {
		name                      string
		prev, next                []port.Record
		inserts, updates, removes int
	}{
		{
			name:    "from empty",
			next:    []port.Record{rec(80, 1, "a"), rec(443, 2, "b")},
			inserts: 2,
		},
		{
			name:    "to empty",
			prev:    []port.Record{rec(80, 1, "a"), rec(443, 2, "b")},
			removes: 2,
		},
		{
			name: "unchanged",
			prev: []port.Record{rec(80, 1, "a"), rec(443, 2, "b")},
			next: []port.Record{rec(80, 1, "a"), rec(443, 2, "b")},
		},
		{
			name:    "mixed",
			prev:    []port.Record{rec(22, 5, "sshd"), rec(80, 1, "a"), rec(443, 2, "b"), rec(9000, 9, "x")},
			next:    []port.Record{rec(80, 1, "a2"), rec(3000, 3, "node"), rec(9000, 9, "x"), rec(9100, 10, "y")},
			inserts: 2, updates: 1, removes: 2,
		},
		{
			name:    "same port new pid",
			prev:    []port.Record{rec(8080, 100, "java")},
			next:    []port.Record{rec(8080, 200, "java")},
			inserts: 1, removes: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ops := Diff(tt.prev, tt.next)
			ins, upd, rem := Counts(ops)
			if ins != tt.inserts || upd != tt.updates || rem != tt.removes {
				t.Errorf("counts: got +%d ~%d -%d, want +%d ~%d -%d",
					ins, upd, rem, tt.inserts, tt.updates, tt.removes)
			}
			if got := applyOps(tt.prev, ops); !equalRecords(got, tt.next) {
				t.Errorf("replay: got %v, want %v", got, tt.next)
			}
		})
	}
}

func TestOpKindString(t *testing.T) {
	if Insert.String() != "insert" || Update.String() != "update" || Remove.String() != "remove" {
		t.Error("unexpected op kind names")
	}
}
