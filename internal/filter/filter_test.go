package filter

import (
	"errors"
	"testing"

	"github.com/lu-zhengda/portscope/internal/port"
)

func records(ports ...int) []port.Record {
	out := make([]port.Record, len(ports))
	for i, p := range ports {
		out[i] = port.Record{Port: p, PID: 1000 + i}
	}
	return out
}

func ports(recs []port.Record) []int {
	out := make([]int, len(recs))
	for i, r := range recs {
		out[i] = r.Port
	}
	return out
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"empty", "", "", false},
		{"whitespace", "   ", "", false},
		{"single", "80", "80", false},
		{"list and range", "80,443,8000-9000", "80,443,8000-9000", false},
		{"spaces", " 80 , 3000 - 3005 ", "80,3000-3005", false},
		{"trailing comma", "22,", "22", false},
		{"typo skipped", "80,abc,443", "80,443", true},
		{"reversed range", "9000-8000,22", "22", true},
		{"out of range", "0,65536,65535", "65535", true},
		{"all invalid", "x,y-z,-5", "", true},
		{"degenerate range", "5000-5000", "5000", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec, err := Parse(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("error: got %v, wantErr %v", err, tt.wantErr)
			}
			if got := spec.String(); got != tt.want {
				t.Errorf("spec: got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParse_TokenError(t *testing.T) {
	_, err := Parse("80,abc")
	var te *TokenError
	if !errors.As(err, &te) {
		t.Fatalf("expected TokenError, got %v", err)
	}
	if te.Token != "abc" {
		t.Errorf("token: got %q, want abc", te.Token)
	}
}

func TestApply_Scenario(t *testing.T) {
	spec := MustParse("80,443,8000-9000")
	got := ports(Apply(spec, records(80, 443, 8080, 9500)))
	want := []int{80, 443, 8080}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got %v, want %v", got, want)
		}
	}
}

func TestApply_EmptySpecIsIdentity(t *testing.T) {
	in := records(22, 80, 443)
	out := Apply(Spec{}, in)
	if len(out) != len(in) {
		t.Fatalf("got %d records, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("record %d changed", i)
		}
	}
	if Apply(nil, nil) != nil {
		t.Error("nil in should be nil out")
	}
}

func TestApply_Partition(t *testing.T) {
	spec := MustParse("1-1024,3000,5000-5999")
	in := records(22, 1024, 1025, 2999, 3000, 3001, 5000, 5999, 6000, 65535)
	out := Apply(spec, in)

	kept := make(map[int]bool)
	for _, r := range out {
		kept[r.Port] = true
		if !spec.Matches(r.Port) {
			t.Errorf("port %d kept but matches no range", r.Port)
		}
	}
	for _, r := range in {
		if kept[r.Port] {
			continue
		}
		for _, rg := range spec {
			if rg.Contains(r.Port) {
				t.Errorf("port %d excluded but in range %s", r.Port, rg)
			}
		}
	}
	// Order preserved.
	for i := 1; i < len(out); i++ {
		if out[i-1].Port > out[i].Port {
			t.Errorf("order not preserved: %v", ports(out))
		}
	}
}
