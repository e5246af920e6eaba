package port

import (
	"fmt"
	"time"
)

// Key identifies a listening endpoint within a snapshot.
type Key struct {
	Port int
	PID  int
}

// String returns "port/pid".
func (k Key) String() string {
	return fmt.Sprintf("%d/%d", k.Port, k.PID)
}

// Record is one observed listening endpoint at scan time. Records are
// never mutated after the scanner builds them.
type Record struct {
	Port              int
	PID               int
	ProcessName       string
	Owner             string
	ExecutablePath    string
	CommandLine       string
	MemoryPercent     float64
	MemoryRaw         string
	CPUPercent        float64
	ParentPID         int
	ParentProcessName string
}

// Key returns the record's identity.
func (r Record) Key() Key {
	return Key{Port: r.Port, PID: r.PID}
}

// String returns a human-readable representation of the record.
func (r Record) String() string {
	return fmt.Sprintf("%d (PID %d, %s)", r.Port, r.PID, r.ProcessName)
}

// Snapshot is the complete, port-sorted result of one scan.
type Snapshot struct {
	Records   []Record
	ScannedAt time.Time
}

// Len returns the number of records.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Records)
}

// Keys returns the identity of every record, in order.
func (s *Snapshot) Keys() []Key {
	if s == nil {
		return nil
	}
	keys := make([]Key, len(s.Records))
	for i, r := range s.Records {
		keys[i] = r.Key()
	}
	return keys
}
