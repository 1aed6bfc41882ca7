package app

import (
	"errors"
	"testing"

	"appkeep/internal/database"
	"appkeep/internal/keep"
)

func TestNewOperation(t *testing.T) {
	tests := []struct {
		name       string
		operation  string
		parameters string
	}{
		{
			name:       "with parameters",
			operation:  "Backup",
			parameters: "com.example.a com.example.b",
		},
		{
			name:       "empty parameters",
			operation:  "AddApplication",
			parameters: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op := NewOperation(tt.operation, tt.parameters)

			if op.Operation != tt.operation {
				t.Errorf("Operation = %q, want %q", op.Operation, tt.operation)
			}
			if op.Parameters != tt.parameters {
				t.Errorf("Parameters = %q, want %q", op.Parameters, tt.parameters)
			}
			if op.Status != database.StatusSuccess {
				t.Errorf("Status = %q, want %q", op.Status, database.StatusSuccess)
			}
			if op.ID != 0 {
				t.Errorf("ID = %d, want 0", op.ID)
			}
		})
	}
}

func TestOperation_Persisted(t *testing.T) {
	tests := []struct {
		name string
		id   int64
		want bool
	}{
		{name: "not persisted when ID is 0", id: 0, want: false},
		{name: "persisted when ID is positive", id: 1, want: true},
		{name: "persisted when ID is large", id: 99999, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op := &Operation{ID: tt.id}
			if got := op.Persisted(); got != tt.want {
				t.Errorf("Persisted() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestOperation_Settle(t *testing.T) {
	ok := keep.Outcome{PackageID: "a"}
	bad := keep.Outcome{PackageID: "b", Err: keep.ErrSnapshotFailed}

	tests := []struct {
		name     string
		outcomes []keep.Outcome
		err      error
		want     string
	}{
		{name: "all succeeded", outcomes: []keep.Outcome{ok, ok}, want: database.StatusSuccess},
		{name: "some failed", outcomes: []keep.Outcome{ok, bad}, want: database.StatusPartial},
		{name: "all failed", outcomes: []keep.Outcome{bad, bad}, want: database.StatusFailed},
		{name: "batch aborted", outcomes: []keep.Outcome{ok}, err: errors.New("no shell"), want: database.StatusFailed},
		{name: "empty batch", want: database.StatusSuccess},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op := NewOperation("Backup", "")
			op.Settle(tt.outcomes, tt.err)
			if op.Status != tt.want {
				t.Errorf("Status = %q, want %q", op.Status, tt.want)
			}
		})
	}
}
