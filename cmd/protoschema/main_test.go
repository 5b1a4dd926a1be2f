package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteSchemaIncludesProtocolFields(t *testing.T) {
	out := filepath.Join(t.TempDir(), "schema", "protocol.json")
	if err := writeSchema(out, buildSchema()); err != nil {
		t.Fatalf("write schema: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read schema: %v", err)
	}
	text := string(data)
	for _, want := range []string{"Dragon's Keep Relay Protocol", "ClientMessage", "roomCode", "movementBudget", "roundReset"} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected schema to mention %q", want)
		}
	}
	if _, err := os.Stat(out + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("expected temp file to be renamed away, stat err=%v", err)
	}
}
