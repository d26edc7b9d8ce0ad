package main

import (
	"bytes"
	"io/fs"
	"strings"
	"testing"
)

func TestRootCommandsRegistered(t *testing.T) {
	root := rootCmd()
	for _, name := range []string{"up", "down", "seed", "status", "bootstrap-admin"} {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Fatalf("subcommand %q not registered: %v", name, err)
		}
	}
}

func TestMissingDSN(t *testing.T) {
	t.Setenv("GATEHOUSE_PG_DSN", "")
	root := rootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"status"})
	err := root.Execute()
	if err == nil || !strings.Contains(err.Error(), "missing DSN") {
		t.Fatalf("expected missing DSN error, got %v", err)
	}
}

func TestEmbeddedSourceHasSchema(t *testing.T) {
	files, err := fs.Glob(source(&options{}), "sql/*.up.sql")
	if err != nil || len(files) == 0 {
		t.Fatalf("embedded migrations missing: %v %v", files, err)
	}
}
