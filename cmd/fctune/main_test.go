package main

import (
	"path/filepath"
	"testing"

	"github.com/filtcav/fctune/tuning"
)

func TestRunFailsOnMissingConfig(t *testing.T) {
	dir := t.TempDir()
	err := run(filepath.Join(dir, "missing.yaml"), 5.2e9, tuning.Options{})
	if err == nil {
		t.Fatal("expected an error for a config file that does not exist")
	}
}
