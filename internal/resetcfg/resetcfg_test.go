package resetcfg

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadCreatesDefaultWithParentDirs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deeper", "reset_config.json")
	store := NewStore(path)

	cfg, created, err := store.Load("host-a")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !created {
		t.Fatalf("expected created=true for absent file")
	}
	if cfg.Hostname != "host-a" {
		t.Fatalf("Hostname = %q, want host-a", cfg.Hostname)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config was not written: %v", err)
	}

	// Second load reads the file back rather than recreating it.
	_, created, err = store.Load("host-a")
	if err != nil {
		t.Fatalf("second Load returned error: %v", err)
	}
	if created {
		t.Fatalf("expected created=false for existing file")
	}
}

func TestLoadMalformedJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reset_config.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	_, _, err := NewStore(path).Load("host-a")
	if !errors.Is(err, ErrMalformedConfig) {
		t.Fatalf("Load = %v, want ErrMalformedConfig", err)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reset_config.json")
	legacy := `{"host_name": "h", "time": "2026-01-01T00:00:00Z", "gs_tensix_reset": {"pci_index": [0]}}`
	if err := os.WriteFile(path, []byte(legacy), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	_, _, err := NewStore(path).Load("h")
	if !errors.Is(err, ErrMalformedConfig) {
		t.Fatalf("Load of legacy-shaped config = %v, want ErrMalformedConfig", err)
	}
}

func TestLoadSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reset_config.json")
	store := NewStore(path)

	cfg := Default("host-b")
	cfg.Devices["0000:01:00.0"] = DeviceEntry{
		Family:          "wormhole",
		Role:            RoleNBHost,
		ReportSWVersion: true,
	}
	cfg.MoboResets = []MoboReset{{
		Mobo:      "mobo-ce-44",
		NBHostIDs: []string{"0000:01:00.0"},
		Credo:     []string{"0:0", "0:1"},
	}}
	if err := store.Save(cfg); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	before, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read saved config: %v", err)
	}

	loaded, created, err := store.Load("host-b")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if created {
		t.Fatalf("expected created=false")
	}
	if err := store.Save(loaded); err != nil {
		t.Fatalf("re-Save returned error: %v", err)
	}
	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read re-saved config: %v", err)
	}
	if !bytes.Equal(before, after) {
		t.Fatalf("load/save round trip is not byte-stable:\nbefore: %s\nafter: %s", before, after)
	}
}

func TestSaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(filepath.Join(dir, "reset_config.json"))
	if err := store.Save(Default("h")); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "reset_config.json" {
		t.Fatalf("unexpected directory contents: %v", entries)
	}
}

func TestMarkReset(t *testing.T) {
	cfg := Default("h")
	at := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	cfg.MarkReset("0000:03:00.0", "blackhole", RoleStandalone, at)

	entry, ok := cfg.Devices["0000:03:00.0"]
	if !ok {
		t.Fatalf("entry was not created")
	}
	if entry.Family != "blackhole" || entry.Role != RoleStandalone {
		t.Fatalf("unexpected entry: %+v", entry)
	}
	if entry.LastSuccessfulReset == nil || !entry.LastSuccessfulReset.Equal(at) {
		t.Fatalf("LastSuccessfulReset = %v, want %v", entry.LastSuccessfulReset, at)
	}
}

func TestNBHostIDsDeduplicates(t *testing.T) {
	cfg := Default("h")
	cfg.MoboResets = []MoboReset{
		{Mobo: "m1", NBHostIDs: []string{"a", "b"}},
		{Mobo: "m2", NBHostIDs: []string{"b", "c"}},
	}
	got := cfg.NBHostIDs()
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("NBHostIDs = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("NBHostIDs = %v, want %v", got, want)
		}
	}
}

func TestParseResetInput(t *testing.T) {
	_, indices, err := ParseResetInput("0, 1,2", "h")
	if err != nil {
		t.Fatalf("ParseResetInput returned error: %v", err)
	}
	if len(indices) != 3 || indices[0] != 0 || indices[2] != 2 {
		t.Fatalf("indices = %v, want [0 1 2]", indices)
	}

	path := filepath.Join(t.TempDir(), "cfg.json")
	if err := NewStore(path).Save(Default("h")); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	cfg, indices, err := ParseResetInput(path, "h")
	if err != nil {
		t.Fatalf("ParseResetInput(path) returned error: %v", err)
	}
	if cfg == nil || indices != nil {
		t.Fatalf("expected config result, got cfg=%v indices=%v", cfg, indices)
	}

	if _, _, err := ParseResetInput("0,x,2", "h"); err == nil {
		t.Fatalf("expected error for malformed index list")
	}
}
