package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BufferSize != 1024 || cfg.Listen.Network != "tcp" || cfg.DBRoot != "db" {
		t.Errorf("Load() = %+v, want defaults", cfg)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "musicpi.yaml")
	content := `db_root: /srv/musicpi
listen:
  network: udp
log:
  level: debug
rfid:
  port: /dev/ttyUSB0
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DBRoot != "/srv/musicpi" || cfg.Listen.Network != "udp" || cfg.Log.Level != "debug" {
		t.Errorf("Load() = %+v", cfg)
	}
	// Untouched keys keep their defaults
	if cfg.Listen.Address != ":8700" || cfg.RFID.Baud != 9600 || cfg.BufferSize != 1024 {
		t.Errorf("defaults lost: %+v", cfg)
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad yaml", "listen: [\n"},
		{"bad network", "listen:\n  network: sctp\n"},
		{"tiny buffer", "buffer_size: 8\n"},
		{"empty root", "db_root: \"\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "musicpi.yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(path); err == nil {
				t.Error("Load() should fail")
			}
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "musicpi.yaml")
	cfg := Default()
	cfg.HTTP.Address = "127.0.0.1:9000"

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if *got != *cfg {
		t.Errorf("Load() = %+v, want %+v", got, cfg)
	}
}
