package config

import (
	"os"
	"path/filepath"
	"testing"

	"aula/pkg/defaults"
)

func TestLoad_MissingFileFallsBackToDefault(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Replicas) != 2 {
		t.Fatalf("replicas = %d, want 2", len(cfg.Replicas))
	}
	if cfg.Replicas[0].Name != "primary" || cfg.Replicas[1].Name != "backup" {
		t.Errorf("replica order = %s, %s", cfg.Replicas[0].Name, cfg.Replicas[1].Name)
	}
}

func TestLoad_ParsesReplicas(t *testing.T) {
	path := filepath.Join(t.TempDir(), "endpoints.yaml")
	data := `replicas:
  - name: primary
    host: 10.0.0.1
  - name: backup
    host: 10.0.0.2
    allocate_port: 5556
    heartbeat_port: 7001
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := cfg.Replicas[0].AllocateAddr(); got != "10.0.0.1:5555" {
		t.Errorf("primary allocate addr = %q", got)
	}
	if got := cfg.Replicas[1].AllocateAddr(); got != "10.0.0.2:5556" {
		t.Errorf("backup allocate addr = %q", got)
	}
	want := "http://10.0.0.2:7001" + defaults.HeartbeatPath
	if got := cfg.Replicas[1].HeartbeatURL(); got != want {
		t.Errorf("backup heartbeat url = %q, want %q", got, want)
	}
}

func TestLoad_RejectsEmptyAndHostless(t *testing.T) {
	dir := t.TempDir()

	empty := filepath.Join(dir, "empty.yaml")
	if err := os.WriteFile(empty, []byte("replicas: []\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(empty); err == nil {
		t.Error("empty replica list accepted")
	}

	hostless := filepath.Join(dir, "hostless.yaml")
	if err := os.WriteFile(hostless, []byte("replicas:\n  - name: primary\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(hostless); err == nil {
		t.Error("replica without host accepted")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "endpoints.yaml")
	in := &Config{Replicas: []Replica{{Name: "primary", Host: "192.168.1.10"}}}
	if err := in.Save(path); err != nil {
		t.Fatal(err)
	}

	out, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(out.Replicas) != 1 || out.Replicas[0].Host != "192.168.1.10" {
		t.Errorf("round-trip = %+v", out.Replicas)
	}
}
