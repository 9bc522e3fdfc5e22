package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load(Options{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTP.Address != DefaultHTTPAddress {
		t.Errorf("address = %q, want %q", cfg.HTTP.Address, DefaultHTTPAddress)
	}
	if cfg.Signaling.ServerURL != DefaultServerURL {
		t.Errorf("server url = %q", cfg.Signaling.ServerURL)
	}
	if got := cfg.GetSTUNServers(); len(got) != 1 || got[0] != DefaultSTUN {
		t.Errorf("stun = %v", got)
	}
	if cfg.GetTURNServers() != nil {
		t.Errorf("turn servers should be unset by default")
	}
	if cfg.Registry.Timeout != DefaultRegistryTimeout {
		t.Errorf("registry timeout = %v", cfg.Registry.Timeout)
	}
}

func TestLoadPrecedence(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("SIGNALING_URL", "ws://env.example:9000/ws")
	t.Setenv("STUN_SERVERS", "stun:a.example:3478,stun:b.example:3478")

	cfg, err := Load(Options{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Signaling.ServerURL != "ws://env.example:9000/ws" {
		t.Errorf("env override ignored: %q", cfg.Signaling.ServerURL)
	}
	if len(cfg.WebRTC.STUNServers) != 2 {
		t.Errorf("stun servers from env = %v", cfg.WebRTC.STUNServers)
	}

	cfg, err = Load(Options{ServerURL: "wss://flag.example/ws"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Signaling.ServerURL != "wss://flag.example/ws" {
		t.Errorf("flag must win over env: %q", cfg.Signaling.ServerURL)
	}
	if cfg.HTTPBaseURL() != "https://flag.example" {
		t.Errorf("HTTPBaseURL = %q", cfg.HTTPBaseURL())
	}
}

func TestLoadYAMLFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	path := filepath.Join(dir, "studyroom.yaml")
	data := []byte(`env: prod
http:
  address: ":9999"
registry:
  url: "http://registry.local/occupancy"
  timeout: 1s
webrtc:
  turn_server: "turn.example"
  turn_username: "u"
  turn_password: "p"
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(Options{ConfigPath: path})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Env != "prod" || cfg.HTTP.Address != ":9999" {
		t.Errorf("yaml values not applied: %+v", cfg)
	}
	if cfg.Registry.URL != "http://registry.local/occupancy" || cfg.Registry.Timeout != time.Second {
		t.Errorf("registry = %+v", cfg.Registry)
	}
	turn := cfg.GetTURNServers()
	if len(turn) != 3 || turn[0] != "turn:turn.example:3478?transport=udp" {
		t.Errorf("turn servers = %v", turn)
	}
}

func TestLoadRejectsRelayWithoutTURN(t *testing.T) {
	t.Chdir(t.TempDir())

	if _, err := Load(Options{ForceRelay: true}); err == nil {
		t.Fatal("expected error forcing relay without TURN")
	}
}

func TestLoadRejectsNonWebsocketURL(t *testing.T) {
	t.Chdir(t.TempDir())

	if _, err := Load(Options{ServerURL: "http://localhost:8080/ws"}); err == nil {
		t.Fatal("expected error for http scheme")
	}
}
