package main

import (
	"bytes"
	"strings"
	"testing"

	"canon-mcp/internal/infra/config"
)

func TestRootCommands(t *testing.T) {
	root := newRootCmd()
	want := map[string]bool{"serve": false, "doctor": false, "encrypt": false}
	for _, c := range root.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("missing subcommand %q", name)
		}
	}
	if root.PersistentFlags().Lookup("config") == nil || root.PersistentFlags().Lookup("camera-ip") == nil {
		t.Error("expected persistent --config and --camera-ip flags")
	}
}

func TestLoadConfigFlagsOverride(t *testing.T) {
	t.Setenv("CANON_IP", "10.0.0.5")
	flags := &rootFlags{configPath: t.TempDir() + "/missing.yaml", cameraIP: "10.0.0.9"}
	sf := &serveFlags{transport: "stdio", port: 9100}

	cfg, err := loadConfig(flags, sf.apply)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Camera.IP != "10.0.0.9" {
		t.Errorf("camera ip = %q, want flag value", cfg.Camera.IP)
	}
	if cfg.Server.Transport != "stdio" || cfg.Server.Port != 9100 {
		t.Errorf("server = %+v, want stdio on 9100", cfg.Server)
	}
}

func TestLoadConfigRequiresCamera(t *testing.T) {
	t.Setenv("CANON_IP", "")
	flags := &rootFlags{configPath: t.TempDir() + "/missing.yaml"}
	if _, err := loadConfig(flags, nil); err == nil {
		t.Fatal("expected validation error without a camera address")
	}
}

func TestEncryptCommand(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"encrypt", "--key", "passphrase", "s3cret"})
	if err := root.Execute(); err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	enc := strings.TrimSpace(out.String())
	if !strings.HasPrefix(enc, "enc:") {
		t.Fatalf("output %q lacks enc: prefix", enc)
	}
	plain, err := config.DecryptValue(strings.TrimPrefix(enc, "enc:"), "passphrase")
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if plain != "s3cret" {
		t.Errorf("round trip = %q", plain)
	}
}

func TestEncryptCommandStdin(t *testing.T) {
	t.Setenv("CANONMCP_CONFIG_KEY", "k")
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetIn(strings.NewReader("from-stdin\n"))
	root.SetArgs([]string{"encrypt"})
	if err := root.Execute(); err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if !strings.HasPrefix(out.String(), "enc:") {
		t.Errorf("output %q lacks enc: prefix", out.String())
	}
}

func TestEncryptCommandNeedsKey(t *testing.T) {
	t.Setenv("CANONMCP_CONFIG_KEY", "")
	root := newRootCmd()
	root.SetArgs([]string{"encrypt", "x"})
	if err := root.Execute(); err == nil {
		t.Fatal("expected error without passphrase")
	}
}
