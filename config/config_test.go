package config

import (
	"os"
	"path/filepath"
	"testing"
)

const validAddrs = `
engine:
  owner: "0x00000000000000000000000000000000000000aa"
  operator: "0x00000000000000000000000000000000000000ab"
  fee_vault: "0x00000000000000000000000000000000000000ac"
  router: "0x00000000000000000000000000000000000000ad"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, validAddrs))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 8082 {
		t.Errorf("port = %d, want 8082", cfg.Server.Port)
	}
	if cfg.Engine.CooldownBlocks != 5 {
		t.Errorf("cooldown = %d, want 5", cfg.Engine.CooldownBlocks)
	}
	if cfg.Data.Backend != "sqlite" {
		t.Errorf("backend = %q, want sqlite", cfg.Data.Backend)
	}
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
server:
  port: 9000
engine:
  cooldown_blocks: 12
  owner: "0x00000000000000000000000000000000000000aa"
  operator: "0x00000000000000000000000000000000000000ab"
  fee_vault: "0x00000000000000000000000000000000000000ac"
  router: "0x00000000000000000000000000000000000000ad"
data:
  backend: postgres
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 9000 {
		t.Errorf("port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Engine.CooldownBlocks != 12 {
		t.Errorf("cooldown = %d, want 12", cfg.Engine.CooldownBlocks)
	}
	if cfg.Data.Backend != "postgres" {
		t.Errorf("backend = %q, want postgres", cfg.Data.Backend)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"missing owner", `
engine:
  operator: "0x00000000000000000000000000000000000000ab"
  fee_vault: "0x00000000000000000000000000000000000000ac"
  router: "0x00000000000000000000000000000000000000ad"
`},
		{"bad address", `
engine:
  owner: "not-an-address"
  operator: "0x00000000000000000000000000000000000000ab"
  fee_vault: "0x00000000000000000000000000000000000000ac"
  router: "0x00000000000000000000000000000000000000ad"
`},
		{"bad backend", validAddrs + `data:
  backend: cassandra
`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.content)); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MIRROR_ROUTER_URL", "http://router.example:9999")
	t.Setenv("MIRROR_OPERATOR", "0x00000000000000000000000000000000000000ff")

	cfg, err := Load(writeConfig(t, validAddrs))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Exchange.RouterURL != "http://router.example:9999" {
		t.Errorf("router url = %q", cfg.Exchange.RouterURL)
	}
	if cfg.Engine.Operator != "0x00000000000000000000000000000000000000ff" {
		t.Errorf("operator = %q", cfg.Engine.Operator)
	}
}

func TestAddressAccessors(t *testing.T) {
	cfg, err := Load(writeConfig(t, validAddrs))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.OwnerAddress().Hex() == cfg.OperatorAddress().Hex() {
		t.Error("owner and operator should differ")
	}
	if cfg.FeeVaultAddress() == cfg.RouterAddress() {
		t.Error("vault and router should differ")
	}
}
