package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int `yaml:"port"`
	ReadTimeoutMS  int `yaml:"read_timeout_ms"`
	WriteTimeoutMS int `yaml:"write_timeout_ms"`
}

// EngineConfig sets the execution-engine parameters and roles.
type EngineConfig struct {
	CooldownBlocks uint64 `yaml:"cooldown_blocks"`
	FeeVault       string `yaml:"fee_vault"`
	Owner          string `yaml:"owner"`
	Operator       string `yaml:"operator"`
	Router         string `yaml:"router"`
}

// ExchangeConfig points at the external collaborators.
type ExchangeConfig struct {
	RouterURL   string `yaml:"router_url"`
	CustodyURL  string `yaml:"custody_url"`
	ChainRPCURL string `yaml:"chain_rpc_url"`
}

// DataConfig contains persistence-related settings.
type DataConfig struct {
	Backend string `yaml:"backend"` // "sqlite", "postgres", or "none"
	DBPath  string `yaml:"db_path"`
}

// Config aggregates all app configuration knobs.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Engine   EngineConfig   `yaml:"engine"`
	Exchange ExchangeConfig `yaml:"exchange"`
	Data     DataConfig     `yaml:"data"`
}

// Load reads configuration from disk, falling back to defaults when
// the file is absent. Environment variables override the collaborator
// endpoints.
func Load(path string) (*Config, error) {
	cfg := Default()

	configPath := path
	if configPath == "" {
		configPath = filepath.Join("config", "default.yaml")
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg.applyEnv()
			return &cfg, cfg.validate()
		}
		return nil, fmt.Errorf("config: unable to read %s: %w", configPath, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: unable to parse %s: %w", configPath, err)
	}

	cfg.applyDefaults()
	cfg.applyEnv()
	return &cfg, cfg.validate()
}

// Default returns baseline configuration values.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:           8082,
			ReadTimeoutMS:  10000,
			WriteTimeoutMS: 10000,
		},
		Engine: EngineConfig{
			CooldownBlocks: 5,
		},
		Exchange: ExchangeConfig{
			RouterURL:  "http://localhost:8545/router",
			CustodyURL: "http://localhost:8545/custody",
		},
		Data: DataConfig{
			Backend: "sqlite",
			DBPath:  filepath.Join("data", "mirror.db"),
		},
	}
}

func (c *Config) applyDefaults() {
	def := Default()
	if c.Server.Port == 0 {
		c.Server.Port = def.Server.Port
	}
	if c.Server.ReadTimeoutMS == 0 {
		c.Server.ReadTimeoutMS = def.Server.ReadTimeoutMS
	}
	if c.Server.WriteTimeoutMS == 0 {
		c.Server.WriteTimeoutMS = def.Server.WriteTimeoutMS
	}
	if c.Engine.CooldownBlocks == 0 {
		c.Engine.CooldownBlocks = def.Engine.CooldownBlocks
	}
	if c.Exchange.RouterURL == "" {
		c.Exchange.RouterURL = def.Exchange.RouterURL
	}
	if c.Exchange.CustodyURL == "" {
		c.Exchange.CustodyURL = def.Exchange.CustodyURL
	}
	if c.Data.Backend == "" {
		c.Data.Backend = def.Data.Backend
	}
	if c.Data.DBPath == "" {
		c.Data.DBPath = def.Data.DBPath
	}
}

func (c *Config) applyEnv() {
	if v := os.Getenv("MIRROR_ROUTER_URL"); v != "" {
		c.Exchange.RouterURL = v
	}
	if v := os.Getenv("MIRROR_CUSTODY_URL"); v != "" {
		c.Exchange.CustodyURL = v
	}
	if v := os.Getenv("MIRROR_CHAIN_RPC_URL"); v != "" {
		c.Exchange.ChainRPCURL = v
	}
	if v := os.Getenv("MIRROR_OWNER"); v != "" {
		c.Engine.Owner = v
	}
	if v := os.Getenv("MIRROR_OPERATOR"); v != "" {
		c.Engine.Operator = v
	}
	if v := os.Getenv("MIRROR_FEE_VAULT"); v != "" {
		c.Engine.FeeVault = v
	}
	if v := os.Getenv("MIRROR_ROUTER_ADDRESS"); v != "" {
		c.Engine.Router = v
	}
}

func (c *Config) validate() error {
	for name, raw := range map[string]string{
		"engine.owner":     c.Engine.Owner,
		"engine.operator":  c.Engine.Operator,
		"engine.fee_vault": c.Engine.FeeVault,
		"engine.router":    c.Engine.Router,
	} {
		if raw == "" {
			return fmt.Errorf("config: %s is required", name)
		}
		if !common.IsHexAddress(raw) {
			return fmt.Errorf("config: %s is not a valid address: %q", name, raw)
		}
	}
	switch c.Data.Backend {
	case "sqlite", "postgres", "none":
	default:
		return fmt.Errorf("config: unknown data backend %q", c.Data.Backend)
	}
	return nil
}

// OwnerAddress returns the parsed owner address.
func (c *Config) OwnerAddress() common.Address { return common.HexToAddress(c.Engine.Owner) }

// OperatorAddress returns the parsed operator address.
func (c *Config) OperatorAddress() common.Address { return common.HexToAddress(c.Engine.Operator) }

// FeeVaultAddress returns the parsed fee vault address.
func (c *Config) FeeVaultAddress() common.Address { return common.HexToAddress(c.Engine.FeeVault) }

// RouterAddress returns the parsed router address.
func (c *Config) RouterAddress() common.Address { return common.HexToAddress(c.Engine.Router) }
