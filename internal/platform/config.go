package platform

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"github.com/aretw0/scriptvault/pkg/core"
)

// ConfigFile is the name of the project configuration file.
const ConfigFile = "scriptvault.yaml"

const (
	DefaultNetwork   = "sepolia"
	DefaultKeyEnv    = "SCRIPTVAULT_PRIVATE_KEY"
	DefaultSecretEnv = "SCRIPTVAULT_STORE_SECRET"
	DefaultStoreDir  = ".scriptvault"
)

// knownChains maps network names to chain ids when none is configured.
var knownChains = map[string]uint64{
	"sepolia":   11155111,
	"localhost": 31337,
	"hardhat":   31337,
}

// Config is the runtime configuration: defaults, then scriptvault.yaml, then SCRIPTVAULT_* variables.
type Config struct {
	// Network selects the entry of Addresses to use.
	Network string `yaml:"network"`
	// Addresses maps network names to registry deployments.
	Addresses map[string]string `yaml:"addresses"`
	// AddressesFile is a JSON or YAML network map, as written by the deploy script.
	AddressesFile string `yaml:"addresses_file"`

	Ledger  LedgerConfig  `yaml:"ledger"`
	Relayer RelayerConfig `yaml:"relayer"`
	Store   StoreConfig   `yaml:"store"`
	Session SessionConfig `yaml:"session"`
	Wallet  WalletConfig  `yaml:"wallet"`
	Reactor ReactorConfig `yaml:"reactor"`

	// Gateway resolves ipfs:// locators for display.
	Gateway string `yaml:"gateway"`

	// dir is the directory relative paths are resolved against.
	dir string
}

type LedgerConfig struct {
	RPCURL string `yaml:"rpc_url"`
	// Contract overrides the network address map.
	Contract       string        `yaml:"contract"`
	ChainID        uint64        `yaml:"chain_id"`
	ConfirmTimeout time.Duration `yaml:"confirm_timeout"`
	PollInterval   time.Duration `yaml:"poll_interval"`
}

type RelayerConfig struct {
	URL string `yaml:"url"`
}

type StoreConfig struct {
	// Adapter is one of fs, sqlite or memory.
	Adapter string `yaml:"adapter"`
	Path    string `yaml:"path"`
	// SecretEnv names the variable holding the at-rest sealing secret.
	SecretEnv string `yaml:"secret_env"`
	// DevSafety re-roots the store into a temp dir under go run and go test. Defaults to true.
	DevSafety *bool `yaml:"dev_safety"`
}

type SessionConfig struct {
	DurationDays int `yaml:"duration_days"`
}

type WalletConfig struct {
	// KeyEnv names the variable holding hex private keys, comma separated.
	KeyEnv string `yaml:"key_env"`
}

type ReactorConfig struct {
	Works       []uint64 `yaml:"works"`
	Scope       uint64   `yaml:"scope"`
	MetricsAddr string   `yaml:"metrics_addr"`
}

// DefaultConfig returns the configuration used when no file is found.
func DefaultConfig() Config {
	return Config{
		Network:   DefaultNetwork,
		Addresses: map[string]string{},
		Ledger: LedgerConfig{
			ConfirmTimeout: core.DefaultConfirmTimeout,
		},
		Store: StoreConfig{
			Adapter:   "fs",
			Path:      DefaultStoreDir,
			SecretEnv: DefaultSecretEnv,
		},
		Session: SessionConfig{DurationDays: core.DefaultSessionDays},
		Wallet:  WalletConfig{KeyEnv: DefaultKeyEnv},
		Reactor: ReactorConfig{Scope: core.DefaultScopeLevel},
		Gateway: core.DefaultGateway,
		dir:     ".",
	}
}

// LoadConfig reads path, or the scriptvault.yaml found by walking up from the working
// directory when path is empty, and applies the environment on top.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		wd, err := os.Getwd()
		if err != nil {
			return cfg, err
		}
		if root, err := FindRoot(wd); err == nil && exists(filepath.Join(root, ConfigFile)) {
			path = filepath.Join(root, ConfigFile)
		}
	}
	if path != "" {
		if err := cfg.readFile(path); err != nil {
			return cfg, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) readFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	c.dir = filepath.Dir(path)
	return nil
}

func (c *Config) applyEnv() error {
	c.Network = getEnvDefault("SCRIPTVAULT_NETWORK", c.Network)
	c.Ledger.RPCURL = getEnvDefault("SCRIPTVAULT_RPC_URL", c.Ledger.RPCURL)
	c.Ledger.Contract = getEnvDefault("SCRIPTVAULT_CONTRACT", c.Ledger.Contract)
	c.Relayer.URL = getEnvDefault("SCRIPTVAULT_RELAYER_URL", c.Relayer.URL)
	c.Store.Adapter = getEnvDefault("SCRIPTVAULT_STORE", c.Store.Adapter)
	c.Store.Path = getEnvDefault("SCRIPTVAULT_STORE_PATH", c.Store.Path)
	c.Reactor.MetricsAddr = getEnvDefault("SCRIPTVAULT_METRICS_ADDR", c.Reactor.MetricsAddr)

	var err error
	if c.Ledger.ChainID, err = getEnvUint("SCRIPTVAULT_CHAIN_ID", c.Ledger.ChainID); err != nil {
		return fmt.Errorf("SCRIPTVAULT_CHAIN_ID: %w", err)
	}
	if c.Ledger.ConfirmTimeout, err = getEnvDuration("SCRIPTVAULT_CONFIRM_TIMEOUT", c.Ledger.ConfirmTimeout); err != nil {
		return fmt.Errorf("SCRIPTVAULT_CONFIRM_TIMEOUT: %w", err)
	}
	days, err := getEnvUint("SCRIPTVAULT_SESSION_DAYS", uint64(c.Session.DurationDays))
	if err != nil {
		return fmt.Errorf("SCRIPTVAULT_SESSION_DAYS: %w", err)
	}
	c.Session.DurationDays = int(days)
	if v := os.Getenv("SCRIPTVAULT_WORKS"); v != "" {
		works, err := ParseWorkIDs(strings.Split(v, ","))
		if err != nil {
			return fmt.Errorf("SCRIPTVAULT_WORKS: %w", err)
		}
		c.Reactor.Works = works
	}
	return nil
}

// Validate checks the fields that have no usable default.
func (c Config) Validate() error {
	switch c.Store.Adapter {
	case "fs", "sqlite", "memory":
	default:
		return fmt.Errorf("%w: unknown store adapter %q", core.ErrInvalidInput, c.Store.Adapter)
	}
	if c.Session.DurationDays <= 0 {
		return fmt.Errorf("%w: session duration must be positive", core.ErrInvalidInput)
	}
	if c.Reactor.Scope == 0 {
		return fmt.Errorf("%w: reactor scope must be at least 1", core.ErrInvalidInput)
	}
	if c.Ledger.Contract != "" && !common.IsHexAddress(c.Ledger.Contract) {
		return fmt.Errorf("%w: contract %q is not an address", core.ErrInvalidInput, c.Ledger.Contract)
	}
	return nil
}

// RegistryAddress resolves the registry deployment: an explicit contract wins, otherwise the
// address map is consulted for the selected network, then sepolia, then localhost.
func (c Config) RegistryAddress() (common.Address, error) {
	if c.Ledger.Contract != "" {
		return common.HexToAddress(c.Ledger.Contract), nil
	}
	addresses, err := c.addressMap()
	if err != nil {
		return common.Address{}, err
	}
	for _, network := range []string{c.Network, "sepolia", "localhost"} {
		if a := addresses[network]; common.IsHexAddress(a) {
			return common.HexToAddress(a), nil
		}
	}
	return common.Address{}, fmt.Errorf("%w: no registry address for network %q", core.ErrInvalidInput, c.Network)
}

func (c Config) addressMap() (map[string]string, error) {
	merged := make(map[string]string, len(c.Addresses))
	if c.AddressesFile != "" {
		data, err := os.ReadFile(c.resolve(c.AddressesFile))
		if err != nil {
			return nil, fmt.Errorf("read address map: %w", err)
		}
		// JSON is valid YAML, so the deploy script's output parses as is.
		if err := yaml.Unmarshal(data, &merged); err != nil {
			return nil, fmt.Errorf("parse address map: %w", err)
		}
	}
	for k, v := range c.Addresses {
		merged[k] = v
	}
	return merged, nil
}

// ChainID returns the configured chain id, or the well-known id of the network.
func (c Config) ChainID() (uint64, error) {
	if c.Ledger.ChainID != 0 {
		return c.Ledger.ChainID, nil
	}
	if id, ok := knownChains[c.Network]; ok {
		return id, nil
	}
	return 0, fmt.Errorf("%w: chain id unknown for network %q, set ledger.chain_id", core.ErrInvalidInput, c.Network)
}

// StorePath returns the store location resolved against the config file directory.
func (c Config) StorePath() string {
	return c.resolve(c.Store.Path)
}

func (c Config) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) || c.dir == "" {
		return p
	}
	return filepath.Join(c.dir, p)
}

// WalletKeys returns the hex keys held in the wallet key variable.
func (c Config) WalletKeys() []string {
	raw := os.Getenv(c.Wallet.KeyEnv)
	if raw == "" {
		return nil
	}
	var keys []string
	for _, k := range strings.Split(raw, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// StoreSecret returns the at-rest sealing secret, or nil when none is set.
func (c Config) StoreSecret() []byte {
	if c.Store.SecretEnv == "" {
		return nil
	}
	if v := os.Getenv(c.Store.SecretEnv); v != "" {
		return []byte(v)
	}
	return nil
}

// DevSafety reports whether the dev sandbox applies to the store.
func (c Config) DevSafety() bool {
	return c.Store.DevSafety == nil || *c.Store.DevSafety
}

// ParseWorkIDs parses decimal work ids.
func ParseWorkIDs(values []string) ([]uint64, error) {
	ids := make([]uint64, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil || id == 0 {
			return nil, fmt.Errorf("%w: invalid work id %q", core.ErrInvalidInput, v)
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, errors.New("no work ids given")
	}
	return ids, nil
}

func getEnvDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvUint(key string, defaultVal uint64) (uint64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid unsigned integer %q", val)
	}
	return n, nil
}

func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q (use Go syntax: 30s, 2m)", val)
	}
	return d, nil
}
