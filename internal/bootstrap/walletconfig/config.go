// Package walletconfig loads daemon configuration: built-in defaults, merged
// with an optional YAML file, then environment overrides. The keystore
// passphrase is env-only so it never ends up in a config file on disk.
package walletconfig

import (
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	ListenAddr         string
	DataDir            string
	KeystorePassphrase string
	Ledger             LedgerConfig
	Funding            FundingConfig
}

type LedgerConfig struct {
	HorizonURL        string
	FaucetURL         string
	NetworkPassphrase string
	Timeout           time.Duration
	SubmitAttempts    uint
	BackoffBase       time.Duration
	BackoffMax        time.Duration
	BaseFee           uint32
	FaucetRPS         float64
	FaucetBurst       int
}

type FundingConfig struct {
	Account      string
	Benefits     map[string]string
	WaitAttempts uint
	WaitInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		ListenAddr: "127.0.0.1:8600",
		Ledger: LedgerConfig{
			HorizonURL:        "http://127.0.0.1:8000",
			FaucetURL:         "http://127.0.0.1:8000/friendbot",
			NetworkPassphrase: "lumenpay sandbox network",
			Timeout:           10 * time.Second,
			SubmitAttempts:    3,
			BackoffBase:       250 * time.Millisecond,
			BackoffMax:        5 * time.Second,
			BaseFee:           100,
			FaucetRPS:         1,
			FaucetBurst:       3,
		},
		Funding: FundingConfig{
			WaitAttempts: 5,
			WaitInterval: 500 * time.Millisecond,
		},
	}
}

// Duration accepts both "500ms" strings and raw nanosecond integers in YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return err
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := value.Decode(&n); err != nil {
		return err
	}
	*d = Duration(n)
	return nil
}

type fileConfig struct {
	Listen  string            `yaml:"listen"`
	DataDir string            `yaml:"dataDir"`
	Ledger  ledgerFileConfig  `yaml:"ledger"`
	Funding fundingFileConfig `yaml:"funding"`
}

type ledgerFileConfig struct {
	HorizonURL        string   `yaml:"horizonUrl"`
	FaucetURL         string   `yaml:"faucetUrl"`
	NetworkPassphrase string   `yaml:"networkPassphrase"`
	Timeout           Duration `yaml:"timeout"`
	SubmitAttempts    uint     `yaml:"submitAttempts"`
	BackoffBase       Duration `yaml:"backoffBase"`
	BackoffMax        Duration `yaml:"backoffMax"`
	BaseFee           uint32   `yaml:"baseFee"`
	FaucetRPS         float64  `yaml:"faucetRps"`
	FaucetBurst       int      `yaml:"faucetBurst"`
}

type fundingFileConfig struct {
	Account      string            `yaml:"account"`
	Benefits     map[string]string `yaml:"benefits"`
	WaitAttempts uint              `yaml:"waitAttempts"`
	WaitInterval Duration          `yaml:"waitInterval"`
}

// LoadFromPath resolves the effective config. A missing or unreadable file
// falls back to defaults plus env overrides.
func LoadFromPath(configPath string) Config {
	cfg := DefaultConfig()

	candidates := make([]string, 0, 2)
	if configPath != "" {
		candidates = append(candidates, configPath)
	} else {
		candidates = append(candidates, "configs/config.yaml")
	}

	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var parsed fileConfig
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			continue
		}
		Merge(&cfg, parsed)
		break
	}

	ApplyEnvOverrides(&cfg)
	return cfg
}

func Merge(dst *Config, src fileConfig) {
	if src.Listen != "" {
		dst.ListenAddr = src.Listen
	}
	if src.DataDir != "" {
		dst.DataDir = src.DataDir
	}
	if src.Ledger.HorizonURL != "" {
		dst.Ledger.HorizonURL = src.Ledger.HorizonURL
	}
	if src.Ledger.FaucetURL != "" {
		dst.Ledger.FaucetURL = src.Ledger.FaucetURL
	}
	if src.Ledger.NetworkPassphrase != "" {
		dst.Ledger.NetworkPassphrase = src.Ledger.NetworkPassphrase
	}
	if src.Ledger.Timeout != 0 {
		dst.Ledger.Timeout = time.Duration(src.Ledger.Timeout)
	}
	if src.Ledger.SubmitAttempts != 0 {
		dst.Ledger.SubmitAttempts = src.Ledger.SubmitAttempts
	}
	if src.Ledger.BackoffBase != 0 {
		dst.Ledger.BackoffBase = time.Duration(src.Ledger.BackoffBase)
	}
	if src.Ledger.BackoffMax != 0 {
		dst.Ledger.BackoffMax = time.Duration(src.Ledger.BackoffMax)
	}
	if src.Ledger.BaseFee != 0 {
		dst.Ledger.BaseFee = src.Ledger.BaseFee
	}
	if src.Ledger.FaucetRPS != 0 {
		dst.Ledger.FaucetRPS = src.Ledger.FaucetRPS
	}
	if src.Ledger.FaucetBurst != 0 {
		dst.Ledger.FaucetBurst = src.Ledger.FaucetBurst
	}
	if src.Funding.Account != "" {
		dst.Funding.Account = src.Funding.Account
	}
	if src.Funding.Benefits != nil {
		dst.Funding.Benefits = src.Funding.Benefits
	}
	if src.Funding.WaitAttempts != 0 {
		dst.Funding.WaitAttempts = src.Funding.WaitAttempts
	}
	if src.Funding.WaitInterval != 0 {
		dst.Funding.WaitInterval = time.Duration(src.Funding.WaitInterval)
	}
}

func ApplyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("LUMEN_LISTEN_ADDR")); v != "" {
		cfg.ListenAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("LUMEN_DATA_DIR")); v != "" {
		cfg.DataDir = v
	}
	if v := strings.TrimSpace(os.Getenv("LUMEN_KEYSTORE_PASSPHRASE")); v != "" {
		cfg.KeystorePassphrase = v
	}
	if v := strings.TrimSpace(os.Getenv("LUMEN_HORIZON_URL")); v != "" {
		cfg.Ledger.HorizonURL = v
	}
	if v := strings.TrimSpace(os.Getenv("LUMEN_FAUCET_URL")); v != "" {
		cfg.Ledger.FaucetURL = v
	}
	if v := strings.TrimSpace(os.Getenv("LUMEN_NETWORK_PASSPHRASE")); v != "" {
		cfg.Ledger.NetworkPassphrase = v
	}
	if v := strings.TrimSpace(os.Getenv("LUMEN_FUNDING_ACCOUNT")); v != "" {
		cfg.Funding.Account = v
	}
}
