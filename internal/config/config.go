package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stellar/go-stellar-sdk/network"
)

const (
	NetworkTestnet = "testnet"
	NetworkPublic  = "public"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Network               string
	HorizonURL            string
	FriendbotURL          string
	NetworkPassphrase     string
	DatabaseURL           string
	HTTPPort              string
	AdminAPIKey           string
	HorizonRetryMax       int
	HorizonRetryBaseDelay time.Duration
	HorizonRateLimit      float64
	FundingRetryMax       int
	FundingBaseDelay      time.Duration
	FundingMaxDelay       time.Duration
	MinReserve            decimal.Decimal
	BaseFee               int64
	TxTimeout             time.Duration
	PollInterval          time.Duration
	PollAttempts          int
	DeployRetryMax        int
	DeployTimeout         time.Duration
	MintOnDeploy          bool
	IssuerSecret          string
	DistributorSecret     string
	ReconcileInterval     time.Duration
	SheetsSpreadsheetID   string
	GoogleCredentialsJSON string
}

// Load reads configuration from environment variables with sensible defaults.
// Network-dependent defaults (Horizon, Friendbot, passphrase) follow NETWORK.
func Load() Config {
	net := envOrDefault("NETWORK", NetworkTestnet)
	if net != NetworkTestnet && net != NetworkPublic {
		slog.Warn("unknown network, using default", "key", "NETWORK", "value", net, "default", NetworkTestnet)
		net = NetworkTestnet
	}

	horizonURL, friendbotURL, passphrase := "https://horizon-testnet.stellar.org", "https://friendbot.stellar.org", network.TestNetworkPassphrase
	if net == NetworkPublic {
		horizonURL, friendbotURL, passphrase = "https://horizon.stellar.org", "", network.PublicNetworkPassphrase
	}

	return Config{
		Network:               net,
		HorizonURL:            envOrDefault("HORIZON_URL", horizonURL),
		FriendbotURL:          envOrDefault("FRIENDBOT_URL", friendbotURL),
		NetworkPassphrase:     envOrDefault("NETWORK_PASSPHRASE", passphrase),
		DatabaseURL:           envOrDefaultWarn("DATABASE_URL", ""),
		HTTPPort:              envOrDefault("HTTP_PORT", "8080"),
		AdminAPIKey:           os.Getenv("ADMIN_API_KEY"),
		HorizonRetryMax:       envOrDefaultInt("HORIZON_RETRY_MAX", 5),
		HorizonRetryBaseDelay: envOrDefaultDuration("HORIZON_RETRY_BASE_DELAY", 2*time.Second),
		HorizonRateLimit:      envOrDefaultFloat("HORIZON_RATE_LIMIT", 10),
		FundingRetryMax:       envOrDefaultInt("FUNDING_RETRY_MAX", 3),
		FundingBaseDelay:      envOrDefaultDuration("FUNDING_BASE_DELAY", 1*time.Second),
		FundingMaxDelay:       envOrDefaultDuration("FUNDING_MAX_DELAY", 10*time.Second),
		MinReserve:            envOrDefaultDecimal("MIN_RESERVE", decimal.RequireFromString("2.5")),
		BaseFee:               int64(envOrDefaultInt("BASE_FEE", 100)),
		TxTimeout:             envOrDefaultDuration("TX_TIMEOUT", 60*time.Second),
		PollInterval:          envOrDefaultDuration("POLL_INTERVAL", 2*time.Second),
		PollAttempts:          envOrDefaultInt("POLL_ATTEMPTS", 15),
		DeployRetryMax:        envOrDefaultInt("DEPLOY_RETRY_MAX", 3),
		DeployTimeout:         envOrDefaultDuration("DEPLOY_TIMEOUT", 3*time.Minute),
		MintOnDeploy:          envOrDefaultBool("MINT_ON_DEPLOY", true),
		IssuerSecret:          os.Getenv("ISSUER_SECRET"),
		DistributorSecret:     os.Getenv("DISTRIBUTOR_SECRET"),
		ReconcileInterval:     envOrDefaultDuration("RECONCILE_INTERVAL", 5*time.Minute),
		SheetsSpreadsheetID:   os.Getenv("SHEETS_SPREADSHEET_ID"),
		GoogleCredentialsJSON: os.Getenv("GOOGLE_CREDENTIALS_JSON"),
	}
}

// UsesFaucet reports whether new accounts are funded by Friendbot.
func (c Config) UsesFaucet() bool {
	return c.FriendbotURL != ""
}

// HasCustodyKeys reports whether pre-funded issuer and distribution keys are configured.
func (c Config) HasCustodyKeys() bool {
	return c.IssuerSecret != "" && c.DistributorSecret != ""
}

// Validate reports configurations that cannot deploy anything.
func (c Config) Validate() error {
	if c.NetworkPassphrase == "" {
		return errors.New("NETWORK_PASSPHRASE is empty")
	}
	if !c.UsesFaucet() && !c.HasCustodyKeys() {
		return fmt.Errorf("network %s has no faucet: ISSUER_SECRET and DISTRIBUTOR_SECRET are required", c.Network)
	}
	if (c.IssuerSecret == "") != (c.DistributorSecret == "") {
		return errors.New("ISSUER_SECRET and DISTRIBUTOR_SECRET must be set together")
	}
	if c.PollAttempts <= 0 {
		return fmt.Errorf("POLL_ATTEMPTS must be positive, got %d", c.PollAttempts)
	}
	return nil
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envOrDefaultWarn(key, defaultVal string) string {
	v := envOrDefault(key, defaultVal)
	if v == "" {
		slog.Warn("required env var not set", "key", key)
	}
	return v
}

func envOrDefaultInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			slog.Warn("invalid integer env var, using default", "key", key, "value", v, "default", defaultVal)
			return defaultVal
		}
		return n
	}
	return defaultVal
}

func envOrDefaultFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			slog.Warn("invalid number env var, using default", "key", key, "value", v, "default", defaultVal)
			return defaultVal
		}
		return f
	}
	return defaultVal
}

func envOrDefaultBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			slog.Warn("invalid boolean env var, using default", "key", key, "value", v, "default", defaultVal)
			return defaultVal
		}
		return b
	}
	return defaultVal
}

func envOrDefaultDecimal(key string, defaultVal decimal.Decimal) decimal.Decimal {
	if v := os.Getenv(key); v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil {
			slog.Warn("invalid decimal env var, using default", "key", key, "value", v, "default", defaultVal)
			return defaultVal
		}
		return d
	}
	return defaultVal
}

func envOrDefaultDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			slog.Warn("invalid duration env var, using default", "key", key, "value", v, "default", defaultVal)
			return defaultVal
		}
		return d
	}
	return defaultVal
}
