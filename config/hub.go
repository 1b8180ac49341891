package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

type HubConfig struct {
	Environment string `toml:"environment" env:"LNHUB_ENVIRONMENT" env-default:"development"`

	Server struct {
		Host      string `toml:"host" env:"LNHUB_HOST" env-default:"0.0.0.0"`
		Port      int    `toml:"port" env:"LNHUB_PORT" env-default:"3000"`
		BodyLimit int    `toml:"body_limit" env:"LNHUB_BODY_LIMIT" env-default:"1048576"`
	} `toml:"server"`

	Redis struct {
		Host     string `toml:"host" env:"LNHUB_REDIS_HOST" env-default:"localhost"`
		Port     string `toml:"port" env:"LNHUB_REDIS_PORT" env-default:"6379"`
		Password string `toml:"password" env:"LNHUB_REDIS_PASSWORD"`
		DB       int    `toml:"db" env:"LNHUB_REDIS_DB" env-default:"0"`
	} `toml:"redis"`

	Database struct {
		Enabled         bool   `toml:"enabled" env:"LNHUB_DB_ENABLED" env-default:"false"`
		Host            string `toml:"host" env:"LNHUB_DB_HOST" env-default:"localhost"`
		Port            string `toml:"port" env:"LNHUB_DB_PORT" env-default:"5432"`
		User            string `toml:"user" env:"LNHUB_DB_USER"`
		Password        string `toml:"password" env:"LNHUB_DB_PASSWORD"`
		DB              string `toml:"db" env:"LNHUB_DB_NAME" env-default:"lnhub"`
		SslMode         string `toml:"ssl_mode" env:"LNHUB_DB_SSL_MODE" env-default:"disable"`
		MaxConns        int    `toml:"max_conns" env:"LNHUB_DB_MAX_CONNS" env-default:"10"`
		MinConns        int    `toml:"min_conns" env:"LNHUB_DB_MIN_CONNS" env-default:"2"`
		MaxConnLifetime int    `toml:"max_conn_lifetime" env:"LNHUB_DB_MAX_CONN_LIFETIME" env-default:"5"`
		MaxConnIdleTime int    `toml:"max_conn_idle_time" env:"LNHUB_DB_MAX_CONN_IDLE_TIME" env-default:"1"`
		MigrationsPath  string `toml:"migrations_path" env:"LNHUB_DB_MIGRATIONS_PATH" env-default:"file://migrations"`
	} `toml:"database"`

	LND struct {
		Host           string `toml:"host" env:"LNHUB_LND_HOST" env-default:"localhost"`
		Port           string `toml:"port" env:"LNHUB_LND_PORT" env-default:"10009"`
		TLSCertPath    string `toml:"tls_cert_path" env:"LNHUB_LND_TLS_CERT"`
		MacaroonPath   string `toml:"macaroon_path" env:"LNHUB_LND_MACAROON"`
		Network        string `toml:"network" env:"LNHUB_LND_NETWORK" env-default:"mainnet"`
		PaymentTimeout int    `toml:"payment_timeout" env:"LNHUB_LND_PAYMENT_TIMEOUT" env-default:"60"`
		AddressType    string `toml:"address_type" env:"LNHUB_LND_ADDRESS_TYPE" env-default:"p2wkh"`
	} `toml:"lnd"`

	Bitcoind struct {
		Enabled  bool   `toml:"enabled" env:"LNHUB_BITCOIND_ENABLED" env-default:"false"`
		Host     string `toml:"host" env:"LNHUB_BITCOIND_HOST" env-default:"localhost"`
		Port     string `toml:"port" env:"LNHUB_BITCOIND_PORT" env-default:"8332"`
		User     string `toml:"user" env:"LNHUB_BITCOIND_USER"`
		Password string `toml:"password" env:"LNHUB_BITCOIND_PASSWORD"`
	} `toml:"bitcoind"`

	Fees struct {
		ForwardReserveFee float64 `toml:"forward_reserve_fee" env:"LNHUB_FORWARD_RESERVE_FEE" env-default:"0.01"`
		IntraHubFee       float64 `toml:"intra_hub_fee" env:"LNHUB_INTRA_HUB_FEE" env-default:"0.003"`
	} `toml:"fees"`

	Security struct {
		PreimageKey string `toml:"preimage_key" env:"LNHUB_PREIMAGE_KEY"`
		BcryptCost  int    `toml:"bcrypt_cost" env:"LNHUB_BCRYPT_COST" env-default:"10"`
	} `toml:"security"`

	Features struct {
		Faucet bool `toml:"faucet" env:"LNHUB_FEATURE_FAUCET" env-default:"false"`
		Sunset bool `toml:"sunset" env:"LNHUB_FEATURE_SUNSET" env-default:"false"`
	} `toml:"features"`
}

func (c *HubConfig) IsProduction() bool {
	return c.Environment == "production"
}

// FaucetEnabled reports whether /faucet is served. It is never served in production.
func (c *HubConfig) FaucetEnabled() bool {
	return c.Features.Faucet && !c.IsProduction()
}

func (c *HubConfig) PaymentTimeout() time.Duration {
	return time.Duration(c.LND.PaymentTimeout) * time.Second
}

// PreimageKey decodes the hex AES-256 key used to seal stored preimages.
func (c *HubConfig) PreimageKey() ([]byte, error) {
	key, err := hex.DecodeString(c.Security.PreimageKey)
	if err != nil {
		return nil, fmt.Errorf("preimage_key must be hex: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("preimage_key must be 32 bytes (got %d)", len(key))
	}
	return key, nil
}

func (c *HubConfig) Validate() error {
	if c.Fees.ForwardReserveFee < 0 || c.Fees.ForwardReserveFee >= 1 {
		return fmt.Errorf("forward_reserve_fee must be in [0,1) (got %v)", c.Fees.ForwardReserveFee)
	}
	if c.Fees.IntraHubFee < 0 || c.Fees.IntraHubFee >= 1 {
		return fmt.Errorf("intra_hub_fee must be in [0,1) (got %v)", c.Fees.IntraHubFee)
	}
	if c.Security.PreimageKey == "" {
		return errors.New("preimage_key is required")
	}
	if _, err := c.PreimageKey(); err != nil {
		return err
	}
	return nil
}
