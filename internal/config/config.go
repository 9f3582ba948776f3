// Package config loads the server's TOML configuration file, with
// environment-variable overrides for deployment secrets.
package config

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/pelletier/go-toml/v2"

	"spadina.network/internal/asset"
)

// Config is the server configuration. Every field can come from the
// TOML file; the env-tagged ones can be overridden at deploy time.
type Config struct {
	// Name is this server's federation name, the suffix of its
	// players' principals.
	Name        string `toml:"name" env:"SPADINA_NAME"`
	BindAddress string `toml:"bind_address" env:"SPADINA_BIND_ADDRESS"`

	// Certificate and PrivateKey enable direct TLS; empty means a
	// reverse proxy terminates TLS in front of us.
	Certificate string `toml:"certificate" env:"SPADINA_CERTIFICATE"`
	PrivateKey  string `toml:"private_key" env:"SPADINA_PRIVATE_KEY"`

	// UnixSocket is the unauthenticated admin endpoint.
	UnixSocket string `toml:"unix_socket" env:"SPADINA_UNIX_SOCKET"`

	Database string `toml:"database" env:"SPADINA_DATABASE"`
	DataDir  string `toml:"data_dir" env:"SPADINA_DATA_DIR"`

	// DefaultRealm is the home realm template asset id.
	DefaultRealm string `toml:"default_realm" env:"SPADINA_DEFAULT_REALM"`

	// JWTSecret signs client session tokens.
	JWTSecret string `toml:"jwt_secret" env:"SPADINA_JWT_SECRET"`

	// PeerKey is the PEM Ed25519 key file proving this server's name
	// to its peers.
	PeerKey string `toml:"peer_key" env:"SPADINA_PEER_KEY"`

	Tuning string `toml:"tuning" env:"SPADINA_TUNING"`

	AssetStore     AssetStore     `toml:"asset_store"`
	Authentication Authentication `toml:"authentication"`
	Train          []TrainCar     `toml:"train"`
}

// AssetStore selects the asset blob backend.
type AssetStore struct {
	// Kind is fs, s3, or gcs. GCS rides the S3 interoperability
	// endpoint.
	Kind string `toml:"kind" env:"SPADINA_ASSET_STORE_KIND"`

	// fs.
	Path string `toml:"path" env:"SPADINA_ASSET_STORE_PATH"`

	// s3 and gcs.
	Endpoint        string `toml:"endpoint" env:"SPADINA_ASSET_STORE_ENDPOINT"`
	Bucket          string `toml:"bucket" env:"SPADINA_ASSET_STORE_BUCKET"`
	Prefix          string `toml:"prefix" env:"SPADINA_ASSET_STORE_PREFIX"`
	AccessKeyID     string `toml:"access_key_id" env:"SPADINA_ASSET_STORE_ACCESS_KEY_ID"`
	SecretAccessKey string `toml:"secret_access_key" env:"SPADINA_ASSET_STORE_SECRET_ACCESS_KEY"`
}

// Authentication selects how players sign in.
type Authentication struct {
	// Kind is otp or password. Fixed passwords are for development
	// setups only.
	Kind string `toml:"kind" env:"SPADINA_AUTH_KIND"`
}

// TrainCar is one entry of the realm train.
type TrainCar struct {
	Asset        string `toml:"asset"`
	AllowedFirst bool   `toml:"allowed_first"`
}

// Load reads the file, applies env overrides, fills defaults, and
// validates.
func Load(path string) (Config, error) {
	var cfg Config
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := toml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("environment overrides: %w", err)
	}
	cfg.fillDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) fillDefaults() {
	if c.BindAddress == "" {
		c.BindAddress = ":8080"
	}
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.Database == "" {
		c.Database = c.DataDir + "/spadina.db"
	}
	if c.AssetStore.Kind == "" {
		c.AssetStore.Kind = "fs"
	}
	if c.AssetStore.Kind == "fs" && c.AssetStore.Path == "" {
		c.AssetStore.Path = c.DataDir + "/assets"
	}
	if c.Authentication.Kind == "" {
		c.Authentication.Kind = "otp"
	}
}

func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("name is required")
	}
	if c.DefaultRealm == "" {
		return fmt.Errorf("default_realm is required")
	}
	if !asset.ID(c.DefaultRealm).Valid() {
		return fmt.Errorf("default_realm %q is not an asset id", c.DefaultRealm)
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("jwt_secret is required")
	}
	switch c.AssetStore.Kind {
	case "fs":
		if c.AssetStore.Path == "" {
			return fmt.Errorf("asset_store.path is required for the fs backend")
		}
	case "s3", "gcs":
		if c.AssetStore.Bucket == "" {
			return fmt.Errorf("asset_store.bucket is required for the %s backend", c.AssetStore.Kind)
		}
	default:
		return fmt.Errorf("unknown asset_store.kind %q", c.AssetStore.Kind)
	}
	switch c.Authentication.Kind {
	case "otp", "password":
	default:
		return fmt.Errorf("unknown authentication.kind %q", c.Authentication.Kind)
	}
	for _, car := range c.Train {
		if !asset.ID(car.Asset).Valid() {
			return fmt.Errorf("train car %q is not an asset id", car.Asset)
		}
	}
	if (c.Certificate == "") != (c.PrivateKey == "") {
		return fmt.Errorf("certificate and private_key must be set together")
	}
	return nil
}
