// Package config binds the startup options of spec.md §6 ("number of
// worker threads, listen port, TLS cert/key/dhparam paths, static root,
// DB connection string, query directory") to spf13/pflag flags,
// following docker-compose/ecs/cmd/main/main.go's
// StringVarP-against-a-struct convention.
package config

import (
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
)

// Config is the fully-resolved, validated set of startup options.
type Config struct {
	Workers     int
	ListenAddr  string
	CertFile    string
	KeyFile     string
	DHParamFile string
	StaticRoot  string
	DBConnStr   string
	QueryDir    string
	Debug       bool
}

// Flags binds fs to a Config; call Validate on the result after
// fs.Parse.
func Flags(fs *pflag.FlagSet) *Config {
	c := &Config{}
	fs.IntVarP(&c.Workers, "workers", "w", 4, "number of worker threads")
	fs.StringVarP(&c.ListenAddr, "listen", "l", ":8443", "listen address")
	fs.StringVar(&c.CertFile, "cert", "", "TLS certificate file")
	fs.StringVar(&c.KeyFile, "key", "", "TLS private key file")
	fs.StringVar(&c.DHParamFile, "dhparam", "", "Diffie-Hellman parameters file")
	fs.StringVar(&c.StaticRoot, "static-root", "./public", "static file root directory")
	fs.StringVar(&c.DBConnStr, "db", "", "database connection string")
	fs.StringVar(&c.QueryDir, "query-dir", "./queries", "prepared statement SQL directory")
	fs.BoolVar(&c.Debug, "debug", false, "enable debug logging")
	return c
}

// Validate enforces the minimum required configuration per spec.md
// §6's "non-zero on listen failure or TLS context construction
// failure" contract: a missing cert/key should fail fast here rather
// than surface as an opaque TLS error later.
func (c *Config) Validate() error {
	if c.Workers <= 0 {
		return errors.New("config: workers must be positive")
	}
	if c.CertFile == "" || c.KeyFile == "" {
		return errors.New("config: --cert and --key are required")
	}
	if c.DBConnStr == "" {
		return errors.New("config: --db is required")
	}
	if c.StaticRoot == "" {
		return errors.New("config: --static-root is required")
	}
	return nil
}
