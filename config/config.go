// Package config loads the YAML configuration shared by the roomsync
// binaries.
package config

import (
	"crypto/tls"
	"crypto/x509"
	"os"
	"strings"
	"time"

	"github.com/drpcorg/roomsync/network"
	"github.com/goccy/go-yaml"
	"github.com/pkg/errors"
)

var ErrInvalidConfig = errors.New("invalid config")

type Logger struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Link tunes the framed TCP link between a server process and the
// dispatcher. TLS applies to tls:// addresses.
type Link struct {
	WriteTimeout time.Duration `yaml:"write_timeout"`
	// certificate and key presented by this end
	TLSCert string `yaml:"tls_cert"`
	TLSKey  string `yaml:"tls_key"`
	// PEM bundle trusted for the other end; system roots when empty
	TLSCA string `yaml:"tls_ca"`
	// zero keeps the transport default
	ReadBatchTime time.Duration `yaml:"read_batch_time"`
	ReadBufferMax int           `yaml:"read_buffer_max"`
}

// Server configures a state server process.
type Server struct {
	DispatcherAddr    string        `yaml:"dispatcher_addr"`
	AppSecret         string        `yaml:"app_secret"`
	MetricsAddr       string        `yaml:"metrics_addr"`
	BroadcastInterval time.Duration `yaml:"broadcast_interval"`
	IdleSessions      int           `yaml:"idle_sessions"`
	// empty keeps sessions in memory only
	JournalPath string `yaml:"journal_path"`
	JournalSync bool   `yaml:"journal_sync"`
	// journaled sessions untouched for longer are deleted; zero keeps all
	JournalRetention time.Duration `yaml:"journal_retention"`
	RulesFile        string        `yaml:"rules_file"`
	Link             Link          `yaml:"link"`
}

// Coordinator configures the development dispatcher.
type Coordinator struct {
	ListenAddr string `yaml:"listen_addr"`
	HTTPAddr   string `yaml:"http_addr"`
	Link       Link   `yaml:"link"`
}

type Config struct {
	Logger      Logger      `yaml:"logger"`
	Server      Server      `yaml:"server"`
	Coordinator Coordinator `yaml:"coordinator"`
}

func Default() Config {
	return Config{
		Logger: Logger{Level: "info", Format: "text"},
		Server: Server{
			DispatcherAddr:    "tcp://127.0.0.1:7147",
			AppSecret:         "roomsync-dev-secret",
			MetricsAddr:       ":9090",
			BroadcastInterval: 50 * time.Millisecond,
			IdleSessions:      1024,
			Link:              Link{WriteTimeout: 30 * time.Second},
		},
		Coordinator: Coordinator{
			ListenAddr: "tcp://127.0.0.1:7147",
			HTTPAddr:   "127.0.0.1:8080",
			Link:       Link{WriteTimeout: 30 * time.Second},
		},
	}
}

// Load reads path over the defaults. A missing file yields Default().
// Environment overrides apply in both cases.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return cfg, errors.Wrapf(err, "read config %s", path)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, errors.Wrapf(err, "parse config %s", path)
			}
		}
	}
	cfg.applyEnv()
	return cfg, cfg.Validate()
}

var envOverrides = []struct {
	name  string
	field func(*Config) *string
}{
	{"ROOMSYNC_DISPATCHER_ADDR", func(c *Config) *string { return &c.Server.DispatcherAddr }},
	{"ROOMSYNC_APP_SECRET", func(c *Config) *string { return &c.Server.AppSecret }},
	{"ROOMSYNC_METRICS_ADDR", func(c *Config) *string { return &c.Server.MetricsAddr }},
	{"ROOMSYNC_JOURNAL_PATH", func(c *Config) *string { return &c.Server.JournalPath }},
	{"ROOMSYNC_LISTEN_ADDR", func(c *Config) *string { return &c.Coordinator.ListenAddr }},
	{"ROOMSYNC_HTTP_ADDR", func(c *Config) *string { return &c.Coordinator.HTTPAddr }},
	{"ROOMSYNC_LOG_LEVEL", func(c *Config) *string { return &c.Logger.Level }},
}

func (c *Config) applyEnv() {
	for _, o := range envOverrides {
		if v, ok := os.LookupEnv(o.name); ok {
			*o.field(c) = v
		}
	}
}

func (c Config) Validate() error {
	switch {
	case c.Logger.Format != "json" && c.Logger.Format != "text":
		return errors.Wrapf(ErrInvalidConfig, "logger.format must be json or text, got %q", c.Logger.Format)
	case c.Server.DispatcherAddr == "":
		return errors.Wrap(ErrInvalidConfig, "server.dispatcher_addr is empty")
	case c.Server.AppSecret == "":
		return errors.Wrap(ErrInvalidConfig, "server.app_secret is empty")
	case c.Server.BroadcastInterval <= 0:
		return errors.Wrapf(ErrInvalidConfig, "server.broadcast_interval must be positive, got %s", c.Server.BroadcastInterval)
	case c.Server.IdleSessions < 0:
		return errors.Wrapf(ErrInvalidConfig, "server.idle_sessions is negative")
	case c.Server.JournalRetention < 0:
		return errors.Wrapf(ErrInvalidConfig, "server.journal_retention is negative")
	case c.Coordinator.ListenAddr == "":
		return errors.Wrap(ErrInvalidConfig, "coordinator.listen_addr is empty")
	case strings.HasPrefix(c.Coordinator.ListenAddr, "tls://") && c.Coordinator.Link.TLSCert == "":
		return errors.Wrap(ErrInvalidConfig, "coordinator.link.tls_cert is required to listen on tls://")
	}
	if err := c.Server.Link.validate("server.link"); err != nil {
		return err
	}
	return c.Coordinator.Link.validate("coordinator.link")
}

func (l Link) validate(section string) error {
	switch {
	case l.WriteTimeout < 0:
		return errors.Wrapf(ErrInvalidConfig, "%s.write_timeout is negative", section)
	case (l.TLSCert == "") != (l.TLSKey == ""):
		return errors.Wrapf(ErrInvalidConfig, "%s.tls_cert and tls_key go together", section)
	case l.ReadBatchTime < 0 || l.ReadBufferMax < 0:
		return errors.Wrapf(ErrInvalidConfig, "%s read batch settings are negative", section)
	}
	return nil
}

// NetOpts turns the link settings into transport options. It reads the
// TLS files.
func (l Link) NetOpts() ([]network.NetOpt, error) {
	opts := []network.NetOpt{
		&network.NetReadBatchOpt{ReadAccumTimeLimit: l.ReadBatchTime, BufferMaxSize: l.ReadBufferMax},
	}
	if l.WriteTimeout > 0 {
		opts = append(opts, &network.NetWriteTimeoutOpt{Timeout: l.WriteTimeout})
	}
	tlsConfig, err := l.tlsConfig()
	if err != nil {
		return nil, err
	}
	if tlsConfig != nil {
		opts = append(opts, &network.NetTlsConfigOpt{Config: tlsConfig})
	}
	return opts, nil
}

func (l Link) tlsConfig() (*tls.Config, error) {
	if l.TLSCert == "" && l.TLSCA == "" {
		return nil, nil
	}
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if l.TLSCert != "" {
		cert, err := tls.LoadX509KeyPair(l.TLSCert, l.TLSKey)
		if err != nil {
			return nil, errors.Wrapf(err, "load key pair %s", l.TLSCert)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	if l.TLSCA != "" {
		pem, err := os.ReadFile(l.TLSCA)
		if err != nil {
			return nil, errors.Wrapf(err, "read %s", l.TLSCA)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errors.Wrapf(ErrInvalidConfig, "no certificates in %s", l.TLSCA)
		}
		cfg.RootCAs = pool
	}
	return cfg, nil
}
