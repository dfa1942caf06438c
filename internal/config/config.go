package config

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// SNMPConfig describes the remote device polled by the snmp backend.
type SNMPConfig struct {
	Target         string `mapstructure:"target"`
	Port           uint16 `mapstructure:"port"`
	Version        string `mapstructure:"version"`
	Community      string `mapstructure:"community"`
	Username       string `mapstructure:"username"`
	AuthPassphrase string `mapstructure:"auth_passphrase"`
	PrivPassphrase string `mapstructure:"priv_passphrase"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	Retries        int    `mapstructure:"retries"`
}

// NetstackConfig selects the frame source replayed into the netstack backend.
// PcapFile takes precedence over Interface.
type NetstackConfig struct {
	Interface      string   `mapstructure:"interface"`
	PcapFile       string   `mapstructure:"pcap_file"`
	LocalAddrs     []string `mapstructure:"local_addrs"`
	CaptureSeconds int      `mapstructure:"capture_seconds"`
}

type Config struct {
	Backend          string         `mapstructure:"backend"`
	IntervalSeconds  int            `mapstructure:"interval_seconds"`
	MaxConnections   int            `mapstructure:"max_connections"`
	MaxPorts         int            `mapstructure:"max_ports"`
	IncludeUDP       bool           `mapstructure:"include_udp"`
	TrackConnections bool           `mapstructure:"track_connections"`
	SNMP             SNMPConfig     `mapstructure:"snmp"`
	Netstack         NetstackConfig `mapstructure:"netstack"`

	OutputFormat     string `mapstructure:"output_format"`
	HTTPURL          string `mapstructure:"http_url"`
	HTTPToken        string `mapstructure:"http_token"`
	WebSocketURL     string `mapstructure:"websocket_url"`
	PublishWorkers   int    `mapstructure:"publish_workers"`
	PublishQueueSize int    `mapstructure:"publish_queue_size"`
	S3Bucket         string `mapstructure:"s3_bucket"`
	S3Prefix         string `mapstructure:"s3_prefix"`
	S3Region         string `mapstructure:"s3_region"`
	S3AccessKeyID    string `mapstructure:"s3_access_key_id"`
	S3SecretKey      string `mapstructure:"s3_secret_access_key"`

	LogLevel      string `mapstructure:"log_level"`
	LogFormat     string `mapstructure:"log_format"`
	LogFile       string `mapstructure:"log_file"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb"`
	LogMaxBackups int    `mapstructure:"log_max_backups"`
}

func Default() *Config {
	return &Config{
		Backend:         "psutil",
		IntervalSeconds: 300,
		MaxConnections:  128,
		MaxPorts:        64,
		IncludeUDP:      true,
		SNMP: SNMPConfig{
			Port:           161,
			Version:        "2c",
			Community:      "public",
			TimeoutSeconds: 2,
			Retries:        1,
		},
		Netstack: NetstackConfig{
			CaptureSeconds: 10,
		},
		OutputFormat:     "json",
		PublishWorkers:   2,
		PublishQueueSize: 16,
		LogLevel:         "info",
		LogFormat:        "text",
		LogMaxSizeMB:     20,
		LogMaxBackups:    3,
	}
}

// Load reads cfgFile (or netmetrics.yaml from the default search path) on
// top of Default. A missing default file is not an error. Environment
// variables prefixed NETMETRICS_ override file values.
func Load(cfgFile string) (*Config, error) {
	cfg := Default()
	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("netmetrics")
		v.SetConfigType("yaml")
		v.AddConfigPath(configDir())
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("NETMETRICS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindDefaults(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// bindDefaults registers every key so AutomaticEnv can override keys that
// are absent from the file.
func bindDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("backend", cfg.Backend)
	v.SetDefault("interval_seconds", cfg.IntervalSeconds)
	v.SetDefault("max_connections", cfg.MaxConnections)
	v.SetDefault("max_ports", cfg.MaxPorts)
	v.SetDefault("include_udp", cfg.IncludeUDP)
	v.SetDefault("track_connections", cfg.TrackConnections)
	v.SetDefault("snmp.target", cfg.SNMP.Target)
	v.SetDefault("snmp.port", cfg.SNMP.Port)
	v.SetDefault("snmp.version", cfg.SNMP.Version)
	v.SetDefault("snmp.community", cfg.SNMP.Community)
	v.SetDefault("snmp.username", cfg.SNMP.Username)
	v.SetDefault("snmp.auth_passphrase", cfg.SNMP.AuthPassphrase)
	v.SetDefault("snmp.priv_passphrase", cfg.SNMP.PrivPassphrase)
	v.SetDefault("snmp.timeout_seconds", cfg.SNMP.TimeoutSeconds)
	v.SetDefault("snmp.retries", cfg.SNMP.Retries)
	v.SetDefault("netstack.interface", cfg.Netstack.Interface)
	v.SetDefault("netstack.pcap_file", cfg.Netstack.PcapFile)
	v.SetDefault("netstack.local_addrs", cfg.Netstack.LocalAddrs)
	v.SetDefault("netstack.capture_seconds", cfg.Netstack.CaptureSeconds)
	v.SetDefault("output_format", cfg.OutputFormat)
	v.SetDefault("http_url", cfg.HTTPURL)
	v.SetDefault("http_token", cfg.HTTPToken)
	v.SetDefault("websocket_url", cfg.WebSocketURL)
	v.SetDefault("publish_workers", cfg.PublishWorkers)
	v.SetDefault("publish_queue_size", cfg.PublishQueueSize)
	v.SetDefault("s3_bucket", cfg.S3Bucket)
	v.SetDefault("s3_prefix", cfg.S3Prefix)
	v.SetDefault("s3_region", cfg.S3Region)
	v.SetDefault("s3_access_key_id", cfg.S3AccessKeyID)
	v.SetDefault("s3_secret_access_key", cfg.S3SecretKey)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("log_format", cfg.LogFormat)
	v.SetDefault("log_file", cfg.LogFile)
	v.SetDefault("log_max_size_mb", cfg.LogMaxSizeMB)
	v.SetDefault("log_max_backups", cfg.LogMaxBackups)
}

// Path returns the config file Load uses when no explicit file is given.
func Path() string {
	return filepath.Join(configDir(), "netmetrics.yaml")
}

func configDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "NetMetrics")
	case "darwin":
		return "/Library/Application Support/NetMetrics"
	default:
		return "/etc/netmetrics"
	}
}
