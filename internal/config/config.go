package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/KaramelBytes/admisi-cli/internal/gateway"
)

// ErrUnknownKey is returned by Set for keys Global does not carry.
var ErrUnknownKey = errors.New("unknown config key")

// Global configuration structure.
type Global struct {
	GatewayURL string `mapstructure:"gateway_url" yaml:"gateway_url"`

	// HTTP/Retry configuration
	HTTPTimeoutSec   int `mapstructure:"http_timeout_sec" yaml:"http_timeout_sec"`
	RetryMaxAttempts int `mapstructure:"retry_max_attempts" yaml:"retry_max_attempts"`
	RetryBaseDelayMs int `mapstructure:"retry_base_delay_ms" yaml:"retry_base_delay_ms"`
	RetryMaxDelayMs  int `mapstructure:"retry_max_delay_ms" yaml:"retry_max_delay_ms"`

	DispatchDelaySec int    `mapstructure:"dispatch_delay_sec" yaml:"dispatch_delay_sec"`
	ListenAddr       string `mapstructure:"listen_addr" yaml:"listen_addr"`
	LogLevel         string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat        string `mapstructure:"log_format" yaml:"log_format"`
	CatalogFile      string `mapstructure:"catalog_file" yaml:"catalog_file,omitempty"`
	MaxUploadMB      int    `mapstructure:"max_upload_mb" yaml:"max_upload_mb"`

	// Admission progress flags sent with every message
	FlagBayarPendaftaran bool `mapstructure:"flag_bayar_pendaftaran" yaml:"flag_bayar_pendaftaran"`
	FlagBiodata          bool `mapstructure:"flag_biodata" yaml:"flag_biodata"`
	FlagUploadBerkas     bool `mapstructure:"flag_upload_berkas" yaml:"flag_upload_berkas"`
	FlagValidasi         bool `mapstructure:"flag_validasi" yaml:"flag_validasi"`
	FlagDaftarUlang      bool `mapstructure:"flag_daftar_ulang" yaml:"flag_daftar_ulang"`
}

// Keys lists every settable key in display order.
var Keys = []string{
	"gateway_url", "http_timeout_sec", "retry_max_attempts", "retry_base_delay_ms", "retry_max_delay_ms",
	"dispatch_delay_sec", "listen_addr", "log_level", "log_format", "catalog_file", "max_upload_mb",
	"flag_bayar_pendaftaran", "flag_biodata", "flag_upload_berkas", "flag_validasi", "flag_daftar_ulang",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("gateway_url", gateway.DefaultURL)
	// HTTP/retry defaults; only 429 is retried so one attempt is the safe default
	v.SetDefault("http_timeout_sec", 30)
	v.SetDefault("retry_max_attempts", 1)
	v.SetDefault("retry_base_delay_ms", 500)
	v.SetDefault("retry_max_delay_ms", 4000)
	v.SetDefault("dispatch_delay_sec", 3)
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("catalog_file", "")
	v.SetDefault("max_upload_mb", 10)
	for _, k := range Keys {
		if strings.HasPrefix(k, "flag_") {
			v.SetDefault(k, false)
		}
	}
}

// Defaults returns the configuration with no file or environment applied.
func Defaults() *Global {
	v := viper.New()
	setDefaults(v)
	var c Global
	_ = v.Unmarshal(&c)
	return &c
}

// Dir returns ~/.admisi.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, ".admisi"), nil
}

// Save writes the given configuration to the cfgFile path. If cfgFile is empty,
// it writes to ~/.admisi/config.yaml, creating the directory if necessary.
func Save(c *Global, cfgFile string) error {
	path := cfgFile
	if path == "" {
		dir, err := Dir()
		if err != nil {
			return err
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("mkdir config dir: %w", err)
		}
		path = filepath.Join(dir, "config.yaml")
	}
	b, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Load loads configuration from file, env, and defaults.
// Precedence: env > config file > defaults. A missing file is not an error.
func Load(cfgFile string) (*Global, error) {
	v := viper.New()
	v.SetEnvPrefix("ADMISI")
	v.AutomaticEnv()
	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		dir, err := Dir()
		if err != nil {
			return nil, err
		}
		v.AddConfigPath(dir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var c Global
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &c, nil
}

// Set assigns one key from its string form, as typed on the command line.
func (c *Global) Set(key, val string) error {
	atoi := func(floor int) (int, error) {
		i, err := strconv.Atoi(val)
		if err != nil || i < floor {
			return 0, fmt.Errorf("invalid int for %s: %q", key, val)
		}
		return i, nil
	}
	flag := func(dst *bool) error {
		b, err := strconv.ParseBool(val)
		if err != nil {
			switch strings.ToUpper(val) {
			case "Y":
				b = true
			case "N":
				b = false
			default:
				return fmt.Errorf("invalid bool for %s: %q", key, val)
			}
		}
		*dst = b
		return nil
	}
	var err error
	switch key {
	case "gateway_url":
		c.GatewayURL = val
	case "http_timeout_sec":
		c.HTTPTimeoutSec, err = atoi(1)
	case "retry_max_attempts":
		c.RetryMaxAttempts, err = atoi(1)
	case "retry_base_delay_ms":
		c.RetryBaseDelayMs, err = atoi(0)
	case "retry_max_delay_ms":
		c.RetryMaxDelayMs, err = atoi(0)
	case "dispatch_delay_sec":
		c.DispatchDelaySec, err = atoi(0)
	case "listen_addr":
		c.ListenAddr = val
	case "log_level":
		switch strings.ToLower(val) {
		case "debug", "info", "warn", "warning", "error":
			c.LogLevel = strings.ToLower(val)
		default:
			return fmt.Errorf("invalid log_level: %s (use debug, info, warn or error)", val)
		}
	case "log_format":
		switch strings.ToLower(val) {
		case "text", "json":
			c.LogFormat = strings.ToLower(val)
		default:
			return fmt.Errorf("invalid log_format: %s (use text or json)", val)
		}
	case "catalog_file":
		c.CatalogFile = val
	case "max_upload_mb":
		c.MaxUploadMB, err = atoi(1)
	case "flag_bayar_pendaftaran":
		err = flag(&c.FlagBayarPendaftaran)
	case "flag_biodata":
		err = flag(&c.FlagBiodata)
	case "flag_upload_berkas":
		err = flag(&c.FlagUploadBerkas)
	case "flag_validasi":
		err = flag(&c.FlagValidasi)
	case "flag_daftar_ulang":
		err = flag(&c.FlagDaftarUlang)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	return err
}

// Flags returns the status flags attached to gateway payloads.
func (c *Global) Flags() gateway.StatusFlags {
	return gateway.StatusFlags{
		BayarPendaftaran: c.FlagBayarPendaftaran,
		Biodata:          c.FlagBiodata,
		UploadBerkas:     c.FlagUploadBerkas,
		Validasi:         c.FlagValidasi,
		DaftarUlang:      c.FlagDaftarUlang,
	}
}

// DispatchDelay is dispatch_delay_sec as a duration; zero disables the delay.
func (c *Global) DispatchDelay() time.Duration {
	if c.DispatchDelaySec <= 0 {
		return -1
	}
	return time.Duration(c.DispatchDelaySec) * time.Second
}

// GatewayClient builds a client from the HTTP and retry settings.
func (c *Global) GatewayClient() *gateway.Client {
	return gateway.NewClient(c.GatewayURL,
		time.Duration(c.HTTPTimeoutSec)*time.Second,
		c.RetryMaxAttempts,
		time.Duration(c.RetryBaseDelayMs)*time.Millisecond,
		time.Duration(c.RetryMaxDelayMs)*time.Millisecond)
}

// MaxUploadBytes is max_upload_mb in bytes.
func (c *Global) MaxUploadBytes() int64 {
	if c.MaxUploadMB <= 0 {
		return 10 << 20
	}
	return int64(c.MaxUploadMB) << 20
}
