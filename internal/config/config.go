// Package config loads the bridge configuration from a YAML file, the
// environment and struct defaults.
package config

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/isometry/ad-auth-bridge/internal/ldap"
	"github.com/isometry/ad-auth-bridge/internal/provision"
	"github.com/isometry/ad-auth-bridge/internal/repository"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "ADBRIDGE"

// minSessionSecretLength is the shortest session secret accepted by serve.
const minSessionSecretLength = 32

// Config is the complete bridge configuration.
type Config struct {
	Directory    DirectoryConfig    `mapstructure:"directory"`
	Provisioning ProvisioningConfig `mapstructure:"provisioning"`
	Database     repository.Config  `mapstructure:"database"`
	Server       ServerConfig       `mapstructure:"server"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
}

// DirectoryConfig configures the Active Directory connection.
type DirectoryConfig struct {
	Domain              string         `mapstructure:"domain"`
	DomainControllers   []string       `mapstructure:"domain_controllers" validate:"omitempty,dive,required"`
	AccountSuffix       string         `mapstructure:"account_suffix"`
	BaseDN              string         `mapstructure:"base_dn" validate:"required"`
	UseTLS              bool           `mapstructure:"use_tls" default:"true"`
	StartTLS            bool           `mapstructure:"start_tls"`
	InsecureSkipVerify  bool           `mapstructure:"insecure_skip_verify"`
	CACertFile          string         `mapstructure:"ca_cert_file" validate:"omitempty,file"`
	ConnectTimeout      time.Duration  `mapstructure:"connect_timeout" default:"10s" validate:"gt=0"`
	SearchTimeout       time.Duration  `mapstructure:"search_timeout" default:"15s" validate:"gt=0"`
	ExternalIDAttribute string         `mapstructure:"external_id_attribute" default:"sAMAccountName" validate:"oneof=sAMAccountName userPrincipalName objectGUID objectSid"`
	AuthMethod          string         `mapstructure:"auth_method" default:"simple" validate:"oneof=simple kerberos"`
	Kerberos            KerberosConfig `mapstructure:"kerberos"`
	MaxRetries          int            `mapstructure:"max_retries" default:"1" validate:"gte=0,lte=10"`
	InitialBackoff      time.Duration  `mapstructure:"initial_backoff" default:"250ms" validate:"gte=0"`
	MaxBackoff          time.Duration  `mapstructure:"max_backoff" default:"2s" validate:"gtefield=InitialBackoff"`
}

// KerberosConfig configures GSSAPI binds.
type KerberosConfig struct {
	Realm  string `mapstructure:"realm"`
	Config string `mapstructure:"config" validate:"omitempty,file"`
	SPN    string `mapstructure:"spn"`
}

// ProvisioningConfig controls how directory users become local users.
type ProvisioningConfig struct {
	DefaultContentLanguage string `mapstructure:"default_content_language" default:"eng-GB" validate:"required"`
	ParentGroupContainer   string `mapstructure:"parent_group_container" default:"directory-groups" validate:"required"`
	DefaultGroup           string `mapstructure:"default_group"`
	AllowEmptyGroups       bool   `mapstructure:"allow_empty_groups"`
	Actor                  string `mapstructure:"actor" default:"directory-sync" validate:"required"`
}

// ServerConfig configures the HTTP login adapter.
type ServerConfig struct {
	Listen        string        `mapstructure:"listen" default:":8080" validate:"required"`
	SessionName   string        `mapstructure:"session_name" default:"adbridge_session" validate:"required"`
	SessionSecret string        `mapstructure:"session_secret"`
	SessionMaxAge time.Duration `mapstructure:"session_max_age" default:"8h" validate:"gt=0"`
	SecureCookie  bool          `mapstructure:"secure_cookie" default:"true"`
}

// LoggingConfig controls the root logger.
type LoggingConfig struct {
	Level string `mapstructure:"level" default:"INFO" validate:"oneof=TRACE DEBUG INFO WARN ERROR OFF trace debug info warn error off"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" default:"true"`
}

// Load reads configuration from configPath (or the default search locations
// when empty), overlays ADBRIDGE_* environment variables and validates the result.
//
// Precedence, highest first: environment, file, defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	if err := bindEnvs(v, reflect.TypeOf(Config{}), ""); err != nil {
		return nil, err
	}

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := defaults.Set(&cfg); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}

	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate checks struct constraints and the rules that span fields.
func (c *Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(c); err != nil {
		return err
	}

	if len(c.Directory.DomainControllers) == 0 && c.Directory.Domain == "" {
		return errors.New("directory: either domain_controllers or domain must be set")
	}

	if err := ldap.ValidateDNSyntax(c.Directory.BaseDN); err != nil {
		return fmt.Errorf("directory: invalid base_dn: %w", err)
	}

	if c.Directory.AuthMethod == "kerberos" && c.Directory.Kerberos.Realm == "" && c.Directory.Domain == "" {
		return errors.New("directory: kerberos authentication requires kerberos.realm or domain")
	}

	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	return nil
}

// ValidateServe checks the settings only the HTTP server needs.
func (c *Config) ValidateServe() error {
	if len(c.Server.SessionSecret) < minSessionSecretLength {
		return fmt.Errorf("server: session_secret must be at least %d characters", minSessionSecretLength)
	}
	return nil
}

// ToLDAPConfig builds the directory client configuration.
func (d *DirectoryConfig) ToLDAPConfig() (*ldap.ConnectionConfig, error) {
	config := ldap.DefaultConfig()

	config.Domain = d.Domain
	config.DomainControllers = d.DomainControllers
	config.BaseDN = d.BaseDN
	config.AccountSuffix = d.AccountSuffix
	config.UseTLS = d.UseTLS
	config.StartTLS = d.StartTLS
	config.ConnectTimeout = d.ConnectTimeout
	config.SearchTimeout = d.SearchTimeout
	config.ExternalIDAttribute = d.ExternalIDAttribute
	config.MaxRetries = d.MaxRetries
	config.InitialBackoff = d.InitialBackoff
	config.MaxBackoff = d.MaxBackoff

	authMethod, err := ldap.ParseAuthMethod(d.AuthMethod)
	if err != nil {
		return nil, err
	}
	config.AuthMethod = authMethod
	config.KerberosRealm = d.Kerberos.Realm
	if config.KerberosRealm == "" && authMethod == ldap.AuthMethodKerberos {
		config.KerberosRealm = strings.ToUpper(d.Domain)
	}
	config.KerberosConfig = d.Kerberos.Config
	config.KerberosSPN = d.Kerberos.SPN

	if config.TLSConfig == nil {
		config.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	config.TLSConfig.InsecureSkipVerify = d.InsecureSkipVerify

	if d.CACertFile != "" {
		pem, err := os.ReadFile(d.CACertFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", d.CACertFile)
		}
		config.TLSConfig.RootCAs = pool
	}

	return config, nil
}

// ToProvisionConfig builds the synchronizer configuration.
func (p *ProvisioningConfig) ToProvisionConfig() provision.Config {
	return provision.Config{
		DefaultLanguage:  p.DefaultContentLanguage,
		ParentContainer:  p.ParentGroupContainer,
		DefaultGroup:     p.DefaultGroup,
		AllowEmptyGroups: p.AllowEmptyGroups,
		Actor:            p.Actor,
	}
}

// setupViper configures environment overrides and the config file location.
// Environment variables use the ADBRIDGE_ prefix and underscores,
// e.g. ADBRIDGE_DIRECTORY_BASE_DN.
func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}

	v.SetConfigName("adbridge")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/adbridge")
}

// readConfigFile reads the configuration file if one exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// bindEnvs registers every mapstructure key so that environment variables
// reach Unmarshal even when the key is absent from the file.
func bindEnvs(v *viper.Viper, t reflect.Type, prefix string) error {
	for i := range t.NumField() {
		field := t.Field(i)
		tag := field.Tag.Get("mapstructure")
		if tag == "" || tag == "-" {
			continue
		}

		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}

		if field.Type.Kind() == reflect.Struct {
			if err := bindEnvs(v, field.Type, key); err != nil {
				return err
			}
			continue
		}

		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}
	return nil
}
