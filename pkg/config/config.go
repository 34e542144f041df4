package config

import (
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// OrganizationOptions identifies the organization on whose behalf payments
// are processed. The shortname prefixes outgoing payment references and is
// what the reconciler matches refunds and returned payments on.
type OrganizationOptions struct {
	ShortName string `yaml:"shortName"`
}

type TrustlyOptions struct {
	APIBase           string `yaml:"apiBase"`
	Username          string `yaml:"username"`
	Password          string `yaml:"password"`
	PrivateKeyPath    string `yaml:"privateKeyPath"`
	PublicKeyPath     string `yaml:"publicKeyPath"`
	NotificationURL   string `yaml:"notificationUrl"`
	Currency          string `yaml:"currency"`
	HoldNotifications bool   `yaml:"holdNotifications"`
	Debug             bool   `yaml:"debug"`
}

type WiseOptions struct {
	APIBase   string `yaml:"apiBase"`
	APIToken  string `yaml:"apiToken"`
	ProfileID int64  `yaml:"profileId"`
	Currency  string `yaml:"currency"`
	Debug     bool   `yaml:"debug"`
}

// MethodOptions declares one payment method and the accounts its
// reconciliation entries book against.
type MethodOptions struct {
	Name          string `yaml:"name"`
	Kind          string `yaml:"kind"`
	Active        bool   `yaml:"active"`
	BankAccount   int    `yaml:"bankAccount"`
	FeeAccount    int    `yaml:"feeAccount"`
	RefundAccount int    `yaml:"refundAccount"`
}

// AccountOptions declares one account of the chart of accounts.
type AccountOptions struct {
	Num               int    `yaml:"num"`
	Name              string `yaml:"name"`
	ObjectRequirement int    `yaml:"objectRequirement"`
	InBalance         bool   `yaml:"inBalance"`
}

// Config holds the application configuration
type Config struct {
	Organization      OrganizationOptions `yaml:"organization"`
	TrustlyApiOptions TrustlyOptions      `yaml:"trustly"`
	WiseApiOptions    WiseOptions         `yaml:"wise"`
	Methods           []MethodOptions     `yaml:"methods"`
	Accounts          []AccountOptions    `yaml:"accounts"`
	DatabasePath      string              `yaml:"databasePath"`
	FetchIntervalMin  int                 `yaml:"fetchIntervalMinutes"`
	ListenAddr        string              `yaml:"listenAddr"`
}

// FetchInterval returns the configured reconciliation interval, or zero to
// let the scheduler apply its default.
func (c *Config) FetchInterval() time.Duration {
	return time.Duration(c.FetchIntervalMin) * time.Minute
}

var (
	// Global configuration instance
	globalConfig *Config
	// Mutex to ensure thread-safe access to the global configuration
	configMutex sync.RWMutex
	// Flag to track if the configuration has been loaded
	configLoaded bool
)

// LoadConfig loads the configuration from the specified YAML file
func LoadConfig(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) validate() error {
	if c.Organization.ShortName == "" {
		return fmt.Errorf("error: organization shortname not set in configuration")
	}
	names := make(map[string]bool)
	for _, m := range c.Methods {
		if names[m.Name] {
			return fmt.Errorf("error: duplicate payment method %q in configuration", m.Name)
		}
		names[m.Name] = true
	}
	return nil
}

// InitGlobalConfig initializes the global configuration from the specified file
func InitGlobalConfig(configPath string) error {
	config, err := LoadConfig(configPath)
	if err != nil {
		return err
	}

	configMutex.Lock()
	defer configMutex.Unlock()

	globalConfig = config
	configLoaded = true
	return nil
}

// GetConfig returns the global configuration instance. The configuration
// must have been loaded with InitGlobalConfig first.
func GetConfig() (*Config, error) {
	configMutex.RLock()
	defer configMutex.RUnlock()
	if !configLoaded {
		return nil, fmt.Errorf("error: configuration not loaded")
	}
	return globalConfig, nil
}

// GetOrganizationShortName returns the organization shortname from the configuration
func GetOrganizationShortName() (string, error) {
	config, err := GetConfig()
	if err != nil {
		return "", err
	}
	return config.Organization.ShortName, nil
}

// GetTrustlyOptions returns the Trustly API options from the configuration
func GetTrustlyOptions() (*TrustlyOptions, error) {
	config, err := GetConfig()
	if err != nil {
		return nil, err
	}

	opts := config.TrustlyApiOptions
	if opts.Username == "" || opts.Password == "" {
		return nil, fmt.Errorf("error: Trustly API credentials not set in configuration")
	}
	if opts.PrivateKeyPath == "" || opts.PublicKeyPath == "" {
		return nil, fmt.Errorf("error: Trustly signing keys not set in configuration")
	}
	return &opts, nil
}

// GetWiseOptions returns the Wise API options from the configuration
func GetWiseOptions() (*WiseOptions, error) {
	config, err := GetConfig()
	if err != nil {
		return nil, err
	}

	opts := config.WiseApiOptions
	if opts.APIToken == "" {
		return nil, fmt.Errorf("error: Wise API token not set in configuration")
	}
	if opts.ProfileID == 0 {
		return nil, fmt.Errorf("error: Wise profile id not set in configuration")
	}
	return &opts, nil
}
