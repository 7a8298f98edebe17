// Package config loads the daemon's job file and environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/guido-cesarano/rungate/pkg/gate"
	"github.com/guido-cesarano/rungate/pkg/store"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// CronParser accepts 5-field expressions, an optional leading seconds field and descriptors
// such as "@every 1m" or "@hourly".
var CronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Config is the daemon configuration.
type Config struct {
	Listen string `yaml:"listen" validate:"required"`
	APIKey string `yaml:"api_key"`

	// ProbeNetwork enables the host interface probe. Without it connectivity never blocks.
	ProbeNetwork bool `yaml:"probe_network"`

	Store StoreConfig `yaml:"store"`
	Jobs  []Job       `yaml:"jobs" validate:"required,min=1,unique=ID,dive"`
}

type StoreConfig struct {
	Type     string `yaml:"type" validate:"oneof=memory redis sqlite"`
	Addr     string `yaml:"addr" validate:"required_if=Type redis"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db" validate:"min=0"`
	Path     string `yaml:"path" validate:"required_if=Type sqlite"`
}

// Job is one gated command.
type Job struct {
	ID string `yaml:"id" validate:"required"`

	// Schedule is when the daemon asks the gate; the gate decides whether to run.
	Schedule     string        `yaml:"schedule" validate:"required,cronspec"`
	Period       string        `yaml:"period" validate:"period"`
	Retry        time.Duration `yaml:"retry" validate:"min=0"`
	Connectivity string        `yaml:"connectivity" validate:"connectivity"`
	Command      []string      `yaml:"command" validate:"required,min=1,dive,required"`
	Timeout      time.Duration `yaml:"timeout" validate:"min=0"`
}

// Default returns the configuration used for unset fields.
func Default() Config {
	st := store.DefaultConfig()
	return Config{
		Listen: ":8090",
		Store: StoreConfig{
			Type: st.Type,
			Addr: st.Addr,
			Path: st.Path,
		},
	}
}

// Load reads the YAML file at path over the defaults, applies environment overrides and validates.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults, applies environment overrides and validates.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("RUNGATE_LISTEN"); v != "" {
		c.Listen = v
	}
	if v := os.Getenv("API_KEY"); v != "" {
		c.APIKey = v
	}
	if v := os.Getenv("RUNGATE_STORE"); v != "" {
		c.Store.Type = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Store.Addr = v
	}
	if v := os.Getenv("RUNGATE_SQLITE_PATH"); v != "" {
		c.Store.Path = v
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterValidation("cronspec", func(fl validator.FieldLevel) bool {
		_, err := CronParser.Parse(fl.Field().String())
		return err == nil
	})
	v.RegisterValidation("period", func(fl validator.FieldLevel) bool {
		_, err := gate.ParsePeriod(fl.Field().String())
		return err == nil
	})
	v.RegisterValidation("connectivity", func(fl validator.FieldLevel) bool {
		_, err := gate.ParseConnectivity(fl.Field().String())
		return err == nil
	})
	return v
}

// Validate checks the configuration and reports every offending field.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// Backend converts to the store package's configuration.
func (s StoreConfig) Backend() store.Config {
	return store.Config{
		Type:     s.Type,
		Addr:     s.Addr,
		Password: s.Password,
		DB:       s.DB,
		Path:     s.Path,
	}
}

// EngineOptions translates the job's constraints into gate options.
func (j Job) EngineOptions() ([]gate.Option, error) {
	period, err := gate.ParsePeriod(j.Period)
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", j.ID, err)
	}
	conn, err := gate.ParseConnectivity(j.Connectivity)
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", j.ID, err)
	}
	return []gate.Option{
		gate.WithPeriod(period),
		gate.WithConnectivity(conn),
		gate.WithMaxRetryInterval(j.Retry),
	}, nil
}
