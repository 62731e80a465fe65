package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. YALT_RATE or
// YALT_TRACING_ENDPOINT.
const EnvPrefix = "YALT"

// settingKeys are the file and environment keys understood by Load.
var settingKeys = []string{
	"targets", "rate", "duration", "payload", "payload_file",
	"db", "db_dir", "arrival", "burst", "tick",
	"connect_timeout", "write_timeout", "drain_timeout",
	"log_level", "log_encoding", "log_errors_per_sec",
	"progress", "report", "thresholds", "history", "seed",
	"tracing.endpoint", "tracing.protocol", "tracing.service_name",
	"tracing.sample_rate", "tracing.insecure",
}

// Loader handles loading configuration from files and command-line arguments.
type Loader struct {
	// LookupEnv is consulted for YALT_* overrides. Nil means the process
	// environment.
	LookupEnv func(string) (string, bool)
}

// ErrHelpRequested is returned when the user requests help via --help flag.
var ErrHelpRequested = errors.New("help requested")

func NewLoader() *Loader {
	return &Loader{}
}

// Defaults returns a Config populated with the flag defaults.
func Defaults() *Config {
	return &Config{
		DBDir:           DefaultDBDir,
		Arrival:         ArrivalBucket,
		Tick:            DefaultTick,
		DrainTimeout:    DefaultDrainTimeout,
		LogLevel:        "info",
		LogEncoding:     "console",
		LogErrorsPerSec: DefaultLogErrorsPerSec,
		Report:          ReportText,
		Tracing:         TracingConfig{Protocol: "grpc", SampleRate: 1.0},
	}
}

// Load parses command-line arguments, the optional config file and the
// environment. Precedence is flags, then environment, then file.
func (l Loader) Load(args []string) (*Config, error) {
	cmd := newFlagCommand()
	if err := cmd.Flags().Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
		return nil, err
	}

	flagSet := cmd.Flags()
	if helpFlag := flagSet.Lookup("help"); helpFlag != nil {
		if wantsHelp, err := strconv.ParseBool(helpFlag.Value.String()); err == nil && wantsHelp {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
	}

	configPath, _ := flagSet.GetString("config")
	if len(args) == 0 && configPath == "" {
		displayHelp(cmd)
		return nil, ErrHelpRequested
	}

	settings, err := l.readSettings(configPath)
	if err != nil {
		return nil, err
	}

	cfg := Defaults()
	cfg.ConfigFile = configPath
	if err := applyConfigSettings(cfg, settings); err != nil {
		return nil, err
	}

	positional, err := applyPositional(cfg, flagSet)
	if err != nil {
		return nil, err
	}
	if err := applyFlagOverrides(cfg, flagSet); err != nil {
		return nil, err
	}

	if flagSet.Changed("target") {
		extra, err := flagSet.GetStringArray("target")
		if err != nil {
			return nil, err
		}
		cfg.Targets = append(positional, extra...)
	} else if len(positional) > 0 {
		cfg.Targets = positional
	}
	for i := range cfg.Targets {
		cfg.Targets[i] = strings.TrimSpace(cfg.Targets[i])
	}

	return cfg, nil
}

func (l Loader) readSettings(configPath string) (map[string]interface{}, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	if l.LookupEnv == nil {
		v.AutomaticEnv()
	}
	for _, key := range settingKeys {
		envName := EnvPrefix + "_" + strings.ToUpper(strings.NewReplacer(".", "_").Replace(key))
		if l.LookupEnv != nil {
			if val, ok := l.LookupEnv(envName); ok {
				v.Set(key, val)
			}
			continue
		}
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind %s: %w", envName, err)
		}
	}
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}
	return v.AllSettings(), nil
}

// applyPositional handles bare arguments. The legacy form
// "target... rate duration payload" is recognised when the third and second
// to last arguments parse as a rate and whole seconds and every leading
// argument looks like a target. The payload is taken verbatim. Otherwise
// every argument is a target. Explicit flags still win.
func applyPositional(cfg *Config, fs *pflag.FlagSet) ([]string, error) {
	args := fs.Args()
	if len(args) == 0 {
		return nil, nil
	}
	targets, rate, secs, payload, ok := splitLegacyArgs(args)
	if !ok {
		return append([]string(nil), args...), nil
	}
	if !fs.Changed("rate") {
		cfg.Rate = rate
	}
	if !fs.Changed("duration") {
		cfg.Duration = time.Duration(secs) * time.Second
	}
	if !fs.Changed("payload") && !fs.Changed("payload-file") {
		cfg.Payload = payload
		cfg.PayloadFile = ""
	}
	return targets, nil
}

func splitLegacyArgs(args []string) (targets []string, rate float64, secs uint64, payload string, ok bool) {
	n := len(args)
	if n < 4 {
		return nil, 0, 0, "", false
	}
	rate, err := strconv.ParseFloat(args[n-3], 64)
	if err != nil {
		return nil, 0, 0, "", false
	}
	secs, err = strconv.ParseUint(args[n-2], 10, 64)
	if err != nil {
		return nil, 0, 0, "", false
	}
	payload = args[n-1]
	targets = append([]string(nil), args[:n-3]...)
	for _, t := range targets {
		if !strings.Contains(t, ":") {
			return nil, 0, 0, "", false
		}
	}
	return targets, rate, secs, payload, true
}

// applyConfigSettings applies settings from a config file or the
// environment to cfg.
func applyConfigSettings(cfg *Config, settings map[string]interface{}) error {
	if len(settings) == 0 {
		return nil
	}

	if raw, ok := lookupSetting(settings, "targets", "target"); ok {
		val, err := asStringSlice(raw)
		if err != nil {
			return fmt.Errorf("targets: %w", err)
		}
		cfg.Targets = val
	}
	if raw, ok := lookupSetting(settings, "rate"); ok {
		val, err := asFloat64(raw)
		if err != nil {
			return fmt.Errorf("rate: %w", err)
		}
		cfg.Rate = val
	}
	if raw, ok := lookupSetting(settings, "duration"); ok {
		val, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("duration: %w", err)
		}
		cfg.Duration = val
	}
	if raw, ok := lookupSetting(settings, "payload"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("payload: %w", err)
		}
		cfg.Payload = val
	}

	strs := []struct {
		keys []string
		dst  *string
	}{
		{[]string{"payload_file", "payloadfile"}, &cfg.PayloadFile},
		{[]string{"db"}, &cfg.DB},
		{[]string{"db_dir", "dbdir"}, &cfg.DBDir},
		{[]string{"log_level", "loglevel"}, &cfg.LogLevel},
		{[]string{"log_encoding", "logencoding"}, &cfg.LogEncoding},
		{[]string{"history"}, &cfg.History},
	}
	for _, s := range strs {
		if raw, ok := lookupSetting(settings, s.keys...); ok {
			val, err := asString(raw)
			if err != nil {
				return fmt.Errorf("%s: %w", s.keys[0], err)
			}
			*s.dst = strings.TrimSpace(val)
		}
	}

	if raw, ok := lookupSetting(settings, "arrival"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("arrival: %w", err)
		}
		cfg.Arrival = ArrivalModel(strings.ToLower(strings.TrimSpace(val)))
	}
	if raw, ok := lookupSetting(settings, "report"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("report: %w", err)
		}
		cfg.Report = ReportFormat(strings.ToLower(strings.TrimSpace(val)))
	}

	floats := []struct {
		key string
		dst *float64
	}{
		{"burst", &cfg.Burst},
		{"log_errors_per_sec", &cfg.LogErrorsPerSec},
	}
	for _, f := range floats {
		if raw, ok := lookupSetting(settings, f.key); ok {
			val, err := asFloat64(raw)
			if err != nil {
				return fmt.Errorf("%s: %w", f.key, err)
			}
			*f.dst = val
		}
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"tick", &cfg.Tick},
		{"connect_timeout", &cfg.ConnectTimeout},
		{"write_timeout", &cfg.WriteTimeout},
		{"drain_timeout", &cfg.DrainTimeout},
	}
	for _, d := range durations {
		if raw, ok := lookupSetting(settings, d.key); ok {
			val, err := asDuration(raw)
			if err != nil {
				return fmt.Errorf("%s: %w", d.key, err)
			}
			*d.dst = val
		}
	}

	if raw, ok := lookupSetting(settings, "progress"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("progress: %w", err)
		}
		cfg.Progress = val
	}
	if raw, ok := lookupSetting(settings, "thresholds"); ok {
		val, err := asStringSlice(raw)
		if err != nil {
			return fmt.Errorf("thresholds: %w", err)
		}
		cfg.Thresholds = val
	}
	if raw, ok := lookupSetting(settings, "seed"); ok {
		val, err := asInt64(raw)
		if err != nil {
			return fmt.Errorf("seed: %w", err)
		}
		cfg.Seed = val
	}

	if raw, ok := lookupSetting(settings, "tracing"); ok {
		tracing, err := parseTracing(raw, cfg.Tracing)
		if err != nil {
			return fmt.Errorf("tracing: %w", err)
		}
		cfg.Tracing = tracing
	}

	return nil
}

func parseTracing(value interface{}, base TracingConfig) (TracingConfig, error) {
	settings, err := toStringKeyMap(value)
	if err != nil {
		return base, err
	}
	cfg := base
	if raw, ok := lookupSetting(settings, "endpoint"); ok {
		if cfg.Endpoint, err = asString(raw); err != nil {
			return base, fmt.Errorf("endpoint: %w", err)
		}
	}
	if raw, ok := lookupSetting(settings, "protocol"); ok {
		if cfg.Protocol, err = asString(raw); err != nil {
			return base, fmt.Errorf("protocol: %w", err)
		}
	}
	if raw, ok := lookupSetting(settings, "service_name", "servicename"); ok {
		if cfg.ServiceName, err = asString(raw); err != nil {
			return base, fmt.Errorf("service_name: %w", err)
		}
	}
	if raw, ok := lookupSetting(settings, "sample_rate", "samplerate"); ok {
		if cfg.SampleRate, err = asFloat64(raw); err != nil {
			return base, fmt.Errorf("sample_rate: %w", err)
		}
	}
	if raw, ok := lookupSetting(settings, "insecure"); ok {
		if cfg.Insecure, err = asBool(raw); err != nil {
			return base, fmt.Errorf("insecure: %w", err)
		}
	}
	return cfg, nil
}
