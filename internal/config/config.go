package config

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strconv"
	"strings"
	"time"

	"usageprep/internal/event"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type LogConfig struct {
	Path       string `mapstructure:"path"` // empty logs to stderr
	Level      string `mapstructure:"level"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

type StorageConfig struct {
	Driver string `mapstructure:"driver"` // "none", "sqlite" or "postgres"
	Path   string `mapstructure:"path"`
	DSN    string `mapstructure:"dsn"`
}

type WatchConfig struct {
	ProcessExisting bool          `mapstructure:"process_existing"`
	SettleDelay     time.Duration `mapstructure:"settle_delay"`
}

type PreprocessingConfig struct {
	MinimumUsageDurationSeconds int      `mapstructure:"minimum_usage_duration_seconds"`
	CustomEngagementSeconds     int      `mapstructure:"custom_engagement_seconds"`
	LongUsageDurationThresholds []int    `mapstructure:"long_usage_duration_thresholds"`
	LongDataTimeGapThresholds   []int    `mapstructure:"long_data_time_gap_thresholds"`
	TimezonePolicy              string   `mapstructure:"timezone_policy"` // name or 0-3
	SelectedTimezone            string   `mapstructure:"selected_timezone"`
	CorrectDuplicateTimestamps  bool     `mapstructure:"correct_duplicate_timestamps"`
	SameAppStopTypes            []string `mapstructure:"same_app_stop_types"`
	OtherAppStopTypes           []string `mapstructure:"other_app_stop_types"`
	InteractionTypesToRemove    []string `mapstructure:"interaction_types_to_remove"`
}

type Config struct {
	StudyName     string              `mapstructure:"study_name"`
	RawDataFolder string              `mapstructure:"raw_data_folder"`
	FilePattern   string              `mapstructure:"file_pattern"`
	IgnoreNames   []string            `mapstructure:"ignore_names"`
	OutputFolder  string              `mapstructure:"output_folder"`
	FilterFile    string              `mapstructure:"filter_file"`
	Workers       int                 `mapstructure:"workers"`
	SocketPath    string              `mapstructure:"socket_path"`
	MetricsAddr   string              `mapstructure:"metrics_addr"`
	Log           LogConfig           `mapstructure:"log"`
	Storage       StorageConfig       `mapstructure:"storage"`
	Watch         WatchConfig         `mapstructure:"watch"`
	Preprocessing PreprocessingConfig `mapstructure:"preprocessing"`
}

// Flag names bound onto config keys when a flag set is passed to Load.
var flagKeys = map[string]string{
	"study":             "study_name",
	"raw":               "raw_data_folder",
	"out":               "output_folder",
	"filter":            "filter_file",
	"workers":           "workers",
	"socket":            "socket_path",
	"db":                "storage.path",
	"driver":            "storage.driver",
	"timezone-policy":   "preprocessing.timezone_policy",
	"timezone":          "preprocessing.selected_timezone",
	"min-duration":      "preprocessing.minimum_usage_duration_seconds",
	"engagement-window": "preprocessing.custom_engagement_seconds",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("study_name", "")
	v.SetDefault("file_pattern", `(?i)\.csv$`)
	v.SetDefault("ignore_names", []string{"Preprocessed", "Survey", "Archive", "Do Not Use"})
	v.SetDefault("workers", 4)
	v.SetDefault("socket_path", "/tmp/usageprep.sock")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.max_size_mb", 20)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("storage.driver", "none")
	v.SetDefault("storage.path", "usageprep.db")
	v.SetDefault("watch.process_existing", true)
	v.SetDefault("watch.settle_delay", "2s")
	v.SetDefault("preprocessing.minimum_usage_duration_seconds", 0)
	v.SetDefault("preprocessing.custom_engagement_seconds", 300)
	v.SetDefault("preprocessing.long_usage_duration_thresholds", DefaultThresholdLadder)
	v.SetDefault("preprocessing.long_data_time_gap_thresholds", DefaultThresholdLadder)
	v.SetDefault("preprocessing.timezone_policy", RemoveUnlessSelected.String())
	v.SetDefault("preprocessing.correct_duplicate_timestamps", true)
	v.SetDefault("preprocessing.same_app_stop_types", typeNames(DefaultSameAppStopTypes()))
	v.SetDefault("preprocessing.other_app_stop_types", typeNames(DefaultOtherAppStopTypes()))
	v.SetDefault("preprocessing.interaction_types_to_remove", typeNames(DefaultTypesToRemove()))
}

// LoadConfig reads the config file (explicit path or search path), the
// USAGEPREP_* environment and any flags from fs that have been changed.
func LoadConfig(configPath string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("usageprep")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/usageprep")
		v.AddConfigPath("/etc/usageprep/")
	}

	v.SetEnvPrefix("USAGEPREP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if fs != nil {
		for flag, key := range flagKeys {
			if f := fs.Lookup(flag); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", flag, err)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		slog.Debug("config file not found, using defaults")
	}

	var cfg Config
	hook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		intSliceHook(),
	)
	if err := v.Unmarshal(&cfg, viper.DecodeHook(hook)); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if cfg.Workers < 1 {
		slog.Warn("workers too low, setting to 1", "workers", cfg.Workers)
		cfg.Workers = 1
	}
	switch cfg.Storage.Driver {
	case "none", "sqlite", "postgres":
	default:
		return nil, fmt.Errorf("invalid storage driver %q", cfg.Storage.Driver)
	}

	// Surface threshold problems before any file is read.
	if _, err := cfg.Preprocessing.Thresholds(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// intSliceHook lets env vars like "1,6,12" decode into []int.
func intSliceHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf([]int(nil)) {
			return data, nil
		}
		var strs []string
		switch v := data.(type) {
		case string:
			strs = strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == ' ' })
		case []string:
			strs = v
		default:
			return data, nil
		}
		out := make([]int, 0, len(strs))
		for _, s := range strs {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			n, err := strconv.Atoi(s)
			if err != nil {
				return nil, fmt.Errorf("invalid threshold %q: %w", s, err)
			}
			out = append(out, n)
		}
		return out, nil
	}
}

func typeNames(types []event.InteractionType) []string {
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = t.String()
	}
	return names
}
