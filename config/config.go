// Package config loads the settings of a vmsim run.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/sarchlab/vmsim/mem/vm"
)

// EnvPrefix is the prefix of the environment variables that override the
// configuration file.
const EnvPrefix = "VMSIM_"

// Workload describes the synthetic processes that exercise the kernel.
type Workload struct {
	Processes   int   `toml:"processes"`
	AnonPages   int   `toml:"anon_pages"`
	MappedPages int   `toml:"mapped_pages"`
	Rounds      int   `toml:"rounds"`
	Seed        int64 `toml:"seed"`
}

// Config holds every setting of a run.
type Config struct {
	NumFrames   int    `toml:"num_frames"`
	SwapSectors uint64 `toml:"swap_sectors"`
	SwapFile    string `toml:"swap_file"`
	LogLevel    string `toml:"log_level"`
	LogFormat   string `toml:"log_format"`
	RecordPath  string `toml:"record_path"`
	Monitor     bool   `toml:"monitor"`
	MonitorPort int    `toml:"monitor_port"`
	OpenBrowser bool   `toml:"open_browser"`

	Workload Workload `toml:"workload"`
}

// Default returns the configuration used when nothing is specified.
func Default() Config {
	return Config{
		NumFrames:   64,
		SwapSectors: 1024 * vm.SectorsPerPage,
		LogLevel:    "info",
		LogFormat:   "text",
		Workload: Workload{
			Processes:   4,
			AnonPages:   48,
			MappedPages: 16,
			Rounds:      8,
			Seed:        1,
		},
	}
}

// Load reads the TOML file at path on top of the defaults, then the .env file
// at envPath, then the environment. Empty paths are skipped. A missing .env
// file is not an error.
func Load(path, envPath string) (Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("reading %s: %w", path, err)
		}
	}

	if envPath != "" {
		err := godotenv.Load(envPath)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("reading %s: %w", envPath, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}

	return cfg, nil
}

type lookupFunc func(key string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	ints := map[string]*int{
		"NUM_FRAMES":            &c.NumFrames,
		"MONITOR_PORT":          &c.MonitorPort,
		"WORKLOAD_PROCESSES":    &c.Workload.Processes,
		"WORKLOAD_ANON_PAGES":   &c.Workload.AnonPages,
		"WORKLOAD_MAPPED_PAGES": &c.Workload.MappedPages,
		"WORKLOAD_ROUNDS":       &c.Workload.Rounds,
	}

	for key, field := range ints {
		value, ok := lookup(EnvPrefix + key)
		if !ok {
			continue
		}

		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
		}

		*field = n
	}

	strs := map[string]*string{
		"SWAP_FILE":   &c.SwapFile,
		"LOG_LEVEL":   &c.LogLevel,
		"LOG_FORMAT":  &c.LogFormat,
		"RECORD_PATH": &c.RecordPath,
	}

	for key, field := range strs {
		if value, ok := lookup(EnvPrefix + key); ok {
			*field = value
		}
	}

	if value, ok := lookup(EnvPrefix + "SWAP_SECTORS"); ok {
		n, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return fmt.Errorf("%sSWAP_SECTORS: %w", EnvPrefix, err)
		}

		c.SwapSectors = n
	}

	if value, ok := lookup(EnvPrefix + "WORKLOAD_SEED"); ok {
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("%sWORKLOAD_SEED: %w", EnvPrefix, err)
		}

		c.Workload.Seed = n
	}

	bools := map[string]*bool{
		"MONITOR":      &c.Monitor,
		"OPEN_BROWSER": &c.OpenBrowser,
	}

	for key, field := range bools {
		value, ok := lookup(EnvPrefix + key)
		if !ok {
			continue
		}

		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
		}

		*field = b
	}

	return nil
}

// Validate reports the first setting that cannot be used.
func (c Config) Validate() error {
	switch {
	case c.NumFrames <= 0:
		return errors.New("num_frames must be positive")
	case c.SwapSectors < vm.SectorsPerPage:
		return fmt.Errorf("swap_sectors must hold at least one page (%d sectors)",
			vm.SectorsPerPage)
	case c.MonitorPort < 0:
		return errors.New("monitor_port cannot be negative")
	case c.Workload.Processes < 0 || c.Workload.AnonPages < 0 ||
		c.Workload.MappedPages < 0 || c.Workload.Rounds < 0:
		return errors.New("workload sizes cannot be negative")
	}

	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log_format %q", c.LogFormat)
	}

	return nil
}
