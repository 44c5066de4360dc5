// Package config holds the harness configuration: model revision, memory
// map, test discovery and output locations.
package config

import (
	"bytes"
	"strings"

	"github.com/drone/envsubst"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/sarchlab/socsim/loader"
	"github.com/sarchlab/socsim/soc"
)

// Config is the complete harness configuration.
type Config struct {
	// Revision selects the model pinout: "a" (no UART) or "b" (UART).
	Revision string `yaml:"revision"`

	// WordWidth is the ELF class accepted by the loader, 32 or 64.
	WordWidth int `yaml:"word_width"`

	// TestDir is where short test names are resolved and "all" discovers
	// images.
	TestDir string `yaml:"test_dir"`

	// Prefixes are tried in order in front of a short test name.
	Prefixes []string `yaml:"prefixes"`

	// DefaultImage runs when no test is named.
	DefaultImage string `yaml:"default_image"`

	// Trace enables waveform capture for single-test runs.
	Trace     bool   `yaml:"trace"`
	TraceFile string `yaml:"trace_file"`

	Regions    []loader.MemoryRegion `yaml:"regions"`
	FetchCache soc.FetchCacheConfig  `yaml:"fetch_cache"`

	// ReportJSON and MetricsFile are written after the batch when set.
	ReportJSON  string `yaml:"report_json"`
	MetricsFile string `yaml:"metrics_file"`

	// FailOnVerdict makes the process exit non-zero unless every test passed.
	FailOnVerdict bool `yaml:"fail_on_verdict"`
}

// Default returns the configuration matching the stock simulator layout.
func Default() *Config {
	return &Config{
		Revision:     string(soc.RevB),
		WordWidth:    int(loader.Width32),
		TestDir:      "simulator/generated",
		Prefixes:     []string{"rv32ui-p-", "rv32um-p-"},
		DefaultImage: "simulator/build/payload/payload.elf",
		Trace:        true,
		TraceFile:    "simulator/build/wave.vcd",
		Regions:      loader.DefaultRegions(),
		FetchCache:   soc.DefaultFetchCacheConfig(),
	}
}

// Load reads a YAML configuration from path on fs. ${VAR} references are
// expanded from the environment first; unset fields keep their defaults.
func Load(fs afero.Fs, path string) (*Config, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	expanded, err := envsubst.EvalEnv(string(data))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to expand environment in %s", path)
	}

	config := Default()
	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)
	if err := dec.Decode(config); err != nil {
		return nil, errors.Wrapf(err, "failed to parse config %s", path)
	}

	return config, nil
}

// Save writes the configuration to path on fs as YAML.
func (c *Config) Save(fs afero.Fs, path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "failed to serialize config")
	}
	if err := afero.WriteFile(fs, path, data, 0o644); err != nil {
		return errors.Wrap(err, "failed to write config file")
	}
	return nil
}

// Validate reports every problem found, not just the first.
func (c *Config) Validate() error {
	var result *multierror.Error

	switch soc.Revision(strings.ToLower(c.Revision)) {
	case soc.RevA, soc.RevB:
	default:
		result = multierror.Append(result, errors.Errorf("revision must be %q or %q, got %q", soc.RevA, soc.RevB, c.Revision))
	}
	if !loader.WordWidth(c.WordWidth).Valid() {
		result = multierror.Append(result, errors.Errorf("word_width must be 32 or 64, got %d", c.WordWidth))
	}
	if c.TestDir == "" {
		result = multierror.Append(result, errors.New("test_dir must be set"))
	}
	if c.Trace && c.TraceFile == "" {
		result = multierror.Append(result, errors.New("trace_file must be set when trace is enabled"))
	}

	result = multierror.Append(result, validateRegions(c.Regions)...)
	result = multierror.Append(result, validateFetchCache(c.FetchCache)...)

	return result.ErrorOrNil()
}

func validateRegions(regions []loader.MemoryRegion) []error {
	var errs []error
	if len(regions) == 0 {
		return []error{errors.New("at least one region is required")}
	}

	seen := map[string]bool{}
	for i, r := range regions {
		switch {
		case r.Name == "":
			errs = append(errs, errors.Errorf("region %d has no name", i))
		case seen[r.Name]:
			errs = append(errs, errors.Errorf("region name %q is used twice", r.Name))
		}
		seen[r.Name] = true

		if r.Size == 0 {
			errs = append(errs, errors.Errorf("region %s has zero size", r))
		}
		if r.Base+r.Size < r.Base {
			errs = append(errs, errors.Errorf("region %s wraps the address space", r))
		}
		for _, o := range regions[:i] {
			if r.Overlaps(o) {
				errs = append(errs, errors.Errorf("region %s overlaps %s", r, o))
			}
		}
	}
	return errs
}

func validateFetchCache(fc soc.FetchCacheConfig) []error {
	if fc.Size == 0 {
		return nil
	}

	var errs []error
	if fc.Associativity <= 0 {
		errs = append(errs, errors.Errorf("fetch_cache.associativity must be > 0"))
	}
	if fc.BlockSize < 4 || fc.BlockSize&(fc.BlockSize-1) != 0 {
		errs = append(errs, errors.Errorf("fetch_cache.block_size must be a power of two >= 4, got %d", fc.BlockSize))
	}
	if len(errs) == 0 && fc.Size%(fc.Associativity*fc.BlockSize) != 0 {
		errs = append(errs, errors.Errorf("fetch_cache.size must be a multiple of associativity*block_size"))
	}
	return errs
}

// Clone returns a deep copy of the Config.
func (c *Config) Clone() *Config {
	clone := *c
	clone.Prefixes = append([]string(nil), c.Prefixes...)
	clone.Regions = append([]loader.MemoryRegion(nil), c.Regions...)
	return &clone
}
