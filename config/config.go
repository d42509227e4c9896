// Package config loads runtime configuration from YAML.
package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/wippyai/hostrt/errors"
)

const (
	DefaultCapacity      = 1024
	DefaultMaxCommands   = 16 << 20
	DefaultKernelPages   = 256
	DefaultMetricsPrefix = "hostrt"
)

type Config struct {
	Registry      RegistryConfig      `yaml:"registry"`
	CommandBuffer CommandBufferConfig `yaml:"command_buffer"`
	Memory        MemoryConfig        `yaml:"memory"`
	Compute       ComputeConfig       `yaml:"compute"`
	Log           LogConfig           `yaml:"log"`
	Metrics       MetricsConfig       `yaml:"metrics"`
}

type RegistryConfig struct {
	// Capacity is the slot count of every handle table.
	Capacity int `yaml:"capacity" validate:"min=1,max=65536"`
}

type CommandBufferConfig struct {
	// MaxSize is the fixed upper bound of one command buffer in bytes.
	MaxSize int `yaml:"max_size" validate:"min=4,max=1073741824"`
}

type MemoryConfig struct {
	// Allocator is "virtual" (reserve/commit through mmap) or "heap".
	Allocator string `yaml:"allocator" validate:"oneof=virtual heap"`
	// Granule is the commit step in bytes. It must be a power of two.
	Granule int `yaml:"granule" validate:"min=1"`
	// Limit caps committed bytes across all regions. Zero means unlimited.
	Limit int64 `yaml:"limit" validate:"min=0"`
}

type ComputeConfig struct {
	// Workers bounds concurrent ops per out-of-order queue. Zero means NumCPU.
	Workers int `yaml:"workers" validate:"min=0"`
	// KernelMemoryPages caps WebAssembly kernel memory in 64KiB pages.
	KernelMemoryPages uint32 `yaml:"kernel_memory_pages" validate:"max=65536"`
}

type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace" validate:"required_if=Enabled true"`
}

func Default() *Config {
	return &Config{
		Registry:      RegistryConfig{Capacity: DefaultCapacity},
		CommandBuffer: CommandBufferConfig{MaxSize: DefaultMaxCommands},
		Memory:        MemoryConfig{Allocator: "virtual", Granule: 64 << 10},
		Compute:       ComputeConfig{KernelMemoryPages: DefaultKernelPages},
		Log:           LogConfig{Level: "info", Format: "console"},
		Metrics:       MetricsConfig{Namespace: DefaultMetricsPrefix},
	}
}

// Load reads path and overlays it on Default.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidArgument, err, "read "+path)
	}
	return Parse(data)
}

// Parse decodes YAML over Default and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidArgument, err, "parse yaml")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(errors.PhaseConfig, errors.KindInvalidArgument, err, "validate")
	}
	if g := c.Memory.Granule; g&(g-1) != 0 {
		return errors.InvalidArgument(errors.PhaseConfig, "validate",
			fmt.Sprintf("memory.granule %d is not a power of two", g))
	}
	return nil
}

// Marshal renders c as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
