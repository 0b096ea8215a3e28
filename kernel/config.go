package kernel

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/sibexico/HexKernel/vm"
)

// Config holds kernel configuration
type Config struct {
	// Machine Configuration
	PhysicalPages int `json:"physical_pages"` // Number of physical frames
	PageSize      int `json:"page_size"`      // Page and frame size in bytes

	// Process Configuration
	StackPages   int    `json:"stack_pages"`   // Stack pages per process, after the image
	AddressSpace string `json:"address_space"` // Address space kind (demand, flat)

	// Swap Configuration
	SwapBackend      string `json:"swap_backend"`       // Backing store (file, mmap, memory)
	SwapPath         string `json:"swap_path"`          // Swap file, removed at shutdown
	SwapInitialSlots int    `json:"swap_initial_slots"` // Slots before the first doubling
	SwapCompression  string `json:"swap_compression"`   // Slot encoding (none, lz4, snappy)

	// Timer Configuration
	TimerPeriodTicks   uint64 `json:"timer_period_ticks"`   // Ticks between timer interrupts
	TickIntervalMicros int    `json:"tick_interval_micros"` // Wall time per tick when running in real time

	// Observability
	EnableMetrics bool   `json:"enable_metrics"` // Whether to log paging metrics at shutdown
	LogLevel      string `json:"log_level"`      // Log level (debug, info, warn, error)
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		PhysicalPages:      32,
		PageSize:           1024,
		StackPages:         8,
		AddressSpace:       "demand",
		SwapBackend:        "file",
		SwapPath:           "swap",
		SwapInitialSlots:   vm.DefaultSwapSlots,
		SwapCompression:    "none",
		TimerPeriodTicks:   500,
		TickIntervalMicros: 10,
		EnableMetrics:      true,
		LogLevel:           "info",
	}
}

// LoadConfigFromFile loads configuration from a JSON file
func LoadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// LoadConfigFromEnv loads configuration from HEXKERNEL_* environment
// variables. Unset or malformed variables keep their defaults.
func LoadConfigFromEnv() *Config {
	config := DefaultConfig()

	// Machine
	envInt("HEXKERNEL_PHYSICAL_PAGES", &config.PhysicalPages)
	envInt("HEXKERNEL_PAGE_SIZE", &config.PageSize)

	// Process
	envInt("HEXKERNEL_STACK_PAGES", &config.StackPages)
	if val := os.Getenv("HEXKERNEL_ADDRESS_SPACE"); val != "" {
		config.AddressSpace = val
	}

	// Swap
	if val := os.Getenv("HEXKERNEL_SWAP_BACKEND"); val != "" {
		config.SwapBackend = val
	}
	if val := os.Getenv("HEXKERNEL_SWAP_PATH"); val != "" {
		config.SwapPath = val
	}
	envInt("HEXKERNEL_SWAP_INITIAL_SLOTS", &config.SwapInitialSlots)
	if val := os.Getenv("HEXKERNEL_SWAP_COMPRESSION"); val != "" {
		config.SwapCompression = val
	}

	// Timer
	if val := os.Getenv("HEXKERNEL_TIMER_PERIOD_TICKS"); val != "" {
		if period, err := strconv.ParseUint(val, 10, 64); err == nil {
			config.TimerPeriodTicks = period
		}
	}
	envInt("HEXKERNEL_TICK_INTERVAL_MICROS", &config.TickIntervalMicros)

	// Observability
	if val := os.Getenv("HEXKERNEL_ENABLE_METRICS"); val != "" {
		config.EnableMetrics = val == "true" || val == "1"
	}
	if val := os.Getenv("HEXKERNEL_LOG_LEVEL"); val != "" {
		config.LogLevel = val
	}

	return config
}

func envInt(name string, dst *int) {
	if val := os.Getenv(name); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			*dst = n
		}
	}
}

// SaveToFile saves the configuration to a JSON file
func (c *Config) SaveToFile(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.PhysicalPages <= 0 {
		return fmt.Errorf("physical pages must be greater than 0")
	}

	if c.PageSize <= 0 {
		return fmt.Errorf("page size must be greater than 0")
	}

	if c.PageSize&(c.PageSize-1) != 0 {
		return fmt.Errorf("page size must be a power of two")
	}

	if c.StackPages < 0 {
		return fmt.Errorf("stack pages cannot be negative")
	}

	if c.AddressSpace != "demand" && c.AddressSpace != "flat" {
		return fmt.Errorf("invalid address space: %s (must be demand or flat)", c.AddressSpace)
	}

	switch c.SwapBackend {
	case "file", "mmap":
		if c.SwapPath == "" {
			return fmt.Errorf("swap path cannot be empty for the %s backend", c.SwapBackend)
		}
	case "memory":
	default:
		return fmt.Errorf("invalid swap backend: %s (must be file, mmap, or memory)", c.SwapBackend)
	}

	if c.SwapInitialSlots <= 0 {
		return fmt.Errorf("swap initial slots must be greater than 0")
	}

	if _, err := vm.ParseCompression(c.SwapCompression); err != nil {
		return err
	}

	if c.TimerPeriodTicks == 0 {
		return fmt.Errorf("timer period must be greater than 0")
	}

	if c.TickIntervalMicros <= 0 {
		return fmt.Errorf("tick interval must be greater than 0")
	}

	// Validate log level
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}

	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	return nil
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// TickInterval returns the wall time of one tick
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalMicros) * time.Microsecond
}

// SlogLevel maps LogLevel to a slog level
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
