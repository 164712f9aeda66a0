package models

import (
	"time"

	"github.com/pkg/errors"
)

type Config struct {
	// engine availability
	HwAccel bool `toml:"hwaccel"`
	RawR0   bool `toml:"raw_r0"`
	RawR3   bool `toml:"raw_r3"`

	// guest cpuid bits the policy and classifier consult
	CpuidPAE     bool `toml:"cpuid_pae"`
	CpuidMonitor bool `toml:"cpuid_monitor"`

	HaltTimeout time.Duration `toml:"halt_timeout"`
	BurstLimit  uint64        `toml:"burst_limit"`

	LogLevel string `toml:"log_level"`
	Color    bool   `toml:"color"`
	Verbose  bool   `toml:"verbose"`

	Listen    int    `toml:"listen"`
	SaveState string `toml:"save_state"`
	LoadState string `toml:"load_state"`

	Image      string        `toml:"image"`
	LoadAddr   uint64        `toml:"load_addr"`
	Entry      uint64        `toml:"entry"`
	MemSize    uint64        `toml:"mem_size"`
	TickVector uint8         `toml:"tick_vector"`
	TickPeriod time.Duration `toml:"tick_period"`
}

func DefaultConfig() *Config {
	return &Config{
		HaltTimeout: 100 * time.Millisecond,
		BurstLimit:  100000,
		LogLevel:    "info",
		Listen:      -1,
		LoadAddr:    0x100000,
		MemSize:     16 << 20,
		TickVector:  0x20,
	}
}

// Validate rejects combinations the scheduler can't honor.
func (c *Config) Validate() error {
	if c.HwAccel && (c.RawR0 || c.RawR3) {
		return errors.New("hwaccel and raw mode are mutually exclusive")
	}
	if c.HaltTimeout <= 0 {
		return errors.Errorf("halt_timeout must be positive, got %v", c.HaltTimeout)
	}
	if c.MemSize&0xfff != 0 {
		return errors.Errorf("mem_size %#x is not page aligned", c.MemSize)
	}
	if c.Image != "" && (c.LoadAddr >= c.MemSize || c.Entry >= c.MemSize) {
		return errors.Errorf("image load address %#x or entry %#x outside of guest memory", c.LoadAddr, c.Entry)
	}
	return nil
}

// RawEnabled reports whether any raw mode ring is available.
func (c *Config) RawEnabled() bool {
	return c.RawR0 || c.RawR3
}
