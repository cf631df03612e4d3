package xwatchdog

import (
	"time"

	"github.com/pkg/errors"
)

type Config struct {
	Name   string        `env:"NAME" envDefault:"watchdog" yaml:"name"`
	Slots  int           `env:"SLOTS" envDefault:"8" yaml:"slots"`
	Period time.Duration `env:"PERIOD" envDefault:"500ms" yaml:"period"` // expiry check interval

	// sync period run before serving, disabled when SyncTTL is 0
	SyncTimeout time.Duration `env:"SYNC_TIMEOUT" envDefault:"1s" yaml:"sync_timeout"`
	SyncTTL     int           `env:"SYNC_TTL" envDefault:"0" yaml:"sync_ttl"`
}

func DefaultConfig() Config {
	return Config{Name: "watchdog", Slots: 8, Period: 500 * time.Millisecond, SyncTimeout: time.Second}
}

func (c Config) Validate() error {
	if c.Name == "" || c.Slots <= 0 || c.Period <= 0 {
		return errors.Errorf("invalid watchdog config name=%q slots=%d period=%v", c.Name, c.Slots, c.Period)
	}
	if c.SyncTTL < 0 || (c.SyncTTL > 0 && c.SyncTimeout <= 0) {
		return errors.Errorf("invalid watchdog sync sync_timeout=%v sync_ttl=%d", c.SyncTimeout, c.SyncTTL)
	}
	return nil
}

// ServerName is the mailbox identifier of the watchdog named name.
func ServerName(name string) string { return name + ".server" }
