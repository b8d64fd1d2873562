package acquisition

import (
	"context"
	"fmt"
	"time"

	"github.com/levenlabs/go-lflag"
)

const (
	DefaultMaxAttempts  = 10
	DefaultRetryBackoff = 2 * time.Second
)

// Config controls retries and the clock used to compute windows.
type Config struct {
	// MaxAttempts is the number of requests made for a window (or the
	// technical read) before giving up.
	MaxAttempts  int
	RetryBackoff time.Duration
	// Location is the zone backend dates are expressed in.
	Location *time.Location

	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultConfig returns the default retry policy in the Paris zone.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  DefaultMaxAttempts,
		RetryBackoff: DefaultRetryBackoff,
		Location:     ParisLocation,
	}
}

// Configured registers the acquisition flags and returns the config they fill
// in.
func Configured() *Config {
	cfg := DefaultConfig()
	maxAttempts := lflag.Int("read-max-attempts", DefaultMaxAttempts, "Requests made for a window before giving up on the command service")
	backoff := lflag.Duration("read-retry-backoff", DefaultRetryBackoff, "Sleep between two attempts of the same request")
	zone := lflag.String("read-timezone", "Europe/Paris", "Zone of the dates returned by SGE")

	lflag.Do(func() {
		if *maxAttempts < 1 {
			panic(fmt.Errorf("read-max-attempts must be at least 1: %d", *maxAttempts))
		}
		loc, err := time.LoadLocation(*zone)
		if err != nil {
			panic(fmt.Errorf("failed to load read-timezone %q: %w", *zone, err))
		}
		cfg.MaxAttempts = *maxAttempts
		cfg.RetryBackoff = *backoff
		cfg.Location = loc
	})
	return &cfg
}

func (c Config) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c Config) location() *time.Location {
	if c.Location != nil {
		return c.Location
	}
	return ParisLocation
}

func (c Config) maxAttempts() int {
	if c.MaxAttempts < 1 {
		return 1
	}
	return c.MaxAttempts
}

func (c Config) sleep(ctx context.Context, d time.Duration) error {
	if c.Sleep != nil {
		return c.Sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
