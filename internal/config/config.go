// Package config loads the device daemon configuration from APGATE_*
// environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/aspect-build/apgate/internal/dispatch"
)

// DefaultMagic tags registry entries written by this firmware.
const DefaultMagic = 0x4B1D

// Config holds device configuration.
type Config struct {
	ProvisionPath string
	// SerialPath is the host link tty. Empty means stdin/stdout.
	SerialPath string
	Baud       int
	Store      string
	// I2CPath is the i2c-dev node of the board bus. Empty means no bus.
	I2CPath    string
	ArgMode    dispatch.Mode
	Transcript bool
	Board      string
	Magic      uint32
	BootExec   string
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	provision := os.Getenv("APGATE_PROVISION")
	if provision == "" {
		return nil, fmt.Errorf("APGATE_PROVISION is required")
	}

	baud := 115200
	if v := strings.TrimSpace(os.Getenv("APGATE_BAUD")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("APGATE_BAUD must be a positive integer, got %q", v)
		}
		baud = n
	}

	store := os.Getenv("APGATE_STORE")
	if store == "" {
		store = "file:apgate.flash"
	}
	if err := checkStore(store); err != nil {
		return nil, err
	}

	mode, err := dispatch.ParseMode(os.Getenv("APGATE_ARG_MODE"))
	if err != nil {
		return nil, fmt.Errorf("APGATE_ARG_MODE: %w", err)
	}

	transcript, err := parseBool("APGATE_TRANSCRIPT", false)
	if err != nil {
		return nil, err
	}

	board := os.Getenv("APGATE_BOARD")
	if board == "" {
		board = "A"
	}

	magic := uint32(DefaultMagic)
	if v := strings.TrimSpace(os.Getenv("APGATE_MAGIC")); v != "" {
		n, err := strconv.ParseUint(v, 0, 32)
		if err != nil || n == 0 {
			return nil, fmt.Errorf("APGATE_MAGIC must be a non-zero 32-bit value, got %q", v)
		}
		magic = uint32(n)
	}

	return &Config{
		ProvisionPath: provision,
		SerialPath:    os.Getenv("APGATE_SERIAL"),
		Baud:          baud,
		Store:         store,
		I2CPath:       os.Getenv("APGATE_I2C"),
		ArgMode:       mode,
		Transcript:    transcript,
		Board:         board,
		Magic:         magic,
		BootExec:      os.Getenv("APGATE_BOOT_EXEC"),
	}, nil
}

func checkStore(spec string) error {
	kind, arg, hasArg := strings.Cut(spec, ":")
	switch kind {
	case "memory":
		return nil
	case "file", "sqlite":
		if !hasArg || arg == "" {
			return fmt.Errorf("APGATE_STORE %q: missing path", spec)
		}
		return nil
	default:
		return fmt.Errorf("APGATE_STORE must be memory, file:<path> or sqlite:<path>, got %q", spec)
	}
}

func parseBool(name string, def bool) (bool, error) {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	switch v {
	case "":
		return def, nil
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s must be one of true/false/1/0/yes/no/on/off", name)
	}
}
