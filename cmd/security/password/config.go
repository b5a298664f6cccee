package password

import (
	"os"
	"strconv"
	"strings"
)

// Argon2idParams defines the Argon2id cost parameters used for hashing.
type Argon2idParams struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Config bundles hashing parameters with the password length policy.
type Config struct {
	Params Argon2idParams

	MinLength int
	MaxLength int
}

// DefaultConfig returns production-reasonable Argon2id settings
// (64 MiB, 3 iterations, parallelism 1) and the baseline length policy.
func DefaultConfig() Config {
	return Config{
		Params: Argon2idParams{
			MemoryKiB:   64 * 1024,
			Iterations:  3,
			Parallelism: 1,
			SaltLength:  16,
			KeyLength:   32,
		},
		MinLength: 8,
		MaxLength: 256,
	}
}

// FromEnv returns DefaultConfig overridden by TRAQ_PASSWORD_* variables.
// Invalid or out-of-range values fall back to the default for that field.
func FromEnv() Config {
	cfg := DefaultConfig()

	if v := envUint32("TRAQ_PASSWORD_ARGON2_MEMORY_KIB"); v >= 8*1024 {
		cfg.Params.MemoryKiB = v
	}
	if v := envUint32("TRAQ_PASSWORD_ARGON2_ITERATIONS"); v >= 1 && v <= 16 {
		cfg.Params.Iterations = v
	}
	if v := envUint32("TRAQ_PASSWORD_ARGON2_PARALLELISM"); v >= 1 && v <= 8 {
		cfg.Params.Parallelism = uint8(v)
	}
	if v := envInt("TRAQ_PASSWORD_MIN_LENGTH"); v >= 8 && v <= 128 {
		cfg.MinLength = v
	}
	if v := envInt("TRAQ_PASSWORD_MAX_LENGTH"); v >= cfg.MinLength && v <= 1024 {
		cfg.MaxLength = v
	}

	return cfg
}

func envUint32(key string) uint32 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return 0
	}
	return uint32(n)
}

func envInt(key string) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}
