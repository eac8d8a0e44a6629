package durable

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// BridgeSettings is the env-derived policy for the durable bridge: retry
// budget, per-call timeout and compensation retry count.
type BridgeSettings struct {
	RetryMaxAttempts    int
	RetryBaseDelay      time.Duration
	RetryMaxDelay       time.Duration
	CallTimeout         time.Duration
	CompensationRetries int
}

// LoadBridgeSettingsFromEnv reads bridge settings from env.
func LoadBridgeSettingsFromEnv() (BridgeSettings, error) {
	cfg := BridgeSettings{}
	var err error

	if cfg.RetryMaxAttempts, err = parseRequiredInt("BRIDGE_RETRY_MAX_ATTEMPTS"); err != nil {
		return cfg, err
	}
	if cfg.RetryBaseDelay, err = parseRequiredDuration("BRIDGE_RETRY_BASE_DELAY"); err != nil {
		return cfg, err
	}
	if cfg.RetryMaxDelay, err = parseRequiredDuration("BRIDGE_RETRY_MAX_DELAY"); err != nil {
		return cfg, err
	}
	if cfg.CallTimeout, err = parseRequiredDuration("BRIDGE_CALL_TIMEOUT"); err != nil {
		return cfg, err
	}
	if cfg.CompensationRetries, err = parseRequiredInt("SAGA_COMPENSATION_RETRIES"); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// RetryPolicy converts the settings into the bridge's retry policy.
func (s BridgeSettings) RetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: s.RetryMaxAttempts,
		BaseDelay:   s.RetryBaseDelay,
		MaxDelay:    s.RetryMaxDelay,
		CallTimeout: s.CallTimeout,
	}
}

func parseRequiredDuration(name string) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return 0, fmt.Errorf("%s is required", name)
	}
	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if val < 0 {
		return 0, errors.New(name + " must be >= 0")
	}
	return val, nil
}

func parseRequiredInt(name string) (int, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return 0, fmt.Errorf("%s is required", name)
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if val < 0 {
		return 0, errors.New(name + " must be >= 0")
	}
	return val, nil
}
