package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvString returns the trimmed value of key and whether it was set to a non-empty value.
func EnvString(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	return value, value != ""
}

// EnvInt parses key as an integer.
func EnvInt(key string) (int, bool, error) {
	raw, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, true, fmt.Errorf("%s: %w", key, err)
	}
	return value, true, nil
}

// EnvBool parses key as a boolean. "1" and "true" are true, "0" and "false" are false.
func EnvBool(key string) (bool, bool, error) {
	raw, ok := EnvString(key)
	if !ok {
		return false, false, nil
	}
	value, err := strconv.ParseBool(strings.ToLower(raw))
	if err != nil {
		return false, true, fmt.Errorf("%s: %w", key, err)
	}
	return value, true, nil
}

// EnvDuration parses key as a Go duration. A bare integer is read as milliseconds.
func EnvDuration(key string) (time.Duration, bool, error) {
	raw, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	if ms, err := strconv.Atoi(raw); err == nil {
		return time.Duration(ms) * time.Millisecond, true, nil
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, true, fmt.Errorf("%s: %w", key, err)
	}
	return value, true, nil
}

// ApplyEnv overlays environment variables onto c.
func (c *Config) ApplyEnv() error {
	ints := map[string]*int{
		"MAX_SESSIONS":      &c.MaxSessions,
		"MAX_DETALLES":      &c.MaxDetails,
		"MAX_ATTEMPTS":      &c.MaxAttempts,
		"RESULT_CACHE_SIZE": &c.ResultCacheSize,
	}
	for key, dst := range ints {
		value, ok, err := EnvInt(key)
		if err != nil {
			return err
		}
		if ok {
			*dst = value
		}
	}

	bools := map[string]*bool{
		"SHOW_FULL_DETAILS": &c.ShowFullDetails,
		"SAVE_SCREENSHOTS":  &c.SaveScreenshots,
		"CAMPOS_SOLICITADO": &c.FixtureMode,
		"SHOW_BROWSER":      &c.ShowBrowser,
		"SAVE_LIGHT":        &c.LightMode,
	}
	for key, dst := range bools {
		value, ok, err := EnvBool(key)
		if err != nil {
			return err
		}
		if ok {
			*dst = value
		}
	}

	durations := map[string]*time.Duration{
		"RESTART_INTERVAL": &c.RestartInterval,
		"SLOWMO":           &c.SlowMo,
		"RESULT_CACHE_TTL": &c.ResultCacheTTL,
	}
	for key, dst := range durations {
		value, ok, err := EnvDuration(key)
		if err != nil {
			return err
		}
		if ok {
			*dst = value
		}
	}

	strs := map[string]*string{
		"START_DATE":              &c.StartDate,
		"DEFAULT_SITE_KEY":        &c.DefaultSiteKey,
		"CREDENTIALS_FILE":        &c.CredentialsFile,
		"BROWSER_EXECUTABLE_PATH": &c.ExecutablePath,
		"SESSION_POLICY":          &c.SessionPolicy,
		"DETAIL_FETCH_MODE":       &c.DetailFetchMode,
	}
	for key, dst := range strs {
		if value, ok := EnvString(key); ok {
			*dst = value
		}
	}

	if port, ok := EnvString("PORT"); ok {
		c.Addr = ":" + strings.TrimPrefix(port, ":")
	}
	return nil
}
