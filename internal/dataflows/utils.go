package dataflows

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// CacheManager is a file cache keyed by an md5 of the request parameters.
type CacheManager struct {
	cacheDir     string
	ttl          time.Duration
	cacheEnabled bool
}

func NewCacheManager(cacheDir string, ttl time.Duration, cacheEnabled bool) *CacheManager {
	return &CacheManager{
		cacheDir:     cacheDir,
		ttl:          ttl,
		cacheEnabled: cacheEnabled && cacheDir != "",
	}
}

func (cm *CacheManager) getCacheKey(source, method string, params any) string {
	data, _ := json.Marshal(params)
	hash := md5.Sum(data)
	return fmt.Sprintf("%s_%s_%x.json", source, method, hash)
}

// Get decodes a fresh cache entry into result. Expired entries are removed.
func (cm *CacheManager) Get(source, method string, params any, result any) bool {
	if cm == nil || !cm.cacheEnabled {
		return false
	}

	filePath := filepath.Join(cm.cacheDir, cm.getCacheKey(source, method, params))
	info, err := os.Stat(filePath)
	if err != nil {
		return false
	}
	if time.Since(info.ModTime()) > cm.ttl {
		_ = os.Remove(filePath)
		return false
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return false
	}
	return json.Unmarshal(data, result) == nil
}

func (cm *CacheManager) Set(source, method string, params any, data any) error {
	if cm == nil || !cm.cacheEnabled {
		return nil
	}
	if err := os.MkdirAll(cm.cacheDir, 0o755); err != nil {
		return err
	}
	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(cm.cacheDir, cm.getCacheKey(source, method, params)), jsonData, 0o644)
}

// RetryConfig configures provider retries.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
}

func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries: 2,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   5 * time.Second,
		Multiplier: 2.0,
	}
}

// WithRetry runs fn with exponential backoff until it succeeds, retries run
// out or ctx is done.
func WithRetry(ctx context.Context, config *RetryConfig, fn func() error) error {
	if config == nil {
		config = DefaultRetryConfig()
	}
	var lastErr error
	delay := config.BaseDelay
	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		if attempt > 0 {
			t := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
			delay = time.Duration(float64(delay) * config.Multiplier)
			if delay > config.MaxDelay {
				delay = config.MaxDelay
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if lastErr = fn(); lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

func ValidateSymbol(symbol string) error {
	symbol = NormalizeSymbol(symbol)
	if len(symbol) == 0 {
		return fmt.Errorf("symbol cannot be empty")
	}
	if len(symbol) > 12 {
		return fmt.Errorf("symbol too long: %s", symbol)
	}
	for _, r := range symbol {
		if !(r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '.' || r == '-' || r == '^') {
			return fmt.Errorf("symbol %s contains invalid character %q", symbol, r)
		}
	}
	return nil
}

func NormalizeSymbol(symbol string) string {
	return strings.TrimSpace(strings.ToUpper(symbol))
}

func FormatDateRange(start, end time.Time) string {
	return fmt.Sprintf("%s to %s", start.Format(dateLayout), end.Format(dateLayout))
}

// ParseDate accepts the date formats users and providers commonly emit.
func ParseDate(dateStr string) (time.Time, error) {
	formats := []string{
		dateLayout,
		"2006-01-02 15:04:05",
		"01/02/2006",
		time.RFC3339,
	}
	for _, format := range formats {
		if t, err := time.Parse(format, strings.TrimSpace(dateStr)); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unable to parse date: %s", dateStr)
}
