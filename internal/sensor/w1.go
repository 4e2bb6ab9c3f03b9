package sensor

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// DefaultW1BaseDir is where the w1-therm kernel driver exposes sensors.
const DefaultW1BaseDir = "/sys/bus/w1/devices"

// W1Source reads a DS18B20 through the w1-therm sysfs file. The driver
// reports "YES" at the end of the first line once the CRC check passed and
// "t=<millidegrees>" on the second line.
type W1Source struct {
	Path        string
	MaxAttempts int           // reads before giving up on a not-ready sensor
	RetryDelay  time.Duration // pause between reads
}

// NewW1Source creates a W1Source for the given w1_slave file.
func NewW1Source(path string, maxAttempts int, retryDelay time.Duration) *W1Source {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	if retryDelay <= 0 {
		retryDelay = 200 * time.Millisecond
	}
	return &W1Source{Path: path, MaxAttempts: maxAttempts, RetryDelay: retryDelay}
}

// FindW1Device returns the w1_slave file of the first DS18B20 (family 0x28)
// under baseDir.
func FindW1Device(baseDir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(baseDir, "28*"))
	if err != nil {
		return "", fmt.Errorf("sensor: glob %s: %w", baseDir, err)
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("sensor: no 1-Wire temperature device under %s", baseDir)
	}
	return filepath.Join(matches[0], "w1_slave"), nil
}

// Read polls the device file until the sensor reports a valid conversion,
// at most MaxAttempts times.
func (s *W1Source) Read(ctx context.Context) (Temperature, error) {
	for attempt := 1; ; attempt++ {
		lines, err := readLines(s.Path)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		if len(lines) >= 2 && strings.HasSuffix(strings.TrimSpace(lines[0]), "YES") {
			return parseW1Temperature(lines[1])
		}

		if attempt >= s.MaxAttempts {
			return 0, fmt.Errorf("%w: %s not ready after %d attempts", ErrUnavailable, s.Path, attempt)
		}
		slog.Debug("[SENSOR] 1-Wire reading not ready, retrying", "attempt", attempt, "path", s.Path)

		select {
		case <-ctx.Done():
			return 0, fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
		case <-time.After(s.RetryDelay):
		}
	}
}

// parseW1Temperature extracts the "t=" millidegree field.
func parseW1Temperature(line string) (Temperature, error) {
	pos := strings.Index(line, "t=")
	if pos == -1 {
		return 0, fmt.Errorf("%w: no t= field in %q", ErrUnavailable, line)
	}
	milli, err := strconv.Atoi(strings.TrimSpace(line[pos+2:]))
	if err != nil {
		return 0, fmt.Errorf("%w: parse %q: %v", ErrUnavailable, line, err)
	}
	t, err := FromCelsius(float64(milli) / 1000)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return t, nil
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines, sc.Err()
}
