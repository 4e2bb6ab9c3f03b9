package sensor

import (
	"fmt"
	"log/slog"
	"time"
)

// Options selects and tunes a measurement source.
type Options struct {
	Kind        string // "auto", "w1" or "random"
	W1BaseDir   string
	W1Device    string // explicit w1_slave path, skips discovery
	MaxAttempts int
	RetryDelay  time.Duration
	RandomMin   float64
	RandomMax   float64
}

// Detect builds the source described by opts. In "auto" mode a 1-Wire
// sensor is used when one is present, otherwise readings are synthesized.
func Detect(opts Options) (Source, error) {
	switch opts.Kind {
	case "random":
		return NewRandomSource(opts.RandomMin, opts.RandomMax), nil
	case "w1", "auto", "":
	default:
		return nil, fmt.Errorf("sensor: unknown source %q", opts.Kind)
	}

	path := opts.W1Device
	if path == "" {
		baseDir := opts.W1BaseDir
		if baseDir == "" {
			baseDir = DefaultW1BaseDir
		}
		found, err := FindW1Device(baseDir)
		if err != nil {
			if opts.Kind == "w1" {
				return nil, err
			}
			slog.Info("[SENSOR] no 1-Wire sensor found, using synthetic readings",
				"min", opts.RandomMin, "max", opts.RandomMax)
			return NewRandomSource(opts.RandomMin, opts.RandomMax), nil
		}
		path = found
	}

	slog.Info("[SENSOR] using 1-Wire sensor", "path", path)
	return NewW1Source(path, opts.MaxAttempts, opts.RetryDelay), nil
}
