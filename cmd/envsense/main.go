package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"syscall"
	"time"

	"github.com/chaz8081/envsense/internal/ble"
	"github.com/chaz8081/envsense/internal/config"
	"github.com/chaz8081/envsense/internal/peripheral"
	"github.com/chaz8081/envsense/internal/registry"
	"github.com/chaz8081/envsense/internal/sensor"
	"github.com/chaz8081/envsense/internal/shutdown"
	"tinygo.org/x/bluetooth"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "", "path to config file (default: ~/.config/envsense/config.yaml)")
	initConfig := flag.Bool("init-config", false, "write the default config file and exit")
	flag.Parse()

	if *initConfig {
		path, err := config.WriteDefault()
		if err != nil {
			log.Fatalf("config: %v", err)
		}
		if path == "" {
			log.Printf("Config already exists at %s", config.DefaultConfigPath())
			return
		}
		log.Printf("Default config written to %s", path)
		return
	}

	// Load configuration
	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("config validation: %v", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()})))

	printBanner(cfg)

	// Measurement source
	src, err := sensor.Detect(sensor.Options{
		Kind:        cfg.Sensor.Source,
		W1BaseDir:   cfg.Sensor.W1BaseDir,
		W1Device:    cfg.Sensor.W1Device,
		MaxAttempts: cfg.Sensor.MaxAttempts,
		RetryDelay:  cfg.Sensor.RetryDelay,
		RandomMin:   cfg.Sensor.RandomMin,
		RandomMax:   cfg.Sensor.RandomMax,
	})
	if err != nil {
		log.Fatalf("Failed to open measurement source: %v", err)
	}

	// Radio stack
	stack, err := ble.New(cfg.Stack.Backend, ble.Options{
		DeviceID:      cfg.Stack.HCIDevice,
		EnableTimeout: cfg.Stack.EnableTimeout,
	})
	if err != nil {
		log.Fatalf("Failed to create %s stack: %v", cfg.Stack.Backend, err)
	}

	// GATT table
	var p *peripheral.Peripheral
	reg := registry.New()
	if _, err := peripheral.EnvironmentalSensing(reg, src, cfg.Update.Interval, func(d time.Duration) {
		p.SetUpdateInterval(d)
	}); err != nil {
		log.Fatalf("GATT setup: %v", err)
	}
	if err := peripheral.DeviceInformation(reg, cfg.Device.Manufacturer, cfg.Device.Model, cfg.Device.Serial); err != nil {
		log.Fatalf("GATT setup: %v", err)
	}

	p = peripheral.New(stack, reg, peripheral.Options{
		Advertisement: ble.Advertisement{
			LocalName:    cfg.Device.Name,
			ServiceUUIDs: []bluetooth.UUID{peripheral.EnvironmentalSensingUUID},
		},
		UpdateInterval: cfg.Update.Interval,
		Notify:         cfg.Update.Notify,
		Indicate:       cfg.Update.Indicate,
		ReadTimeout:    cfg.Sensor.ReadTimeout,
	})
	if err := p.Start(); err != nil {
		log.Fatalf("Failed to start peripheral: %v", err)
	}

	// Signal handling for graceful shutdown
	sig := shutdown.New()
	stop := shutdown.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("Advertising as %q. Ctrl+C to quit.", cfg.Device.Name)

	if err := p.Run(sig); err != nil {
		log.Printf("ERROR: shutdown: %v", err)
	}
	log.Println("Goodbye!")
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	// Try default config path
	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		log.Printf("Config loaded from %s", defaultPath)
		return cfg, nil
	}

	// No config file, use defaults
	log.Println("No config file found, using defaults (run with -init-config to create one)")
	return config.Default(), nil
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config) {
	fmt.Println("=== envsense ===")
	fmt.Printf("  Name:    %s\n", cfg.Device.Name)
	fmt.Printf("  Stack:   %s\n", cfg.Stack.Backend)
	fmt.Printf("  Sensor:  %s\n", cfg.Sensor.Source)
	fmt.Printf("  Update:  every %s (notify: %t, indicate: %t)\n", cfg.Update.Interval, cfg.Update.Notify, cfg.Update.Indicate)
	fmt.Printf("  Log:     %s\n", cfg.LogLevel)
	fmt.Println("================")
}
