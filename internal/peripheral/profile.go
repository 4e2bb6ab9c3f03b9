package peripheral

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chaz8081/envsense/internal/ble/protocol"
	"github.com/chaz8081/envsense/internal/registry"
	"github.com/chaz8081/envsense/internal/sensor"
	"tinygo.org/x/bluetooth"
)

// Assigned numbers.
var (
	EnvironmentalSensingUUID = bluetooth.New16BitUUID(0x181A)
	DeviceInformationUUID    = bluetooth.New16BitUUID(0x180A)

	TemperatureUUID         = bluetooth.New16BitUUID(0x2A6E)
	MeasurementIntervalUUID = bluetooth.New16BitUUID(0x2A21)
	ManufacturerNameUUID    = bluetooth.New16BitUUID(0x2A29)
	ModelNumberUUID         = bluetooth.New16BitUUID(0x2A24)
	SerialNumberUUID        = bluetooth.New16BitUUID(0x2A25)
)

// magicByte is logged when a written value starts with it.
const magicByte = 0x0f

// maxDeviceInfoBytes bounds device information strings.
const maxDeviceInfoBytes = 64

// EnvironmentalSensing registers the Environmental Sensing service: a live
// temperature characteristic backed by src and a writable measurement
// interval. onInterval is called with every valid interval written by a
// central and may be nil.
func EnvironmentalSensing(reg *registry.Registry, src sensor.Source, interval time.Duration, onInterval func(time.Duration)) (registry.Handle, error) {
	temp, err := reg.Register(EnvironmentalSensingUUID, registry.Characteristic{
		UUID:       TemperatureUUID,
		Properties: registry.PropRead | registry.PropNotify | registry.PropIndicate,
		Live:       temperatureReader(src),
	})
	if err != nil {
		return 0, fmt.Errorf("peripheral: register temperature: %w", err)
	}

	initial, err := protocol.EncodeInterval(interval)
	if err != nil {
		return 0, fmt.Errorf("peripheral: measurement interval: %w", err)
	}
	_, err = reg.Register(EnvironmentalSensingUUID, registry.Characteristic{
		UUID:        MeasurementIntervalUUID,
		Properties:  registry.PropRead | registry.PropWrite,
		Permissions: registry.PermWritable,
		Value:       initial,
		OnWrite:     intervalWriteHook(onInterval),
		Validate:    validateInterval,
	})
	if err != nil {
		return 0, fmt.Errorf("peripheral: register measurement interval: %w", err)
	}
	return temp, nil
}

func temperatureReader(src sensor.Source) registry.LiveFunc {
	return func(ctx context.Context) ([]byte, error) {
		t, err := src.Read(ctx)
		if err != nil {
			return nil, err
		}
		slog.Debug("[SENSOR] temperature", "value", t.String())
		return t.Bytes(), nil
	}
}

func validateInterval(value []byte) error {
	_, err := protocol.DecodeInterval(value)
	return err
}

func intervalWriteHook(onInterval func(time.Duration)) func([]byte) {
	return func(value []byte) {
		slog.Info("[GATT] measurement interval written", "value", fmt.Sprintf("%x", value))
		d, err := protocol.DecodeInterval(value)
		if err != nil {
			slog.Warn("[GATT] invalid measurement interval", "error", err)
			return
		}
		if d <= 0 {
			slog.Warn("[GATT] ignoring zero measurement interval")
			return
		}
		if onInterval != nil {
			onInterval(d)
		}
	}
}

// DeviceInformation registers the Device Information service with static,
// read-only text characteristics. Empty fields are skipped.
func DeviceInformation(reg *registry.Registry, manufacturer, model, serial string) error {
	fields := []struct {
		uuid  bluetooth.UUID
		value string
	}{
		{ManufacturerNameUUID, manufacturer},
		{ModelNumberUUID, model},
		{SerialNumberUUID, serial},
	}
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		text := protocol.TruncateText(f.value, maxDeviceInfoBytes)
		_, err := reg.Register(DeviceInformationUUID, registry.Characteristic{
			UUID:       f.uuid,
			Properties: registry.PropRead,
			Value:      protocol.EncodeText(text),
		})
		if err != nil {
			return fmt.Errorf("peripheral: register device information %s: %w", f.uuid, err)
		}
	}
	return nil
}
