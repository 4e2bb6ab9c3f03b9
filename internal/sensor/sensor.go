// Package sensor provides the temperature measurement sources read by the
// peripheral: a DS18B20 on the Linux 1-Wire bus, or a synthetic generator
// when no hardware is attached.
package sensor

import (
	"context"
	"errors"
	"fmt"

	"github.com/chaz8081/envsense/internal/ble/protocol"
)

// ErrUnavailable is returned when a source cannot produce a value in time.
var ErrUnavailable = errors.New("sensor: measurement unavailable")

// Temperature is a reading in hundredths of a degree Celsius.
type Temperature int16

// FromCelsius rounds c to the nearest hundredth of a degree.
func FromCelsius(c float64) (Temperature, error) {
	centi, err := protocol.CentiFromCelsius(c)
	if err != nil {
		return 0, fmt.Errorf("sensor: %w", err)
	}
	return Temperature(centi), nil
}

// Celsius returns the reading in degrees Celsius.
func (t Temperature) Celsius() float64 { return float64(t) / 100 }

// Fahrenheit returns the reading in degrees Fahrenheit.
func (t Temperature) Fahrenheit() float64 { return t.Celsius()*9/5 + 32 }

// Bytes returns the characteristic encoding of the reading.
func (t Temperature) Bytes() []byte { return protocol.EncodeTemperature(int16(t)) }

func (t Temperature) String() string { return fmt.Sprintf("%.2f°C", t.Celsius()) }

// Source produces the current temperature.
type Source interface {
	// Read returns the current reading. Errors wrap ErrUnavailable.
	Read(ctx context.Context) (Temperature, error)
}
