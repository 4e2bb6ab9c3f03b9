// Package protocol implements the bit-exact characteristic value encodings
// served by the environmental sensing peripheral.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
	"unicode/utf8"
)

// TemperatureSize is the encoded length of a temperature characteristic value.
const TemperatureSize = 2

// IntervalSize is the encoded length of a measurement interval value.
const IntervalSize = 2

var (
	ErrShortValue  = errors.New("protocol: value too short")
	ErrBadLength   = errors.New("protocol: value has wrong length")
	ErrOutOfRange  = errors.New("protocol: value out of range")
	ErrInvalidText = errors.New("protocol: text is not valid UTF-8")
)

// EncodeTemperature encodes hundredths of a degree Celsius as a signed
// little-endian 16-bit integer (org.bluetooth.characteristic.temperature).
func EncodeTemperature(centi int16) []byte {
	buf := make([]byte, TemperatureSize)
	binary.LittleEndian.PutUint16(buf, uint16(centi))
	return buf
}

// DecodeTemperature is the inverse of EncodeTemperature.
func DecodeTemperature(b []byte) (int16, error) {
	if len(b) < TemperatureSize {
		return 0, fmt.Errorf("%w: temperature needs %d bytes, got %d", ErrShortValue, TemperatureSize, len(b))
	}
	return int16(binary.LittleEndian.Uint16(b)), nil
}

// CentiFromCelsius converts degrees Celsius to hundredths, rounding to the
// nearest hundredth.
func CentiFromCelsius(c float64) (int16, error) {
	if math.IsNaN(c) {
		return 0, fmt.Errorf("%w: NaN", ErrOutOfRange)
	}
	v := math.Round(c * 100)
	if v > math.MaxInt16 || v < math.MinInt16 {
		return 0, fmt.Errorf("%w: %.2f°C", ErrOutOfRange, c)
	}
	return int16(v), nil
}

// EncodeInterval encodes a measurement interval in whole seconds
// (org.bluetooth.characteristic.measurement_interval).
func EncodeInterval(d time.Duration) ([]byte, error) {
	secs := d / time.Second
	if secs < 0 || secs > math.MaxUint16 {
		return nil, fmt.Errorf("%w: interval %s", ErrOutOfRange, d)
	}
	buf := make([]byte, IntervalSize)
	binary.LittleEndian.PutUint16(buf, uint16(secs))
	return buf, nil
}

// DecodeInterval is the inverse of EncodeInterval. A zero interval means
// "no periodic measurement" per the characteristic definition.
func DecodeInterval(b []byte) (time.Duration, error) {
	if len(b) != IntervalSize {
		return 0, fmt.Errorf("%w: interval needs %d bytes, got %d", ErrBadLength, IntervalSize, len(b))
	}
	return time.Duration(binary.LittleEndian.Uint16(b)) * time.Second, nil
}

// EncodeText returns the UTF-8 bytes of s.
func EncodeText(s string) []byte {
	return []byte(s)
}

// DecodeText validates and returns b as a string.
func DecodeText(b []byte) (string, error) {
	if !utf8.Valid(b) {
		return "", ErrInvalidText
	}
	return string(b), nil
}
