package protocol

import (
	"bytes"
	"errors"
	"math"
	"testing"
	"time"
)

func TestEncodeTemperature(t *testing.T) {
	tests := []struct {
		centi int16
		want  []byte
	}{
		{0, []byte{0x00, 0x00}},
		{2345, []byte{0x29, 0x09}},
		{-1, []byte{0xff, 0xff}},
		{-2750, []byte{0x42, 0xf5}},
		{math.MaxInt16, []byte{0xff, 0x7f}},
		{math.MinInt16, []byte{0x00, 0x80}},
	}
	for _, tt := range tests {
		got := EncodeTemperature(tt.centi)
		if !bytes.Equal(got, tt.want) {
			t.Errorf("EncodeTemperature(%d) = %x, want %x", tt.centi, got, tt.want)
		}
	}
}

func TestTemperatureRoundTripWithinPrecision(t *testing.T) {
	for c := -100.0; c <= 100.0; c += 0.37 {
		centi, err := CentiFromCelsius(c)
		if err != nil {
			t.Fatalf("CentiFromCelsius(%v) error = %v", c, err)
		}
		got, err := DecodeTemperature(EncodeTemperature(centi))
		if err != nil {
			t.Fatalf("DecodeTemperature() error = %v", err)
		}
		if diff := math.Abs(float64(got)/100 - c); diff > 0.01 {
			t.Errorf("round trip of %.4f gave %.2f (diff %.4f)", c, float64(got)/100, diff)
		}
	}
}

func TestCentiFromCelsiusRounds(t *testing.T) {
	// 23.45*100 is 2344.9999... in float64; truncation would lose a hundredth.
	got, err := CentiFromCelsius(23.45)
	if err != nil {
		t.Fatalf("CentiFromCelsius() error = %v", err)
	}
	if got != 2345 {
		t.Errorf("CentiFromCelsius(23.45) = %d, want 2345", got)
	}
}

func TestCentiFromCelsiusOutOfRange(t *testing.T) {
	for _, c := range []float64{400, -400, math.NaN()} {
		if _, err := CentiFromCelsius(c); !errors.Is(err, ErrOutOfRange) {
			t.Errorf("CentiFromCelsius(%v) error = %v, want ErrOutOfRange", c, err)
		}
	}
}

func TestDecodeTemperatureShort(t *testing.T) {
	if _, err := DecodeTemperature([]byte{0x01}); !errors.Is(err, ErrShortValue) {
		t.Errorf("DecodeTemperature(1 byte) error = %v, want ErrShortValue", err)
	}
}

func TestInterval(t *testing.T) {
	b, err := EncodeInterval(10 * time.Second)
	if err != nil {
		t.Fatalf("EncodeInterval() error = %v", err)
	}
	if !bytes.Equal(b, []byte{0x0a, 0x00}) {
		t.Errorf("EncodeInterval(10s) = %x, want 0a00", b)
	}
	d, err := DecodeInterval(b)
	if err != nil {
		t.Fatalf("DecodeInterval() error = %v", err)
	}
	if d != 10*time.Second {
		t.Errorf("DecodeInterval() = %v, want 10s", d)
	}

	if _, err := EncodeInterval(24 * time.Hour); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("EncodeInterval(24h) error = %v, want ErrOutOfRange", err)
	}
	for _, b := range [][]byte{nil, {0x0f}, {1, 0, 0}} {
		if _, err := DecodeInterval(b); !errors.Is(err, ErrBadLength) {
			t.Errorf("DecodeInterval(%x) error = %v, want ErrBadLength", b, err)
		}
	}
}

func TestText(t *testing.T) {
	s, err := DecodeText(EncodeText("Gopher Sensör"))
	if err != nil {
		t.Fatalf("DecodeText() error = %v", err)
	}
	if s != "Gopher Sensör" {
		t.Errorf("DecodeText() = %q", s)
	}
	if _, err := DecodeText([]byte{0xff, 0xfe}); !errors.Is(err, ErrInvalidText) {
		t.Errorf("DecodeText(invalid) error = %v, want ErrInvalidText", err)
	}
}
