package peripheral

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/chaz8081/envsense/internal/registry"
)

func TestDeviceInformation(t *testing.T) {
	reg := registry.New()
	long := strings.Repeat("é", 40)
	if err := DeviceInformation(reg, "Acme", long, ""); err != nil {
		t.Fatal(err)
	}

	svcs := reg.Services()
	if len(svcs) != 1 || svcs[0].UUID != DeviceInformationUUID {
		t.Fatalf("Services() = %+v", svcs)
	}
	if n := len(svcs[0].Characteristics); n != 2 {
		t.Fatalf("characteristics = %d, want 2 (empty serial skipped)", n)
	}

	h, ok := reg.Lookup(DeviceInformationUUID, ModelNumberUUID)
	if !ok {
		t.Fatal("model number not registered")
	}
	v, _ := reg.Read(context.Background(), h)
	if len(v) > maxDeviceInfoBytes {
		t.Errorf("model number is %d bytes, want <= %d", len(v), maxDeviceInfoBytes)
	}
	if !strings.HasPrefix(long, string(v)) {
		t.Error("truncated model number should be a prefix of the configured value")
	}
	info, _ := reg.Info(h)
	if info.Permissions.Has(registry.PermWritable) || info.Live {
		t.Errorf("device information should be static and read-only: %+v", info)
	}
}

func TestEnvironmentalSensingLayout(t *testing.T) {
	reg := registry.New()
	h, err := EnvironmentalSensing(reg, &fixedSource{t: 100}, 10*time.Second, nil)
	if err != nil {
		t.Fatal(err)
	}
	info, _ := reg.Info(h)
	if info.UUID != TemperatureUUID || !info.Live {
		t.Errorf("temperature info = %+v", info)
	}
	want := registry.PropRead | registry.PropNotify | registry.PropIndicate
	if info.Properties != want {
		t.Errorf("properties = %v, want %v", info.Properties, want)
	}

	ih, _ := reg.Lookup(EnvironmentalSensingUUID, MeasurementIntervalUUID)
	v, _ := reg.Value(ih)
	if string(v) != string([]byte{10, 0}) {
		t.Errorf("interval value = %x, want 0a00", v)
	}

	if _, err := EnvironmentalSensing(reg, &fixedSource{}, time.Second, nil); err == nil {
		t.Error("registering the service twice should fail")
	}
}

func TestIntervalHookIgnoresZero(t *testing.T) {
	called := false
	hook := intervalWriteHook(func(time.Duration) { called = true })
	hook([]byte{0, 0})
	if called {
		t.Error("zero interval should not be applied")
	}
	hook([]byte{1, 0})
	if !called {
		t.Error("valid interval should be applied")
	}
}
