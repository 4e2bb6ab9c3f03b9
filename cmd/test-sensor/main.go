// Command test-sensor is a manual test for the measurement source.
// It takes a few readings and prints them together with their wire
// encoding, without touching the radio.
//
// Usage:
//
//	go run ./cmd/test-sensor [--source auto|w1|random] [--count 5]
package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/chaz8081/envsense/internal/sensor"
)

func main() {
	source := flag.String("source", "auto", "measurement source: auto, w1 or random")
	device := flag.String("device", "", "explicit w1_slave path")
	count := flag.Int("count", 5, "number of readings")
	interval := flag.Duration("interval", time.Second, "delay between readings")
	flag.Parse()

	src, err := sensor.Detect(sensor.Options{
		Kind:      *source,
		W1Device:  *device,
		RandomMin: 23.0,
		RandomMax: 24.5,
	})
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	fmt.Printf("Reading %d samples from %T...\n", *count, src)

	for i := 0; i < *count; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		t, err := src.Read(ctx)
		cancel()
		if err != nil {
			fmt.Printf("%d: error: %v\n", i+1, err)
		} else {
			fmt.Printf("%d: %s (%.2f°F) wire=% x\n", i+1, t, t.Fahrenheit(), t.Bytes())
		}
		if i < *count-1 {
			time.Sleep(*interval)
		}
	}

	fmt.Println("\nDone!")
}
