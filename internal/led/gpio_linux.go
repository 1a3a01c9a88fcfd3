//go:build linux

package led

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// GPIOIndicator drives a common-cathode RGB LED on three GPIO lines.
type GPIOIndicator struct {
	*renderer
	chip  *gpiocdev.Chip
	lines *gpiocdev.Lines
}

type gpioLines struct {
	lines *gpiocdev.Lines
}

func (g gpioLines) set(c Color) error {
	v := []int{0, 0, 0}
	if c&Red != 0 {
		v[0] = 1
	}
	if c&Green != 0 {
		v[1] = 1
	}
	if c&Blue != 0 {
		v[2] = 1
	}
	return g.lines.SetValues(v)
}

// NewGPIOIndicator requests the red, green and blue lines as outputs, initially off.
func NewGPIOIndicator(chipName string, pinR, pinG, pinB int) (*GPIOIndicator, error) {
	if chipName == "" {
		chipName = "gpiochip0"
	}
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}
	lines, err := chip.RequestLines([]int{pinR, pinG, pinB}, gpiocdev.AsOutput(0, 0, 0))
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request led pins %d,%d,%d: %w", pinR, pinG, pinB, err)
	}
	return &GPIOIndicator{
		renderer: newRenderer(gpioLines{lines}, nil),
		chip:     chip,
		lines:    lines,
	}, nil
}

// Close turns the LED off and releases the lines, leaving them as inputs
// so nothing is driven across a reboot.
func (g *GPIOIndicator) Close() error {
	g.stop()

	var errs []error
	if err := g.lines.Reconfigure(gpiocdev.AsInput); err != nil {
		errs = append(errs, fmt.Errorf("reconfigure led pins: %w", err))
	}
	if err := g.lines.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close led pins: %w", err))
	}
	if err := g.chip.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close chip: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
