package device

import (
	"sync"

	"github.com/reach-systems/planrt/internal/planerr"
)

// Catalogue is the ordered device list the partitioner consumes (§4.1): a
// fixed sequence ending, by construction, in a device that supports every
// operation — the guaranteed software fallback. Grounded on the teacher's
// internal/model Registry, simplified from a fallback-chain-per-provider
// map to the flat ordered list the spec's partitioning algorithm assumes,
// since device preference here is a total order scored by Preference, not
// a per-provider named chain.
type Catalogue struct {
	mu       sync.RWMutex
	devices  []Device
	byName   map[string]Device
	fallback Device
}

// NewCatalogue builds a catalogue from an explicit device order plus the
// mandatory fallback device, which is always appended last regardless of
// where it appears in devices.
func NewCatalogue(fallback Device, devices ...Device) (*Catalogue, *planerr.PlanError) {
	if fallback == nil {
		return nil, planerr.New(planerr.CodeBadState, "catalogue requires a non-nil fallback device")
	}
	c := &Catalogue{byName: make(map[string]Device), fallback: fallback}
	for _, d := range devices {
		if d == nil {
			continue
		}
		if d.Name() == fallback.Name() {
			continue
		}
		if _, exists := c.byName[d.Name()]; exists {
			return nil, planerr.Newf(planerr.CodeBadState, "duplicate device name %q in catalogue", d.Name())
		}
		c.byName[d.Name()] = d
		c.devices = append(c.devices, d)
	}
	c.byName[fallback.Name()] = fallback
	c.devices = append(c.devices, fallback)
	return c, nil
}

// Devices returns the catalogue's device list in preference order, the
// fallback device always last.
func (c *Catalogue) Devices() []Device {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Device, len(c.devices))
	copy(out, c.devices)
	return out
}

// Fallback returns the mandatory software fallback device.
func (c *Catalogue) Fallback() Device {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fallback
}

// Lookup retrieves a device by name, as recorded in a cache token or a
// prior plan (§4.1, §4.5).
func (c *Catalogue) Lookup(name string) (Device, *planerr.PlanError) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.byName[name]
	if !ok {
		return nil, planerr.Newf(planerr.CodeBadState, "device %q not present in catalogue", name)
	}
	return d, nil
}
