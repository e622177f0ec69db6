// Package device describes the hardware the framework runs on.
//
// Information Hiding: callers see a flat Info value and a Reporter. Where
// the numbers come from, a profile file for simulated devices, the Go
// runtime for host builds, real hardware probes elsewhere, stays behind
// the Reporter implementations.
package device

import (
	"runtime"
	"time"
)

// Info is the self-description a device hands to its controller. It is the
// payload behind system.getDeviceInfo.
type Info struct {
	Device       Identity  `json:"device"`
	Processor    Processor `json:"processor"`
	Memory       Memory    `json:"memory"`
	IO           IO        `json:"io"`
	Sensors      []Sensor  `json:"sensors,omitempty"`
	Network      Network   `json:"network"`
	Storage      Storage   `json:"storage"`
	Capabilities []string  `json:"capabilities,omitempty"`
}

// Identity names the device.
type Identity struct {
	Name            string `json:"name"`
	Model           string `json:"model,omitempty"`
	FirmwareVersion string `json:"firmware_version,omitempty"`
	SerialNumber    string `json:"serial_number,omitempty"`
}

// Processor describes the compute element.
type Processor struct {
	Architecture string `json:"architecture"`
	Cores        int    `json:"cores"`
	ClockMHz     int    `json:"clock_mhz,omitempty"`
}

// Memory reports sizes in bytes. Zero means unknown.
type Memory struct {
	TotalRAM   uint64 `json:"total_ram,omitempty"`
	FreeRAM    uint64 `json:"free_ram,omitempty"`
	TotalFlash uint64 `json:"total_flash,omitempty"`
}

// IO counts the exposed pins and buses.
type IO struct {
	DigitalPins int      `json:"digital_pins,omitempty"`
	AnalogPins  int      `json:"analog_pins,omitempty"`
	Buses       []string `json:"buses,omitempty"`
}

// Sensor describes one attached sensor.
type Sensor struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Unit string `json:"unit,omitempty"`
}

// Network describes connectivity.
type Network struct {
	Interfaces []string `json:"interfaces,omitempty"`
	Hostname   string   `json:"hostname,omitempty"`
	Address    string   `json:"address,omitempty"`
}

// Storage describes persistent media.
type Storage struct {
	Medium     string `json:"medium,omitempty"`
	TotalBytes uint64 `json:"total_bytes,omitempty"`
	FreeBytes  uint64 `json:"free_bytes,omitempty"`
}

// Reporter supplies the current device description.
type Reporter interface {
	Report() Info
}

// StaticReporter returns a fixed Info. Tests and simulated devices use it.
type StaticReporter struct {
	info Info
}

// NewStaticReporter wraps a fixed Info value.
func NewStaticReporter(info Info) *StaticReporter {
	return &StaticReporter{info: info}
}

func (r *StaticReporter) Report() Info { return r.info }

// HostReporter describes the host process as a device. It backs the demo
// server when no profile file is given.
type HostReporter struct {
	name    string
	started time.Time
}

// NewHostReporter creates a reporter for the current host.
func NewHostReporter(name string) *HostReporter {
	return &HostReporter{name: name, started: time.Now()}
}

func (r *HostReporter) Report() Info {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	return Info{
		Device: Identity{
			Name:  r.name,
			Model: "host-simulated",
		},
		Processor: Processor{
			Architecture: runtime.GOARCH,
			Cores:        runtime.NumCPU(),
		},
		Memory: Memory{
			TotalRAM: mem.Sys,
			FreeRAM:  mem.Sys - mem.Alloc,
		},
		Network: Network{
			Interfaces: []string{"loopback"},
		},
		Capabilities: []string{"tools", "events", "resources"},
	}
}
