package tools

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/MCP-Dev-Studio/autostudio-embedded/content"
	"github.com/MCP-Dev-Studio/autostudio-embedded/engine"
)

// Simulated is an in-process stand-in for device hardware. It backs the
// demo server and the examples; real deployments register their own native
// tools instead.
type Simulated struct {
	mu      sync.Mutex
	pins    map[int]bool
	sensors map[string]float64
	reads   int
}

// NewSimulated creates a simulated device with a few seeded sensors.
func NewSimulated() *Simulated {
	return &Simulated{
		pins: make(map[int]bool),
		sensors: map[string]float64{
			"temperature": 21.5,
			"humidity":    40.0,
		},
	}
}

// RegisterTools installs the simulated device.* tools into the registry.
func (s *Simulated) RegisterTools(registry *engine.Registry) error {
	descriptors := []*engine.Descriptor{
		s.setPinTool(),
		s.readPinTool(),
		s.readSensorTool(),
	}
	for _, d := range descriptors {
		if err := registry.Register(d); err != nil {
			return fmt.Errorf("register %s: %w", d.Name, err)
		}
	}
	return nil
}

// PinState reports the current level of a digital pin.
func (s *Simulated) PinState(pin int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pins[pin]
}

// SetSensor overrides a sensor reading. Tests use it to script scenarios.
func (s *Simulated) SetSensor(name string, value float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sensors[name] = value
}

func (s *Simulated) setPinTool() *engine.Descriptor {
	schema := mustSchema(`{
		"type": "object",
		"properties": {
			"pin": {"type": "number"},
			"state": {"type": "boolean"}
		},
		"required": ["pin", "state"]
	}`)
	return native("device.setPin", "Drive a digital output pin high or low", schema,
		func(_ context.Context, call *engine.Call, params *content.Content) engine.ToolResult {
			pin, _ := params.GetNumber("pin")
			state, _ := params.GetBool("state")
			if pin < 0 || pin != math.Trunc(pin) {
				return engine.FailureResult(engine.StatusInvalidParams, "pin must be a non-negative integer")
			}

			s.mu.Lock()
			s.pins[int(pin)] = state
			s.mu.Unlock()

			note := content.NewObject()
			note.AddNumber("pin", pin)
			note.AddBool("state", state)
			call.Emit("device.pinChanged", note)

			out := content.NewObject()
			out.AddNumber("pin", pin)
			out.AddBool("state", state)
			return engine.SuccessResult(out)
		})
}

func (s *Simulated) readPinTool() *engine.Descriptor {
	schema := mustSchema(`{
		"type": "object",
		"properties": {
			"pin": {"type": "number"}
		},
		"required": ["pin"]
	}`)
	return native("device.readPin", "Read the current level of a digital pin", schema,
		func(_ context.Context, _ *engine.Call, params *content.Content) engine.ToolResult {
			pin, _ := params.GetNumber("pin")

			s.mu.Lock()
			state := s.pins[int(pin)]
			s.mu.Unlock()

			out := content.NewObject()
			out.AddNumber("pin", pin)
			out.AddBool("state", state)
			return engine.SuccessResult(out)
		})
}

func (s *Simulated) readSensorTool() *engine.Descriptor {
	schema := mustSchema(`{
		"type": "object",
		"properties": {
			"sensor": {"type": "string", "enum": ["temperature", "humidity"]}
		},
		"required": ["sensor"]
	}`)
	return native("device.readSensor", "Sample a named sensor", schema,
		func(_ context.Context, _ *engine.Call, params *content.Content) engine.ToolResult {
			name, _ := params.GetString("sensor")

			s.mu.Lock()
			value, ok := s.sensors[name]
			// A little drift keeps repeated reads distinguishable.
			s.reads++
			drift := float64(s.reads%7) * 0.01
			s.mu.Unlock()

			if !ok {
				return engine.FailureResult(engine.StatusNotFound, "no such sensor: "+name)
			}
			out := content.NewObject()
			out.AddString("sensor", name)
			out.AddNumber("value", value+drift)
			return engine.SuccessResult(out)
		})
}
