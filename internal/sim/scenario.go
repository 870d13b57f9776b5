package sim

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tinyrange/rtirq/internal/irq"
)

// Op is a scenario step.
type Op int

const (
	OpAssert Op = iota + 1
	OpDeassert
	OpPulse
	OpEnable
	OpDisable
	OpRaise
	OpClear
	OpAck
)

var opNames = map[string]Op{
	"assert":   OpAssert,
	"deassert": OpDeassert,
	"pulse":    OpPulse,
	"enable":   OpEnable,
	"disable":  OpDisable,
	"raise":    OpRaise,
	"clear":    OpClear,
	"ack":      OpAck,
}

func (o Op) String() string {
	for name, op := range opNames {
		if op == o {
			return name
		}
	}
	return fmt.Sprintf("op(%d)", int(o))
}

// Action applies Op to Vector. In YAML it is written as a single key
// mapping such as "assert: 14".
type Action struct {
	Op     Op
	Vector irq.Vector
}

func (a Action) String() string {
	return fmt.Sprintf("%s %d", a.Op, a.Vector)
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (a *Action) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode || len(node.Content) != 2 {
		return fmt.Errorf("line %d: action must be a single key mapping like \"assert: 14\"", node.Line)
	}

	var name string
	if err := node.Content[0].Decode(&name); err != nil {
		return err
	}
	op, ok := opNames[strings.ToLower(name)]
	if !ok {
		return fmt.Errorf("line %d: unknown action %q", node.Line, name)
	}

	var v irq.Vector
	if err := node.Content[1].Decode(&v); err != nil {
		return fmt.Errorf("line %d: %s: %w", node.Line, name, err)
	}

	*a = Action{Op: op, Vector: v}
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (a Action) MarshalYAML() (any, error) {
	return map[string]irq.Vector{a.Op.String(): a.Vector}, nil
}

// Setup is the controller state programmed before any stimulus.
type Setup struct {
	Priorities map[irq.Vector]uint `yaml:"priorities,omitempty"`
	Enable     []irq.Vector        `yaml:"enable,omitempty"`
	Edge       []irq.Vector        `yaml:"edge,omitempty"`
	FIQ        []irq.Vector        `yaml:"fiq,omitempty"`
}

// Scenario drives a Machine: Setup is applied, a handler is installed for
// every vector (Handlers, or a plain acknowledge), then Stimulus runs in
// thread context. Expect, when present, is the required service order.
type Scenario struct {
	Name        string                  `yaml:"name"`
	Description string                  `yaml:"description,omitempty"`
	Setup       Setup                   `yaml:"setup"`
	Handlers    map[irq.Vector][]Action `yaml:"handlers,omitempty"`
	Stimulus    []Action                `yaml:"stimulus"`
	Expect      []irq.Vector            `yaml:"expect,omitempty"`
}

// ParseScenario decodes a scenario. Unknown keys are rejected.
func ParseScenario(data []byte) (*Scenario, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var s Scenario
	if err := dec.Decode(&s); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("sim: empty scenario")
		}
		return nil, fmt.Errorf("sim: decode scenario: %w", err)
	}
	if len(s.Stimulus) == 0 {
		return nil, fmt.Errorf("sim: scenario %q has no stimulus", s.Name)
	}
	return &s, nil
}

// LoadScenario reads and parses a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("sim: read %s: %w", path, err)
	}
	s, err := ParseScenario(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if s.Name == "" {
		s.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return s, nil
}
