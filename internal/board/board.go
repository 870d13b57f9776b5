// Package board describes the wiring of a cascaded interrupt controller
// family in YAML and turns it into an irq.Config.
package board

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"

	"github.com/tinyrange/rtirq/internal/irq"
)

// SchemaMajor is the board file major version understood by this package.
const SchemaMajor = "v1"

//go:embed lpc32xx.yaml
var defaultBoard []byte

// Board is the decoded form of a board file.
type Board struct {
	Schema string `yaml:"schema"`
	Name   string `yaml:"name"`

	Base              uint64     `yaml:"base"`
	SoftwareInterrupt uint64     `yaml:"software_interrupt"`
	SoftwareVector    irq.Vector `yaml:"software_vector"`

	PrimaryStatusMask uint32 `yaml:"primary_status_mask"`
	CascadeEnable     uint32 `yaml:"cascade_enable"`

	Modules []Module `yaml:"modules"`
	Vectors []Vector `yaml:"vectors"`
}

// Module holds the per-controller words of a board.
type Module struct {
	Name           string `yaml:"name"`
	Valid          uint32 `yaml:"valid"`
	Polarity       uint32 `yaml:"polarity"`
	ActivationType uint32 `yaml:"activation_type"`
}

// Vector names a source and optionally gives it an initial priority,
// routing and enable state.
type Vector struct {
	Vector   irq.Vector `yaml:"vector"`
	Name     string     `yaml:"name"`
	Priority *uint      `yaml:"priority,omitempty"`
	Type     string     `yaml:"type,omitempty"`
	Enabled  bool       `yaml:"enabled,omitempty"`
}

// Parse decodes and validates a board file. Unknown keys are rejected.
func Parse(data []byte) (*Board, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var b Board
	if err := dec.Decode(&b); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("board: empty board file")
		}
		return nil, fmt.Errorf("board: decode: %w", err)
	}
	if err := b.validate(); err != nil {
		return nil, err
	}
	return &b, nil
}

// Load reads and parses a board file.
func Load(path string) (*Board, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("board: read %s: %w", path, err)
	}
	b, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return b, nil
}

// Default returns the built-in LPC32xx board.
func Default() *Board {
	b, err := Parse(defaultBoard)
	if err != nil {
		panic(fmt.Sprintf("board: invalid built-in board: %v", err))
	}
	return b
}

func (b *Board) validate() error {
	if b.Schema == "" {
		return fmt.Errorf("board: missing schema version")
	}
	if !semver.IsValid(b.Schema) {
		return fmt.Errorf("board: schema %q is not a semantic version", b.Schema)
	}
	if major := semver.Major(b.Schema); major != SchemaMajor {
		return fmt.Errorf("board: schema %s is not supported (want %s.x)", b.Schema, SchemaMajor)
	}
	if len(b.Modules) != irq.ModuleCount {
		return fmt.Errorf("board: %d modules, want %d", len(b.Modules), irq.ModuleCount)
	}

	seen := make(map[irq.Vector]bool, len(b.Vectors))
	for _, v := range b.Vectors {
		if v.Vector >= irq.VectorCount {
			return fmt.Errorf("board: vector %d out of range", v.Vector)
		}
		if b.Modules[v.Vector.Module()].Valid&(1<<v.Vector.Bit()) == 0 {
			return fmt.Errorf("board: vector %d (%s) is not wired", v.Vector, v.Name)
		}
		if seen[v.Vector] {
			return fmt.Errorf("board: vector %d listed twice", v.Vector)
		}
		seen[v.Vector] = true
		if v.Priority != nil && *v.Priority > irq.PriorityLowest {
			return fmt.Errorf("board: vector %d priority %d out of range", v.Vector, *v.Priority)
		}
		if _, err := parseType(v.Type); err != nil {
			return fmt.Errorf("board: vector %d: %w", v.Vector, err)
		}
	}

	if _, err := b.Config(); err != nil {
		return err
	}
	return nil
}

func parseType(s string) (irq.Type, error) {
	switch strings.ToLower(s) {
	case "", "irq":
		return irq.TypeIRQ, nil
	case "fiq":
		return irq.TypeFIQ, nil
	default:
		return 0, fmt.Errorf("unknown interrupt type %q", s)
	}
}

// Config returns the controller configuration described by the board.
func (b *Board) Config() (irq.Config, error) {
	if len(b.Modules) != irq.ModuleCount {
		return irq.Config{}, fmt.Errorf("board: %d modules, want %d", len(b.Modules), irq.ModuleCount)
	}
	cfg := irq.Config{
		Base:              b.Base,
		SoftwareInterrupt: b.SoftwareInterrupt,
		SoftwareVector:    b.SoftwareVector,
		PrimaryStatusMask: b.PrimaryStatusMask,
		CascadeEnable:     b.CascadeEnable,
	}
	for i, m := range b.Modules {
		cfg.Valid[i] = m.Valid
		cfg.Polarity[i] = m.Polarity
		cfg.ActivationType[i] = m.ActivationType
	}
	if err := cfg.Validate(); err != nil {
		return irq.Config{}, fmt.Errorf("board %s: %w", b.Name, err)
	}
	return cfg, nil
}

// Priorities returns the initial priority of every vector that sets one.
func (b *Board) Priorities() map[irq.Vector]uint {
	out := make(map[irq.Vector]uint)
	for _, v := range b.Vectors {
		if v.Priority != nil {
			out[v.Vector] = *v.Priority
		}
	}
	return out
}

// VectorName returns the board name of v, or its number.
func (b *Board) VectorName(v irq.Vector) string {
	for _, entry := range b.Vectors {
		if entry.Vector == v && entry.Name != "" {
			return entry.Name
		}
	}
	return fmt.Sprintf("irq%d", v)
}

// Apply programs the routing, priority and enable state of every listed
// vector into ctrl, in vector order.
func (b *Board) Apply(ctrl *irq.Controller) error {
	vectors := append([]Vector(nil), b.Vectors...)
	sort.Slice(vectors, func(i, j int) bool { return vectors[i].Vector < vectors[j].Vector })

	for _, v := range vectors {
		t, err := parseType(v.Type)
		if err != nil {
			return fmt.Errorf("board: vector %d: %w", v.Vector, err)
		}
		if t == irq.TypeFIQ {
			ctrl.SetInterruptType(v.Vector, t)
		}
		if v.Priority != nil {
			ctrl.SetPriority(v.Vector, *v.Priority)
		}
		if v.Enabled {
			if err := ctrl.Enable(v.Vector); err != nil {
				return fmt.Errorf("board: enable %s: %w", b.VectorName(v.Vector), err)
			}
		}
	}
	return nil
}
