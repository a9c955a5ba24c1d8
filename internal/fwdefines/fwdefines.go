// Package fwdefines carries the per-family ARC firmware message opcodes.
// The table ships embedded in the binary and is decoded strictly so a stale
// or mistyped entry fails at startup rather than sending a wrong opcode to
// the chip.
package fwdefines

import (
	"bytes"
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/tenstorrent/tt-reset/pkg/chip"
)

//go:embed fw_defines.yaml
var raw []byte

// Defines holds the ARC mailbox opcodes for one chip family.
type Defines struct {
	ArcState3          uint16 `yaml:"arc_state3"`
	TriggerReset       uint16 `yaml:"trigger_reset"`
	TriggerSPICopyLtoR uint16 `yaml:"trigger_spi_copy_ltor"`
}

// Load parses the embedded defines table.
func Load() (map[chip.Family]Defines, error) {
	return parse(raw)
}

// parse decodes one defines table. Unknown keys are rejected; a typo in the
// table must not silently become a zero opcode.
func parse(src []byte) (map[chip.Family]Defines, error) {
	dec := yaml.NewDecoder(bytes.NewReader(src))
	dec.KnownFields(true)
	var byName map[string]Defines
	if err := dec.Decode(&byName); err != nil {
		return nil, fmt.Errorf("fwdefines: decode defines table: %w", err)
	}
	out := make(map[chip.Family]Defines, len(byName))
	for name, d := range byName {
		if d.ArcState3 == 0 || d.TriggerReset == 0 {
			return nil, fmt.Errorf("fwdefines: family %q missing required opcodes", name)
		}
		out[chip.Family(name)] = d
	}
	return out, nil
}

// For returns the defines for one family.
func For(family chip.Family) (Defines, error) {
	all, err := Load()
	if err != nil {
		return Defines{}, err
	}
	d, ok := all[family]
	if !ok {
		return Defines{}, fmt.Errorf("fwdefines: no message defines for family %s", family)
	}
	return d, nil
}
