package testutil

import (
	"time"

	"github.com/hupe1980/parley/core"
)

// Epoch is a fixed start time for fake clocks.
var Epoch = time.Date(2025, time.January, 1, 9, 0, 0, 0, time.UTC)

// Persona returns a minimal persona fixture.
func Persona(id, name string) core.Persona {
	return core.Persona{
		ID:                 id,
		Name:               name,
		Role:               "archivist",
		Trait:              "curious",
		Goal:               "find the missing ledger",
		CommunicationStyle: "direct",
	}
}

// Pair returns two distinct persona fixtures.
func Pair() (core.Persona, core.Persona) {
	return Persona("a", "Rhea Vale"), Persona("b", "Tomas Reed")
}
