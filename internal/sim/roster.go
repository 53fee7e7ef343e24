package sim

import "github.com/hupe1980/parley/core"

// DefaultRoster is the demo cast.
func DefaultRoster() []core.Persona {
	return []core.Persona{
		{
			ID: "ada", Name: "Ada Quill", Role: "cartographer", Trait: "meticulous",
			Goal: "map the flooded quarter", CommunicationStyle: "precise",
			Motivation: "leave nothing unmeasured", Quirk: "counts steps aloud",
		},
		{
			ID: "bram", Name: "Bram Osei", Role: "baker", Trait: "warm",
			Goal: "open a second oven before winter", CommunicationStyle: "chatty",
			Motivation: "feed the whole street", Quirk: "smells faintly of rye",
		},
		{
			ID: "cleo", Name: "Cleo Marsh", Role: "courier", Trait: "restless",
			Goal: "beat her own delivery record", CommunicationStyle: "brisk",
			Motivation: "freedom of the open road", StressBehavior: "talks faster",
		},
		{
			ID: "dmitri", Name: "Dmitri Lenz", Role: "clockmaker", Trait: "patient",
			Goal: "repair the tower clock", CommunicationStyle: "measured",
			PersonalRule: "never rush a mechanism",
		},
		{
			ID: "esme", Name: "Esme Harrow", Role: "herbalist", Trait: "curious",
			Goal: "find the blue fern by the river", CommunicationStyle: "gentle",
			SecondaryTrait: "stubborn",
		},
		{
			ID: "felix", Name: "Felix Arden", Role: "archivist", Trait: "skeptical",
			Goal: "recover the missing ledger", CommunicationStyle: "dry",
			Motivation: "the record must be complete",
		},
	}
}
