// Package core provides the foundational domain types shared by every parley
// layer. It defines:
//
//   - Personas (the participants of a two-party conversation)
//   - InteractionEvents (one record per completed pair of turns)
//   - The error taxonomy surfaced by the admission, invocation and dialogue layers
//   - Clock and Random abstractions so time and randomness can be injected
//
// The package intentionally keeps behavior out of scope; the admission
// controller, model invocation, dialogue validation and conversation state
// machine live in their own packages and only exchange the types declared here.
package core
