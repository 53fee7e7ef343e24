// Package dialogue turns free-form provider output into validated dialogue.
//
// It recovers JSON payloads from text that may contain commentary, fenced
// code blocks or several JSON-looking fragments, checks them against the
// expected shape, normalizes lines and summaries to the configured limits and
// substitutes a deterministic local fallback whenever anything goes wrong.
// Generator wires these pieces to the invocation layer for the three request
// kinds: conversation turns, one-shot interactions and lab turns.
package dialogue
