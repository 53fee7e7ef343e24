// Package testutil contains helpers shared across package tests: a manual
// clock whose timers fire only when the test advances time, and persona
// fixtures. They are not intended for production usage.
package testutil
