// Package memory holds the default sink for completed interactions: a
// bounded global feed plus per-participant logs and recent contacts. It is a
// process-local stand-in for the simulation's own feed and memory
// collaborator, and what the demo world and the HTTP facade render.
package memory
