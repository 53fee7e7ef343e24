// Package server exposes the dialogue generator, runtime settings, admission
// snapshot and debug journal over HTTP.
//
// Quota rejections are the only generator failure a caller sees: they map to
// 429 with a machine-readable code. Every other provider failure has already
// been replaced by a fallback reply.
package server
