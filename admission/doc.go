// Package admission implements the process-wide gate every provider call
// passes through. It enforces four independent constraints at once: a
// concurrency cap, a requests-per-second cap, a tokens-per-minute budget and
// a tokens-per-day budget.
//
// Jobs are admitted in strict FIFO order. When the queue head cannot run the
// controller waits (soft limits) or rejects it outright (daily budget). Token
// usage is charged after completion using the provider-reported total when
// available and the caller's estimate otherwise.
package admission
