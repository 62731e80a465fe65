// Package ratelimit decides when the dispatcher may admit the next attempt.
//
// Two admitters share the same polled contract, Allow() bool:
//   - [TokenBucket]: continuous lazy refill, capped at a float capacity.
//   - [PoissonGate]: exponential inter-arrival spacing around a mean rate.
//
// Neither runs a background timer. State advances only when Allow is called,
// using the injected [Clock], so tests can drive time with [FakeClock].
package ratelimit
