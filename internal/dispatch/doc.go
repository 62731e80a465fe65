// Package dispatch runs the admission loop of a load run.
//
// A [Dispatcher] polls an admitter (normally a token bucket) once per tick for
// a fixed wall-clock window. Each admitted tick increments the sent counter,
// picks a weighted target and starts an independent goroutine that performs
// one connect-and-write attempt and records its outcome. Attempt goroutines
// never block the poll loop.
//
// Run returns as soon as the window closes; it does not wait for attempts
// still in flight. Callers that need every outcome persisted call Wait
// before closing the recorder.
//
// In-flight attempts are not bounded. Against targets that accept connections
// slowly, or not at all, the number of live goroutines and sockets grows with
// rate times the OS connect timeout. Use a connect timeout on the sender and
// watch InFlight when driving slow targets.
package dispatch
