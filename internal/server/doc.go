// Package server implements hopper's state server: a Unix socket speaking
// newline-delimited JSON, a registry of which connection owns which session,
// and a bus that pushes the full state to every client after each change.
//
// # Wire format
//
// Every message is one JSON object followed by '\n'. Requests carry a
// "type" and kind-specific fields; the server answers each with exactly one
// {"type":"response"} message. Independently, after every mutation, every
// connection (the requester included) receives a {"type":"state_changed"}
// message carrying all sessions and backlog items. Both kinds share one
// outbound queue per connection, so a client must be ready to read either
// at any time.
//
// # Concurrency
//
// One goroutine accepts, and each connection gets a reader that dispatches
// requests synchronously plus a writer that drains its bounded queue. A
// client whose queue fills up is disconnected rather than allowed to stall
// the others.
//
// Lock order is Registry -> state collection. The bus serializes publishes
// so every client sees broadcasts in the same order.
package server
