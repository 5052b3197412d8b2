// Package client provides the `relay` command-line client.
//
// The CLI talks to the Relay HTTP API to enqueue records, inspect delivery
// state, and manage the dead letter queue from a terminal. It is primarily
// intended for developers and operators.
//
// # Address configuration
//
// The HTTP base URL is discovered by the application that embeds the
// commands via a BaseURLFunc. When using the standalone binary, it reads
// RELAY_HTTP and defaults to http://127.0.0.1:8080.
//
// Usage
//
//	relay record enqueue --data '{"hello":"world"}'
//	relay record enqueue --id order-123 --data-file order.json
//	relay record get --id order-123
//
//	relay stats
//	relay sync
//
//	relay deadletter list --limit 20
//	relay deadletter requeue --id order-123
//	relay deadletter purge --confirm
package client
