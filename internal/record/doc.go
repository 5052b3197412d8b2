// Package record defines the queued unit of work and its storage framing.
//
// A record moves Pending → InFlight → {Delivered | Pending (retry) |
// DeadLettered}. Delivered and DeadLettered are terminal. The stored form
// is a JSON metadata block followed by the opaque payload and a crc32c
// trailer, so torn or corrupted values are detected on read.
package record
