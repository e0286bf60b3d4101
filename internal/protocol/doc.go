// Package protocol owns the rendezvous wire contract.
//
// Ownership boundary:
// - message type and field id registry
// - required-field validation per message type
// - typed encode/decode between handshake structs and frames
package protocol
