// Package meshwire holds the typed envelopes exchanged with a mesh
// radio over its host link, plus the stream codec that moves them.
//
// Ownership boundary:
// - FromRadio/ToRadio envelope shapes
// - mesh packet and admin message payloads
// - frame encode/decode with size limits
//
// Link-layer radio framing and payload crypto live on the device side
// and are out of scope here; this package only constructs and inspects
// decoded envelopes.
package meshwire
