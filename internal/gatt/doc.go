// Package gatt implements the client-side GATT service layer for one peer
// connection: service discovery sequencing (MTU exchange, primary then
// secondary discovery), the authoritative table of discovered services,
// serialized local queries against that table, and routing of
// server-initiated notifications to the service owning the addressed
// attribute handle.
//
// Attribute-protocol wire encoding and transport multiplexing live behind
// the Client interface; characteristic-level operations belong to the
// individual RemoteService holders.
package gatt
