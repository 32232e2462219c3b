// Package protocol defines the JSON messages exchanged between the LAN relay
// and its clients.
//
// Every message is a single JSON object whose "type" field names one of a
// closed set of kinds. Decode maps the kind to exactly one Go type and
// rejects anything else, so handlers only ever see well-formed variants.
package protocol
