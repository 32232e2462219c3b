// Package server implements the LAN rendezvous and relay server.
//
// Browsers on the same network connect over WebSocket, receive a client id,
// gather into rooms, and exchange WebRTC signaling and chunked file
// transfer messages through the relay. The implementation is organized
// into specialized files: the client registry, the room manager, the
// message router, the status responder, the hub that serializes every
// state change, per-connection pumps, configuration, and HTTP handlers.
package server
