// Package relayclient is a Go client for the LAN relay.
//
// A Client holds one WebSocket connection. Request methods such as
// CreateRoom and JoinRoom send a message and wait for the relay's reply;
// everything else the relay pushes (peer joins and leaves, WebRTC
// signaling, incoming files) is delivered through the callbacks in
// Options. Incoming files are reassembled with a transfer.Coordinator and
// handed to Options.OnFile once complete.
//
// Callbacks run on the connection's read goroutine, except that OnFile
// also runs on the idle-expiry goroutine for a stalled transfer. They must
// return promptly and must not wait on a request method of the same
// Client.
package relayclient
