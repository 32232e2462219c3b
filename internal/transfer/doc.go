// Package transfer reassembles chunked file transfers on the receiving side.
//
// A Coordinator holds one session per transfer id. Each session owns a slot
// array sized to the declared chunk count; chunks are stored at their
// declared index, so arrival order does not matter. A session leaves the
// coordinator exactly once: on completion, on failure, on cancellation, or
// when Expire finds it idle.
// The completion callback fires at that moment and never again for the
// same session.
//
// OwnerIndex maps client ids to the transfers they take part in, so a
// disconnect can cancel everything the client was sending or receiving.
// The relay server uses the same index for its own bookkeeping of
// forwarded transfers.
package transfer
