package relayclient

import (
	"context"
	"encoding/json"

	"github.com/pion/webrtc/v4"

	"github.com/Tyrowin/lanrelay/internal/protocol"
)

// SendOffer relays an SDP offer to the rest of the room.
func (c *Client) SendOffer(ctx context.Context, offer webrtc.SessionDescription) error {
	payload, err := json.Marshal(offer)
	if err != nil {
		return err
	}
	return c.Send(ctx, &protocol.Offer{Signal: protocol.Signal{Payload: payload}})
}

// SendAnswer relays an SDP answer to the rest of the room.
func (c *Client) SendAnswer(ctx context.Context, answer webrtc.SessionDescription) error {
	payload, err := json.Marshal(answer)
	if err != nil {
		return err
	}
	return c.Send(ctx, &protocol.Answer{Signal: protocol.Signal{Payload: payload}})
}

// SendICECandidate relays a trickle ICE candidate to the rest of the room.
func (c *Client) SendICECandidate(ctx context.Context, candidate webrtc.ICECandidateInit) error {
	payload, err := json.Marshal(candidate)
	if err != nil {
		return err
	}
	return c.Send(ctx, &protocol.ICECandidate{Signal: protocol.Signal{Payload: payload}})
}

func (c *Client) handleSignal(msg protocol.Message) {
	switch m := msg.(type) {
	case *protocol.Offer:
		var offer webrtc.SessionDescription
		if c.decodeSignal(m.Kind(), m.Payload, &offer) && c.opts.OnOffer != nil {
			c.opts.OnOffer(m.From, offer)
		}
	case *protocol.Answer:
		var answer webrtc.SessionDescription
		if c.decodeSignal(m.Kind(), m.Payload, &answer) && c.opts.OnAnswer != nil {
			c.opts.OnAnswer(m.From, answer)
		}
	case *protocol.ICECandidate:
		var candidate webrtc.ICECandidateInit
		if c.decodeSignal(m.Kind(), m.Payload, &candidate) && c.opts.OnICECandidate != nil {
			c.opts.OnICECandidate(m.From, candidate)
		}
	}
}

func (c *Client) decodeSignal(kind protocol.Kind, payload json.RawMessage, into any) bool {
	if err := json.Unmarshal(payload, into); err != nil {
		c.logger.Warn("ignoring undecodable signaling payload", "kind", kind, "error", err)
		return false
	}
	return true
}
