package session

import (
	"encoding/json"

	"aether.dev/pkg/crypto/noise"
	"aether.dev/pkg/encoders/envelopes"
	"aether.dev/pkg/encoders/event"
	"aether.dev/pkg/encoders/filter"
	"aether.dev/pkg/encoders/hex"
	"aether.dev/pkg/relay"
	"aether.dev/pkg/relay/reason"
	"aether.dev/pkg/utils/chk"
	"aether.dev/pkg/utils/context"
	"aether.dev/pkg/utils/log"
)

func unmarshalPayload(payload []byte, v any) (err error) {
	if err = json.Unmarshal(payload, v); err != nil {
		return envelopes.ErrMalformed
	}
	return
}

// handleHello negotiates the format (binary preferred) and the optional
// encryption upgrade, then sends WELCOME. The HELLO itself may arrive in
// either format.
func (s *S) handleHello(raw []byte) {
	hello := &envelopes.Hello{}
	// the HELLO itself may arrive in either format
	name, payload, err := envelopes.Decode(raw, envelopes.Binary)
	if err != nil {
		if name, payload, err = envelopes.Decode(
			raw, envelopes.JSON,
		); err != nil {
			s.writeError(reason.MalformedFrame, "undecodable envelope")
			s.Close()
			return
		}
	}
	if name != envelopes.Name(envelopes.THello) {
		s.writeError(reason.InvalidMessage, "expected hello")
		s.Close()
		return
	}
	if err = unmarshalPayload(payload, hello); err != nil {
		s.writeError(reason.MalformedFrame, "undecodable hello")
		s.Close()
		return
	}
	s.helloTimer.Stop()

	// binary wins whenever the client offers it
	chosen := envelopes.JSON
	for _, f := range hello.Formats {
		if f == string(envelopes.Binary) {
			chosen = envelopes.Binary
			break
		}
	}

	noiseWanted := s.opts.NoiseRequired ||
		(hello.Noise != nil && hello.Noise.Required)
	var info *envelopes.NoiseInfo
	var sessionKey []byte
	if noiseWanted {
		if hello.Noise == nil || hello.Noise.Pubkey == "" {
			s.writeError(
				reason.InvalidMessage, "encryption requires a noise pubkey",
			)
			s.Close()
			return
		}
		var peerPk []byte
		if peerPk, err = hex.Dec(hello.Noise.Pubkey); err != nil {
			s.writeError(reason.InvalidMessage, "noise pubkey is not hex")
			s.Close()
			return
		}
		var sk, pk []byte
		if sk, pk, err = noise.GenerateKeypair(); chk.E(err) {
			s.writeError(reason.Internal, "key generation failed")
			s.Close()
			return
		}
		if sessionKey, err = noise.DeriveKey(sk, peerPk); err != nil {
			s.writeError(reason.InvalidMessage, "noise key exchange failed")
			s.Close()
			return
		}
		info = &envelopes.NoiseInfo{Required: true, Pubkey: hex.Enc(pk)}
	}

	s.smx.Lock()
	s.format.Store(string(chosen))
	welcome := envelopes.NewWelcome(Version, chosen, info)
	if err = s.writeLocked(welcome); chk.E(err) {
		s.smx.Unlock()
		s.Close()
		return
	}
	// frames after WELCOME are encrypted; WELCOME itself is not
	if sessionKey != nil {
		if s.ns, err = noise.NewSession(sessionKey); chk.E(err) {
			s.smx.Unlock()
			s.Close()
			return
		}
	}
	s.state = Active
	s.smx.Unlock()
	log.D.F("session %s active, format %s", s.id, chosen)
}

func (s *S) handlePublish(c context.T, payload []byte) {
	pub := &envelopes.Publish{}
	if unmarshalPayload(payload, pub) != nil || pub.Event == nil {
		s.writeError(reason.InvalidMessage, "publish carries no event")
		return
	}
	ev, err := pub.Event.ToEvent()
	if err != nil {
		s.writeError(reason.InvalidEvent, err.Error())
		return
	}
	res := s.relay.Publish(c, ev)
	_ = s.write(envelopes.NewAck(
		hex.Enc(ev.ID), res.Accepted, res.Reason,
	))
}

func (s *S) handleSubscribe(c context.T, payload []byte) {
	sub := &envelopes.Subscribe{}
	if unmarshalPayload(payload, sub) != nil || sub.SubID == "" {
		s.writeError(reason.InvalidMessage, "subscribe carries no sub_id")
		return
	}
	var filters []*filter.F
	for _, j := range sub.Filters {
		f, err := j.Normalize()
		if err != nil {
			s.writeError(reason.InvalidMessage, err.Error())
			return
		}
		filters = append(filters, f)
	}
	if len(filters) == 0 {
		filters = append(filters, filter.New())
	}
	global := s.id + "/" + sub.SubID
	localID := sub.SubID
	sink := relay.Sink(func(ev *event.E) {
		_ = s.write(envelopes.NewEvent(localID, ev.ToJ()))
	})
	backfill, _, err := s.relay.Subscribe(c, global, filters, sink)
	if err != nil {
		s.writeError(reason.Internal, "subscription failed")
		return
	}
	s.smx.Lock()
	s.subs[localID] = global
	s.smx.Unlock()
	for _, ev := range backfill {
		_ = s.write(envelopes.NewEvent(localID, ev.ToJ()))
	}
}

func (s *S) handleUnsubscribe(payload []byte) {
	unsub := &envelopes.Unsubscribe{}
	if unmarshalPayload(payload, unsub) != nil || unsub.SubID == "" {
		s.writeError(reason.InvalidMessage, "unsubscribe carries no sub_id")
		return
	}
	s.smx.Lock()
	global, ok := s.subs[unsub.SubID]
	delete(s.subs, unsub.SubID)
	s.smx.Unlock()
	if !ok || !s.relay.Unsubscribe(global) {
		s.writeError(
			reason.SubscriptionNotFound, "unknown sub_id "+unsub.SubID,
		)
	}
}
