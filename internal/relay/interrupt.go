package relay

import (
	"log"

	"github.com/ent0n29/tastecall/internal/protocol"
	"github.com/ent0n29/tastecall/internal/session"
)

// interrupt stops assistant playback when the caller starts speaking: the
// model keeps only what the caller heard and the telephony side drops its
// queued audio. Nothing happens if no assistant item is playing.
func (r *Relay) interrupt(s *session.Session) {
	itemID, heardMS, ok := s.TakeInterruption()
	if !ok {
		return
	}
	r.sendModel(s, protocol.NewTruncate(itemID, heardMS), protocol.TypeConversationItemTrunc)
	r.sendTelephony(s, protocol.NewOutboundClear(s.StreamSID()), string(protocol.EventClear))
	r.metrics.Interruptions.Inc()
	log.Printf("relay: caller barged in on %s, truncated %s at %dms", s.Key(), itemID, heardMS)
}
