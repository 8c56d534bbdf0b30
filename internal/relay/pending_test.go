package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInboundHoldsFramesUntilStart(t *testing.T) {
	in := newInbound()
	connected := []byte(`{"event":"connected"}`)
	media := []byte(`{"event":"media","media":{"timestamp":"20","payload":"AAAA"}}`)
	start := []byte(`{"event":"start","start":{"streamSid":"S1"}}`)

	assert.Nil(t, in.Offer(connected))
	assert.Nil(t, in.Offer(media))
	assert.Equal(t, 2, in.Pending())
	assert.Equal(t, stateAwaitingKey, in.State())

	ready := in.Offer(start)
	require.Len(t, ready, 3)
	assert.Equal(t, string(start), string(ready[0]))
	assert.Equal(t, string(connected), string(ready[1]))
	assert.Equal(t, string(media), string(ready[2]))
	assert.Equal(t, "S1", in.Key())
	assert.Equal(t, stateKeyResolved, in.State())
	assert.Zero(t, in.Pending())

	assert.Equal(t, [][]byte{media}, in.Offer(media))
}

func TestInboundQueuesMalformedFramesBeforeStart(t *testing.T) {
	in := newInbound()
	assert.Nil(t, in.Offer([]byte(`{`)))
	assert.Nil(t, in.Offer([]byte(`{"event":"start","start":{}}`)))
	assert.Equal(t, 2, in.Pending())
	assert.Equal(t, stateAwaitingKey, in.State())
}

func TestInboundTerminateIsFinal(t *testing.T) {
	in := newInbound()
	in.Offer([]byte(`{"event":"connected"}`))
	in.Terminate()

	assert.Equal(t, stateTerminated, in.State())
	assert.Zero(t, in.Pending())
	assert.Nil(t, in.Offer([]byte(`{"event":"start","start":{"streamSid":"S1"}}`)))
	assert.Equal(t, "terminated", in.State().String())
}
