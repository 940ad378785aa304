package rtc

import (
	"testing"

	"github.com/dkeye/WatchParty/internal/client/negotiation"
	"github.com/dkeye/WatchParty/internal/config"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigurationSTUNOnly(t *testing.T) {
	c := Configuration(config.ClientConfig{STUNURLs: []string{"stun:a:3478"}, ForceRelay: true})
	require.Len(t, c.ICEServers, 1)
	assert.Equal(t, []string{"stun:a:3478"}, c.ICEServers[0].URLs)
	// relay-only without a TURN server could never connect
	assert.NotEqual(t, webrtc.ICETransportPolicyRelay, c.ICETransportPolicy)
}

func TestConfigurationTURN(t *testing.T) {
	c := Configuration(config.ClientConfig{
		STUNURLs:     []string{"stun:a:3478"},
		TURNURLs:     []string{" turn:t:3478 ", ""},
		TURNUsername: "u",
		TURNPassword: "p",
		ForceRelay:   true,
	})
	require.Len(t, c.ICEServers, 2)
	turn := c.ICEServers[1]
	assert.Equal(t, []string{"turn:t:3478"}, turn.URLs)
	assert.Equal(t, "u", turn.Username)
	assert.Equal(t, "p", turn.Credential)
	assert.Equal(t, webrtc.ICETransportPolicyRelay, c.ICETransportPolicy)
}

func TestConnectionOfferAndClose(t *testing.T) {
	conn, err := NewConnection(webrtc.Configuration{}, "peer", negotiation.PeerEvents{})
	require.NoError(t, err)
	require.NoError(t, conn.RecvOnly())

	offer, err := conn.CreateOffer(false)
	require.NoError(t, err)
	assert.Equal(t, webrtc.SDPTypeOffer, offer.Type)
	assert.Contains(t, offer.SDP, "m=video")

	closed := 0
	conn.OnClosed(func() { closed++ })
	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())
	assert.Equal(t, 1, closed)
}
