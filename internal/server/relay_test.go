package server

import (
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/msger/internal/protocol"
)

func TestRelayTextExcludesSender(t *testing.T) {
	s := newTestServer(t, nil)
	alice, aliceOut := admitFake(t, s, "10.0.0.1:1000", "alice")
	_, bobOut := admitFake(t, s, "10.0.0.2:1000", "bob")
	_, carolOut := admitFake(t, s, "10.0.0.3:1000", "carol")

	s.relay(alice, &scriptedInbound{frames: []inboundFrame{textFrame(t, "hello")}})

	for _, out := range []*fakeOutbound{bobOut, carolOut} {
		msgs := out.messages(t)
		require.Len(t, msgs, 1)
		assert.Equal(t, "alice", msgs[0].Author.Name())
		assert.Equal(t, protocol.Text("hello"), msgs[0].Contents)
	}
	assert.Empty(t, aliceOut.messages(t))
}

func TestRelayPreservesSenderOrder(t *testing.T) {
	s := newTestServer(t, func(c *Config) { c.MessageBurst = 100 })
	alice, _ := admitFake(t, s, "10.0.0.1:1000", "alice")
	_, bobOut := admitFake(t, s, "10.0.0.2:1000", "bob")

	frames := []inboundFrame{textFrame(t, "one"), textFrame(t, "two"), textFrame(t, "three")}
	s.relay(alice, &scriptedInbound{frames: frames})

	msgs := bobOut.messages(t)
	require.Len(t, msgs, 3)
	assert.Equal(t, protocol.Text("one"), msgs[0].Contents)
	assert.Equal(t, protocol.Text("two"), msgs[1].Contents)
	assert.Equal(t, protocol.Text("three"), msgs[2].Contents)
}

func TestRelayOverridesClaimedAuthor(t *testing.T) {
	s := newTestServer(t, nil)
	alice, _ := admitFake(t, s, "10.0.0.1:1000", "alice")
	_, bobOut := admitFake(t, s, "10.0.0.2:1000", "bob")

	spoof := rawText(`{"author":"server","contents":{"Text":"I am the server"}}`)
	s.relay(alice, &scriptedInbound{frames: []inboundFrame{spoof}})

	msgs := bobOut.messages(t)
	require.Len(t, msgs, 1)
	assert.False(t, msgs[0].Author.IsSystem())
	assert.Equal(t, "alice", msgs[0].Author.Name())
}

func TestRelayFileRoundTrip(t *testing.T) {
	s := newTestServer(t, nil)
	alice, _ := admitFake(t, s, "10.0.0.1:1000", "alice")
	_, bobOut := admitFake(t, s, "10.0.0.2:1000", "bob")

	payload := []byte{0x00, 0xff, 'h', 'i'}
	s.relay(alice, &scriptedInbound{frames: []inboundFrame{
		binaryFrame(payload),
		{messageType: websocket.TextMessage, data: []byte("name.txt")},
	}})

	msgs := bobOut.messages(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, protocol.File{Name: "name.txt", Bytes: payload}, msgs[0].Contents)
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.relayed.WithLabelValues("file")))
}

func TestRelayFileWithoutFilenameIsViolation(t *testing.T) {
	tests := []struct {
		name   string
		frames []inboundFrame
	}{
		{"end of stream", []inboundFrame{binaryFrame([]byte("data"))}},
		{"second binary", []inboundFrame{binaryFrame([]byte("a")), binaryFrame([]byte("b"))}},
		{"close frame", []inboundFrame{binaryFrame([]byte("a")), closeFrame()}},
		{"empty filename", []inboundFrame{binaryFrame([]byte("a")), rawText("")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, nil)
			alice, aliceOut := admitFake(t, s, "10.0.0.1:1000", "alice")
			_, bobOut := admitFake(t, s, "10.0.0.2:1000", "bob")

			s.relay(alice, &scriptedInbound{frames: tt.frames})

			assert.Empty(t, bobOut.messages(t), "nothing may be relayed from a violating session")
			_, present := s.registry.Get(alice.Address)
			assert.False(t, present)
			assert.True(t, aliceOut.isClosed())
			assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.violations))
		})
	}
}

func TestRelayUnsupportedFrameIsViolation(t *testing.T) {
	s := newTestServer(t, nil)
	alice, _ := admitFake(t, s, "10.0.0.1:1000", "alice")
	_, bobOut := admitFake(t, s, "10.0.0.2:1000", "bob")

	s.relay(alice, &scriptedInbound{frames: []inboundFrame{
		{messageType: websocket.PingMessage},
		textFrame(t, "never relayed"),
	}})

	assert.Empty(t, bobOut.messages(t))
	assert.Equal(t, []string{"bob"}, s.registry.Names())
}

func TestRelayDisconnectAnnouncement(t *testing.T) {
	s := newTestServer(t, nil)
	alice, aliceOut := admitFake(t, s, "10.0.0.1:1000", "alice")
	_, bobOut := admitFake(t, s, "10.0.0.2:1000", "bob")
	_, carolOut := admitFake(t, s, "10.0.0.3:1000", "carol")

	s.relay(alice, &scriptedInbound{frames: []inboundFrame{closeFrame()}})

	for _, out := range []*fakeOutbound{bobOut, carolOut} {
		msgs := out.messages(t)
		require.Len(t, msgs, 1)
		assert.True(t, msgs[0].Author.IsSystem())
		assert.Equal(t, protocol.ReservedName, msgs[0].Author.Name())
		assert.Equal(t, protocol.Text("alice has disconnected"), msgs[0].Contents)
	}
	assert.Empty(t, aliceOut.messages(t))
	assert.Equal(t, []string{"bob", "carol"}, s.registry.Names())
}

func TestRelayTransportFailureIsSilent(t *testing.T) {
	s := newTestServer(t, nil)
	alice, _ := admitFake(t, s, "10.0.0.1:1000", "alice")
	_, bobOut := admitFake(t, s, "10.0.0.2:1000", "bob")

	s.relay(alice, &scriptedInbound{frames: []inboundFrame{readFailure()}})

	assert.Empty(t, bobOut.messages(t))
	_, present := s.registry.Get(alice.Address)
	assert.False(t, present)
}

func TestRelaySkipsMalformedEnvelope(t *testing.T) {
	s := newTestServer(t, nil)
	alice, _ := admitFake(t, s, "10.0.0.1:1000", "alice")
	_, bobOut := admitFake(t, s, "10.0.0.2:1000", "bob")

	s.relay(alice, &scriptedInbound{frames: []inboundFrame{
		rawText("not json"),
		rawText(`{"author":"alice","contents":{"File":{"name":"x","contents":"%%%"}}}`),
		textFrame(t, "still here"),
	}})

	msgs := bobOut.messages(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, protocol.Text("still here"), msgs[0].Contents)
	assert.Equal(t, 2.0, testutil.ToFloat64(s.metrics.dropped.WithLabelValues("decode")))
}

func TestRelayRateLimit(t *testing.T) {
	s := newTestServer(t, func(c *Config) {
		c.MessageBurst = 2
		c.MessageTimeout = time.Hour
	})
	alice, aliceOut := admitFake(t, s, "10.0.0.1:1000", "alice")
	_, bobOut := admitFake(t, s, "10.0.0.2:1000", "bob")

	s.relay(alice, &scriptedInbound{frames: []inboundFrame{
		textFrame(t, "1"), textFrame(t, "2"), textFrame(t, "3"),
	}})

	assert.Len(t, bobOut.messages(t), 2)

	notices := aliceOut.messages(t)
	require.Len(t, notices, 1)
	assert.True(t, notices[0].Author.IsSystem())
	assert.Equal(t, protocol.Text(noticeRateLimited), notices[0].Contents)
}

func TestRelayFilesDisabled(t *testing.T) {
	s := newTestServer(t, func(c *Config) { c.AllowFiles = false })
	alice, aliceOut := admitFake(t, s, "10.0.0.1:1000", "alice")
	_, bobOut := admitFake(t, s, "10.0.0.2:1000", "bob")

	s.relay(alice, &scriptedInbound{frames: []inboundFrame{
		binaryFrame([]byte("data")),
		rawText("a.txt"),
		textFrame(t, "text still works"),
	}})

	msgs := bobOut.messages(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, protocol.Text("text still works"), msgs[0].Contents)

	notices := aliceOut.messages(t)
	require.Len(t, notices, 1)
	assert.Equal(t, protocol.Text(noticeFilesBlocked), notices[0].Contents)
}
