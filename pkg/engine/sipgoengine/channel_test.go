package sipgoengine

import (
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/sip_trial/pkg/engine"
)

// events собирает обратные вызовы движка
type events struct {
	mu       sync.Mutex
	names    []string
	answered []engine.ResponseEvent
	bye      []engine.Event
	reg      []engine.RegEvent
}

func (e *events) add(name string) {
	e.names = append(e.names, name)
}

func (e *events) RegSuccess(ev engine.RegEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.add("RegSuccess")
	e.reg = append(e.reg, ev)
}

func (e *events) RegFailure(ev engine.RegEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.add("RegFailure")
	e.reg = append(e.reg, ev)
}

func (e *events) ResponseReceived(engine.ResponseEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.add("ResponseReceived")
}

func (e *events) InviteCompleted(engine.ResponseEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.add("InviteCompleted")
}

func (e *events) CallAnswered(ev engine.ResponseEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.add("CallAnswered")
	e.answered = append(e.answered, ev)
}

func (e *events) CallCompleted(engine.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.add("CallCompleted")
}

func (e *events) ByeSent(engine.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.add("ByeSent")
}

func (e *events) ByeCompleted(ev engine.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.add("ByeCompleted")
	e.bye = append(e.bye, ev)
}

func (e *events) ByeReceived(ev engine.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.add("ByeReceived")
	e.bye = append(e.bye, ev)
}

func (e *events) NonInviteCompleted(engine.RequestEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.add("NonInviteCompleted")
}

func (e *events) has(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, n := range e.names {
		if n == name {
			return true
		}
	}
	return false
}

func testOptions() Options {
	return Options{InviteTimeout: 5 * time.Second, RequestTimeout: 5 * time.Second, AutoAnswer: true}
}

func endpoint(t *testing.T, user, addr string) (*Channel, *events) {
	t.Helper()
	ch := New(0, testOptions(), nil)
	require.NoError(t, ch.SetLocal(engine.Local{
		User:      user,
		Domain:    "127.0.0.1",
		Addr:      netip.MustParseAddrPort(addr),
		Transport: engine.TransportUDP,
	}))
	ev := &events{}
	ch.SetNotifier(ev)
	t.Cleanup(func() { _ = ch.Release() })
	return ch, ev
}

func TestChannelNotConfigured(t *testing.T) {
	ch := New(0, testOptions(), nil)
	_, err := ch.ConnectSession(engine.Offer{})
	assert.ErrorIs(t, err, engine.ErrNotConfigured)
	assert.ErrorIs(t, ch.StartRegistration(nil), engine.ErrNotConfigured)
	assert.ErrorIs(t, ch.StopCallSession(true), engine.ErrNoSession)

	err = ch.SetLocal(engine.Local{Addr: netip.MustParseAddrPort("127.0.0.1:25090"), Transport: engine.TransportTLS})
	assert.ErrorIs(t, err, engine.ErrUnsupportedTran)

	require.NoError(t, ch.Release())
	assert.ErrorIs(t, ch.Release(), engine.ErrReleased)
	assert.ErrorIs(t, ch.SetRemote(engine.Remote{URI: "sip:bob@127.0.0.1"}), engine.ErrReleased)
}

func TestChannelCallLoopback(t *testing.T) {
	if testing.Short() {
		t.Skip("uses loopback sockets")
	}

	alice, aliceEv := endpoint(t, "alice", "127.0.0.1:25071")
	_, bobEv := endpoint(t, "bob", "127.0.0.1:25072")

	require.NoError(t, alice.SetRemote(engine.Remote{
		URI:  "sip:bob@127.0.0.1:25072",
		Addr: netip.MustParseAddrPort("127.0.0.1:25072"),
	}))

	offer := []byte("v=0\r\no=- 1 1 IN IP4 127.0.0.1\r\ns=-\r\nc=IN IP4 127.0.0.1\r\nt=0 0\r\nm=audio 40000 RTP/AVP 8\r\n")
	session, err := alice.ConnectSession(engine.Offer{Body: offer, ContentType: "application/sdp"})
	require.NoError(t, err)
	assert.Equal(t, engine.SessionID(1), session)

	_, err = alice.ConnectSession(engine.Offer{Body: offer})
	assert.ErrorIs(t, err, engine.ErrSessionActive)

	require.Eventually(t, func() bool { return aliceEv.has("CallCompleted") }, 5*time.Second, 10*time.Millisecond)

	aliceEv.mu.Lock()
	answered := aliceEv.answered[0]
	aliceEv.mu.Unlock()
	assert.Equal(t, 200, answered.StatusCode)
	assert.Equal(t, session, answered.Session)
	// без MediaInterface bob отражает offer
	assert.Equal(t, offer, answered.Body)

	require.NoError(t, alice.StopCallSession(true))
	require.Eventually(t, func() bool { return aliceEv.has("ByeCompleted") }, 5*time.Second, 10*time.Millisecond)

	aliceEv.mu.Lock()
	assert.Equal(t, 200, aliceEv.bye[0].StatusCode)
	assert.Contains(t, aliceEv.names, "ByeSent")
	aliceEv.mu.Unlock()
	assert.False(t, bobEv.has("ByeReceived"), "входящий диалог не сообщается агенту")
}

func TestChannelByeReceived(t *testing.T) {
	if testing.Short() {
		t.Skip("uses loopback sockets")
	}

	alice, aliceEv := endpoint(t, "alice", "127.0.0.1:25073")
	bob, _ := endpoint(t, "bob", "127.0.0.1:25074")

	require.NoError(t, alice.SetRemote(engine.Remote{
		URI:  "sip:bob@127.0.0.1:25074",
		Addr: netip.MustParseAddrPort("127.0.0.1:25074"),
	}))
	_, err := alice.ConnectSession(engine.Offer{Body: []byte("v=0\r\n"), ContentType: "application/sdp"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return aliceEv.has("CallCompleted") }, 5*time.Second, 10*time.Millisecond)

	// bob завершает вызов со своей стороны
	bob.mu.Lock()
	var callID string
	for id := range bob.inbound {
		callID = id
	}
	bob.mu.Unlock()
	require.NotEmpty(t, callID)

	alice.mu.Lock()
	s := alice.call
	alice.mu.Unlock()
	require.NotNil(t, s)
	assert.Equal(t, callID, s.headers.callID)

	// BYE от bob строится из заголовков диалога alice с обменом ролей
	alice.mu.Lock()
	h := s.headers
	alice.mu.Unlock()
	reverse := dialogHeaders{
		from:   fromHeader(bob.local, mustTag(h.to.Params.Get("tag"))),
		to:     toHeader(h.from.Address, mustTag(h.from.Params.Get("tag"))),
		callID: h.callID,
		cseq:   1,
	}
	bye := newRequest(sip.BYE, contactURI(alice.local), reverse, "UDP", "127.0.0.1:25073")
	res, err := bob.client.Do(t.Context(), bye, sipgo.ClientRequestAddVia)
	require.NoError(t, err)
	assert.Equal(t, 200, res.StatusCode)

	require.Eventually(t, func() bool { return aliceEv.has("ByeReceived") }, 5*time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, alice.StopCallSession(true), engine.ErrNoSession)
}

func mustTag(tag string, _ bool) string { return tag }

func TestChannelRegistrationRejected(t *testing.T) {
	if testing.Short() {
		t.Skip("uses loopback sockets")
	}

	alice, aliceEv := endpoint(t, "alice", "127.0.0.1:25075")
	// второй стек не обрабатывает REGISTER и отвечает ошибкой
	endpoint(t, "registrar", "127.0.0.1:25076")

	require.NoError(t, alice.SetRegistration(engine.Registration{
		Registrar: netip.MustParseAddrPort("127.0.0.1:25076"),
		Domain:    "127.0.0.1",
		Username:  "alice",
		Expires:   time.Minute,
	}))
	require.NoError(t, alice.StartRegistration([]string{"<sip:alice@127.0.0.2:5070>"}))

	require.Eventually(t, func() bool { return aliceEv.has("RegFailure") }, 5*time.Second, 10*time.Millisecond)
	aliceEv.mu.Lock()
	defer aliceEv.mu.Unlock()
	assert.False(t, aliceEv.reg[0].Deregistration)
	assert.GreaterOrEqual(t, aliceEv.reg[0].StatusCode, 400)
}
