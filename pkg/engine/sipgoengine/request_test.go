package sipgoengine

import (
	"net/netip"
	"testing"

	"github.com/emiago/sipgo/sip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/sip_trial/pkg/engine"
)

var testLocal = engine.Local{
	User:        "alice",
	DisplayName: "Alice",
	Domain:      "example.com",
	Addr:        netip.MustParseAddrPort("127.0.0.1:5070"),
	Transport:   engine.TransportUDP,
}

func TestRequestURI(t *testing.T) {
	uri, err := requestURI(engine.Remote{URI: "sip:bob@example.org:5080"}, testLocal)
	require.NoError(t, err)
	assert.Equal(t, "bob", uri.User)
	assert.Equal(t, "example.org", uri.Host)
	assert.Equal(t, 5080, uri.Port)

	uri, err = requestURI(engine.Remote{URI: "tel:+15551234"}, testLocal)
	require.NoError(t, err)
	assert.Equal(t, "sip", uri.Scheme)
	assert.Equal(t, "+15551234", uri.User)
	assert.Equal(t, "example.com", uri.Host)
	user, ok := uri.UriParams.Get("user")
	assert.True(t, ok)
	assert.Equal(t, "phone", user)

	_, err = requestURI(engine.Remote{}, testLocal)
	assert.ErrorIs(t, err, engine.ErrNotConfigured)
}

func TestContactURI(t *testing.T) {
	uri := contactURI(testLocal)
	assert.Equal(t, "127.0.0.1", uri.Host)
	assert.Equal(t, 5070, uri.Port)
	assert.Nil(t, uri.UriParams)

	tcp := testLocal
	tcp.Transport = engine.TransportTCP
	tp, ok := contactURI(tcp).UriParams.Get("transport")
	assert.True(t, ok)
	assert.Equal(t, "tcp", tp)
}

func TestDestination(t *testing.T) {
	proxy := netip.MustParseAddrPort("10.0.0.1:5060")
	addr := netip.MustParseAddrPort("10.0.0.2:5062")

	assert.Equal(t, "10.0.0.1:5060", destination(engine.Remote{ViaProxy: true, Proxy: proxy, Addr: addr}))
	assert.Equal(t, "10.0.0.2:5062", destination(engine.Remote{Addr: addr}))
	assert.Empty(t, destination(engine.Remote{}))

	assert.Equal(t, []string{"<sip:10.0.0.1:5060;lr>"}, proxyRoute(engine.Remote{ViaProxy: true, Proxy: proxy}))
	assert.Nil(t, proxyRoute(engine.Remote{Proxy: proxy}))
	assert.Equal(t, "[2001:db8::1]:5060", hostPort(netip.MustParseAddrPort("[2001:db8::1]:5060")))
}

func TestNewRequestHeaders(t *testing.T) {
	recipient, err := requestURI(engine.Remote{URI: "sip:bob@example.org"}, testLocal)
	require.NoError(t, err)

	h := dialogHeaders{
		from:    fromHeader(testLocal, "ftag"),
		to:      toHeader(recipient, ""),
		callID:  "call-1",
		cseq:    7,
		routes:  []string{"<sip:10.0.0.1:5060;lr>"},
		contact: contactURI(testLocal),
	}
	req := newRequest(sip.INVITE, recipient, h, "UDP", "10.0.0.1:5060")
	setBody(req, []byte("v=0\r\n"), "")

	assert.Equal(t, "call-1", req.CallID().Value())
	assert.Equal(t, uint32(7), req.CSeq().SeqNo)
	assert.Equal(t, sip.INVITE, req.CSeq().MethodName)
	tag, _ := req.From().Params.Get("tag")
	assert.Equal(t, "ftag", tag)
	assert.Equal(t, "example.com", req.From().Address.Host)
	assert.NotNil(t, req.Contact())
	assert.Equal(t, "application/sdp", contentType(req))
	assert.Equal(t, "10.0.0.1:5060", req.Destination())
	require.Len(t, req.GetHeaders("Route"), 1)

	bye := newRequest(sip.BYE, recipient, h, "UDP", "")
	assert.Nil(t, bye.Contact(), "BYE без Contact")
}

func TestResponseHelpers(t *testing.T) {
	recipient, err := requestURI(engine.Remote{URI: "sip:bob@example.org"}, testLocal)
	require.NoError(t, err)
	req := newRequest(sip.INVITE, recipient, dialogHeaders{
		from:    fromHeader(testLocal, "ftag"),
		to:      toHeader(recipient, ""),
		callID:  "call-2",
		cseq:    1,
		contact: contactURI(testLocal),
	}, "UDP", "")

	res := sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil)
	res.To().Params = res.To().Params.Add("tag", "remote")
	res.AppendHeader(sip.NewHeader("Record-Route", "<sip:p1.example.org;lr>"))
	res.AppendHeader(sip.NewHeader("Record-Route", "<sip:p2.example.org;lr>"))
	res.AppendHeader(sip.NewHeader("Expires", "600"))

	assert.Equal(t, "remote", toTag(res))
	assert.Equal(t, []string{"<sip:p2.example.org;lr>", "<sip:p1.example.org;lr>"}, routeSet(res))
	assert.Equal(t, 600, expiresOf(res))
}

func TestNewTagAndCallID(t *testing.T) {
	assert.Len(t, newTag(), 16)
	assert.NotEqual(t, newTag(), newTag())
	assert.NotEqual(t, newCallID(), newCallID())
}
