package sipgoengine

import (
	"net/netip"
	"strconv"
	"strings"

	"braces.dev/errtrace"
	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"

	"github.com/arzzra/sip_trial/pkg/engine"
)

const maxForwards = 70

func newCallID() string { return uuid.NewString() }

func newTag() string { return strings.ReplaceAll(uuid.NewString(), "-", "")[:16] }

func parseURI(raw string) (sip.Uri, error) {
	var uri sip.Uri
	if raw == "" {
		return uri, errtrace.Errorf("%w: empty uri", engine.ErrNotConfigured)
	}
	if strings.HasPrefix(raw, "tel:") {
		// sipgo разбирает только sip/sips, tel: отправляется на домен
		uri.Scheme = "tel"
		uri.User = strings.TrimPrefix(raw, "tel:")
		return uri, nil
	}
	if err := sip.ParseUri(raw, &uri); err != nil {
		return uri, errtrace.Wrap(err)
	}
	return uri, nil
}

// localURI адрес записи агента sip:user@domain
func localURI(local engine.Local) sip.Uri {
	host := local.Domain
	if host == "" {
		host = local.Addr.Addr().String()
	}
	return sip.Uri{Scheme: "sip", User: local.User, Host: host}
}

// contactURI контакт агента sip:user@ip:port
func contactURI(local engine.Local) sip.Uri {
	uri := sip.Uri{
		Scheme: "sip",
		User:   local.User,
		Host:   local.Addr.Addr().String(),
		Port:   int(local.Addr.Port()),
	}
	if local.Transport != "" && local.Transport != engine.TransportUDP {
		uri.UriParams = sip.NewParams().Add("transport", string(local.Transport))
	}
	return uri
}

// requestURI Request-URI исходящего запроса. tel: номер отправляется как
// sip:номер@домен;user=phone
func requestURI(remote engine.Remote, local engine.Local) (sip.Uri, error) {
	uri, err := parseURI(remote.URI)
	if err != nil {
		return uri, err
	}
	if uri.Scheme == "tel" {
		host := local.Domain
		if host == "" && remote.Addr.IsValid() {
			host = remote.Addr.Addr().String()
		}
		uri = sip.Uri{Scheme: "sip", User: uri.User, Host: host, UriParams: sip.NewParams().Add("user", "phone")}
	}
	return uri, nil
}

// destination транспортный адрес первого перехода
func destination(remote engine.Remote) string {
	switch {
	case remote.ViaProxy && remote.Proxy.IsValid():
		return remote.Proxy.String()
	case remote.Addr.IsValid():
		return remote.Addr.String()
	default:
		return ""
	}
}

type dialogHeaders struct {
	from    *sip.FromHeader
	to      *sip.ToHeader
	callID  string
	cseq    uint32
	routes  []string
	contact sip.Uri
}

// newRequest строит запрос с обязательными заголовками. Via добавляет
// клиент sipgo при отправке.
func newRequest(method sip.RequestMethod, recipient sip.Uri, h dialogHeaders, transport, dest string) *sip.Request {
	req := sip.NewRequest(method, recipient)
	req.AppendHeader(h.from)
	req.AppendHeader(h.to)
	callID := sip.CallIDHeader(h.callID)
	req.AppendHeader(&callID)
	req.AppendHeader(&sip.CSeqHeader{SeqNo: h.cseq, MethodName: method})
	mf := sip.MaxForwardsHeader(maxForwards)
	req.AppendHeader(&mf)
	for _, r := range h.routes {
		req.AppendHeader(sip.NewHeader("Route", r))
	}
	if method != sip.BYE && method != sip.CANCEL && method != sip.ACK {
		req.AppendHeader(&sip.ContactHeader{Address: h.contact})
	}
	if transport != "" {
		req.SetTransport(transport)
	}
	if dest != "" {
		req.SetDestination(dest)
	}
	return req
}

func fromHeader(local engine.Local, tag string) *sip.FromHeader {
	return &sip.FromHeader{
		DisplayName: local.DisplayName,
		Address:     localURI(local),
		Params:      sip.NewParams().Add("tag", tag),
	}
}

func toHeader(uri sip.Uri, tag string) *sip.ToHeader {
	params := sip.NewParams()
	if tag != "" {
		params = params.Add("tag", tag)
	}
	return &sip.ToHeader{Address: uri, Params: params}
}

func setBody(req *sip.Request, body []byte, contentType string) {
	if len(body) == 0 {
		return
	}
	if contentType == "" {
		contentType = "application/sdp"
	}
	ct := sip.ContentTypeHeader(contentType)
	req.AppendHeader(&ct)
	req.SetBody(body)
}

func contentType(msg interface{ GetHeader(string) sip.Header }) string {
	if h := msg.GetHeader("Content-Type"); h != nil {
		return h.Value()
	}
	return ""
}

func toTag(res *sip.Response) string {
	to := res.To()
	if to == nil || to.Params == nil {
		return ""
	}
	tag, _ := to.Params.Get("tag")
	return tag
}

// routeSet маршрут диалога из Record-Route ответа в обратном порядке
func routeSet(res *sip.Response) []string {
	rr := res.GetHeaders("Record-Route")
	out := make([]string, 0, len(rr))
	for i := len(rr) - 1; i >= 0; i-- {
		out = append(out, rr[i].Value())
	}
	return out
}

// proxyRoute Route для исходящего прокси
func proxyRoute(remote engine.Remote) []string {
	if !remote.ViaProxy || !remote.Proxy.IsValid() {
		return nil
	}
	return []string{"<sip:" + hostPort(remote.Proxy) + ";lr>"}
}

func hostPort(ap netip.AddrPort) string {
	host := ap.Addr().String()
	if ap.Addr().Is6() {
		host = "[" + host + "]"
	}
	return host + ":" + strconv.Itoa(int(ap.Port()))
}

func expiresOf(res *sip.Response) int {
	h := res.GetHeader("Expires")
	if h == nil {
		return -1
	}
	n, err := strconv.Atoi(strings.TrimSpace(h.Value()))
	if err != nil {
		return -1
	}
	return n
}
