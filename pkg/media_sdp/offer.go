package media_sdp

import (
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/pion/sdp/v3"
)

// StreamConfig параметры одного потока в offer
type StreamConfig struct {
	Codec Codec
	Port  int
	// DynamicPT номер формата для динамических кодеков (AMR, AAC, H.264)
	DynamicPT int
}

// OfferConfig исходные данные для построения SDP offer
type OfferConfig struct {
	SessionID   uint64
	SessionName string
	Username    string

	// LocalAddr локальный IP медиа, IPv6 допускается в квадратных скобках
	LocalAddr string

	CallType CallType
	Streams  map[Stream]StreamConfig

	// Ptime длительность пакета, 0: атрибут не выводится
	Ptime time.Duration
	// Direction атрибут направления, по умолчанию sendrecv
	Direction string
}

// Validate проверяет конфигурацию
func (c OfferConfig) Validate() error {
	if c.CallType.Streams() == nil {
		return newError(ErrorCodeInvalidConfig, "call type has no streams")
	}
	if NormalizeAddress(c.LocalAddr) == "" {
		return newError(ErrorCodeInvalidConfig, "local address is empty")
	}
	for _, s := range c.CallType.Streams() {
		sc, ok := c.Streams[s]
		if !ok {
			return &NegotiationError{Code: ErrorCodeInvalidConfig, Stream: s,
				Message: "no configuration for stream " + s.String()}
		}
		info, ok := Lookup(sc.Codec)
		if !ok {
			return &NegotiationError{Code: ErrorCodeInvalidConfig, Stream: s,
				Message: "unknown codec for stream " + s.String()}
		}
		if info.Media != s.MediaType() {
			return &NegotiationError{Code: ErrorCodeInvalidConfig, Stream: s,
				Message: "codec " + info.Name + " cannot be used for " + s.String()}
		}
		if sc.Port <= 0 || sc.Port > 65535 {
			return &NegotiationError{Code: ErrorCodeInvalidConfig, Stream: s,
				Message: "invalid port " + strconv.Itoa(sc.Port)}
		}
		if _, err := PayloadType(sc.Codec, sc.DynamicPT); err != nil {
			return &NegotiationError{Code: ErrorCodeInvalidConfig, Stream: s,
				Message: "payload type", Wrapped: err}
		}
	}
	return nil
}

// ExpectedPayloads номера форматов, которые offer предлагает по потокам.
// Используется как ожидание при разборе answer.
func (c OfferConfig) ExpectedPayloads() map[Stream]int {
	out := make(map[Stream]int)
	for _, s := range c.CallType.Streams() {
		sc := c.Streams[s]
		pt, err := PayloadType(sc.Codec, sc.DynamicPT)
		if err != nil {
			continue
		}
		out[s] = pt
	}
	return out
}

// NormalizeAddress убирает пробелы и квадратные скобки IPv6 литерала
func NormalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	addr = strings.TrimPrefix(addr, "[")
	addr = strings.TrimSuffix(addr, "]")
	return strings.TrimSpace(addr)
}

// AddressType возвращает IP4 или IP6 для адреса connection строки
func AddressType(addr string) string {
	ip, err := netip.ParseAddr(NormalizeAddress(addr))
	if err != nil {
		return "IP4"
	}
	if ip.Is4() || ip.Is4In6() {
		return "IP4"
	}
	return "IP6"
}

// BuildOffer строит тело SDP offer: одна m= строка на каждый активный
// поток типа вызова.
func BuildOffer(cfg OfferConfig) ([]byte, error) {
	sd, err := NewOffer(cfg)
	if err != nil {
		return nil, err
	}
	body, err := sd.Marshal()
	if err != nil {
		return nil, wrapError(ErrorCodeSDPGeneration, err, "marshal offer")
	}
	return body, nil
}

// NewOffer строит описание сессии offer
func NewOffer(cfg OfferConfig) (*sdp.SessionDescription, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	host := NormalizeAddress(cfg.LocalAddr)
	addrType := AddressType(host)

	sessionID := cfg.SessionID
	if sessionID == 0 {
		sessionID = uint64(time.Now().Unix())
	}
	username := cfg.Username
	if username == "" {
		username = "-"
	}
	sessionName := cfg.SessionName
	if sessionName == "" {
		sessionName = "-"
	}
	direction := cfg.Direction
	if direction == "" {
		direction = "sendrecv"
	}

	offer := &sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       username,
			SessionID:      sessionID,
			SessionVersion: sessionID,
			NetworkType:    "IN",
			AddressType:    addrType,
			UnicastAddress: host,
		},
		SessionName: sdp.SessionName(sessionName),
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: addrType,
			Address:     &sdp.Address{Address: host},
		},
		TimeDescriptions: []sdp.TimeDescription{
			{Timing: sdp.Timing{StartTime: 0, StopTime: 0}},
		},
	}

	for _, s := range cfg.CallType.Streams() {
		sc := cfg.Streams[s]
		info, _ := Lookup(sc.Codec)
		pt, _ := PayloadType(sc.Codec, sc.DynamicPT)
		format := strconv.Itoa(pt)

		md := &sdp.MediaDescription{
			MediaName: sdp.MediaName{
				Media:   s.MediaType(),
				Port:    sdp.RangedPort{Value: sc.Port},
				Protos:  []string{"RTP", "AVP"},
				Formats: []string{format},
			},
		}
		if info.TIAS > 0 {
			md.Bandwidth = append(md.Bandwidth, sdp.Bandwidth{Type: "TIAS", Bandwidth: info.TIAS})
		}
		md.Attributes = append(md.Attributes, sdp.NewAttribute("rtpmap", format+" "+info.Rtpmap()))
		if info.Fmtp != "" {
			md.Attributes = append(md.Attributes, sdp.NewAttribute("fmtp", format+" "+info.Fmtp))
		}
		if cfg.Ptime > 0 && s.MediaType() == "audio" {
			md.Attributes = append(md.Attributes,
				sdp.NewAttribute("ptime", strconv.Itoa(int(cfg.Ptime/time.Millisecond))))
		}
		md.Attributes = append(md.Attributes, sdp.NewPropertyAttribute(direction))

		offer.MediaDescriptions = append(offer.MediaDescriptions, md)
	}

	return offer, nil
}
