// Package config содержит конфигурацию агентов и топологии теста.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/arzzra/sip_trial/pkg/media_sdp"
)

// URIScheme схема URI удалённой стороны
type URIScheme string

const (
	SchemeSIP URIScheme = "sip"
	SchemeTel URIScheme = "tel"
)

// StreamCodec кодек и динамический номер формата потока
type StreamCodec struct {
	Codec     media_sdp.Codec `yaml:"codec"`
	DynamicPT int             `yaml:"payload_type"`
}

// Agent конфигурация одного агента. UserAgent хранит копию по значению.
type Agent struct {
	Name        string `yaml:"name"`
	User        string `yaml:"user"`
	DisplayName string `yaml:"display_name"`
	Domain      string `yaml:"domain"`
	// IMSI для мобильных вариантов
	IMSI string `yaml:"imsi"`

	// LocalAddr адрес сигнализации host:port
	LocalAddr string `yaml:"local_addr"`
	Transport string `yaml:"transport"`
	// Interface индекс сетевого интерфейса, используется при отключении интерфейса
	Interface int    `yaml:"interface"`
	UserAgent string `yaml:"user_agent"`

	// MediaAddr IP для RTP, пусто: IP из LocalAddr
	MediaAddr string `yaml:"media_addr"`
	MediaDSCP int    `yaml:"media_dscp"`

	CallType media_sdp.CallType `yaml:"call_type"`
	Audio    StreamCodec        `yaml:"audio"`
	AudioHD  StreamCodec        `yaml:"audio_hd"`
	Video    StreamCodec        `yaml:"video"`
	Ptime    time.Duration      `yaml:"ptime"`
	// MandatoryMedia ответ 2xx без SDP считается ошибкой согласования
	MandatoryMedia bool `yaml:"mandatory_media"`

	Scheme URIScheme `yaml:"scheme"`
	// Proxy исходящий прокси host:port
	Proxy string `yaml:"proxy"`

	Registrar     string        `yaml:"registrar"`
	Password      string        `yaml:"password"`
	RegExpires    time.Duration `yaml:"reg_expires"`
	RegRetries    int           `yaml:"reg_retries"`
	RegRetryDelay time.Duration `yaml:"reg_retry_delay"`

	CallRetries int `yaml:"call_retries"`
}

// DefaultAgent возвращает конфигурацию с разумными значениями по умолчанию
func DefaultAgent() Agent {
	return Agent{
		Name:           "ua",
		User:           "ua",
		Domain:         "localhost",
		LocalAddr:      "127.0.0.1:5060",
		Transport:      "udp",
		UserAgent:      "sip_trial/1.0",
		CallType:       media_sdp.CallTypeAudio,
		Audio:          StreamCodec{Codec: media_sdp.CodecPCMA, DynamicPT: 96},
		AudioHD:        StreamCodec{Codec: media_sdp.CodecAACLD, DynamicPT: 97},
		Video:          StreamCodec{Codec: media_sdp.CodecH264VGA, DynamicPT: 99},
		Ptime:          20 * time.Millisecond,
		MandatoryMedia: true,
		Scheme:         SchemeSIP,
		RegExpires:     time.Hour,
		RegRetries:     2,
	}
}

// Validate проверяет конфигурацию агента
func (a Agent) Validate() error {
	var errs []error

	if a.User == "" {
		errs = append(errs, errors.New("user is required"))
	}
	if _, err := netip.ParseAddrPort(a.LocalAddr); err != nil {
		errs = append(errs, fmt.Errorf("local_addr: %w", err))
	}
	if a.MediaAddr != "" {
		if _, err := netip.ParseAddr(media_sdp.NormalizeAddress(a.MediaAddr)); err != nil {
			errs = append(errs, fmt.Errorf("media_addr: %w", err))
		}
	}
	switch strings.ToLower(a.Transport) {
	case "udp", "tcp", "tls":
	default:
		errs = append(errs, fmt.Errorf("transport %q not supported", a.Transport))
	}
	switch a.Scheme {
	case SchemeSIP, SchemeTel:
	default:
		errs = append(errs, fmt.Errorf("scheme %q not supported", a.Scheme))
	}
	for _, addr := range []struct{ name, value string }{{"proxy", a.Proxy}, {"registrar", a.Registrar}} {
		if addr.value == "" {
			continue
		}
		if _, err := netip.ParseAddrPort(addr.value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", addr.name, err))
		}
	}
	if a.RegRetries < 0 || a.CallRetries < 0 {
		errs = append(errs, errors.New("retries must not be negative"))
	}
	if a.MediaDSCP < 0 || a.MediaDSCP > 63 {
		errs = append(errs, fmt.Errorf("media_dscp %d out of range 0-63", a.MediaDSCP))
	}

	// проверка кодеков через построение пробного offer
	ports := make(map[media_sdp.Stream]int)
	for _, s := range media_sdp.AllStreams {
		ports[s] = 1
	}
	probe := a.OfferConfig(0, "127.0.0.1", ports)
	if err := probe.Validate(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("agent %q: %w", a.Name, errors.Join(errs...))
	}
	return nil
}

// SIPAddr адрес сигнализации
func (a Agent) SIPAddr() netip.AddrPort {
	ap, _ := netip.ParseAddrPort(a.LocalAddr)
	return ap
}

// MediaIP IP медиа: MediaAddr или IP сигнализации
func (a Agent) MediaIP() string {
	if a.MediaAddr != "" {
		return media_sdp.NormalizeAddress(a.MediaAddr)
	}
	return a.SIPAddr().Addr().String()
}

// StreamCodec кодек потока
func (a Agent) StreamCodec(s media_sdp.Stream) StreamCodec {
	switch s {
	case media_sdp.StreamAudioHD:
		return a.AudioHD
	case media_sdp.StreamVideo:
		return a.Video
	default:
		return a.Audio
	}
}

// OfferConfig параметры offer для потоков из CallType. ports задаёт
// локальные порты потоков, отсутствующий поток получает порт 0.
func (a Agent) OfferConfig(sessionID uint64, localIP string, ports map[media_sdp.Stream]int) media_sdp.OfferConfig {
	cfg := media_sdp.OfferConfig{
		SessionID: sessionID,
		Username:  a.User,
		LocalAddr: localIP,
		CallType:  a.CallType,
		Streams:   make(map[media_sdp.Stream]media_sdp.StreamConfig),
		Ptime:     a.Ptime,
	}
	for _, s := range a.CallType.Streams() {
		sc := a.StreamCodec(s)
		cfg.Streams[s] = media_sdp.StreamConfig{Codec: sc.Codec, Port: ports[s], DynamicPT: sc.DynamicPT}
	}
	return cfg
}
