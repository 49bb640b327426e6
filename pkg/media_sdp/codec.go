package media_sdp

import (
	"fmt"
	"strings"
)

// Stream вид медиа потока в вызове
type Stream int

const (
	StreamAudio Stream = iota
	StreamAudioHD
	StreamVideo

	numStreams
)

// AllStreams все потоки в порядке вывода m= строк
var AllStreams = [...]Stream{StreamAudio, StreamAudioHD, StreamVideo}

func (s Stream) String() string {
	switch s {
	case StreamAudio:
		return "audio"
	case StreamAudioHD:
		return "audio-hd"
	case StreamVideo:
		return "video"
	default:
		return fmt.Sprintf("stream(%d)", int(s))
	}
}

// MediaType значение поля media в m= строке
func (s Stream) MediaType() string {
	if s == StreamVideo {
		return "video"
	}
	return "audio"
}

// CallType набор флагов активных потоков
type CallType uint8

const (
	CallTypeAudio CallType = 1 << iota
	CallTypeAudioHD
	CallTypeVideo
)

// Has сообщает, активен ли поток
func (c CallType) Has(s Stream) bool {
	switch s {
	case StreamAudio:
		return c&CallTypeAudio != 0
	case StreamAudioHD:
		return c&CallTypeAudioHD != 0
	case StreamVideo:
		return c&CallTypeVideo != 0
	}
	return false
}

// Streams возвращает активные потоки
func (c CallType) Streams() []Stream {
	var out []Stream
	for _, s := range AllStreams {
		if c.Has(s) {
			out = append(out, s)
		}
	}
	return out
}

func (c CallType) String() string {
	parts := make([]string, 0, 3)
	for _, s := range c.Streams() {
		parts = append(parts, s.String())
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "+")
}

// ParseCallType разбирает строку вида "audio+video"
func ParseCallType(s string) (CallType, error) {
	var ct CallType
	for _, part := range strings.Split(s, "+") {
		switch strings.ToLower(strings.TrimSpace(part)) {
		case "audio", "voice":
			ct |= CallTypeAudio
		case "audio-hd", "audio_hd", "aac":
			ct |= CallTypeAudioHD
		case "video":
			ct |= CallTypeVideo
		default:
			return 0, fmt.Errorf("unknown call type %q", part)
		}
	}
	return ct, nil
}

// UnmarshalText реализует encoding.TextUnmarshaler
func (c *CallType) UnmarshalText(text []byte) error {
	ct, err := ParseCallType(string(text))
	if err != nil {
		return err
	}
	*c = ct
	return nil
}

// MarshalText реализует encoding.TextMarshaler
func (c CallType) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// Codec внутренний идентификатор кодека
type Codec int

const (
	CodecUnknown Codec = iota
	CodecPCMU
	CodecPCMA
	CodecG729

	CodecAMR475
	CodecAMR515
	CodecAMR590
	CodecAMR670
	CodecAMR740
	CodecAMR795
	CodecAMR1020
	CodecAMR1220

	CodecAMRWB660
	CodecAMRWB885
	CodecAMRWB1265
	CodecAMRWB1425
	CodecAMRWB1585
	CodecAMRWB1825
	CodecAMRWB1985
	CodecAMRWB2305
	CodecAMRWB2385

	CodecAACLD

	CodecH264QCIF
	CodecH264CIF
	CodecH264VGA
	CodecH264HD720
)

// DynamicPayload признак динамического payload type в таблице
const DynamicPayload = -1

// CodecInfo строка таблицы кодеков
type CodecInfo struct {
	Name      string
	Encoding  string
	ClockRate uint32
	Channels  int
	// StaticPT статический payload type или DynamicPayload
	StaticPT int
	Fmtp     string
	// TIAS полоса в бит/с для b=TIAS, 0: не выводится
	TIAS  uint64
	Media string
}

// Dynamic сообщает, требует ли кодек динамического payload type
func (ci CodecInfo) Dynamic() bool {
	return ci.StaticPT == DynamicPayload
}

// Rtpmap значение атрибута rtpmap без номера формата
func (ci CodecInfo) Rtpmap() string {
	if ci.Channels > 0 {
		return fmt.Sprintf("%s/%d/%d", ci.Encoding, ci.ClockRate, ci.Channels)
	}
	return fmt.Sprintf("%s/%d", ci.Encoding, ci.ClockRate)
}

func amrInfo(name string, mode int) CodecInfo {
	return CodecInfo{
		Name: name, Encoding: "AMR", ClockRate: 8000, Channels: 1,
		StaticPT: DynamicPayload, Media: "audio",
		Fmtp: fmt.Sprintf("mode-set=%d;octet-align=1", mode),
	}
}

func amrwbInfo(name string, mode int) CodecInfo {
	return CodecInfo{
		Name: name, Encoding: "AMR-WB", ClockRate: 16000, Channels: 1,
		StaticPT: DynamicPayload, Media: "audio",
		Fmtp: fmt.Sprintf("mode-set=%d;octet-align=1", mode),
	}
}

func h264Info(name, profileLevelID string, tias uint64) CodecInfo {
	return CodecInfo{
		Name: name, Encoding: "H264", ClockRate: 90000,
		StaticPT: DynamicPayload, Media: "video", TIAS: tias,
		Fmtp: fmt.Sprintf("profile-level-id=%s;packetization-mode=1", profileLevelID),
	}
}

var codecTable = map[Codec]CodecInfo{
	CodecPCMU: {Name: "pcmu", Encoding: "PCMU", ClockRate: 8000, StaticPT: 0, Media: "audio"},
	CodecPCMA: {Name: "pcma", Encoding: "PCMA", ClockRate: 8000, StaticPT: 8, Media: "audio"},
	CodecG729: {Name: "g729", Encoding: "G729", ClockRate: 8000, StaticPT: 18, Media: "audio", Fmtp: "annexb=no"},

	CodecAMR475:  amrInfo("amr-4.75", 0),
	CodecAMR515:  amrInfo("amr-5.15", 1),
	CodecAMR590:  amrInfo("amr-5.9", 2),
	CodecAMR670:  amrInfo("amr-6.7", 3),
	CodecAMR740:  amrInfo("amr-7.4", 4),
	CodecAMR795:  amrInfo("amr-7.95", 5),
	CodecAMR1020: amrInfo("amr-10.2", 6),
	CodecAMR1220: amrInfo("amr-12.2", 7),

	CodecAMRWB660:  amrwbInfo("amr-wb-6.60", 0),
	CodecAMRWB885:  amrwbInfo("amr-wb-8.85", 1),
	CodecAMRWB1265: amrwbInfo("amr-wb-12.65", 2),
	CodecAMRWB1425: amrwbInfo("amr-wb-14.25", 3),
	CodecAMRWB1585: amrwbInfo("amr-wb-15.85", 4),
	CodecAMRWB1825: amrwbInfo("amr-wb-18.25", 5),
	CodecAMRWB1985: amrwbInfo("amr-wb-19.85", 6),
	CodecAMRWB2305: amrwbInfo("amr-wb-23.05", 7),
	CodecAMRWB2385: amrwbInfo("amr-wb-23.85", 8),

	CodecAACLD: {
		Name: "aac-ld", Encoding: "MP4A-LATM", ClockRate: 32000, Channels: 1,
		StaticPT: DynamicPayload, Media: "audio",
		Fmtp: "profile-level-id=24;object=23;bitrate=64000",
	},

	CodecH264QCIF:  h264Info("h264-qcif", "42800b", 192000),
	CodecH264CIF:   h264Info("h264-cif", "42800d", 768000),
	CodecH264VGA:   h264Info("h264-vga", "42801e", 2000000),
	CodecH264HD720: h264Info("h264-720p", "42801f", 4000000),
}

var codecByName = func() map[string]Codec {
	m := make(map[string]Codec, len(codecTable))
	for c, info := range codecTable {
		m[info.Name] = c
	}
	return m
}()

// Lookup возвращает описание кодека
func Lookup(c Codec) (CodecInfo, bool) {
	info, ok := codecTable[c]
	return info, ok
}

// Codecs возвращает все кодеки таблицы
func Codecs() []Codec {
	out := make([]Codec, 0, len(codecTable))
	for c := CodecPCMU; c <= CodecH264HD720; c++ {
		if _, ok := codecTable[c]; ok {
			out = append(out, c)
		}
	}
	return out
}

// PayloadType возвращает номер формата для кодека: статический из таблицы
// либо dynamic для динамических кодеков.
func PayloadType(c Codec, dynamic int) (int, error) {
	info, ok := codecTable[c]
	if !ok {
		return 0, fmt.Errorf("unknown codec %d", int(c))
	}
	if !info.Dynamic() {
		return info.StaticPT, nil
	}
	if dynamic < 96 || dynamic > 127 {
		return 0, fmt.Errorf("codec %s: dynamic payload type %d out of range 96-127", info.Name, dynamic)
	}
	return dynamic, nil
}

func (c Codec) String() string {
	if info, ok := codecTable[c]; ok {
		return info.Name
	}
	return fmt.Sprintf("codec(%d)", int(c))
}

// ParseCodec находит кодек по имени из таблицы (например "amr-12.2")
func ParseCodec(name string) (Codec, error) {
	c, ok := codecByName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return CodecUnknown, fmt.Errorf("unknown codec %q", name)
	}
	return c, nil
}

// UnmarshalText реализует encoding.TextUnmarshaler
func (c *Codec) UnmarshalText(text []byte) error {
	codec, err := ParseCodec(string(text))
	if err != nil {
		return err
	}
	*c = codec
	return nil
}

// MarshalText реализует encoding.TextMarshaler
func (c Codec) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}
