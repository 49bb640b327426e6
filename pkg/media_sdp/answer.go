package media_sdp

import (
	"strconv"
	"strings"

	"github.com/pion/sdp/v3"
)

// AnyPayload ожидание "любой номер формата"
const AnyPayload = -1

// StreamAnswer результат согласования одного потока
type StreamAnswer struct {
	Found       bool
	RemoteIP    string
	Port        int
	PayloadType int
}

// Answer результат разбора SDP answer
type Answer struct {
	// HasSDP отличает "тела нет" от "тело есть, но не подошло"
	HasSDP bool
	// RemoteIP адрес первого найденного потока либо уровня сессии
	RemoteIP string
	Streams  [numStreams]StreamAnswer
}

// Stream возвращает результат по потоку
func (a *Answer) Stream(s Stream) StreamAnswer {
	if a == nil || s < 0 || s >= numStreams {
		return StreamAnswer{}
	}
	return a.Streams[s]
}

// Found сообщает, найден ли поток
func (a *Answer) Found(s Stream) bool {
	return a.Stream(s).Found
}

// ParseAnswer разбирает тело answer и для каждого ожидаемого потока ищет
// m= строку с протоколом RTP/AVP и номером формата, равным ожидаемому
// (AnyPayload: любой). Для каждого потока учитывается только первое
// совпадение, последующие подходящие строки игнорируются.
//
// Пустое тело не ошибка: возвращается Answer с HasSDP=false.
func ParseAnswer(body []byte, expected map[Stream]int) (*Answer, error) {
	if len(body) == 0 {
		return &Answer{}, nil
	}

	var sd sdp.SessionDescription
	if err := sd.Unmarshal(body); err != nil {
		return &Answer{HasSDP: true}, wrapError(ErrorCodeSDPParsing, err, "unmarshal answer")
	}
	return MatchAnswer(&sd, expected), nil
}

// MatchAnswer сопоставляет разобранное описание с ожидаемыми потоками
func MatchAnswer(sd *sdp.SessionDescription, expected map[Stream]int) *Answer {
	answer := &Answer{HasSDP: true}
	sessionIP := sessionAddress(sd)

	for _, md := range sd.MediaDescriptions {
		if !isRTPAVP(md.MediaName.Protos) || md.MediaName.Port.Value == 0 {
			continue
		}
		for _, s := range AllStreams {
			want, ok := expected[s]
			if !ok || answer.Streams[s].Found || md.MediaName.Media != s.MediaType() {
				continue
			}
			pt, matched := matchFormat(md.MediaName.Formats, want)
			if !matched {
				continue
			}

			ip := sessionIP
			if md.ConnectionInformation != nil && md.ConnectionInformation.Address != nil {
				ip = connectionAddress(md.ConnectionInformation)
			}
			answer.Streams[s] = StreamAnswer{
				Found:       true,
				RemoteIP:    ip,
				Port:        md.MediaName.Port.Value,
				PayloadType: pt,
			}
			if answer.RemoteIP == "" {
				answer.RemoteIP = ip
			}
			// одна m= строка закрывает не больше одного потока
			break
		}
	}

	if answer.RemoteIP == "" {
		answer.RemoteIP = sessionIP
	}
	return answer
}

// Negotiate применяет политику обязательности к результату разбора.
// Если SDP нет: при mandatory: ошибка, иначе ErrDeferred.
// Если SDP есть, каждый поток из required обязан быть найден.
func Negotiate(answer *Answer, required CallType, mandatory bool) error {
	if answer == nil || !answer.HasSDP {
		if mandatory {
			return newError(ErrorCodeNoSDP, "answer carries no SDP")
		}
		return ErrDeferred
	}
	for _, s := range required.Streams() {
		if !answer.Found(s) {
			return &NegotiationError{
				Code:    ErrorCodeStreamMissing,
				Stream:  s,
				Message: "required stream " + s.String() + " not found in answer",
			}
		}
	}
	return nil
}

func isRTPAVP(protos []string) bool {
	return len(protos) == 2 && strings.EqualFold(protos[0], "RTP") && strings.EqualFold(protos[1], "AVP")
}

func matchFormat(formats []string, want int) (int, bool) {
	for _, f := range formats {
		pt, err := strconv.Atoi(f)
		if err != nil {
			continue
		}
		if want == AnyPayload || pt == want {
			return pt, true
		}
	}
	return 0, false
}

// sessionAddress адрес уровня сессии: c= строка, иначе o= строка
func sessionAddress(sd *sdp.SessionDescription) string {
	if sd.ConnectionInformation != nil && sd.ConnectionInformation.Address != nil {
		return connectionAddress(sd.ConnectionInformation)
	}
	return NormalizeAddress(sd.Origin.UnicastAddress)
}

func connectionAddress(ci *sdp.ConnectionInformation) string {
	addr := ci.Address.Address
	// multicast адрес может нести /ttl
	if i := strings.IndexByte(addr, '/'); i >= 0 {
		addr = addr[:i]
	}
	return NormalizeAddress(addr)
}
