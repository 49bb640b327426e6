// Package media описывает медиа канал агента и реализует генератор RTP
// потоков для нагрузочных вызовов.
package media

//go:generate go run go.uber.org/mock/mockgen -destination=mediamock/mock_channel.go -package=mediamock . Channel

import (
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/arzzra/sip_trial/pkg/media_sdp"
)

// Ошибки медиа канала
var (
	ErrClosed        = errors.New("media channel closed")
	ErrUnknownStream = errors.New("unknown media stream")
	ErrNoLocal       = errors.New("local endpoint not set")
)

// State состояние медиа канала
type State int

const (
	StateIdle State = iota
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Local локальная сторона потока
type Local struct {
	Addr netip.AddrPort
	// DSCP маркировка исходящих пакетов, 0: не менять
	DSCP int
}

// Remote параметры, полученные из ответа SDP
type Remote struct {
	Addr        netip.AddrPort
	PayloadType uint8
	ClockRate   uint32
	Ptime       time.Duration
}

// StreamStats статистика одного потока
type StreamStats struct {
	PacketsSent     uint64
	PacketsReceived uint64
	OctetsSent      uint64
	OctetsReceived  uint64
	LastReceived    time.Time
}

// Stats статистика канала
type Stats struct {
	Streams map[media_sdp.Stream]StreamStats
}

// Total суммарная статистика по потокам
func (s Stats) Total() StreamStats {
	var t StreamStats
	for _, st := range s.Streams {
		t.PacketsSent += st.PacketsSent
		t.PacketsReceived += st.PacketsReceived
		t.OctetsSent += st.OctetsSent
		t.OctetsReceived += st.OctetsReceived
		if st.LastReceived.After(t.LastReceived) {
			t.LastReceived = st.LastReceived
		}
	}
	return t
}

// Channel медиа канал агента. Потоки адресуются media_sdp.Stream.
type Channel interface {
	SetLocal(stream media_sdp.Stream, local Local) error
	SetRemote(stream media_sdp.Stream, remote Remote) error
	// LocalPort порт, на котором поток принимает RTP (после SetLocal)
	LocalPort(stream media_sdp.Stream) int
	StartAll() error
	StopAll() error
	EnableStatistics(enabled bool)
	Stats() Stats
	Close() error
}

func checkStream(stream media_sdp.Stream) error {
	for _, s := range media_sdp.AllStreams {
		if s == stream {
			return nil
		}
	}
	return fmt.Errorf("%w: %d", ErrUnknownStream, int(stream))
}
