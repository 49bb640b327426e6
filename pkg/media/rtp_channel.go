package media

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"

	"github.com/arzzra/sip_trial/pkg/media_sdp"
)

const (
	defaultPtime     = 20 * time.Millisecond
	defaultClockRate = 8000
	// размер полезной нагрузки для кодеков без известного размера кадра
	opaquePayloadSize = 32
	readTimeout       = 50 * time.Millisecond
	maxPacketSize     = 1500
)

type rtpStream struct {
	conn      *net.UDPConn
	local     Local
	remote    Remote
	remoteSet bool

	seq  uint16
	ts   uint32
	ssrc uint32

	packetsSent     atomic.Uint64
	packetsReceived atomic.Uint64
	octetsSent      atomic.Uint64
	octetsReceived  atomic.Uint64
	lastReceived    atomic.Int64
}

func (s *rtpStream) stats() StreamStats {
	st := StreamStats{
		PacketsSent:     s.packetsSent.Load(),
		PacketsReceived: s.packetsReceived.Load(),
		OctetsSent:      s.octetsSent.Load(),
		OctetsReceived:  s.octetsReceived.Load(),
	}
	if ns := s.lastReceived.Load(); ns != 0 {
		st.LastReceived = time.Unix(0, ns)
	}
	return st
}

// RTPChannel генерирует RTP поток тишины с интервалом ptime на каждый
// поток, для которого известен удалённый адрес, и считает входящие пакеты.
type RTPChannel struct {
	mu      sync.Mutex
	streams [len(media_sdp.AllStreams)]*rtpStream
	state   State
	stop    chan struct{}
	wg      sync.WaitGroup

	statsEnabled atomic.Bool
	logger       *slog.Logger
}

var _ Channel = (*RTPChannel)(nil)

// RTPOption опция RTPChannel
type RTPOption func(*RTPChannel)

// WithLogger задаёт логгер канала
func WithLogger(logger *slog.Logger) RTPOption {
	return func(c *RTPChannel) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewRTPChannel создаёт канал без открытых сокетов
func NewRTPChannel(opts ...RTPOption) *RTPChannel {
	c := &RTPChannel{logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(slog.String("component", "media"))
	c.statsEnabled.Store(true)
	return c
}

// SetLocal открывает UDP сокет потока. Порт 0 выбирается системой.
// Повторный вызов переоткрывает сокет, если канал не запущен.
func (c *RTPChannel) SetLocal(stream media_sdp.Stream, local Local) error {
	if err := checkStream(stream); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateClosed:
		return ErrClosed
	case StateActive:
		return fmt.Errorf("media channel active, stop before changing local endpoint")
	}

	conn, err := net.ListenUDP("udp", net.UDPAddrFromAddrPort(local.Addr))
	if err != nil {
		return fmt.Errorf("открытие RTP сокета %s: %w", local.Addr, err)
	}
	if err := setSockOptForVoice(conn, local.DSCP); err != nil {
		// QoS не обязателен, в контейнерах часто недоступен
		c.logger.Debug("socket options not applied",
			slog.String("stream", stream.String()),
			slog.String("error", err.Error()))
	}

	if old := c.streams[stream]; old != nil && old.conn != nil {
		_ = old.conn.Close()
	}
	c.streams[stream] = &rtpStream{
		conn:  conn,
		local: local,
		seq:   uint16(rand.UintN(1 << 16)),
		ts:    rand.Uint32(),
		ssrc:  rand.Uint32(),
	}
	return nil
}

// LocalPort порт сокета потока, 0 если поток не открыт
func (c *RTPChannel) LocalPort(stream media_sdp.Stream) int {
	if checkStream(stream) != nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.streams[stream]
	if s == nil || s.conn == nil {
		return 0
	}
	return int(s.conn.LocalAddr().(*net.UDPAddr).AddrPort().Port())
}

// SetRemote задаёт адрес и формат исходящего потока
func (c *RTPChannel) SetRemote(stream media_sdp.Stream, remote Remote) error {
	if err := checkStream(stream); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateClosed {
		return ErrClosed
	}
	s := c.streams[stream]
	if s == nil {
		return fmt.Errorf("%w: %s", ErrNoLocal, stream)
	}
	if remote.Ptime <= 0 {
		remote.Ptime = defaultPtime
	}
	if remote.ClockRate == 0 {
		remote.ClockRate = defaultClockRate
	}
	s.remote = remote
	s.remoteSet = true
	return nil
}

// StartAll запускает приём на всех открытых потоках и отправку на тех,
// для которых задан удалённый адрес
func (c *RTPChannel) StartAll() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateClosed:
		return ErrClosed
	case StateActive:
		return nil
	}

	c.stop = make(chan struct{})
	started := 0
	for i, s := range c.streams {
		if s == nil {
			continue
		}
		stream := media_sdp.Stream(i)
		c.wg.Add(1)
		go c.receiveLoop(stream, s, c.stop)
		if s.remoteSet {
			c.wg.Add(1)
			go c.sendLoop(stream, s, s.remote, c.stop)
		}
		started++
	}
	c.state = StateActive

	c.logger.Debug("media started", slog.Int("streams", started))
	return nil
}

// StopAll останавливает потоки и дожидается их горутин. Сокеты остаются
// открытыми до Close.
func (c *RTPChannel) StopAll() error {
	c.mu.Lock()
	if c.state != StateActive {
		c.mu.Unlock()
		return nil
	}
	close(c.stop)
	c.state = StateIdle
	c.mu.Unlock()

	c.wg.Wait()
	c.logger.Debug("media stopped")
	return nil
}

// EnableStatistics включает подсчёт пакетов
func (c *RTPChannel) EnableStatistics(enabled bool) {
	c.statsEnabled.Store(enabled)
}

// Stats снимок статистики по открытым потокам
func (c *RTPChannel) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Stats{Streams: make(map[media_sdp.Stream]StreamStats)}
	for i, s := range c.streams {
		if s != nil {
			st.Streams[media_sdp.Stream(i)] = s.stats()
		}
	}
	return st
}

// Close останавливает потоки и закрывает сокеты
func (c *RTPChannel) Close() error {
	if err := c.StopAll(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return nil
	}
	c.state = StateClosed

	var errs []error
	for i, s := range c.streams {
		if s != nil && s.conn != nil {
			if err := s.conn.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		c.streams[i] = nil
	}
	return errors.Join(errs...)
}

func (c *RTPChannel) sendLoop(stream media_sdp.Stream, s *rtpStream, remote Remote, stop <-chan struct{}) {
	defer c.wg.Done()

	samples := uint32(remote.Ptime.Seconds() * float64(remote.ClockRate))
	payload := silence(remote.PayloadType, int(samples))
	dst := remote.Addr

	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:     2,
			PayloadType: remote.PayloadType,
			SSRC:        s.ssrc,
		},
		Payload: payload,
	}
	buf := make([]byte, maxPacketSize)

	ticker := time.NewTicker(remote.Ptime)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		pkt.SequenceNumber = s.seq
		pkt.Timestamp = s.ts
		pkt.Marker = s.packetsSent.Load() == 0
		s.seq++
		s.ts += samples

		n, err := pkt.MarshalTo(buf)
		if err != nil {
			c.logger.Error("rtp marshal failed", slog.String("stream", stream.String()), slog.String("error", err.Error()))
			return
		}
		if _, err := s.conn.WriteToUDPAddrPort(buf[:n], dst); err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			c.logger.Debug("rtp send failed", slog.String("stream", stream.String()), slog.String("error", err.Error()))
			continue
		}
		if c.statsEnabled.Load() {
			s.packetsSent.Add(1)
			s.octetsSent.Add(uint64(len(payload)))
		}
	}
}

func (c *RTPChannel) receiveLoop(stream media_sdp.Stream, s *rtpStream, stop <-chan struct{}) {
	defer c.wg.Done()

	buf := make([]byte, maxPacketSize)
	var pkt rtp.Packet
	for {
		select {
		case <-stop:
			return
		default:
		}

		_ = s.conn.SetReadDeadline(time.Now().Add(readTimeout))
		n, _, err := s.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			c.logger.Debug("rtp receive failed", slog.String("stream", stream.String()), slog.String("error", err.Error()))
			continue
		}

		if err := pkt.Unmarshal(buf[:n]); err != nil || pkt.Version != 2 {
			continue
		}
		if c.statsEnabled.Load() {
			s.packetsReceived.Add(1)
			s.octetsReceived.Add(uint64(len(pkt.Payload)))
			s.lastReceived.Store(time.Now().UnixNano())
		}
	}
}

// silence полезная нагрузка кадра тишины
func silence(pt uint8, samples int) []byte {
	switch pt {
	case 0: // PCMU
		return fill(samples, 0xFF)
	case 8: // PCMA
		return fill(samples, 0xD5)
	default:
		return make([]byte, opaquePayloadSize)
	}
}

func fill(n int, b byte) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = b
	}
	return out
}
