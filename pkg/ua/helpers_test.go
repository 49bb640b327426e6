package ua

import (
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/arzzra/sip_trial/pkg/admission"
	"github.com/arzzra/sip_trial/pkg/cmdqueue"
	"github.com/arzzra/sip_trial/pkg/config"
	"github.com/arzzra/sip_trial/pkg/engine/enginetest"
	"github.com/arzzra/sip_trial/pkg/media"
	"github.com/arzzra/sip_trial/pkg/media/mediamock"
	"github.com/arzzra/sip_trial/pkg/media_sdp"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type statusEvent struct {
	Index   int
	Status  StatusNotification
	Elapsed time.Duration
}

type recorder struct {
	mu     sync.Mutex
	events []statusEvent
}

func (r *recorder) OnStatus(index int, status StatusNotification, elapsed time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, statusEvent{index, status, elapsed})
}

func (r *recorder) Events() []statusEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]statusEvent(nil), r.events...)
}

// Statuses статусы агента index по порядку
func (r *recorder) Statuses(index int) []StatusNotification {
	var out []StatusNotification
	for _, ev := range r.Events() {
		if ev.Index == index {
			out = append(out, ev.Status)
		}
	}
	return out
}

type harness struct {
	t      *testing.T
	ctrl   *gomock.Controller
	runner *cmdqueue.Runner
	adm    *admission.Controller
	rec    *recorder
	clock  *fakeClock
}

func newHarness(t *testing.T, maxPending int) *harness {
	t.Helper()
	runner := cmdqueue.NewRunner()
	runner.Start()
	return &harness{
		t:      t,
		ctrl:   gomock.NewController(t),
		runner: runner,
		adm:    admission.New(maxPending, nil),
		rec:    &recorder{},
		clock:  newFakeClock(),
	}
}

func testAgentConfig(index int) config.Agent {
	cfg := config.DefaultAgent()
	cfg.Name = "ua" + strconv.Itoa(index)
	cfg.User = "user" + strconv.Itoa(index)
	cfg.Domain = "example.com"
	cfg.LocalAddr = "127.0.0.1:" + strconv.Itoa(5060+index)
	return cfg
}

// looseMedia медиа канал, принимающий любые вызовы
func (h *harness) looseMedia() *mediamock.MockChannel {
	m := mediamock.NewMockChannel(h.ctrl)
	m.EXPECT().LocalPort(gomock.Any()).DoAndReturn(func(s media_sdp.Stream) int {
		return 40000 + 2*int(s)
	}).AnyTimes()
	m.EXPECT().SetLocal(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	m.EXPECT().SetRemote(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	m.EXPECT().StartAll().Return(nil).AnyTimes()
	m.EXPECT().StopAll().Return(nil).AnyTimes()
	m.EXPECT().EnableStatistics(gomock.Any()).AnyTimes()
	m.EXPECT().Stats().Return(media.Stats{}).AnyTimes()
	m.EXPECT().Close().Return(nil).AnyTimes()
	return m
}

func (h *harness) agentWith(index int, cfg config.Agent, med media.Channel) (*UserAgent, *enginetest.Channel) {
	h.t.Helper()
	eng := enginetest.New(index)
	eng.Now = h.clock.Now
	u, err := New(index, cfg, eng, med, h.runner, h.adm,
		WithDelegate(h.rec), WithClock(h.clock.Now))
	require.NoError(h.t, err)
	h.t.Cleanup(func() { _ = u.Close() })
	return u, eng
}

func (h *harness) agent(index int) (*UserAgent, *enginetest.Channel) {
	return h.agentWith(index, testAgentConfig(index), h.looseMedia())
}

// tick один шаг реактора
func (h *harness) tick() {
	h.runner.Drain()
	h.adm.Pump()
}

func answerSDP(t *testing.T, ct media_sdp.CallType, streams map[media_sdp.Stream]media_sdp.StreamConfig) []byte {
	t.Helper()
	body, err := media_sdp.BuildOffer(media_sdp.OfferConfig{
		SessionID: 1,
		LocalAddr: "198.51.100.1",
		CallType:  ct,
		Streams:   streams,
	})
	require.NoError(t, err)
	return body
}

func audioAnswer(t *testing.T) []byte {
	return answerSDP(t, media_sdp.CallTypeAudio, map[media_sdp.Stream]media_sdp.StreamConfig{
		media_sdp.StreamAudio: {Codec: media_sdp.CodecPCMA, Port: 30000},
	})
}

// connect доводит вызов агента до CONNECTED
func (h *harness) connect(u *UserAgent, eng *enginetest.Channel) {
	h.t.Helper()
	require.NoError(h.t, u.Call("bob"))
	h.tick()
	require.Equal(h.t, CallCalling, u.CallState())
	eng.EmitAnswered(audioAnswer(h.t), media_sdp.ContentTypeSDP)
	h.tick()
	eng.EmitAckSent()
	h.tick()
	require.Equal(h.t, CallConnected, u.CallState())
}
