package topology

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/arzzra/sip_trial/pkg/config"
	"github.com/arzzra/sip_trial/pkg/engine"
	"github.com/arzzra/sip_trial/pkg/engine/enginetest"
	"github.com/arzzra/sip_trial/pkg/media"
	"github.com/arzzra/sip_trial/pkg/media/mediamock"
	"github.com/arzzra/sip_trial/pkg/media_sdp"
	"github.com/arzzra/sip_trial/pkg/ua"
)

type statuses struct {
	mu     sync.Mutex
	byUser map[int][]ua.StatusNotification
}

func (s *statuses) OnStatus(index int, status ua.StatusNotification, _ time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.byUser == nil {
		s.byUser = make(map[int][]ua.StatusNotification)
	}
	s.byUser[index] = append(s.byUser[index], status)
}

func (s *statuses) Of(index int) []ua.StatusNotification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ua.StatusNotification(nil), s.byUser[index]...)
}

func group(name string, addr string, iface, count int) config.Group {
	a := config.DefaultAgent()
	a.Name = name
	a.User = name
	a.LocalAddr = addr
	a.Interface = iface
	return config.Group{Count: count, Agent: a}
}

func looseMedia(ctrl *gomock.Controller) MediaFactory {
	return func(int, config.Agent) (media.Channel, error) {
		m := mediamock.NewMockChannel(ctrl)
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
		return m, nil
	}
}

type fixture struct {
	topo    *Topology
	engines *enginetest.Factory
	rec     *statuses
}

func newFixture(t *testing.T, maxPending int, groups ...config.Group) *fixture {
	t.Helper()
	cfg := config.DefaultTopology()
	cfg.MaxPending = maxPending
	cfg.Groups = groups

	f := &fixture{engines: enginetest.NewFactory(), rec: &statuses{}}
	topo, err := New(cfg, f.engines,
		WithMediaFactory(looseMedia(gomock.NewController(t))),
		WithDelegate(f.rec))
	require.NoError(t, err)
	f.topo = topo

	t.Cleanup(func() {
		_ = topo.Close()
		topo.Reactor().Runner().Stop()
	})
	return f
}

func (f *fixture) step() { f.topo.Reactor().Step() }

func TestNewBuildsAgents(t *testing.T) {
	f := newFixture(t, 2,
		group("caller", "127.0.0.1:5070", 1, 2),
		group("callee", "127.0.0.1:5080", 0, 1))

	require.Equal(t, 3, f.topo.Len())
	agents := f.topo.Agents()
	assert.Equal(t, "caller0", agents[0].Name())
	assert.Equal(t, 5071, agents[1].Port())
	assert.Equal(t, 1, agents[1].Interface())

	u, err := f.topo.AgentByName("callee")
	require.NoError(t, err)
	assert.Equal(t, 2, u.Index())

	_, err = f.topo.Agent(7)
	assert.ErrorIs(t, err, ErrUnknownAgent)
	_, err = f.topo.AgentByName("nobody")
	assert.ErrorIs(t, err, ErrUnknownAgent)

	local := f.engines.Channel(1).Local()
	assert.Equal(t, "caller1", local.User)
	assert.Equal(t, uint16(5071), local.Addr.Port())
}

func TestNewDuplicateName(t *testing.T) {
	cfg := config.DefaultTopology()
	cfg.Groups = []config.Group{
		group("a", "127.0.0.1:5070", 0, 1),
		group("a", "127.0.0.1:5071", 0, 1),
	}
	engines := enginetest.NewFactory()
	_, err := New(cfg, engines, WithMediaFactory(looseMedia(gomock.NewController(t))))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate agent name")
	assert.Equal(t, 1, engines.Channel(0).Released(), "созданный агент закрыт")
}

func TestNewEngineFactoryError(t *testing.T) {
	cfg := config.DefaultTopology()
	cfg.Groups = []config.Group{group("a", "127.0.0.1:5070", 0, 2)}

	boom := errors.New("no sockets")
	created := enginetest.NewFactory()
	factory := engine.FactoryFunc(func(index int) (engine.Channel, error) {
		if index == 1 {
			return nil, boom
		}
		return created.NewChannel(index)
	})

	_, err := New(cfg, factory, WithMediaFactory(looseMedia(gomock.NewController(t))))
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, created.Channel(0).Released())
}

func TestNewInvalidConfig(t *testing.T) {
	cfg := config.DefaultTopology()
	cfg.MaxPending = 0
	_, err := New(cfg, enginetest.NewFactory())
	assert.Error(t, err)

	_, err = New(config.DefaultTopology(), nil)
	assert.Error(t, err)
}

func TestAdmissionSharedAcrossAgents(t *testing.T) {
	f := newFixture(t, 1,
		group("a", "127.0.0.1:5070", 0, 1),
		group("b", "127.0.0.1:5071", 0, 1))
	a, _ := f.topo.Agent(0)
	b, _ := f.topo.Agent(1)

	require.NoError(t, a.Call("bob"))
	require.NoError(t, b.Call("bob"))
	f.step()

	assert.Equal(t, 1, f.engines.Channel(0).Count("ConnectSession"))
	assert.Equal(t, 0, f.engines.Channel(1).Count("ConnectSession"))
	assert.True(t, b.Queued())
	assert.Equal(t, 1, f.topo.Admission().Pending())

	f.engines.Channel(0).EmitInviteFailure(486)
	f.step()

	assert.Equal(t, []ua.StatusNotification{ua.StatusInviteFailed}, f.rec.Of(0))
	assert.Equal(t, 1, f.engines.Channel(1).Count("ConnectSession"))
	assert.Equal(t, ua.CallCalling, b.CallState())
	assert.Equal(t, 1, f.topo.Admission().Pending())
}

func TestDisableInterfacePurgesQueuedCalls(t *testing.T) {
	f := newFixture(t, 1,
		group("a", "127.0.0.1:5070", 1, 1),
		group("b", "127.0.0.1:5070", 2, 1),
		group("c", "127.0.0.1:5070", 3, 1))
	a, _ := f.topo.Agent(0)
	b, _ := f.topo.Agent(1)
	c, _ := f.topo.Agent(2)

	require.NoError(t, a.Call("bob"))
	require.NoError(t, b.Call("bob"))
	require.NoError(t, c.Call("bob"))
	f.step()
	require.True(t, b.Queued())

	purged := f.topo.DisableInterface(5070, 2)
	assert.Equal(t, 1, purged)
	assert.False(t, b.Enabled())
	assert.False(t, b.HasCall())
	assert.True(t, c.Queued())
	assert.Equal(t, []ua.StatusNotification{ua.StatusCallAborted}, f.rec.Of(1))
	assert.ErrorIs(t, b.Call("bob"), ua.ErrDisabled)

	f.engines.Channel(0).EmitInviteFailure(503)
	f.step()
	assert.Equal(t, 0, f.engines.Channel(1).Count("ConnectSession"))
	assert.Equal(t, 1, f.engines.Channel(2).Count("ConnectSession"))

	f.topo.EnableInterface(5070, 2)
	assert.True(t, b.Enabled())
}

func TestDisableInterfaceOtherPort(t *testing.T) {
	f := newFixture(t, 1,
		group("a", "127.0.0.1:5070", 1, 1),
		group("b", "127.0.0.1:5071", 1, 1))
	b, _ := f.topo.Agent(1)

	assert.Equal(t, 0, f.topo.DisableInterface(5070, 1))
	assert.True(t, b.Enabled())
}

func TestResetAll(t *testing.T) {
	f := newFixture(t, 1,
		group("a", "127.0.0.1:5070", 0, 1),
		group("b", "127.0.0.1:5071", 0, 1))
	a, _ := f.topo.Agent(0)
	b, _ := f.topo.Agent(1)

	require.NoError(t, a.Call("bob"))
	require.NoError(t, b.Call("bob"))
	f.step()
	require.Equal(t, 1, f.topo.Admission().Pending())

	f.topo.ResetAll()
	assert.Equal(t, 0, f.topo.Admission().Pending())
	assert.Equal(t, ua.CallIdle, a.CallState())
	assert.False(t, b.HasCall())
	assert.Equal(t, 0, f.topo.Admission().Queue().Len())

	// старое событие прошлой итерации не влияет на счётчик
	f.engines.Channel(0).EmitInviteFailure(486)
	f.step()
	assert.Equal(t, 0, f.topo.Admission().Pending())

	require.NoError(t, b.Call("bob"))
	f.step()
	assert.Equal(t, 1, f.engines.Channel(1).Count("ConnectSession"))
}

func TestCloseReleasesChannelsOnce(t *testing.T) {
	f := newFixture(t, 1, group("a", "127.0.0.1:5070", 0, 3))

	require.NoError(t, f.topo.Close())
	require.NoError(t, f.topo.Close())
	for i := 0; i < 3; i++ {
		assert.Equal(t, 1, f.engines.Channel(i).Released())
		assert.Nil(t, f.engines.Channel(i).Notifier())
	}
}
