package config

import (
	"bytes"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Group шаблон группы однотипных агентов. Агенты группы получают
// имя и пользователя с порядковым суффиксом и последовательные SIP порты.
type Group struct {
	Count int   `yaml:"count"`
	Agent Agent `yaml:",inline"`
}

// Topology конфигурация теста
type Topology struct {
	// MaxPending лимит одновременно неотвеченных INVITE
	MaxPending int `yaml:"max_pending"`
	// Tick период реактора
	Tick time.Duration `yaml:"tick"`
	// HoldTime длительность удержания вызова
	HoldTime time.Duration `yaml:"hold_time"`
	// Iterations число итераций теста
	Iterations int `yaml:"iterations"`

	Groups []Group `yaml:"groups"`
}

// DefaultTopology возвращает топологию без агентов
func DefaultTopology() Topology {
	return Topology{
		MaxPending: 10,
		Tick:       10 * time.Millisecond,
		HoldTime:   5 * time.Second,
		Iterations: 1,
	}
}

// Load читает топологию из YAML файла
func Load(path string) (Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Topology{}, fmt.Errorf("read topology: %w", err)
	}
	return Parse(data)
}

// Parse разбирает YAML топологии. Незаданные поля агентов берутся из DefaultAgent.
func Parse(data []byte) (Topology, error) {
	var raw struct {
		MaxPending *int           `yaml:"max_pending"`
		Tick       *time.Duration `yaml:"tick"`
		HoldTime   *time.Duration `yaml:"hold_time"`
		Iterations *int           `yaml:"iterations"`
		Groups     []yaml.Node    `yaml:"groups"`
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil {
		return Topology{}, fmt.Errorf("parse topology: %w", err)
	}

	t := DefaultTopology()
	if raw.MaxPending != nil {
		t.MaxPending = *raw.MaxPending
	}
	if raw.Tick != nil {
		t.Tick = *raw.Tick
	}
	if raw.HoldTime != nil {
		t.HoldTime = *raw.HoldTime
	}
	if raw.Iterations != nil {
		t.Iterations = *raw.Iterations
	}

	for i := range raw.Groups {
		g := Group{Count: 1, Agent: DefaultAgent()}
		if err := raw.Groups[i].Decode(&g); err != nil {
			return Topology{}, fmt.Errorf("parse group %d: %w", i, err)
		}
		t.Groups = append(t.Groups, g)
	}

	if err := t.Validate(); err != nil {
		return Topology{}, err
	}
	return t, nil
}

// Validate проверяет топологию и все шаблоны агентов
func (t Topology) Validate() error {
	var errs []error
	if t.MaxPending <= 0 {
		errs = append(errs, errors.New("max_pending must be positive"))
	}
	if t.Tick <= 0 {
		errs = append(errs, errors.New("tick must be positive"))
	}
	if t.Iterations < 0 {
		errs = append(errs, errors.New("iterations must not be negative"))
	}
	for i, g := range t.Groups {
		if g.Count <= 0 {
			errs = append(errs, fmt.Errorf("group %d: count must be positive", i))
			continue
		}
		if err := g.Agent.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("group %d: %w", i, err))
		}
		if last := int(g.Agent.SIPAddr().Port()) + g.Count - 1; last > 65535 {
			errs = append(errs, fmt.Errorf("group %d: sip port range exceeds 65535", i))
		}
	}
	return errors.Join(errs...)
}

// Agents разворачивает группы в список конфигураций агентов
func (t Topology) Agents() []Agent {
	var out []Agent
	for _, g := range t.Groups {
		base := g.Agent.SIPAddr()
		for i := 0; i < g.Count; i++ {
			a := g.Agent
			if g.Count > 1 {
				a.Name = g.Agent.Name + strconv.Itoa(i)
				a.User = g.Agent.User + strconv.Itoa(i)
				a.LocalAddr = netip.AddrPortFrom(base.Addr(), base.Port()+uint16(i)).String()
			}
			out = append(out, a)
		}
	}
	return out
}
