package venue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tdmboyd-dev/smartrouter/internal/domain"
)

// flakyPort fails Connect until healthy is set.
type flakyPort struct {
	healthy bool
}

func (p *flakyPort) Connect(context.Context, string) error {
	if !p.healthy {
		return errors.New("connection refused")
	}
	return nil
}

func (p *flakyPort) SubmitChildOrder(context.Context, domain.ChildOrderRequest) (string, error) {
	return "", errors.New("not implemented")
}
func (p *flakyPort) CancelChildOrder(context.Context, string) error { return nil }
func (p *flakyPort) GetQuote(context.Context, string, string) (domain.Quote, error) {
	return domain.Quote{}, errors.New("not implemented")
}
func (p *flakyPort) SetCallback(domain.ExecutionCallback) {}

type singlePort struct{ port domain.VenueExecutionPort }

func (r singlePort) PortFor(string) (domain.VenueExecutionPort, bool) { return r.port, true }

func TestHeartbeat_FlipsConnectivityOnTransitions(t *testing.T) {
	registry := NewRegistry(testLogger())
	registry.Register(testVenue("nyx", true, "ACME"))

	port := &flakyPort{healthy: false}
	var events []domain.EventType
	sink := func(ev domain.Event) { events = append(events, ev.Type) }

	h := NewHeartbeat(registry, singlePort{port}, HeartbeatConfig{
		Interval:   10 * time.Millisecond,
		MaxBackoff: 20 * time.Millisecond,
	}, sink, testLogger())

	ctx := context.Background()
	h.probeAll(ctx)

	v, err := registry.Get("nyx")
	require.NoError(t, err)
	assert.False(t, v.Connected)
	require.Equal(t, []domain.EventType{domain.EventVenueDisconnected}, events)

	// Still down: no duplicate event once the backoff window passes.
	time.Sleep(15 * time.Millisecond)
	h.probeAll(ctx)
	assert.Len(t, events, 1)

	port.healthy = true
	time.Sleep(25 * time.Millisecond)
	h.probeAll(ctx)

	v, err = registry.Get("nyx")
	require.NoError(t, err)
	assert.True(t, v.Connected)
	assert.Equal(t, domain.EventVenueConnected, events[len(events)-1])
}

func TestHeartbeat_BackoffDefersProbes(t *testing.T) {
	registry := NewRegistry(testLogger())
	registry.Register(testVenue("nyx", true, "ACME"))

	port := &flakyPort{healthy: false}
	h := NewHeartbeat(registry, singlePort{port}, HeartbeatConfig{
		Interval:   time.Hour, // backoff far in the future
		MaxBackoff: time.Hour,
	}, nil, testLogger())

	ctx := context.Background()
	h.probeAll(ctx)

	// Venue recovered, but the probe is deferred by backoff so the flag
	// stays down until the window passes.
	port.healthy = true
	h.probeAll(ctx)

	v, err := registry.Get("nyx")
	require.NoError(t, err)
	assert.False(t, v.Connected)
}
