package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRelay_ObserverAndCounters(t *testing.T) {
	req := require.New(t)
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RoomOpened()
	m.ParticipantAdded()
	m.ParticipantAdded()
	m.ParticipantRemoved()
	m.Route("chat")
	m.Route("chat")
	m.Drop(ReasonUnknownTarget)
	m.Deliver(OutcomeSent)

	req.Equal(1.0, testutil.ToFloat64(m.Rooms))
	req.Equal(1.0, testutil.ToFloat64(m.Participants))
	req.Equal(2.0, testutil.ToFloat64(m.Routed.WithLabelValues("chat")))
	req.Equal(1.0, testutil.ToFloat64(m.Dropped.WithLabelValues(ReasonUnknownTarget)))
	req.Equal(1.0, testutil.ToFloat64(m.Deliveries.WithLabelValues(OutcomeSent)))

	n, err := testutil.GatherAndCount(reg)
	req.NoError(err)
	req.Equal(5, n)
}

func TestNew_NilRegistererSkipsRegistration(t *testing.T) {
	require.NotPanics(t, func() {
		New(nil)
		New(nil)
	})
}
