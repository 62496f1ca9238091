package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/ministryofjustice/prisoner-offender-search-sub000/pkg/errors"
	"github.com/ministryofjustice/prisoner-offender-search-sub000/pkg/kafka"
	"github.com/ministryofjustice/prisoner-offender-search-sub000/pkg/metrics"
)

type fakeProducer struct {
	events []kafka.Event
	failAt int
}

func (f *fakeProducer) Publish(_ context.Context, ev kafka.Event) error {
	if f.failAt > 0 && len(f.events)+1 == f.failAt {
		return errors.New("broker unavailable")
	}
	f.events = append(f.events, ev)
	return nil
}

func TestPublishWritesEnvelope(t *testing.T) {
	fp := &fakeProducer{}
	p := NewKafkaPublisher(fp, nil)
	p.now = func() time.Time { return time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC) }

	require.NoError(t, p.Publish(context.Background(), NewUpdated("A1234BC", []string{"ALERTS", "LOCATION"})))
	require.Len(t, fp.events, 1)

	ev := fp.events[0]
	assert.Equal(t, "A1234BC", ev.Key)
	assert.Equal(t, string(Updated), ev.Headers["eventType"])

	raw, err := json.Marshal(ev.Value)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"eventType": "prisoner-offender-search.prisoner.updated",
		"version": 1,
		"description": "A prisoner record has been updated",
		"occurredAt": "2024-03-01T10:00:00Z",
		"additionalInformation": {"nomsNumber": "A1234BC", "categoriesChanged": ["ALERTS", "LOCATION"]},
		"personReference": {"identifiers": [{"type": "NOMS", "value": "A1234BC"}]}
	}`, string(raw))
}

func TestPublishStopsAtFirstFailure(t *testing.T) {
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	fp := &fakeProducer{failAt: 2}
	p := NewKafkaPublisher(fp, m)

	err := p.Publish(context.Background(),
		NewUpdated("A1234BC", []string{"LOCATION"}),
		NewReleased("A1234BC", ReasonReleased, "MDI"),
		NewAlertsUpdated("A1234BC", nil, []string{"XA"}),
	)
	assert.ErrorIs(t, err, apperrors.ErrPublishFailed)
	assert.Len(t, fp.events, 1)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.NotificationsTotal.WithLabelValues(string(Released), "error")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.NotificationsTotal.WithLabelValues(string(Updated), "published")))
}

func TestAlertsUpdatedAlwaysCarriesBothLists(t *testing.T) {
	ev := NewAlertsUpdated("A1234BC", []string{"XA"}, nil)
	assert.Equal(t, []string{"XA"}, ev.Info["alertsAdded"])
	assert.Equal(t, []string{}, ev.Info["alertsRemoved"])
}
