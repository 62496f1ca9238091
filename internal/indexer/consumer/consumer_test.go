package consumer

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ministryofjustice/prisoner-offender-search-sub000/internal/changedetect"
	apperrors "github.com/ministryofjustice/prisoner-offender-search-sub000/pkg/errors"
	"github.com/ministryofjustice/prisoner-offender-search-sub000/pkg/kafka"
)

type call struct {
	op      string
	number  string
	eventID string
}

type fakeSyncer struct {
	calls []call
	err   error
}

func (f *fakeSyncer) Sync(_ context.Context, number, eventID string) (changedetect.Outcome, error) {
	f.calls = append(f.calls, call{"sync", number, eventID})
	if f.err != nil {
		return changedetect.OutcomeError, f.err
	}
	return changedetect.OutcomeUpdated, nil
}

func (f *fakeSyncer) Remove(_ context.Context, number string) error {
	f.calls = append(f.calls, call{"remove", number, ""})
	return f.err
}

type fakeBookings map[int64]string

func (f fakeBookings) FetchNumberForBooking(_ context.Context, id int64) (string, error) {
	n, ok := f[id]
	if !ok {
		return "", fmt.Errorf("booking %d: %w", id, apperrors.ErrPrisonerNotFound)
	}
	return n, nil
}

func message(body string) kafka.Message {
	return kafka.Message{Topic: "offender-events", Value: []byte(body)}
}

func TestHandleMessageSyncsByPrisonerNumber(t *testing.T) {
	s := &fakeSyncer{}
	h := HandleMessage(s, fakeBookings{})

	require.NoError(t, h(context.Background(), message(`{"eventType":"OFFENDER-UPDATED","offenderIdDisplay":"A1234BC","eventId":"ev-1"}`)))
	assert.Equal(t, []call{{"sync", "A1234BC", "ev-1"}}, s.calls)
}

func TestHandleMessageResolvesBooking(t *testing.T) {
	s := &fakeSyncer{}
	h := HandleMessage(s, fakeBookings{1234: "A1234BC"})

	require.NoError(t, h(context.Background(), message(`{"eventType":"BOOKING_NUMBER-CHANGED","bookingId":1234}`)))
	require.Len(t, s.calls, 1)
	assert.Equal(t, "A1234BC", s.calls[0].number)
	assert.NotEmpty(t, s.calls[0].eventID)
}

func TestHandleMessageUnknownBookingIsSkipped(t *testing.T) {
	s := &fakeSyncer{}
	h := HandleMessage(s, fakeBookings{})

	require.NoError(t, h(context.Background(), message(`{"eventType":"ALERT-INSERTED","bookingId":99}`)))
	assert.Empty(t, s.calls)
}

func TestHandleMessageDeletes(t *testing.T) {
	s := &fakeSyncer{}
	h := HandleMessage(s, fakeBookings{})

	require.NoError(t, h(context.Background(), message(`{"eventType":"OFFENDER-DELETED","offenderIdDisplay":"A1234BC"}`)))
	assert.Equal(t, []call{{"remove", "A1234BC", ""}}, s.calls)
}

func TestHandleMessagePropagatesSyncFailure(t *testing.T) {
	s := &fakeSyncer{err: apperrors.ErrPublishFailed}
	h := HandleMessage(s, fakeBookings{})

	err := h(context.Background(), message(`{"eventType":"OFFENDER-UPDATED","offenderIdDisplay":"A1234BC"}`))
	assert.True(t, errors.Is(err, apperrors.ErrPublishFailed))
}

func TestHandleMessageRejectsMalformed(t *testing.T) {
	s := &fakeSyncer{}
	h := HandleMessage(s, fakeBookings{})

	assert.Error(t, h(context.Background(), message(`{not json`)))
	assert.Error(t, h(context.Background(), message(`{"eventType":"OFFENDER-UPDATED"}`)))
	assert.Empty(t, s.calls)
}
