package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calagora/caldav/internal/dav/derr"
	"github.com/calagora/caldav/internal/engine"
	"github.com/calagora/caldav/internal/engine/enginetest"
)

func newTestHandler() (*Handler, *enginetest.Fake) {
	fake := enginetest.New()
	return NewHandler(fake, zerolog.Nop()), fake
}

func TestEventregCancelledFanOut(t *testing.T) {
	h, fake := newTestHandler()
	body := `<eventreg-cancelled xmlns="http://calagora.org/ns/notifications">
  <href>/user/fred/calendar/ev1.ics</href>
  <uid>ev1</uid>
  <principal-href>/principals/users/barney</principal-href>
  <principal-href>/principals/users/wilma</principal-href>
</eventreg-cancelled>`

	require.NoError(t, h.Process(context.Background(), []byte(body)))
	require.Len(t, fake.Sent, 2)
	assert.Equal(t, "/principals/users/barney", fake.Sent[0].PrincipalHref)
	assert.Equal(t, "/principals/users/wilma", fake.Sent[1].PrincipalHref)
	n, ok := fake.Sent[0].Notification.(engine.EventregCancelled)
	require.True(t, ok)
	assert.Equal(t, "ev1", n.UID)
}

// No principals listed is valid; the event is simply not fanned out.
func TestEventregCancelledNoPrincipals(t *testing.T) {
	h, fake := newTestHandler()
	body := `<eventreg-cancelled xmlns="http://calagora.org/ns/notifications">
  <href>/x</href><uid>u</uid>
</eventreg-cancelled>`
	require.NoError(t, h.Process(context.Background(), []byte(body)))
	assert.Empty(t, fake.Sent)
}

// A one-child document fails shape validation before anything is sent.
func TestEventregCancelledTooFewChildren(t *testing.T) {
	h, fake := newTestHandler()
	body := `<eventreg-cancelled xmlns="http://calagora.org/ns/notifications"><href>/x</href></eventreg-cancelled>`
	err := h.Process(context.Background(), []byte(body))
	require.Error(t, err)
	assert.True(t, derr.Is(err, derr.KindBadRequest))
	assert.Empty(t, fake.Sent)
}

func TestEventregCancelledWrongChildTag(t *testing.T) {
	h, fake := newTestHandler()
	body := `<eventreg-cancelled xmlns="http://calagora.org/ns/notifications">
  <uid>u</uid><href>/x</href>
</eventreg-cancelled>`
	err := h.Process(context.Background(), []byte(body))
	require.Error(t, err)
	assert.True(t, derr.Is(err, derr.KindBadRequest))
	assert.Empty(t, fake.Sent)
}

func TestEventregRegistered(t *testing.T) {
	h, fake := newTestHandler()
	body := `<eventreg-registered xmlns="http://calagora.org/ns/notifications">
  <href>/user/fred/calendar/ev1.ics</href>
  <uid>ev1</uid>
  <num-tickets-requested>3</num-tickets-requested>
  <num-tickets>2</num-tickets>
  <principal-href>/principals/users/barney</principal-href>
</eventreg-registered>`

	require.NoError(t, h.Process(context.Background(), []byte(body)))
	require.Len(t, fake.Sent, 1)
	n, ok := fake.Sent[0].Notification.(engine.EventregRegistered)
	require.True(t, ok)
	assert.Equal(t, 3, n.NumTicketsRequested)
	assert.Equal(t, 2, n.NumTickets)
}

func TestEventregRegisteredExactlyFive(t *testing.T) {
	h, fake := newTestHandler()
	body := `<eventreg-registered xmlns="http://calagora.org/ns/notifications">
  <href>/x</href><uid>u</uid><num-tickets-requested>1</num-tickets-requested><num-tickets>1</num-tickets>
</eventreg-registered>`
	err := h.Process(context.Background(), []byte(body))
	require.Error(t, err)
	assert.True(t, derr.Is(err, derr.KindBadRequest))
	assert.Empty(t, fake.Sent)
}

func TestEventregRegisteredBadInteger(t *testing.T) {
	h, _ := newTestHandler()
	body := `<eventreg-registered xmlns="http://calagora.org/ns/notifications">
  <href>/x</href><uid>u</uid><num-tickets-requested>many</num-tickets-requested><num-tickets>1</num-tickets>
  <principal-href>/principals/users/barney</principal-href>
</eventreg-registered>`
	err := h.Process(context.Background(), []byte(body))
	require.Error(t, err)
	assert.True(t, derr.Is(err, derr.KindBadRequest))
}

func TestNotifySubscribe(t *testing.T) {
	h, _ := newTestHandler()
	body := `<notify-subscribe xmlns="http://calagora.org/ns/notifications">
  <principal-href>/principals/users/fred</principal-href>
  <action>subscribe</action>
  <email>fred@example.com</email>
  <email>fred2@example.com</email>
</notify-subscribe>`
	assert.NoError(t, h.Process(context.Background(), []byte(body)))
}

// Engine refusal surfaces as 417, not 500.
func TestNotifySubscribeEngineRefusal(t *testing.T) {
	h, fake := newTestHandler()
	fake.SubscribeErr = errors.New("mailing list full")
	body := `<notify-subscribe xmlns="http://calagora.org/ns/notifications">
  <principal-href>/principals/users/fred</principal-href>
  <action>subscribe</action>
  <email>fred@example.com</email>
</notify-subscribe>`
	err := h.Process(context.Background(), []byte(body))
	require.Error(t, err)
	assert.True(t, derr.Is(err, derr.KindExpectationFailed))
}

func TestUnknownRootRejected(t *testing.T) {
	h, _ := newTestHandler()
	err := h.Process(context.Background(), []byte(`<mystery xmlns="http://calagora.org/ns/notifications"/>`))
	require.Error(t, err)
	assert.True(t, derr.Is(err, derr.KindBadRequest))
}

func TestUnparsableBody(t *testing.T) {
	h, _ := newTestHandler()
	err := h.Process(context.Background(), []byte(`<unclosed`))
	require.Error(t, err)
	assert.True(t, derr.Is(err, derr.KindBadRequest))
}

func TestRenderRoundTrip(t *testing.T) {
	n := engine.EventregRegistered{
		UID: "ev1", Href: "/x", NumTicketsRequested: 2, NumTickets: 2,
		PrincipalHref: "/principals/users/fred",
	}
	out, name, err := Render(n)
	require.NoError(t, err)
	assert.Equal(t, NS, name.Space)
	assert.Equal(t, "eventreg-registered", name.Local)

	h, fake := newTestHandler()
	require.NoError(t, h.Process(context.Background(), out))
	require.Len(t, fake.Sent, 1)
	assert.Equal(t, n, fake.Sent[0].Notification)
}
