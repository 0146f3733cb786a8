package rabbit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/stretchr/testify/assert"
)

type fakeDispatcher struct {
	outcome string
	err     error
}

func (f *fakeDispatcher) Dispatch(_ context.Context, _ string, _ []byte) (string, error) {
	return f.outcome, f.err
}

type fakeAcker struct {
	acks  int
	nacks int
}

func (a *fakeAcker) Ack(_ uint64, _ bool) error          { a.acks++; return nil }
func (a *fakeAcker) Nack(_ uint64, _ bool, _ bool) error { a.nacks++; return nil }
func (a *fakeAcker) Reject(_ uint64, _ bool) error       { return nil }

func newTestConsumer(d Dispatcher) *Consumer {
	return &Consumer{
		cfg:        ConsumerConfig{Queues: []string{"q"}, Prefetch: 1},
		dispatcher: d,
		logger:     log.New(io.Discard, "", 0),
	}
}

func mustTime(t *testing.T) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339Nano, "2024-03-15T10:30:45.123Z")
	assert.NoError(t, err)
	return ts
}

func TestOutcomeClass(t *testing.T) {
	assert.Equal(t, "applied", outcomeClass("USER_UPSERTED"))
	assert.Equal(t, "applied", outcomeClass("LIKE_CREATED"))
	assert.Equal(t, "ignored", outcomeClass("IGNORED_PAGOS_CARGO_CREADO"))
	assert.Equal(t, "skipped", outcomeClass("SKIP_USER_NO_ID"))
	assert.Equal(t, "duplicate", outcomeClass("DUPLICATE_SKIPPED"))
}

func TestConsumerValidation(t *testing.T) {
	_, err := NewConsumer(nil, ConsumerConfig{Queues: []string{"q"}}, nil, nil, nil)
	assert.Error(t, err)
}

func TestHandleDelivery_SuccessAcks(t *testing.T) {
	acker := &fakeAcker{}
	c := newTestConsumer(&fakeDispatcher{outcome: "USER_UPSERTED"})

	c.handleDelivery(context.Background(), "q", amqp.Delivery{
		Acknowledger: acker,
		DeliveryTag:  1,
		RoutingKey:   "usuarios.usuario.creado",
	})

	assert.Equal(t, 1, acker.acks)
	assert.Equal(t, 0, acker.nacks)
}

func TestHandleDelivery_FailureNacksToDLX(t *testing.T) {
	acker := &fakeAcker{}
	c := newTestConsumer(&fakeDispatcher{err: errors.New("constraint violation")})

	c.handleDelivery(context.Background(), "q", amqp.Delivery{
		Acknowledger: acker,
		DeliveryTag:  1,
		RoutingKey:   "usuarios.usuario.creado",
	})

	assert.Equal(t, 0, acker.acks)
	assert.Equal(t, 1, acker.nacks)
}

func TestHandleDelivery_ShutdownLeavesMessageUnacked(t *testing.T) {
	// Ошибка из-за остановки процесса не должна отправлять живое
	// сообщение в DLX: без ack брокер вернёт его в очередь.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	acker := &fakeAcker{}
	c := newTestConsumer(&fakeDispatcher{err: ctx.Err()})

	c.handleDelivery(ctx, "q", amqp.Delivery{
		Acknowledger: acker,
		DeliveryTag:  1,
		RoutingKey:   "usuarios.usuario.creado",
	})

	assert.Equal(t, 0, acker.acks)
	assert.Equal(t, 0, acker.nacks)
}

func TestHandleDelivery_WrappedCancelNotNacked(t *testing.T) {
	acker := &fakeAcker{}
	c := newTestConsumer(&fakeDispatcher{err: fmt.Errorf("begin tx: %w", context.Canceled)})

	c.handleDelivery(context.Background(), "q", amqp.Delivery{
		Acknowledger: acker,
		DeliveryTag:  1,
		RoutingKey:   "peliculas.pelicula.creada",
	})

	assert.Equal(t, 0, acker.acks)
	assert.Equal(t, 0, acker.nacks)
}

func TestBuildSysDate(t *testing.T) {
	// раскладка даты в массив соответствует контракту конверта
	d := buildSysDate(mustTime(t))
	assert.Equal(t, [7]int{2024, 3, 15, 10, 30, 45, 123000000}, d)
}
