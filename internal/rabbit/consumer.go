package rabbit

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"review_catalog/internal/metrics"
)

// Dispatcher разбирает тело сообщения и возвращает метку исхода обработки.
// Ошибка означает "не смогли применить" — сообщение уходит в DLX.
type Dispatcher interface {
	Dispatch(ctx context.Context, routingKey string, body []byte) (string, error)
}

// InvalidateFunc вызывается после успешной обработки сообщения,
// чтобы сбросить затронутые ключи кэша. Ошибки инвалидации не
// влияют на подтверждение сообщения.
type InvalidateFunc func(ctx context.Context, routingKey string, body []byte)

type ConsumerConfig struct {
	Queues        []string
	ConsumerTag   string
	Prefetch      int
	DeclareQueues bool
	DLXExchange   string
}

// Consumer читает сообщения из одной или нескольких очередей на выделенных
// каналах одного соединения и сериализует обработку в пределах очереди:
// следующее сообщение берётся только после ack/nack предыдущего.
type Consumer struct {
	runtime    *Runtime
	cfg        ConsumerConfig
	dispatcher Dispatcher
	invalidate InvalidateFunc
	logger     *log.Logger
}

func NewConsumer(runtime *Runtime, cfg ConsumerConfig, dispatcher Dispatcher, invalidate InvalidateFunc, logger *log.Logger) (*Consumer, error) {
	if runtime == nil {
		return nil, fmt.Errorf("runtime is nil")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is nil")
	}
	if len(cfg.Queues) == 0 {
		return nil, fmt.Errorf("no queues configured")
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 1
	}
	if logger == nil {
		logger = log.Default()
	}

	return &Consumer{
		runtime:    runtime,
		cfg:        cfg,
		dispatcher: dispatcher,
		invalidate: invalidate,
		logger:     logger,
	}, nil
}

// Run держит консьюмер живым: после разрыва соединения переподключается
// с паузой и поднимает потребление заново. Возвращается при отмене контекста.
func (c *Consumer) Run(ctx context.Context) {
	for {
		err := c.Start(ctx)
		if ctx.Err() != nil {
			return
		}
		c.logger.Printf("[rabbit] consumer stopped: %v, reconnecting in 5s", err)
		metrics.IncRabbitError("consumer", "connection")

		select {
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Second):
		}
	}
}

// Start объявляет топологию, запускает по горутине на очередь и блокируется
// до отмены контекста или разрыва соединения.
func (c *Consumer) Start(ctx context.Context) error {
	if c.cfg.DeclareQueues && c.cfg.DLXExchange != "" {
		if err := c.declareDLX(); err != nil {
			return err
		}
	}

	for _, queue := range c.cfg.Queues {
		ch, err := c.runtime.Channel()
		if err != nil {
			return err
		}

		if err := c.setupQueue(ch, queue); err != nil {
			ch.Close()
			return err
		}

		deliveries, err := ch.Consume(queue, c.consumerTag(queue), false, false, false, false, nil)
		if err != nil {
			ch.Close()
			return fmt.Errorf("consume %s: %w", queue, err)
		}

		go c.consumeLoop(ctx, queue, deliveries)
		c.logger.Printf("[rabbit] consuming queue=%s prefetch=%d", queue, c.cfg.Prefetch)
	}

	closed := c.runtime.NotifyClose()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-closed:
		if err != nil {
			return fmt.Errorf("connection closed: %w", err)
		}
		return nil
	}
}

func (c *Consumer) declareDLX() error {
	ch, err := c.runtime.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(c.cfg.DLXExchange, "fanout", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dlx exchange: %w", err)
	}

	dlq := c.cfg.DLXExchange + ".q"
	if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dlq: %w", err)
	}
	if err := ch.QueueBind(dlq, "", c.cfg.DLXExchange, false, nil); err != nil {
		return fmt.Errorf("bind dlq: %w", err)
	}
	return nil
}

func (c *Consumer) setupQueue(ch *amqp.Channel, queue string) error {
	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		return fmt.Errorf("qos %s: %w", queue, err)
	}

	if !c.cfg.DeclareQueues {
		if _, err := ch.QueueDeclarePassive(queue, true, false, false, false, nil); err != nil {
			return fmt.Errorf("queue %s does not exist: %w", queue, err)
		}
		return nil
	}

	var args amqp.Table
	if c.cfg.DLXExchange != "" {
		args = amqp.Table{"x-dead-letter-exchange": c.cfg.DLXExchange}
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, args); err != nil {
		return fmt.Errorf("declare queue %s: %w", queue, err)
	}
	return nil
}

func (c *Consumer) consumeLoop(ctx context.Context, queue string, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			c.handleDelivery(ctx, queue, d)
		}
	}
}

func (c *Consumer) handleDelivery(ctx context.Context, queue string, d amqp.Delivery) {
	start := time.Now()

	outcome, err := c.dispatcher.Dispatch(ctx, d.RoutingKey, d.Body)
	metrics.ObserveHandleDuration(queue, time.Since(start))

	if err != nil {
		// Остановка процесса — не вина сообщения: оставляем его без ack,
		// брокер вернёт его в очередь после закрытия соединения.
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			c.logger.Printf("[rabbit] queue=%s key=%s interrupted by shutdown, message will be redelivered", queue, d.RoutingKey)
			return
		}

		// В очередь не возвращаем: при настроенном DLX сообщение уйдёт туда,
		// иначе будет отброшено. Повторная доставка того же сообщения
		// привела бы к бесконечному циклу.
		c.logger.Printf("[rabbit] queue=%s key=%s handling failed: %v", queue, d.RoutingKey, err)
		metrics.IncRabbitRejected(queue)
		if nackErr := d.Nack(false, false); nackErr != nil {
			c.logger.Printf("[rabbit] queue=%s nack failed: %v", queue, nackErr)
			metrics.IncRabbitError("consumer", "nack")
		}
		return
	}

	if c.invalidate != nil {
		c.invalidate(ctx, d.RoutingKey, d.Body)
	}

	metrics.IncRabbitProcessed(queue, outcomeClass(outcome))
	if ackErr := d.Ack(false); ackErr != nil {
		c.logger.Printf("[rabbit] queue=%s ack failed: %v", queue, ackErr)
		metrics.IncRabbitError("consumer", "ack")
	}
}

func (c *Consumer) consumerTag(queue string) string {
	if c.cfg.ConsumerTag == "" {
		return ""
	}
	return c.cfg.ConsumerTag + "." + queue
}

// outcomeClass сводит подробные метки исходов к малой кардинальности метрики.
func outcomeClass(outcome string) string {
	switch {
	case strings.HasPrefix(outcome, "IGNORED_"):
		return "ignored"
	case strings.HasPrefix(outcome, "SKIP_"):
		return "skipped"
	case strings.HasPrefix(outcome, "DUPLICATE_"):
		return "duplicate"
	default:
		return "applied"
	}
}
