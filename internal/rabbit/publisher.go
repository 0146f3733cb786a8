package rabbit

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

const publisherSource = "/ratings/api"

// envelope — формат исходящего сообщения, совместимый с остальными
// сервисами платформы: метаданные снаружи, полезная нагрузка в data.
type envelope struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Source  string          `json:"source"`
	SysDate [7]int          `json:"sysDate"`
	Data    json.RawMessage `json:"data"`
}

// Publisher публикует события в topic-exchange. Канал ленивый: после
// разрыва соединения следующий Publish откроет новый.
type Publisher struct {
	runtime  *Runtime
	exchange string
	logger   *log.Logger

	mu sync.Mutex
	ch *amqp.Channel
}

func NewPublisher(runtime *Runtime, exchange string, logger *log.Logger) (*Publisher, error) {
	if runtime == nil {
		return nil, fmt.Errorf("runtime is nil")
	}
	if exchange == "" {
		return nil, fmt.Errorf("exchange is empty")
	}
	if logger == nil {
		logger = log.Default()
	}

	p := &Publisher{runtime: runtime, exchange: exchange, logger: logger}
	if _, err := p.channel(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Publisher) channel() (*amqp.Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}

	ch, err := p.runtime.Channel()
	if err != nil {
		return nil, err
	}
	if err := ch.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", p.exchange, err)
	}
	p.ch = ch
	return ch, nil
}

// Publish оборачивает payload в конверт и публикует его с заданным
// routing key. Доставка persistent: сообщение переживёт рестарт брокера.
func (p *Publisher) Publish(ctx context.Context, routingKey string, payload json.RawMessage) error {
	ch, err := p.channel()
	if err != nil {
		return err
	}

	env := envelope{
		ID:      uuid.NewString(),
		Type:    routingKey,
		Source:  publisherSource,
		SysDate: buildSysDate(time.Now()),
		Data:    payload,
	}

	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	err = ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    env.ID,
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", routingKey, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil {
		return nil
	}
	return p.ch.Close()
}

func buildSysDate(t time.Time) [7]int {
	return [7]int{t.Year(), int(t.Month()), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond()}
}
