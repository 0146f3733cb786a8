package rabbit

import (
	"fmt"
	"log"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Runtime владеет единственным соединением процесса с брокером.
// Создаётся в composition root и передаётся по ссылке; никакого
// глобального состояния "консьюмер уже запущен". При разрыве соединения
// следующий Channel() переподключается.
type Runtime struct {
	url    string
	logger *log.Logger

	mu   sync.Mutex
	conn *amqp.Connection
}

func Dial(url string, logger *log.Logger) (*Runtime, error) {
	if url == "" {
		return nil, fmt.Errorf("rabbit url is empty")
	}
	if logger == nil {
		logger = log.Default()
	}

	r := &Runtime{url: url, logger: logger}
	if _, err := r.connection(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Runtime) connection() (*amqp.Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn != nil && !r.conn.IsClosed() {
		return r.conn, nil
	}

	conn, err := amqp.Dial(r.url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbit: %w", err)
	}
	r.conn = conn
	r.logger.Println("[rabbit] connected")
	return conn, nil
}

func (r *Runtime) Channel() (*amqp.Channel, error) {
	conn, err := r.connection()
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	return ch, nil
}

// NotifyClose отдаёт канал закрытия текущего соединения (nil — штатное закрытие).
func (r *Runtime) NotifyClose() chan *amqp.Error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		closed := make(chan *amqp.Error, 1)
		close(closed)
		return closed
	}
	return r.conn.NotifyClose(make(chan *amqp.Error, 1))
}

// Close закрывает соединение. Неподтверждённые сообщения вернутся в очередь
// и будут доставлены заново после переподключения.
func (r *Runtime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil || r.conn.IsClosed() {
		return nil
	}
	return r.conn.Close()
}
