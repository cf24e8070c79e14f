package event

import (
	"encoding/json"
	"log"
	"time"

	"github.com/streadway/amqp"
)

// Routing keys on the quiz topic exchange.
const (
	SessionCreated   = "quiz.session.created"
	SessionStarted   = "quiz.session.started"
	SessionPaused    = "quiz.session.paused"
	SessionResumed   = "quiz.session.resumed"
	SessionCompleted = "quiz.session.completed"
	SessionCancelled = "quiz.session.cancelled"
	SessionExpired   = "quiz.session.expired"
	AnswerSubmitted  = "quiz.answer.submitted"
	QuestionMastered = "quiz.question.mastered"
)

// Publisher emits fire-and-forget domain events on a topic exchange. A nil
// Publisher is valid and drops everything, so callers never have to gate on
// whether the broker is wired.
type Publisher struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
}

func NewPublisher(uri, exchange string) (*Publisher, error) {
	conn, err := amqp.Dial(uri)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	return &Publisher{conn: conn, channel: ch, exchange: exchange}, nil
}

// Publish sends one event using the routing key. Delivery is best-effort:
// failures are logged and swallowed, never surfaced to the caller.
func (p *Publisher) Publish(routingKey string, payload interface{}) {
	if p == nil {
		return
	}
	body, err := json.Marshal(map[string]interface{}{
		"type":        routingKey,
		"occurred_at": time.Now().UTC().Format(time.RFC3339),
		"payload":     payload,
	})
	if err != nil {
		log.Printf("event: marshal %s failed: %v", routingKey, err)
		return
	}
	err = p.channel.Publish(
		p.exchange,
		routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
		},
	)
	if err != nil {
		log.Printf("event: publish %s failed: %v", routingKey, err)
	}
}

func (p *Publisher) Close() {
	if p == nil {
		return
	}
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
}
