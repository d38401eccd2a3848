package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const auditQueueName = "parking.audit"

// StartAuditConsumer connects to RabbitMQ, binds the durable
// parking.audit queue to every event on the parking exchange, and appends
// each message to logPath as one human-readable line.  It reconnects
// with exponential backoff and returns only when ctx is cancelled.
func StartAuditConsumer(ctx context.Context, url, logPath string) error {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn, err := amqp.Dial(url)
		if err != nil {
			log.Printf("parking-consumer: failed to dial broker: %v; retrying in %s", err, backoff)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second // reset after successful connect

		err = consumeLoop(ctx, conn, logPath)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Printf("parking-consumer: consume loop ended: %v; reconnecting", err)
		time.Sleep(2 * time.Second)
	}
}

func consumeLoop(ctx context.Context, conn *amqp.Connection, logPath string) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		log.Printf("parking-consumer: set QoS failed: %v", err)
	}
	if err := ch.ExchangeDeclare(ExchangeName, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("exchange declare: %w", err)
	}
	if _, err := ch.QueueDeclare(auditQueueName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	if err := ch.QueueBind(auditQueueName, "#", ExchangeName, false, nil); err != nil {
		return fmt.Errorf("queue bind: %w", err)
	}

	msgs, err := ch.Consume(auditQueueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := appendAuditLine(logPath, d.Body); err != nil {
				log.Printf("parking-consumer: handle message failed: %v", err)
				_ = d.Nack(false, false) // reject, do not requeue to avoid tight loops
				continue
			}
			_ = d.Ack(false)
		}
	}
}

func appendAuditLine(logPath string, body []byte) error {
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return fmt.Errorf("mkdir logs: %w", err)
	}
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(FormatAuditLine(ev)); err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	return nil
}

// FormatAuditLine renders an event as a single log line, listing only
// the fields that are set.
func FormatAuditLine(ev Event) string {
	parts := []string{fmt.Sprintf("[%s] %s", ev.OccurredAt, ev.Type)}
	add := func(k string, v any) { parts = append(parts, fmt.Sprintf("%s=%v", k, v)) }
	if ev.SessionID != 0 {
		add("session_id", ev.SessionID)
	}
	if ev.TopUpID != 0 {
		add("topup_id", ev.TopUpID)
	}
	if ev.PaymentID != 0 {
		add("payment_id", ev.PaymentID)
	}
	if ev.AlertID != 0 {
		add("alert_id", ev.AlertID)
	}
	if ev.UserID != 0 {
		add("user_id", ev.UserID)
	}
	if ev.SpaceID != 0 {
		add("space_id", ev.SpaceID)
	}
	if ev.Plate != "" {
		add("plate", ev.Plate)
	}
	if ev.Amount != "" {
		add("amount", ev.Amount)
	}
	if ev.Status != "" {
		add("status", ev.Status)
	}
	if ev.Message != "" {
		add("message", fmt.Sprintf("%q", ev.Message))
	}
	return strings.Join(parts, " | ") + "\n"
}
