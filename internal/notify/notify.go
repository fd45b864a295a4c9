// Package notify delivers issued OTP codes to the mail pipeline. Delivery
// is fire-and-forget from the caller's perspective: failures are logged
// and audited, never surfaced to the requesting client.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"authcore/internal/client"
	"authcore/internal/util"
)

// Message is one code delivery request for the mail worker.
type Message struct {
	Email     string    `json:"email"`
	Code      string    `json:"code"`
	SessionID string    `json:"session_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Sender pushes a delivery request toward the mail system.
type Sender interface {
	SendCode(ctx context.Context, msg Message) error
}

// KafkaSender publishes delivery requests to the email topic, keyed by
// recipient so per-address ordering is preserved.
type KafkaSender struct {
	producer *client.KafkaProducer
	topic    string
}

func NewKafkaSender(producer *client.KafkaProducer, topic string) *KafkaSender {
	if topic == "" {
		topic = "otp-email"
	}
	return &KafkaSender{producer: producer, topic: topic}
}

func (s *KafkaSender) SendCode(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal delivery request: %w", err)
	}

	err = s.producer.ProduceMessage(ctx, s.topic, []byte(msg.Email), payload, map[string]string{
		"content-type": "application/json",
	})
	if err != nil {
		return fmt.Errorf("failed to publish delivery request: %w", err)
	}
	return nil
}

// LogSender is the development fallback when no broker is configured. It
// prints the code to the log, which is acceptable only for local runs.
type LogSender struct{}

func (LogSender) SendCode(ctx context.Context, msg Message) error {
	util.Info("OTP delivery (dev mode)",
		util.String("email", msg.Email),
		util.String("code", msg.Code),
		util.Time("expires_at", msg.ExpiresAt))
	return nil
}

// Dispatcher runs deliveries on a detached goroutine with its own timeout
// so a slow broker cannot stall the issue path.
type Dispatcher struct {
	sender  Sender
	timeout time.Duration
}

func NewDispatcher(sender Sender, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{sender: sender, timeout: timeout}
}

// Dispatch hands the message off and returns immediately. The delivery
// context is detached from the request context on purpose: the client's
// connection closing must not cancel the email.
func (d *Dispatcher) Dispatch(msg Message) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		if err := d.sender.SendCode(ctx, msg); err != nil {
			util.Error("OTP delivery failed",
				util.String("email", msg.Email),
				util.String("session_id", msg.SessionID),
				util.ErrorField(err))
		}
	}()
}
