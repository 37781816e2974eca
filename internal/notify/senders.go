package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"authify/internal/models"
	"authify/internal/version"

	"github.com/segmentio/kafka-go"
)

// NewSender builds the transport selected by nc.Sender.
func NewSender(nc models.NotificationConfig) (Sender, error) {
	switch nc.Sender {
	case models.SenderLog, "":
		return NewLogSender(slog.Default()), nil
	case models.SenderBrevo:
		return NewBrevoSender(nc.Brevo, nc.FromEmail, nc.FromName), nil
	case models.SenderKafka:
		return NewKafkaSender(nc.Kafka)
	default:
		return nil, fmt.Errorf("unsupported notification sender: %s", nc.Sender)
	}
}

// LogSender writes message metadata to a logger. Bodies carry codes and are
// never logged.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, msg Message) error {
	s.logger.InfoContext(ctx, "Email notification",
		"kind", msg.Kind,
		"to", msg.To,
		"subject", msg.Subject,
	)
	return nil
}

// BrevoSender posts messages to the Brevo transactional email API.
type BrevoSender struct {
	apiKey    string
	baseURL   string
	fromEmail string
	fromName  string
	client    *http.Client
}

func NewBrevoSender(cfg models.BrevoConfig, fromEmail, fromName string) *BrevoSender {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.brevo.com/v3/smtp/email"
	}
	return &BrevoSender{
		apiKey:    cfg.APIKey,
		baseURL:   baseURL,
		fromEmail: fromEmail,
		fromName:  fromName,
		client:    &http.Client{Timeout: 30 * time.Second},
	}
}

type brevoContact struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
}

type brevoEmail struct {
	Sender      brevoContact   `json:"sender"`
	To          []brevoContact `json:"to"`
	Subject     string         `json:"subject"`
	TextContent string         `json:"textContent"`
}

func (s *BrevoSender) Send(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(brevoEmail{
		Sender:      brevoContact{Name: s.fromName, Email: s.fromEmail},
		To:          []brevoContact{{Name: msg.ToName, Email: msg.To}},
		Subject:     msg.Subject,
		TextContent: msg.Body,
	})
	if err != nil {
		return fmt.Errorf("failed to encode brevo request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build brevo request: %w", err)
	}
	req.Header.Set("api-key", s.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.GetInfo().UserAgent())

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("brevo request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("brevo returned status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	return nil
}

// messageWriter is the part of *kafka.Writer the sender uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSender publishes each message as a JSON event for an external mailer.
type KafkaSender struct {
	writer messageWriter
}

// Event is the JSON value written to the notifications topic.
type Event struct {
	Kind        Kind      `json:"kind"`
	To          string    `json:"to"`
	ToName      string    `json:"to_name,omitempty"`
	Subject     string    `json:"subject"`
	TextContent string    `json:"text_content"`
	CreatedAt   time.Time `json:"created_at"`
}

func NewKafkaSender(cfg models.KafkaConfig) (*KafkaSender, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka sender requires at least one broker")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka sender requires a topic")
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		MaxAttempts:            3,
		BatchTimeout:           10 * time.Millisecond,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: false,
	}
	return newKafkaSenderWithWriter(writer), nil
}

func newKafkaSenderWithWriter(w messageWriter) *KafkaSender {
	return &KafkaSender{writer: w}
}

func (s *KafkaSender) Send(ctx context.Context, msg Message) error {
	value, err := json.Marshal(Event{
		Kind:        msg.Kind,
		To:          msg.To,
		ToName:      msg.ToName,
		Subject:     msg.Subject,
		TextContent: msg.Body,
		CreatedAt:   time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode notification event: %w", err)
	}

	err = s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.To),
		Value: value,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(msg.Kind)},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}
	return nil
}

func (s *KafkaSender) Close() error {
	return s.writer.Close()
}
