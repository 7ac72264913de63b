package feed

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"donorline/internal/config"
	"donorline/internal/domain"
)

// Envelope is the JSON body delivered for one audit event.
type Envelope struct {
	ID         int64           `json:"id"`
	Type       string          `json:"type"`
	OrgID      string          `json:"org_id"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	TS         string          `json:"ts"`
	Payload    json.RawMessage `json:"payload"`
	PayloadRaw string          `json:"payload_raw,omitempty"`
}

func NewEnvelope(evt domain.Event) Envelope {
	env := Envelope{
		ID:         evt.ID,
		Type:       evt.Type,
		OrgID:      evt.OrgID,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		TS:         evt.TS,
		Payload:    json.RawMessage("{}"),
	}
	if evt.Payload != "" {
		if json.Valid([]byte(evt.Payload)) {
			env.Payload = json.RawMessage(evt.Payload)
		} else {
			env.PayloadRaw = evt.Payload
		}
	}
	return env
}

// Sink receives events in order. A Send error leaves the event undelivered.
type Sink interface {
	Name() string
	Accepts(evtType string) bool
	Send(ctx context.Context, env Envelope, body []byte) error
}

// WebhookSink posts events to one organization webhook.
type WebhookSink struct {
	OrgID  string
	Hook   config.Webhook
	Client *http.Client
}

func (s WebhookSink) Name() string { return "webhook:" + s.OrgID + ":" + s.Hook.ID }

func (s WebhookSink) Accepts(evtType string) bool { return s.Hook.Accepts(evtType) }

func (s WebhookSink) Send(ctx context.Context, env Envelope, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Hook.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Donorline-Event", env.Type)
	req.Header.Set("X-Donorline-Delivery", strconv.FormatInt(env.ID, 10))
	req.Header.Set("X-Donorline-Org", s.OrgID)
	if secret := strings.TrimSpace(s.Hook.Secret); secret != "" {
		req.Header.Set("X-Donorline-Signature", "sha256="+Sign(secret, body))
	}
	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// MessageWriter is the subset of *kafka.Writer the Kafka sink needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaConfig struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration
}

// KafkaSink publishes every event to one topic, keyed by organization.
type KafkaSink struct {
	Writer MessageWriter
	Topic  string
}

func NewKafkaSink(cfg KafkaConfig) *KafkaSink {
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 10 * time.Millisecond
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           cfg.BatchTimeout,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
	return &KafkaSink{Writer: w, Topic: cfg.Topic}
}

func (s *KafkaSink) Name() string { return "kafka:" + s.Topic }

func (s *KafkaSink) Accepts(string) bool { return true }

func (s *KafkaSink) Send(ctx context.Context, env Envelope, body []byte) error {
	return s.Writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(env.OrgID),
		Value: body,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(env.Type)},
			{Key: "event_id", Value: []byte(strconv.FormatInt(env.ID, 10))},
		},
	})
}

func (s *KafkaSink) Close() error {
	return s.Writer.Close()
}
