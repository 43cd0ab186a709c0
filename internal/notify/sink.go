package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/apache/rocketmq-client-go/v2"
	"github.com/apache/rocketmq-client-go/v2/primitive"
	"github.com/apache/rocketmq-client-go/v2/producer"
	"github.com/apache/rocketmq-client-go/v2/rlog"
	"go.uber.org/zap"

	"agora/api/internal/log"
	"agora/api/internal/store"
)

func init() {
	rlog.SetLogLevel("error")
}

// Sender is the part of a RocketMQ producer the sink needs.
type Sender interface {
	SendSync(ctx context.Context, msgs ...*primitive.Message) (*primitive.SendResult, error)
}

// Event is the payload handed to the delivery system.
type Event struct {
	ID          string `json:"id"`
	RecipientID string `json:"recipientUserId"`
	Type        string `json:"type"`
	Title       string `json:"title"`
	Message     string `json:"message"`
	TopicID     string `json:"topicId,omitempty"`
	PostID      string `json:"postId,omitempty"`
	ActionURL   string `json:"actionUrl"`
}

func eventOf(n store.Notification) Event {
	return Event{
		ID:          n.ID,
		RecipientID: n.RecipientID,
		Type:        n.Type,
		Title:       n.Title,
		Message:     n.Message,
		TopicID:     n.TopicID,
		PostID:      n.PostID,
		ActionURL:   n.ActionURL,
	}
}

// RocketMQSink publishes notification events to a topic. Delivery is not retried here.
type RocketMQSink struct {
	sender Sender
	topic  string
}

func NewRocketMQSink(sender Sender, topic string) *RocketMQSink {
	return &RocketMQSink{sender: sender, topic: topic}
}

// NewRocketMQProducer starts a producer against nameServer.
func NewRocketMQProducer(nameServer, group string) (rocketmq.Producer, error) {
	p, err := rocketmq.NewProducer(
		producer.WithNameServer([]string{nameServer}),
		producer.WithGroupName(group),
		producer.WithRetry(2),
	)
	if err != nil {
		return nil, fmt.Errorf("new rocketmq producer: %w", err)
	}
	if err := p.Start(); err != nil {
		return nil, fmt.Errorf("start rocketmq producer: %w", err)
	}
	log.L.Info("rocketmq producer started", zap.String("nameserver", nameServer))
	return p, nil
}

func (s *RocketMQSink) Deliver(ctx context.Context, n store.Notification) error {
	body, err := json.Marshal(eventOf(n))
	if err != nil {
		return err
	}
	msg := &primitive.Message{Topic: s.topic, Body: body}
	msg.WithKeys([]string{n.ID})
	msg.WithTag(n.Type)
	res, err := s.sender.SendSync(ctx, msg)
	if err != nil {
		return err
	}
	log.L.Debug("notification published", zap.String("msgId", res.MsgID))
	return nil
}

// LogSink writes events to the log when no broker is configured.
type LogSink struct{}

func (LogSink) Deliver(_ context.Context, n store.Notification) error {
	log.L.Info("notification", zap.String("recipient", n.RecipientID), zap.String("type", n.Type), zap.String("url", n.ActionURL))
	return nil
}
