package network

import (
	"context"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/rudransh-shrivastava/swapbytes/internal/protocol"
)

type joinedTopic struct {
	topic  *pubsub.Topic
	sub    *pubsub.Subscription
	cancel context.CancelFunc
}

func (t *joinedTopic) close() error {
	t.cancel()
	t.sub.Cancel()
	return nil
}

// subscribe joins topic and starts forwarding its messages to the loop.
// Joining a topic twice is a no-op.
func (l *EventLoop) subscribe(name string) error {
	if _, ok := l.topics[name]; ok {
		return nil
	}

	topic, err := l.pubsub.Join(name)
	if err != nil {
		return err
	}
	sub, err := topic.Subscribe()
	if err != nil {
		_ = topic.Close()
		return err
	}

	ctx, cancel := context.WithCancel(l.ctx)
	l.topics[name] = &joinedTopic{topic: topic, sub: sub, cancel: cancel}
	l.spawn(func() { l.readTopic(ctx, name, sub) })

	l.logger.Debug("Subscribed to topic", "topic", name)
	return nil
}

func (l *EventLoop) readTopic(ctx context.Context, name string, sub *pubsub.Subscription) {
	for {
		msg, err := sub.Next(ctx)
		if err != nil {
			return
		}
		ev := messageReceived{topic: name, from: msg.GetFrom(), data: msg.Data}
		if !l.post(ev) {
			return
		}
	}
}

// handleMessage files an inbound line by the kind of its topic. An envelope
// whose kind disagrees with the topic is dropped.
func (l *EventLoop) handleMessage(e messageReceived) {
	env := protocol.DecodeChatPayload(e.topic, e.data)
	kind := protocol.ClassifyTopic(e.topic)
	if env.Kind != kind {
		l.metrics.Messages.WithLabelValues("mismatched").Inc()
		l.logger.Warn("Dropped message with mismatched kind", "topic", e.topic, "from", e.from.String(),
			"kind", env.Kind.String(), "topic_kind", kind.String())
		return
	}
	l.metrics.Messages.WithLabelValues(kind.String()).Inc()

	switch kind {
	case protocol.TopicPublic:
		if !l.dir.AppendPublic(e.topic, env.Text) {
			l.logger.Warn("Dropped message for invalid room", "topic", e.topic, "from", e.from.String())
			return
		}
	case protocol.TopicPrivate:
		l.dir.AppendPrivate(e.topic, env.Text)
	}
	l.logger.Debug("Message received", "topic", e.topic, "from", e.from.String(), "kind", kind.String())
}

// submitMessage publishes text on topic, tagged with the kind its topic
// classifies as. The local subscription delivers the message back into this
// node's own log.
func (l *EventLoop) submitMessage(text, topic string) {
	kind := protocol.ClassifyTopic(topic)

	if err := l.subscribe(topic); err != nil {
		l.logger.Warn("Failed to join topic", "topic", topic, "error", err)
		return
	}
	if kind == protocol.TopicPrivate {
		l.dir.InitPrivate(topic)
	}

	data := protocol.EncodeEnvelope(protocol.Envelope{Kind: kind, Text: text})
	if err := l.topics[topic].topic.Publish(l.ctx, data); err != nil {
		l.logger.Warn("Failed to publish message", "topic", topic, "error", err)
	}
}
