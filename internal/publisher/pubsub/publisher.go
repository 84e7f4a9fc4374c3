// Package pubsub implements a Google Cloud Pub/Sub publisher.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"

	"github.com/JakeFAU/search-crawler/internal/crawler"
)

// Config maps logical queue names onto Pub/Sub topic ids.
type Config struct {
	ProjectID string            `mapstructure:"project_id"`
	Topics    map[string]string `mapstructure:"topics"`
}

type sendFunc func(ctx context.Context, topic string, msg *pubsub.Message) (string, error)

type getTopicFunc func(ctx context.Context, name string) (*pubsubpb.Topic, error)

// Publisher publishes raw-data events to one topic per queue.
type Publisher struct {
	send      sendFunc
	stop      func()
	projectID string
	topics    map[string]string
}

// New creates a Publisher backed by client. Queues missing from cfg.Topics
// publish to a topic with the queue's own name.
func New(client *pubsub.Client, cfg Config) (*Publisher, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client is required")
	}
	var (
		mu         sync.Mutex
		publishers = make(map[string]*pubsub.Publisher)
	)
	send := func(ctx context.Context, topic string, msg *pubsub.Message) (string, error) {
		mu.Lock()
		pub, ok := publishers[topic]
		if !ok {
			pub = client.Publisher(topic)
			publishers[topic] = pub
		}
		mu.Unlock()
		return pub.Publish(ctx, msg).Get(ctx)
	}
	p := newPublisher(send, cfg)
	p.stop = func() {
		mu.Lock()
		defer mu.Unlock()
		for _, pub := range publishers {
			pub.Stop()
		}
	}
	return p, nil
}

// VerifyTopics checks that every queue's topic exists and is active.
func VerifyTopics(ctx context.Context, client *pubsub.Client, cfg Config, queues ...string) error {
	if client == nil {
		return fmt.Errorf("pubsub client is required")
	}
	get := func(ctx context.Context, name string) (*pubsubpb.Topic, error) {
		return client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: name})
	}
	return newPublisher(nil, cfg).verify(ctx, get, queues...)
}

func (p *Publisher) verify(ctx context.Context, get getTopicFunc, queues ...string) error {
	for _, queue := range queues {
		name := FullTopicName(p.projectID, p.topicFor(queue))
		topic, err := get(ctx, name)
		if err != nil {
			return fmt.Errorf("get pubsub topic %q: %w", name, err)
		}
		if topic.GetState() != pubsubpb.Topic_ACTIVE {
			return fmt.Errorf("pubsub topic %q is not active", name)
		}
	}
	return nil
}

// FullTopicName expands a topic id into its resource name.
func FullTopicName(projectID, topicID string) string {
	return fmt.Sprintf("projects/%s/topics/%s", projectID, topicID)
}

// Stop flushes and stops the topic publishers.
func (p *Publisher) Stop() {
	if p.stop != nil {
		p.stop()
	}
}

func newPublisher(send sendFunc, cfg Config) *Publisher {
	topics := make(map[string]string, len(cfg.Topics))
	for k, v := range cfg.Topics {
		topics[k] = v
	}
	return &Publisher{send: send, projectID: cfg.ProjectID, topics: topics}
}

func (p *Publisher) topicFor(queue string) string {
	if t, ok := p.topics[queue]; ok && t != "" {
		return t
	}
	return queue
}

// Publish marshals the event to JSON and publishes it to the queue's topic.
func (p *Publisher) Publish(ctx context.Context, queue string, event crawler.RawDataReadyEvent) error {
	if queue == "" {
		return fmt.Errorf("queue name is required")
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	topic := p.topicFor(queue)
	msg := &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"queue":           queue,
			"source_platform": event.SourcePlatform,
			"content_hash":    event.ContentHash,
		},
	}
	if _, err := p.send(ctx, topic, msg); err != nil {
		return fmt.Errorf("publish message: %w", err)
	}
	return nil
}
