package events

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NATSForwarder relays bus events to a JetStream stream so other services can follow analysis progress.
type NATSForwarder struct {
	nc *nats.Conn
	js jetstream.JetStream
}

// NewNATSForwarder connects to NATS and ensures the ANALYSIS stream exists
func NewNATSForwarder(url string) (*NATSForwarder, error) {
	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "ANALYSIS",
		Subjects:  []string{"events.analysis.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    7 * 24 * time.Hour,
	})
	if err != nil {
		log.Printf("Warning: failed to ensure stream 'ANALYSIS': %v", err)
	}

	return &NATSForwarder{nc: nc, js: js}, nil
}

// Subject returns the JetStream subject for an event type
func Subject(eventType string) string {
	return "events.analysis." + eventType
}

// Forward relays messages from the bus until ctx is done
func (f *NATSForwarder) Forward(ctx context.Context, bus *Bus) error {
	messages, err := bus.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to bus: %w", err)
	}

	go func() {
		for msg := range messages {
			eventType := msg.Metadata.Get("type")
			pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			_, err := f.js.Publish(pubCtx, Subject(eventType), msg.Payload)
			cancel()
			if err != nil {
				log.Printf("Warning: failed to forward event %s to NATS: %v", eventType, err)
			}
			// Ack regardless: the bus is best-effort and NATS has its own retries.
			msg.Ack()
		}
	}()

	return nil
}

// Close closes the NATS connection
func (f *NATSForwarder) Close() {
	if f.nc != nil {
		f.nc.Close()
	}
}
