// Package fanout carries room broadcasts between service instances. A
// broadcast is delivered to this instance's members immediately and then
// published on one Redis channel; other instances deliver it to their members
// when it arrives, and each instance ignores its own messages on receive.
package fanout

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/delivery-tracking/internal/models"
	"github.com/example/delivery-tracking/internal/observability"
	"github.com/example/delivery-tracking/internal/rooms"
)

// Local is the registry side of the bridge.
type Local interface {
	BroadcastFrame(room string, frame []byte) rooms.Result
}

type message struct {
	Room   string          `json:"room"`
	Frame  json.RawMessage `json:"frame"`
	Origin string          `json:"origin"`
}

type RedisBridge struct {
	client  *redis.Client
	channel string
	origin  string
	local   Local
	logger  *slog.Logger

	queue    chan []byte
	stopOnce sync.Once
	stop     chan struct{}
	wg       sync.WaitGroup
}

// NewRedisBridge creates a bridge. origin must be unique per instance.
// queueSize bounds the publish backlog; beyond it broadcasts are dropped.
func NewRedisBridge(client *redis.Client, channel, origin string, local Local, logger *slog.Logger, queueSize int) *RedisBridge {
	if logger == nil {
		logger = slog.Default()
	}
	if queueSize <= 0 {
		queueSize = 1024
	}
	return &RedisBridge{
		client:  client,
		channel: channel,
		origin:  origin,
		local:   local,
		logger:  logger,
		queue:   make(chan []byte, queueSize),
		stop:    make(chan struct{}),
	}
}

// Broadcast implements location.Broadcaster. Local members are served before
// it returns, so the returned Result covers this instance only. Publishing to
// other instances never blocks; beyond the queue bound it is dropped.
func (b *RedisBridge) Broadcast(room string, ev models.Event) rooms.Result {
	frame, err := ev.Encode()
	if err != nil {
		b.logger.Error("bridge_encode_failed", "room", room, "event", ev.Name, "error", err)
		return rooms.Result{}
	}
	res := b.local.BroadcastFrame(room, frame)

	payload, err := json.Marshal(message{Room: room, Frame: frame, Origin: b.origin})
	if err != nil {
		b.logger.Error("bridge_encode_failed", "room", room, "event", ev.Name, "error", err)
		return res
	}
	select {
	case b.queue <- payload:
	default:
		observability.BridgeErrors.WithLabelValues("queue_full").Inc()
		b.logger.Warn("bridge_queue_full", "room", room, "event", ev.Name)
	}
	return res
}

// Run subscribes and starts the publisher. It blocks until ctx is done or
// Close is called.
func (b *RedisBridge) Run(ctx context.Context) error {
	sub := b.client.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return err
	}
	defer sub.Close()

	b.wg.Add(1)
	go b.publishLoop(ctx)
	defer b.wg.Wait()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			b.Close()
			return ctx.Err()
		case <-b.stop:
			return nil
		case msg, ok := <-ch:
			if !ok {
				b.Close()
				return nil
			}
			b.deliver([]byte(msg.Payload))
		}
	}
}

// publishLoop is the only publisher, so the channel sees this instance's
// broadcasts in issue order.
func (b *RedisBridge) publishLoop(ctx context.Context) {
	defer b.wg.Done()
	for {
		select {
		case <-b.stop:
			return
		case <-ctx.Done():
			return
		case payload := <-b.queue:
			pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			err := b.client.Publish(pctx, b.channel, payload).Err()
			cancel()
			if err != nil {
				observability.BridgeErrors.WithLabelValues("publish").Inc()
				b.logger.Warn("bridge_publish_failed", "error", err)
			}
		}
	}
}

// deliver hands a message from another instance to local members. Messages
// this instance published were already delivered by Broadcast.
func (b *RedisBridge) deliver(payload []byte) {
	var m message
	if err := json.Unmarshal(payload, &m); err != nil || m.Room == "" {
		observability.BridgeErrors.WithLabelValues("decode").Inc()
		b.logger.Warn("bridge_bad_message", "error", err)
		return
	}
	if m.Origin == b.origin {
		return
	}
	b.local.BroadcastFrame(m.Room, m.Frame)
}

func (b *RedisBridge) Ping(ctx context.Context) error { return b.client.Ping(ctx).Err() }

func (b *RedisBridge) Close() {
	b.stopOnce.Do(func() { close(b.stop) })
}
