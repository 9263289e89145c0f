// Package stream publishes engine events to redis streams. Publishing
// is asynchronous and fire-and-forget: events are buffered in-process
// and written by a background goroutine, so the engine never blocks on
// redis inside a transaction. Delivery guarantees beyond that (retry,
// backoff, consumer groups) belong to the consumers of the stream.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/smallnest/chanx"
)

// ErrPublisherClosed is returned by Publish when the publisher is not
// running.
var ErrPublisherClosed = errors.New("publisher is closed")

type publisherOptions[T any] struct {
	logger     *slog.Logger
	bufferSize int
	encodeFunc func(T) (map[string]any, error)
}

type PublisherOption[T any] func(*publisherOptions[T])

// WithPublisherLogger sets the structured logger.
func WithPublisherLogger[T any](logger *slog.Logger) PublisherOption[T] {
	return func(o *publisherOptions[T]) {
		o.logger = logger
	}
}

// WithPublisherBufferSize sets the initial in-process buffer size.
func WithPublisherBufferSize[T any](size int) PublisherOption[T] {
	return func(o *publisherOptions[T]) {
		o.bufferSize = size
	}
}

// WithPublisherEncodeFunc replaces the payload encoder.
func WithPublisherEncodeFunc[T any](fn func(T) (map[string]any, error)) PublisherOption[T] {
	return func(o *publisherOptions[T]) {
		o.encodeFunc = fn
	}
}

// Publisher writes values of type T to one redis stream.
type Publisher[T any] struct {
	client     *redis.Client
	stream     string
	upstream   *chanx.UnboundedChan[map[string]any]
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	closed     bool
	logger     *slog.Logger
	options    publisherOptions[T]
}

func NewPublisher[T any](client *redis.Client, stream string, opts ...PublisherOption[T]) (*Publisher[T], error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	if stream == "" {
		return nil, errors.New("stream cannot be empty")
	}
	options := publisherOptions[T]{
		logger:     slog.Default(),
		bufferSize: 100,
		encodeFunc: EncodeMessage[T],
	}
	for _, opt := range opts {
		opt(&options)
	}
	return &Publisher[T]{
		client:  client,
		stream:  stream,
		closed:  true,
		logger:  options.logger.With(slog.String("caller", "Publisher"), slog.String("stream", stream)),
		options: options,
	}, nil
}

// Start launches the background writer. Calling Start on a running
// publisher is a no-op.
func (p *Publisher[T]) Start() {
	if !p.closed {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.upstream = chanx.NewUnboundedChan[map[string]any](ctx, p.options.bufferSize)
	p.cancelFunc = cancel
	p.closed = false
	p.logger.Info("Start stream publisher")

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.logger.Info("Publisher goroutine stopped")
		for {
			select {
			case <-ctx.Done():
				return
			case message := <-p.upstream.Out:
				id, err := p.client.XAdd(ctx, &redis.XAddArgs{
					Stream: p.stream,
					Values: message,
				}).Result()
				if err != nil {
					if errors.Is(err, context.Canceled) {
						return
					}
					p.logger.Error("Fail to publish message", slog.Any("error", err))
					continue
				}
				p.logger.Debug("Message published", slog.String("messageId", id))
			}
		}
	}()
}

// Publish enqueues one value for the background writer. It never blocks.
func (p *Publisher[T]) Publish(data T) error {
	if p.closed {
		return ErrPublisherClosed
	}
	message, err := p.options.encodeFunc(data)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	p.upstream.In <- message
	return nil
}

// Close stops the background writer. Buffered but unwritten events are
// dropped; the engine's events are advisory, not state.
func (p *Publisher[T]) Close() {
	if p.closed {
		return
	}
	p.logger.Info("Closing stream publisher")
	p.closed = true
	p.cancelFunc()
	p.wg.Wait()
	p.logger.Info("Stream publisher closed")
}
