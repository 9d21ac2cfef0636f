package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/not-nullexception/ziply/config"
	"github.com/not-nullexception/ziply/internal/logger"
	"github.com/not-nullexception/ziply/internal/metrics"
	"github.com/not-nullexception/ziply/internal/queue"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

type RabbitMQClient struct {
	conn         *amqp.Connection
	channel      *amqp.Channel
	queueName    string
	exchangeName string
	routingKey   string
	consumerTag  string
	logger       zerolog.Logger
}

// NewClient connects, declares the run exchange and queue, and binds them
func NewClient(ctx context.Context, cfg *config.RabbitMQConfig) (queue.Client, error) {
	log := logger.GetLogger("rabbitmq-client")

	conn, err := connect(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("error creating channel: %w", err)
	}

	err = channel.ExchangeDeclare(
		cfg.Exchange, //name
		"direct",     // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("error declaring exchange: %w", err)
	}

	_, err = channel.QueueDeclare(
		cfg.Queue, // name
		true,      // durable
		false,     // delete when unused
		false,     // exclusive
		false,     // no-wait
		nil,       // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("error declaring queue: %w", err)
	}

	err = channel.QueueBind(
		cfg.Queue,      // queue name
		cfg.RoutingKey, // routing key
		cfg.Exchange,   // exchange name
		false,          // no-wait
		nil,            // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("error binding queue: %w", err)
	}

	err = channel.Qos(
		1,     // prefetch count
		0,     // prefetch size
		false, // global
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("error setting QoS: %w", err)
	}

	log.Info().
		Str("exchange", cfg.Exchange).
		Str("queue", cfg.Queue).
		Str("routing_key", cfg.RoutingKey).
		Msg("RabbitMQ client initialized")

	return &RabbitMQClient{
		conn:         conn,
		channel:      channel,
		queueName:    cfg.Queue,
		exchangeName: cfg.Exchange,
		routingKey:   cfg.RoutingKey,
		consumerTag:  cfg.ConsumerTag,
		logger:       log,
	}, nil
}

func connect(ctx context.Context, cfg *config.RabbitMQConfig, log zerolog.Logger) (*amqp.Connection, error) {
	var conn *amqp.Connection
	var err error

	maxRetries := 5
	retryDelay := time.Second

	for i := 0; i < maxRetries; i++ {
		log.Info().
			Str("host", cfg.Host).
			Int("port", cfg.Port).
			Int("attempt", i+1).
			Int("max_attempts", maxRetries).
			Msg("Connecting to RabbitMQ")

		conn, err = amqp.Dial(cfg.RabbitMQURL())
		if err == nil {
			log.Info().Msg("Connected to RabbitMQ")
			return conn, nil
		}

		log.Warn().
			Err(err).
			Int("attempt", i+1).
			Dur("retry_delay", retryDelay).
			Msg("Failed to connect to RabbitMQ, retrying...")

		select {
		case <-time.After(retryDelay):
		case <-ctx.Done():
			return nil, fmt.Errorf("connecting to RabbitMQ: %w", ctx.Err())
		}
		retryDelay *= 2
	}

	return nil, fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", maxRetries, err)
}

// Publish publishes a task to the queue
func (c *RabbitMQClient) Publish(ctx context.Context, task queue.Task) error {
	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("error marshaling task: %w", err)
	}

	err = c.channel.PublishWithContext(
		ctx,
		c.exchangeName, // exchange
		c.routingKey,   // routing key
		false,          // mandatory
		false,          // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    task.ID,
			Timestamp:    task.CreatedAt,
			Type:         task.Type,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("error publishing message: %w", err)
	}

	c.logger.Debug().
		Str("task_id", task.ID).
		Str("task_type", task.Type).
		Msg("Task published")

	if depth, err := c.Depth(); err == nil {
		metrics.UpdateQueueDepth(depth)
	}

	return nil
}

// Consume starts consuming tasks from the queue
func (c *RabbitMQClient) Consume(ctx context.Context, processFunc queue.ProcessFunc) error {
	messages, err := c.channel.Consume(
		c.queueName,   // queue
		c.consumerTag, // consumer
		false,         // auto-ack
		false,         // exclusive
		false,         // no-local
		false,         // no-wait
		nil,           // args
	)
	if err != nil {
		return fmt.Errorf("error consuming from queue: %w", err)
	}

	c.logger.Info().
		Str("queue", c.queueName).
		Str("consumer_tag", c.consumerTag).
		Msg("Started consuming messages")

	// Deliveries are handled one at a time so runs never overlap
	go func() {
		for {
			select {
			case msg, ok := <-messages:
				if !ok {
					c.logger.Warn().Msg("RabbitMQ channel closed")
					return
				}

				c.logger.Debug().
					Str("delivery_tag", fmt.Sprintf("%d", msg.DeliveryTag)).
					Msg("Received message")

				c.handleDelivery(ctx, msg, processFunc)

			case <-ctx.Done():
				c.logger.Info().Msg("Stopping consumer due to context cancellation")
				return
			}
		}
	}()

	return nil
}

func (c *RabbitMQClient) handleDelivery(ctx context.Context, msg amqp.Delivery, processFunc queue.ProcessFunc) {
	log := c.logger.With().Str("delivery_tag", fmt.Sprintf("%d", msg.DeliveryTag)).Logger()

	err := c.processMessage(ctx, msg, processFunc)
	switch {
	case errors.Is(err, queue.ErrInvalidTask):
		log.Error().Err(err).Msg("Dropping invalid message")
		// requeueing would redeliver it forever
		if err := msg.Nack(false, false); err != nil {
			log.Error().Err(err).Msg("Error negatively acknowledging message")
		}
	case err != nil:
		log.Error().Err(err).Msg("Error processing message")
		if err := msg.Nack(false, true); err != nil {
			log.Error().Err(err).Msg("Error negatively acknowledging message")
		}
	default:
		if err := msg.Ack(false); err != nil {
			log.Error().Err(err).Msg("Error acknowledging message")
		}
	}
}

func (c *RabbitMQClient) processMessage(ctx context.Context, msg amqp.Delivery, processFunc queue.ProcessFunc) error {
	task, err := queue.Decode(msg.Body)
	if err != nil {
		return err
	}

	c.logger.Debug().
		Str("task_id", task.ID).
		Str("task_type", task.Type).
		Bool("redelivered", msg.Redelivered).
		Msg("Processing task")

	err = processFunc(ctx, task)
	if err != nil {
		return fmt.Errorf("error processing task: %w", err)
	}

	c.logger.Debug().
		Str("task_id", task.ID).
		Str("task_type", task.Type).
		Msg("Task processed successfully")

	return nil
}

// Depth returns the number of ready messages in the queue
func (c *RabbitMQClient) Depth() (int, error) {
	q, err := c.channel.QueueDeclarePassive(c.queueName, true, false, false, false, nil)
	if err != nil {
		return 0, fmt.Errorf("error inspecting queue: %w", err)
	}
	return q.Messages, nil
}

// Close closes the RabbitMQ connection
func (c *RabbitMQClient) Close() error {
	var err error
	var channelErr, connErr error

	if c.channel != nil {
		channelErr = c.channel.Close()
	}

	if c.conn != nil {
		connErr = c.conn.Close()
	}

	if channelErr != nil {
		err = errors.Join(err, fmt.Errorf("error closing channel: %w", channelErr))
	}
	if connErr != nil {
		err = errors.Join(err, fmt.Errorf("error closing connection: %w", connErr))
	}

	if err != nil {
		return err
	}

	c.logger.Info().Msg("RabbitMQ client closed")
	return nil
}
