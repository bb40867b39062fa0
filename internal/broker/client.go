// Package broker manages JetStream streams on the broker, connecting as the
// operator-named admin user.
package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/dmitrijs2005/natskeeper/internal/common"
	"github.com/dmitrijs2005/natskeeper/internal/logging"
)

const requestTimeout = 30 * time.Second

// streamManager is the part of jetstream.JetStream used here.
type streamManager interface {
	CreateStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error)
	UpdateStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error)
	DeleteStream(ctx context.Context, name string) error
}

type Client struct {
	nc     *nats.Conn
	js     streamManager
	logger logging.Logger
}

// Dial connects to url with the credentials file at credsPath.
func Dial(ctx context.Context, url, credsPath string, logger logging.Logger) (*Client, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	nc, err := nats.Connect(url,
		nats.UserCredentials(credsPath),
		nats.Name("natskeeper"),
		nats.Timeout(requestTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to broker %s: %w", url, err)
	}
	flushCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	if err := nc.FlushWithContext(flushCtx); err != nil {
		nc.Close()
		return nil, fmt.Errorf("connect to broker %s: %w", url, err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	return &Client{nc: nc, js: js, logger: logging.ForModule(logger, "broker")}, nil
}

func (c *Client) Close() {
	if c.nc != nil {
		c.nc.Close()
	}
}

func (c *Client) CreateStream(ctx context.Context, name string, subjects []string) error {
	if err := validateStream(name, subjects); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	if _, err := c.js.CreateStream(ctx, jetstream.StreamConfig{Name: name, Subjects: subjects}); err != nil {
		return fmt.Errorf("create stream %s: %w", name, err)
	}
	c.logger.Info(ctx, "stream created", "stream", name, "subjects", subjects)
	return nil
}

func (c *Client) UpdateStream(ctx context.Context, name string, subjects []string) error {
	if err := validateStream(name, subjects); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	if _, err := c.js.UpdateStream(ctx, jetstream.StreamConfig{Name: name, Subjects: subjects}); err != nil {
		if errors.Is(err, jetstream.ErrStreamNotFound) {
			return fmt.Errorf("stream %s: %w", name, common.ErrorNotFound)
		}
		return fmt.Errorf("update stream %s: %w", name, err)
	}
	c.logger.Info(ctx, "stream updated", "stream", name, "subjects", subjects)
	return nil
}

// DeleteStream removes the stream. A missing stream is not an error.
func (c *Client) DeleteStream(ctx context.Context, name string) error {
	if name == "" {
		return common.Validationf("stream name must be provided")
	}
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	if err := c.js.DeleteStream(ctx, name); err != nil {
		if errors.Is(err, jetstream.ErrStreamNotFound) {
			return nil
		}
		return fmt.Errorf("delete stream %s: %w", name, err)
	}
	c.logger.Info(ctx, "stream deleted", "stream", name)
	return nil
}

func validateStream(name string, subjects []string) error {
	if name == "" {
		return common.Validationf("stream name must be provided")
	}
	if len(subjects) == 0 {
		return common.Validationf("stream %s needs at least one subject", name)
	}
	return nil
}
