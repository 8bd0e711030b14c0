package apiclient

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-platform/internal/events"
)

const maxEventSize = 1 << 20

type backoffConfig struct {
	initial time.Duration
	max     time.Duration
}

func defaultBackoff() backoffConfig {
	return backoffConfig{initial: 500 * time.Millisecond, max: 30 * time.Second}
}

func (b backoffConfig) new(ctx context.Context) backoff.BackOffContext {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = b.initial
	exp.MaxInterval = b.max
	exp.MaxElapsedTime = 0
	return backoff.WithContext(exp, ctx)
}

// Subscribe streams topic from GET /api/v1/events until ctx is cancelled,
// reconnecting with exponential backoff when the stream drops. The first
// connection is made before Subscribe returns.
func (c *Client) Subscribe(ctx context.Context, topic events.Topic, h events.Handler) error {
	body, err := c.openStream(ctx, topic)
	if err != nil {
		return err
	}
	go c.consume(ctx, topic, h, body)
	return nil
}

func (c *Client) consume(ctx context.Context, topic events.Topic, h events.Handler, body io.ReadCloser) {
	log := c.logger.With(zap.String("topic", string(topic)))
	for {
		err := readStream(ctx, body, func(e *events.Event) {
			if e.Topic != topic {
				return
			}
			if err := h(ctx, e); err != nil {
				log.Warn("event handler failed", zap.String("event_id", e.ID), zap.Error(err))
			}
		})
		body.Close()
		if ctx.Err() != nil {
			return
		}
		log.Warn("event stream interrupted", zap.Error(err))

		err = backoff.RetryNotify(func() error {
			var err error
			body, err = c.openStream(ctx, topic)
			var apiErr *APIError
			if errors.As(err, &apiErr) && apiErr.StatusCode < http.StatusInternalServerError {
				return backoff.Permanent(err)
			}
			return err
		}, c.backoff.new(ctx), func(err error, wait time.Duration) {
			log.Debug("reconnecting event stream", zap.Duration("wait", wait), zap.Error(err))
		})
		if err != nil {
			if ctx.Err() == nil {
				log.Error("giving up on event stream", zap.Error(err))
			}
			return
		}
	}
}

func (c *Client) openStream(ctx context.Context, topic events.Topic) (io.ReadCloser, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/events", url.Values{"topics": {string(topic)}}, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("open event stream: %w", err)
	}
	if err := checkResponse(resp); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp.Body, nil
}

// readStream parses server-sent events and hands every bus event to fn.
// Control events such as connected and comment lines are skipped.
func readStream(ctx context.Context, r io.Reader, fn func(*events.Event)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64<<10), maxEventSize)

	var name string
	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if name != "" && data.Len() > 0 && events.Topic(name).Valid() {
				if e, err := events.Unmarshal([]byte(data.String())); err == nil {
					fn(e)
				}
			}
			name = ""
			data.Reset()
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return io.EOF
}
