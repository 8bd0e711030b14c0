// Package main runs a headless chat session: it mirrors one user's
// conversations from the API and keeps them current from the event stream.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-platform/internal/apiclient"
	"github.com/capitalize-ai/chat-platform/internal/clientstore"
	"github.com/capitalize-ai/chat-platform/internal/events"
	"github.com/capitalize-ai/chat-platform/internal/listener"
	"github.com/capitalize-ai/chat-platform/internal/middleware"
	"github.com/capitalize-ai/chat-platform/internal/model"
	natsclient "github.com/capitalize-ai/chat-platform/internal/nats"
	redisbus "github.com/capitalize-ai/chat-platform/internal/redis"
	"github.com/capitalize-ai/chat-platform/pkg/logger"
)

type options struct {
	apiURL   string
	token    string
	secret   string
	userID   string
	source   string
	natsURL  string
	redisURL string
	open     string
	interval time.Duration
	logLevel string
}

func main() {
	var opts options
	flag.StringVar(&opts.apiURL, "api", envOr("CHAT_API_URL", "http://localhost:8080"), "chat API base URL")
	flag.StringVar(&opts.token, "token", os.Getenv("CHAT_TOKEN"), "bearer token")
	flag.StringVar(&opts.secret, "jwt-secret", os.Getenv("JWT_SECRET"), "sign a token for -user with this secret instead of -token")
	flag.StringVar(&opts.userID, "user", os.Getenv("CHAT_USER"), "session user id")
	flag.StringVar(&opts.source, "source", "sse", "event source: sse, nats or redis")
	flag.StringVar(&opts.natsURL, "nats-url", envOr("NATS_URL", "nats://localhost:4222"), "NATS server URL")
	flag.StringVar(&opts.redisURL, "redis-url", envOr("REDIS_URL", "redis://localhost:6379/0"), "Redis URL")
	flag.StringVar(&opts.open, "open", "", "conversation id to keep open")
	flag.DurationVar(&opts.interval, "interval", 5*time.Second, "summary print interval")
	flag.StringVar(&opts.logLevel, "log-level", "warn", "log level")
	flag.Parse()

	log, err := logger.New(opts.logLevel, logger.FormatConsole)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, opts, log); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, log *logger.Logger) error {
	if opts.userID == "" {
		return fmt.Errorf("-user is required")
	}
	if opts.token == "" && opts.secret != "" {
		tok, err := middleware.IssueToken(opts.secret, opts.userID, nil, 24*time.Hour)
		if err != nil {
			return fmt.Errorf("sign token: %w", err)
		}
		opts.token = tok
	}
	if opts.token == "" {
		return fmt.Errorf("-token or -jwt-secret is required")
	}

	client := apiclient.New(opts.apiURL, opts.token, apiclient.WithLogger(log))
	store := clientstore.New(opts.userID)
	actions := clientstore.NewActions(client, store, log)

	sub, closeSource, err := openSource(ctx, opts, client, log)
	if err != nil {
		return err
	}
	defer closeSource()

	// Subscribe before loading so nothing published in between is missed.
	if err := listener.New(sub, store, client, log).Start(ctx); err != nil {
		return err
	}
	if _, err := actions.LoadConversations(ctx); err != nil {
		return err
	}
	if _, err := actions.LoadChannels(ctx, false); err != nil {
		return err
	}
	if opts.open != "" {
		if _, err := actions.Open(ctx, opts.open, model.MessageQuery{}); err != nil {
			return err
		}
	}

	log.Info("session ready",
		zap.String("user_id", opts.userID),
		zap.String("source", opts.source),
		zap.Int("conversations", len(store.List())))

	ticker := time.NewTicker(opts.interval)
	defer ticker.Stop()
	for {
		printSummary(os.Stdout, store)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func openSource(ctx context.Context, opts options, client *apiclient.Client, log *logger.Logger) (events.Subscriber, func(), error) {
	switch opts.source {
	case "sse":
		return client, func() {}, nil

	case "nats":
		nc, err := natsclient.Connect(ctx, natsclient.Config{URL: opts.natsURL, Name: "chat-listen"}, log)
		if err != nil {
			return nil, nil, err
		}
		stream := natsclient.NewEventStream(nc, log)
		return stream, func() { stream.Close() }, nil

	case "redis":
		rc, err := redisbus.Connect(ctx, opts.redisURL)
		if err != nil {
			return nil, nil, err
		}
		bus := redisbus.NewBus(rc, log)
		return bus, func() { bus.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown event source %q", opts.source)
	}
}

func printSummary(w io.Writer, store *clientstore.Store) {
	bold := color.New(color.Bold).SprintFunc()
	unread := color.New(color.FgYellow).SprintFunc()
	mention := color.New(color.FgRed, color.Bold).SprintFunc()

	entries := store.List()
	fmt.Fprintf(w, "%s %s\n", bold(time.Now().Format(time.TimeOnly)), color.HiBlackString("(%d conversations)", len(entries)))
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, e := range entries {
		marker := " "
		if e.Conversation.ID == store.Active() {
			marker = "*"
		}
		counts := ""
		if e.Unread > 0 {
			counts = unread(fmt.Sprintf("%d new", e.Unread))
		}
		if e.Mentions > 0 {
			counts += " " + mention(fmt.Sprintf("@%d", e.Mentions))
		}
		fmt.Fprintf(tw, "%s %s\t%s\t%s\t%s\n", marker, e.Conversation.ID, title(e.Conversation), counts, e.Preview)
	}
	tw.Flush()
}

func title(c *model.Conversation) string {
	if c.Name != nil && *c.Name != "" {
		return *c.Name
	}
	if c.Topic.Value != "" {
		return string(c.Type) + ": " + c.Topic.Value
	}
	return string(c.Type)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
