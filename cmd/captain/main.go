package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/websocket"

	"captain/internal/clock"
	"captain/internal/config"
	"captain/internal/models"
	"captain/internal/notify"
	"captain/internal/remote"
	"captain/internal/session"
	"captain/internal/storage"
	"captain/internal/transport"
	"captain/pkg/cache"
	"captain/pkg/logger"
)

func main() {
	var (
		mock         = flag.Bool("mock", false, "use the in-process simulated server")
		conversation = flag.String("conversation", "", "conversation id (overrides CAPTAIN_CONVERSATION_ID)")
		token        = flag.String("token", "", "bearer token (overrides CAPTAIN_TOKEN)")
		serverURL    = flag.String("server", "", "websocket url (overrides CAPTAIN_SERVER_URL)")
		apiURL       = flag.String("api", "", "REST base url (overrides CAPTAIN_API_BASE_URL)")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	overrideString(&cfg.Client.ConversationID, *conversation)
	overrideString(&cfg.Client.Token, *token)
	overrideString(&cfg.Client.ServerURL, *serverURL)
	overrideString(&cfg.Client.APIBaseURL, *apiURL)

	log, err := logger.NewLogger(&logger.Config{
		Level:   logger.LogLevel(cfg.App.LogLevel),
		Format:  cfg.App.LogFormat,
		Output:  "stderr",
		AppName: "captain",
		Version: cfg.App.Version,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *mock, log); err != nil {
		log.WithError(err).Error("Client stopped with error")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, mock bool, log *logger.Logger) error {
	store, closeStore, err := newStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	clk := clock.New()
	tr, rem, err := newBackend(cfg.Client, mock, store, clk, log)
	if err != nil {
		return err
	}

	self := models.Sender(cfg.Client.Party)
	if !self.IsValid() {
		return fmt.Errorf("invalid party %q", cfg.Client.Party)
	}

	sess := session.New(tr, rem, session.Config{
		Self:                  self,
		ConversationID:        cfg.Client.ConversationID,
		FlushOnReconnect:      cfg.Client.FlushOnReconnect,
		BannerTimeout:         cfg.Client.BannerTimeout,
		SyncInterval:          cfg.Client.SyncInterval,
		SyncTimeout:           cfg.Client.SyncTimeout,
		NotificationRetention: cfg.Client.NotificationRetention,
		TypingIdleTimeout:     cfg.Client.TypingIdleTimeout,
		TypingRemoteTimeout:   cfg.Client.TypingRemoteTimeout,
		Store:                 store,
		Clock:                 clk,
	}, log)
	defer sess.Close()

	console := newConsole(os.Stdout, self)
	console.attach(sess)

	if err := sess.Start(ctx); err != nil {
		console.errorf("connect failed: %v (commands still work offline)", err)
	}
	console.help()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := console.execute(ctx, sess, parseCommand(line)); quit {
				return nil
			}
		}
	}
}

func newStore(ctx context.Context, cfg *config.Config) (storage.Store, func(), error) {
	if cfg.Client.StorageDriver != "redis" {
		return storage.NewMemory(), func() {}, nil
	}

	redisCache, err := cache.NewRedisCache(&cache.RedisConfig{
		Host:         cfg.Redis.Host,
		Port:         cfg.Redis.Port,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
		KeyPrefix:    cfg.Redis.KeyPrefix,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return storage.NewRedis(redisCache), func() { redisCache.Close() }, nil
}

func newBackend(cfg *config.ClientConfig, mock bool, store storage.Store, clk clock.Clock, log *logger.Logger) (transport.Transport, notify.Remote, error) {
	if mock {
		opts := transport.DefaultMockOptions()
		opts.Peer = models.Sender(cfg.Party).Peer()
		simulated := remote.DefaultSimulatedOptions()
		simulated.Store = store
		simulated.Clock = clk
		return transport.NewMock(opts, clk, log), remote.NewSimulated(simulated, log), nil
	}

	wsURL, err := url.Parse(cfg.ServerURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid server url: %w", err)
	}
	if cfg.ConversationID != "" {
		query := wsURL.Query()
		query.Set("conversation_id", cfg.ConversationID)
		wsURL.RawQuery = query.Encode()
	}

	header := http.Header{}
	if cfg.Token != "" {
		header.Set("Authorization", "Bearer "+cfg.Token)
	}

	tr := transport.NewWebSocket(transport.WebSocketOptions{
		URL:                  wsURL.String(),
		Header:               header,
		Dialer:               &websocket.Dialer{Proxy: http.ProxyFromEnvironment, HandshakeTimeout: cfg.ConnectTimeout},
		Reconnect:            cfg.Reconnect,
		ReconnectBaseDelay:   cfg.ReconnectBaseDelay,
		ReconnectMaxDelay:    cfg.ReconnectMaxDelay,
		ReconnectMaxAttempts: cfg.ReconnectMaxAttempts,
	}, log)

	client := remote.NewClient(remote.Config{
		BaseURL: cfg.APIBaseURL,
		Token:   cfg.Token,
		Device:  models.Device{Token: "cli-" + cfg.Party, Platform: "web"},
		Timeout: cfg.SyncTimeout,
	}, log)

	return tr, client, nil
}

func overrideString(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}
