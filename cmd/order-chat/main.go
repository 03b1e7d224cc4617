package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"chat-order/internal/auth"
	"chat-order/internal/backend"
	"chat-order/internal/cartsync"
	"chat-order/internal/config"
	"chat-order/internal/entity"
	"chat-order/internal/session"
)

func main() {
	app := &cli.App{
		Name:  "order-chat",
		Usage: "order from the chat window",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "authority", Usage: "order authority base URL"},
			&cli.StringFlag{Name: "token", Usage: "bearer token issued to you"},
			&cli.StringFlag{Name: "session", Usage: "chat session id, new if empty"},
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "log debug output to stderr"},
		},
		Action: chatAction,
		Commands: []*cli.Command{
			{
				Name:  "token",
				Usage: "sign a development token with CHAT_JWT_SECRET",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "id", Required: true},
					&cli.StringFlag{Name: "role", Value: string(entity.RoleCustomer)},
					&cli.StringFlag{Name: "name"},
					&cli.DurationFlag{Name: "ttl", Value: 24 * time.Hour},
				},
				Action: tokenAction,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(c *cli.Context) (config.Client, error) {
	cfg, err := config.LoadClient()
	if err != nil {
		return cfg, err
	}
	if c.IsSet("authority") {
		cfg.AuthorityURL = c.String("authority")
	}
	if c.IsSet("token") {
		cfg.Token = c.String("token")
	}
	if c.IsSet("session") {
		cfg.SessionID = c.String("session")
	}
	return cfg, nil
}

func chatAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if cfg.Token == "" {
		return errors.New("no token: pass --token or set CHAT_TOKEN")
	}
	claims, err := auth.Peek(cfg.Token)
	if err != nil {
		return fmt.Errorf("unusable token: %w", err)
	}
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.NewString()
	}

	level := zerolog.WarnLevel
	if c.Bool("verbose") {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()

	client := backend.New(cfg.AuthorityURL, cfg.Token, cfg.Timeout)
	s, err := session.New(client, cfg.SessionID, claims.Actor(), session.Config{
		HintSize:       cfg.HintSize,
		PricingTimeout: cfg.Timeout,
		Sync: cartsync.Config{
			Timeout:        cfg.Timeout,
			MaxAttempts:    cfg.SyncAttempts,
			InitialBackoff: cfg.SyncBackoff,
			MaxBackoff:     cfg.SyncMaxBackoff,
		},
	}, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	// sync outlives the prompt so the final flush can still push
	syncCtx, stopSync := context.WithCancel(context.Background())

	g := new(errgroup.Group)
	g.Go(func() error {
		if err := s.Run(syncCtx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	if err := s.LoadProducts(ctx); err != nil {
		log.Warn().Err(err).Msg("Catalog unavailable, try products again later")
	}
	fmt.Fprintf(os.Stdout, "session %s as %s %s, type help for commands\n", s.ID(), claims.Role, claims.Subject)

	r := &repl{chat: s, out: os.Stdout}
	loopErr := r.Loop(ctx, os.Stdin)

	// give the last cart edit a chance to reach the authority
	flushCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	if err := s.Flush(flushCtx); err != nil {
		log.Warn().Err(err).Msg("Cart not synced before exit")
	}
	cancel()
	stopSync()

	if err := g.Wait(); err != nil {
		return err
	}
	if errors.Is(loopErr, context.Canceled) {
		return nil
	}
	return loopErr
}

func tokenAction(c *cli.Context) error {
	cfg, err := config.LoadClient()
	if err != nil {
		return err
	}
	if cfg.JWTSecret == "" {
		return errors.New("CHAT_JWT_SECRET is not set")
	}
	actor := entity.Actor{ID: c.String("id"), Role: entity.Role(c.String("role"))}
	token, err := auth.Sign([]byte(cfg.JWTSecret), actor, c.String("name"), c.Duration("ttl"))
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, token)
	return nil
}
