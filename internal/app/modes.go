package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/swivlabs/swiv-engine/internal/notify"
	"github.com/swivlabs/swiv-engine/internal/server"
	"github.com/swivlabs/swiv-engine/internal/server/handler"
	"github.com/swivlabs/swiv-engine/internal/server/ws"
)

// ServerMode runs the HTTP + WebSocket API.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies, svcs *services) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, svcs)
	return g.Wait()
}

// WorkerMode runs the background event consumer without the HTTP surface.
// It tails the engine event feed and writes each event to the log, which is
// the audit trail in deployments where another process serves the API.
func (a *App) WorkerMode(ctx context.Context, deps *Dependencies, svcs *services) error {
	a.logger.InfoContext(ctx, "starting worker mode")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.runEventLog(ctx, deps)
	})
	return g.Wait()
}

// FullMode runs the API server and the background event consumer in one
// process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies, svcs *services) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, svcs)
	g.Go(func() error {
		return a.runEventLog(ctx, deps)
	})
	return g.Wait()
}

// startHTTPServer registers the API handlers, attaches the WebSocket hub,
// and launches the listener plus a context-driven graceful shutdown.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, svcs *services) {
	if !a.cfg.Server.Enabled {
		a.logger.InfoContext(ctx, "HTTP server disabled by config")
		return
	}

	health := handler.NewHealthHandler(a.logger)
	for name, ping := range deps.Pingers {
		health.WithDependency(name, ping)
	}

	handlers := server.Handlers{
		Health:   health,
		Protocol: handler.NewProtocolHandler(svcs.Protocol, a.logger),
		Pools:    handler.NewPoolHandler(svcs.Primary, svcs.Settlement, svcs.Delegation, a.logger),
		Bets: handler.NewBetHandler(
			svcs.Primary, svcs.Delegated, svcs.Settlement, svcs.Delegation, a.logger,
		),
	}

	hub := ws.NewHub(deps.Events, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.AuthToken,
	}, handlers, hub, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// runEventLog tails the engine event feed until the context is cancelled.
// Each event is written to the log; when alert channels are configured the
// event is also announced through them.
func (a *App) runEventLog(ctx context.Context, deps *Dependencies) error {
	notifier := a.buildNotifier()

	events, err := deps.Events.Subscribe(ctx)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			a.logger.InfoContext(ctx, "event",
				slog.String("id", ev.ID),
				slog.String("type", string(ev.Type)),
				slog.String("pool", ev.Pool.Hex()),
				slog.String("bet", ev.Bet.Hex()),
				slog.String("actor", ev.Actor.Hex()),
			)
			if notifier != nil {
				if err := notifier.Announce(ctx, ev); err != nil {
					a.logger.WarnContext(ctx, "event announcement failed",
						slog.String("id", ev.ID),
						slog.String("error", err.Error()),
					)
				}
			}
		}
	}
}

// buildNotifier assembles the alert channels from config. Returns nil when
// notifications are disabled or no channel has credentials.
func (a *App) buildNotifier() *notify.Notifier {
	if !a.cfg.Notify.Enabled {
		return nil
	}
	var senders []notify.Sender
	if a.cfg.Notify.TelegramToken != "" && a.cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(a.cfg.Notify.TelegramToken, a.cfg.Notify.TelegramChatID))
	}
	if a.cfg.Notify.DiscordWebhook != "" {
		senders = append(senders, notify.NewDiscordSender(a.cfg.Notify.DiscordWebhook))
	}
	if len(senders) == 0 {
		return nil
	}
	return notify.NewNotifier(senders, a.cfg.Notify.Events, a.logger)
}
