package daemon

import (
	"context"
	"fmt"

	"github.com/matheus3301/chatmail/internal/account"
	"github.com/matheus3301/chatmail/internal/api"
	"github.com/matheus3301/chatmail/internal/bus"
	"github.com/matheus3301/chatmail/internal/calls"
	"github.com/matheus3301/chatmail/internal/config"
	"github.com/matheus3301/chatmail/internal/download"
	"github.com/matheus3301/chatmail/internal/ephemeral"
	"github.com/matheus3301/chatmail/internal/imapsession"
	"github.com/matheus3301/chatmail/internal/lock"
	"github.com/matheus3301/chatmail/internal/logging"
	"github.com/matheus3301/chatmail/internal/outbox"
	"github.com/matheus3301/chatmail/internal/reaction"
	"github.com/matheus3301/chatmail/internal/receive"
	"github.com/matheus3301/chatmail/internal/status"
	"github.com/matheus3301/chatmail/internal/store"
	"github.com/matheus3301/chatmail/internal/syncitems"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Params holds the resolved account configuration passed to the fx module.
type Params struct {
	AccountName string
	LogLevel    zapcore.Level

	// Overrides for testing; zero values use the account's defaults.
	SocketPath string
	Dial       imapsession.Dialer
	Transport  outbox.Transport
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideAccount,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideTransport,
			provideSender,
			provideSyncChannel,
			provideEphemeral,
			provideEphemeralLoop,
			provideReactions,
			provideDownloads,
			provideCalls,
			provideReceiveEngine,
			provideIMAPSession,
			provideAccountService,
			provideChatService,
			provideMessageService,
			provideCallService,
			provideEventService,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideAccount(p Params) (*config.Account, error) {
	path := account.AccountConfigPath(p.AccountName)
	acct, err := config.LoadAccount(path)
	if err != nil {
		return nil, fmt.Errorf("load account %q: %w", p.AccountName, err)
	}
	return acct, nil
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(account.LogPath(p.AccountName), p.AccountName, p.LogLevel)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := account.EnsureDir(p.AccountName); err != nil {
		return nil, err
	}
	logger.Info("acquiring account lock", zap.String("account", p.AccountName))
	l, err := lock.Acquire(account.Dir(p.AccountName))
	if err != nil {
		return nil, err
	}
	logger.Info("account lock acquired")
	return l, nil
}

// provideStore depends on the lock so the database is never opened by two
// daemons.
func provideStore(p Params, acct *config.Account, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := account.DBPath(p.AccountName)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	if err := db.SetSelfAddr(acct.Addr); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideTransport(p Params, acct *config.Account) outbox.Transport {
	if p.Transport != nil {
		return p.Transport
	}
	return outbox.NewSMTPTransport(outbox.SMTPConfig{
		Host:     acct.SMTP.Host,
		Port:     acct.SMTP.Port,
		Username: acct.SMTP.Username,
		Password: acct.SMTP.Password,
		StartTLS: *acct.SMTP.StartTLS,
	})
}

func provideSender(db *store.DB, t outbox.Transport, b *bus.Bus, acct *config.Account, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(db, t, b, outbox.Identity{
		Addr:        acct.Addr,
		DisplayName: acct.DisplayName,
		Domain:      acct.Domain(),
		BccSelf:     *acct.BccSelf,
	}, logger.Named("outbox"))
}

func provideSyncChannel(db *store.DB, sender *outbox.Sender, logger *zap.Logger) *syncitems.Channel {
	return syncitems.NewChannel(db, sender, logger.Named("sync"))
}

func provideEphemeral(db *store.DB, b *bus.Bus, sender *outbox.Sender, acct *config.Account, logger *zap.Logger) *ephemeral.Service {
	return ephemeral.NewService(db, b, sender, ephemeral.Retention{
		DeleteServerAfter: acct.DeleteServerAfter,
		DeleteDeviceAfter: acct.DeleteDeviceAfter,
	}, logger.Named("ephemeral"))
}

func provideEphemeralLoop(svc *ephemeral.Service, sender *outbox.Sender, logger *zap.Logger) *ephemeral.Loop {
	loop := ephemeral.NewLoop(svc, nil, logger.Named("ephemeral"))
	sender.SetScheduler(loop)
	return loop
}

func provideReactions(db *store.DB, b *bus.Bus, sender *outbox.Sender, logger *zap.Logger) *reaction.Service {
	return reaction.NewService(db, b, sender, logger.Named("reaction"))
}

func provideDownloads(db *store.DB, b *bus.Bus, logger *zap.Logger) *download.Service {
	return download.NewService(db, b, nil, logger.Named("download"))
}

func provideCalls(db *store.DB, b *bus.Bus, sender *outbox.Sender, ch *syncitems.Channel, logger *zap.Logger) *calls.Manager {
	return calls.NewManager(db, b, sender, ch, nil, logger.Named("calls"))
}

func provideReceiveEngine(db *store.DB, b *bus.Bus, reactions *reaction.Service, m *calls.Manager, timers *ephemeral.Service, loop *ephemeral.Loop, logger *zap.Logger) *receive.Engine {
	return receive.NewEngine(db, b, reactions, m, timers, loop, logger.Named("receive"))
}

// provideIMAPSession builds the session and hands it to every component
// that wakes the inbox loop.
func provideIMAPSession(p Params, acct *config.Account, db *store.DB, b *bus.Bus, engine *receive.Engine, downloads *download.Service, m *calls.Manager, loop *ephemeral.Loop, machine *status.Machine, logger *zap.Logger) *imapsession.Session {
	dial := p.Dial
	if dial == nil {
		dial = imapsession.NewDialer(imapsession.Config{
			Host:     acct.IMAP.Host,
			Port:     acct.IMAP.Port,
			TLS:      *acct.IMAP.TLS,
			Username: acct.IMAP.Username,
			Password: acct.IMAP.Password,
			Folder:   acct.IMAP.Folder,
		})
	}
	s := imapsession.New(dial, imapsession.Options{
		Folder:        acct.IMAP.Folder,
		PollInterval:  acct.IMAP.PollInterval.Duration,
		DownloadLimit: acct.DownloadLimit,
	}, db, b, engine, downloads, machine, logger.Named("imap"))
	downloads.SetInterrupter(s)
	m.SetInterrupter(s)
	loop.SetInterrupter(s)
	return s
}

func provideAccountService(p Params, m *status.Machine, b *bus.Bus, db *store.DB) *api.AccountService {
	return api.NewAccountService(p.AccountName, m, b, db)
}

func provideChatService(db *store.DB, timers *ephemeral.Service) *api.ChatService {
	return api.NewChatService(db, timers)
}

func provideMessageService(db *store.DB, sender *outbox.Sender, reactions *reaction.Service, downloads *download.Service) *api.MessageService {
	return api.NewMessageService(db, sender, reactions, downloads)
}

func provideCallService(m *calls.Manager) *api.CallService {
	return api.NewCallService(m)
}

func provideEventService(p Params, b *bus.Bus) *api.EventService {
	return api.NewEventService(b, p.AccountName)
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, lk *lock.Lock, db *store.DB, sender *outbox.Sender, loop *ephemeral.Loop, session *imapsession.Session, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			sender.Start(context.Background())
			loop.Start(context.Background())
			session.Start(context.Background())
			return nil
		},
		OnStop: func(ctx context.Context) error {
			srv.Stop(ctx)
			session.Stop()
			loop.Stop()
			sender.Stop()
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
