package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"line_otp_bot/internal/access"
	"line_otp_bot/internal/config"
	"line_otp_bot/internal/cooldown"
	"line_otp_bot/internal/dispatch"
	"line_otp_bot/internal/health"
	"line_otp_bot/internal/line"
	"line_otp_bot/internal/logging"
	"line_otp_bot/internal/otp"
)

const (
	stateLoadTimeout       = 10 * time.Second
	mongoConnectTimeout    = 10 * time.Second
	mongoDisconnectTimeout = 5 * time.Second
	serverShutdownTimeout  = 10 * time.Second
)

func main() {
	configOnly := flag.Bool("config-only", false, "load and print configuration then exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logging.Error("configuration error", logging.Fields{"error": err})
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.Setup(cfg)
	if err != nil {
		logging.Error("logger setup error", logging.Fields{"error": err})
		fmt.Fprintf(os.Stderr, "logger setup error: %v\n", err)
		os.Exit(1)
	}

	if *configOnly {
		logging.Info("configuration check", logging.Fields{"event": "config_only"})
		fmt.Println("configuration check: ok")
		fmt.Println(config.FormatRedacted(cfg))
		return
	}

	logger.WithFields(logging.Fields{
		"event":   "startup",
		"backend": cfg.PersistBackend,
	}).Info("configuration loaded")

	persister, state, checker, closePersister, err := setupPersistence(cfg, logger)
	if err != nil {
		logger.WithError(err).Error("access state setup error")
		fmt.Fprintf(os.Stderr, "access state setup error: %v\n", err)
		os.Exit(1)
	}

	logger.WithFields(logging.Fields{
		"event":          "access_state_loaded",
		"allowed_users":  len(state.Users),
		"allowed_groups": len(state.Groups),
	}).Info("access state loaded")

	store := access.NewStore(state, persister, logger)

	limiter := cooldown.NewLimiter(cooldown.Window, logger)
	limiterCtx, cancelLimiter := context.WithCancel(context.Background())
	go limiter.Run(limiterCtx)

	otpGenerator, err := otp.NewGenerator(cfg.OTPSecret, logger)
	if err != nil {
		cancelLimiter()
		logger.WithError(err).Error("passcode generator setup error")
		fmt.Fprintf(os.Stderr, "passcode generator setup error: %v\n", err)
		os.Exit(1)
	}

	lineClient, err := line.NewClient(cfg.AccessToken, logger)
	if err != nil {
		cancelLimiter()
		logger.WithError(err).Error("messaging client setup error")
		fmt.Fprintf(os.Stderr, "messaging client setup error: %v\n", err)
		os.Exit(1)
	}

	dispatcher := dispatch.New(store, limiter, lineClient, logger)
	healthHandler := health.NewHandler(checker, logger)

	server, err := line.NewServer(cfg.HTTPPort, cfg.ChannelSecret, logger,
		line.WithDispatcher(dispatcher),
		line.WithMessenger(lineClient),
		line.WithCodeSource(otpGenerator),
		line.WithOwner(store.OwnerID(), store.OwnerName()),
		line.WithHealthHandler(healthHandler),
	)
	if err != nil {
		cancelLimiter()
		logger.WithError(err).Error("webhook server setup error")
		fmt.Fprintf(os.Stderr, "webhook server setup error: %v\n", err)
		os.Exit(1)
	}

	logger.WithField("event", "server_ready").Info("webhook server initialized")

	signalCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.ListenAndServe()
	}()

	select {
	case <-signalCtx.Done():
		logger.WithField("event", "shutdown_signal").Info("received termination signal, stopping webhook server")
	case err := <-serverErr:
		if err != nil {
			logger.WithError(err).Error("webhook server error")
		} else {
			logger.WithField("event", "server_stopped_early").Warn("webhook server stopped before shutdown signal")
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), serverShutdownTimeout)
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("webhook server shutdown error")
	}
	cancelShutdown()

	cancelLimiter()

	if closePersister != nil {
		closeCtx, cancelClose := context.WithTimeout(context.Background(), mongoDisconnectTimeout)
		if err := closePersister(closeCtx); err != nil {
			logger.WithError(err).Error("persistence disconnect error")
		} else {
			logger.WithField("event", "persistence_closed").Info("persistence backend closed")
		}
		cancelClose()
	}

	logger.WithField("event", "shutdown_complete").Info("shutdown complete")
}

// setupPersistence constructs the configured persistence backend and the
// initial access state. The mongo backend seeds itself from the access file
// when the database holds no state document yet.
func setupPersistence(cfg config.Config, logger *logrus.Entry) (access.Persister, access.State, health.StoreChecker, func(context.Context) error, error) {
	filePersister := access.NewFilePersister(cfg.AccessFile)

	if !cfg.UsesMongo() {
		loadCtx, cancel := context.WithTimeout(context.Background(), stateLoadTimeout)
		state, err := filePersister.Load(loadCtx)
		cancel()
		if err != nil {
			return nil, access.State{}, nil, nil, fmt.Errorf("load access file: %w", err)
		}

		return filePersister, state, filePersister, nil, nil
	}

	connectCtx, cancelConnect := context.WithTimeout(context.Background(), mongoConnectTimeout)
	mongoPersister, err := access.NewMongoPersister(connectCtx, cfg.MongoURI, cfg.MongoDB)
	cancelConnect()
	if err != nil {
		return nil, access.State{}, nil, nil, fmt.Errorf("connect mongo: %w", err)
	}

	logger.WithField("event", "mongo_connect").Info("connected to mongo")

	loadCtx, cancelLoad := context.WithTimeout(context.Background(), stateLoadTimeout)
	defer cancelLoad()

	state, err := mongoPersister.Load(loadCtx)
	switch {
	case err == nil:
		return mongoPersister, state, mongoPersister, mongoPersister.Close, nil
	case errors.Is(err, access.ErrNoState):
		seed, seedErr := filePersister.Load(loadCtx)
		if seedErr != nil {
			closeMongo(mongoPersister, logger)
			return nil, access.State{}, nil, nil, fmt.Errorf("seed access state from file: %w", seedErr)
		}

		if persistErr := mongoPersister.Persist(loadCtx, seed); persistErr != nil {
			closeMongo(mongoPersister, logger)
			return nil, access.State{}, nil, nil, fmt.Errorf("write seed access state: %w", persistErr)
		}

		logger.WithField("event", "mongo_seeded").Info("seeded mongo access state from file")
		return mongoPersister, seed, mongoPersister, mongoPersister.Close, nil
	default:
		closeMongo(mongoPersister, logger)
		return nil, access.State{}, nil, nil, fmt.Errorf("load mongo access state: %w", err)
	}
}

func closeMongo(p *access.MongoPersister, logger *logrus.Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), mongoDisconnectTimeout)
	defer cancel()

	if err := p.Close(ctx); err != nil {
		logger.WithError(err).Warn("mongo disconnect error during startup failure")
	}
}
