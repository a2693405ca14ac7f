package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/hgartemis3515/Las-Gambusinas-sub000/internal/config"
	"github.com/hgartemis3515/Las-Gambusinas-sub000/internal/diag"
	"github.com/hgartemis3515/Las-Gambusinas-sub000/internal/engine"
	"github.com/hgartemis3515/Las-Gambusinas-sub000/internal/logging"
	"github.com/hgartemis3515/Las-Gambusinas-sub000/internal/queue"
	"github.com/hgartemis3515/Las-Gambusinas-sub000/internal/rest"
	"github.com/hgartemis3515/Las-Gambusinas-sub000/internal/rooms"
	"github.com/hgartemis3515/Las-Gambusinas-sub000/internal/syncer"
	"github.com/hgartemis3515/Las-Gambusinas-sub000/internal/transport"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "gambusinas-sync",
		Short: "Las Gambusinas waitstaff sync client",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClient(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("ws-url", defaults.GetString("server.ws_url"), "Websocket endpoint URL")
	cmd.PersistentFlags().String("rest-url", defaults.GetString("server.rest_url"), "REST API base URL")
	cmd.PersistentFlags().String("token", defaults.GetString("server.token"), "API bearer token")
	cmd.PersistentFlags().String("mozo-id", defaults.GetString("mozo.id"), "Waiter identifier")
	cmd.PersistentFlags().String("queue-path", defaults.GetString("queue.path"), "Offline queue SQLite path")
	cmd.PersistentFlags().Int("queue-capacity", defaults.GetInt("queue.capacity"), "Offline queue capacity")
	cmd.PersistentFlags().String("diag-address", defaults.GetString("diag.address"), "Diagnostics HTTP listen address")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")

	bindFlag(cmd, "server.ws_url", "ws-url")
	bindFlag(cmd, "server.rest_url", "rest-url")
	bindFlag(cmd, "server.token", "token")
	bindFlag(cmd, "mozo.id", "mozo-id")
	bindFlag(cmd, "queue.path", "queue-path")
	bindFlag(cmd, "queue.capacity", "queue-capacity")
	bindFlag(cmd, "diag.address", "diag-address")
	bindFlag(cmd, "log.level", "log-level")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runClient(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := queue.OpenSQLite(appConfig.QueuePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	pendingQueue, err := queue.New(queue.Config{
		Database: db,
		Capacity: appConfig.QueueCapacity,
		Clock:    time.Now,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	sessionID := uuid.NewString()
	header := http.Header{}
	if appConfig.AuthToken != "" {
		header.Set("Authorization", "Bearer "+appConfig.AuthToken)
	}
	if appConfig.MozoID != "" {
		header.Set("X-Mozo-Id", appConfig.MozoID)
	}
	header.Set("X-Session-Id", sessionID)

	eventTransport, err := transport.New(transport.Config{
		URL:            appConfig.WebsocketURL,
		Header:         header,
		InitialBackoff: appConfig.InitialBackoff,
		MaxBackoff:     appConfig.MaxBackoff,
		MaxAttempts:    appConfig.MaxAttempts,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	restClient, err := rest.New(rest.Config{
		BaseURL:   appConfig.RestURL,
		AuthToken: appConfig.AuthToken,
		Timeout:   appConfig.HTTPTimeout,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	stateEngine, err := engine.New(engine.Config{
		Refresher:      restClient,
		DebounceWindow: appConfig.DebounceWindow,
		CacheTTL:       appConfig.CacheTTL,
		Clock:          time.Now,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	membership := rooms.New(eventTransport, logger)

	controller, err := syncer.New(syncer.Config{
		Transport:    eventTransport,
		Queue:        pendingQueue,
		Rooms:        membership,
		Engine:       stateEngine,
		Poller:       restClient,
		Mutator:      restClient,
		PollInterval: appConfig.PollInterval,
		Clock:        time.Now,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	diagServer := &http.Server{
		Addr:    appConfig.DiagAddress,
		Handler: diag.NewRouter(controller, logger),
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	controller.Start(signalCtx)
	logger.Info("sync client started",
		zap.String("ws_url", appConfig.WebsocketURL),
		zap.String("session_id", sessionID))

	errCh := make(chan error, 1)
	go func() {
		logger.Info("diagnostics listening", zap.String("address", appConfig.DiagAddress))
		err := diagServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		controller.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return diagServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		controller.Close()
		return err
	}
}
