package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/spf13/cobra"

	"github.com/ptrvsrg/crack-hash/internal/amqputil"
	"github.com/ptrvsrg/crack-hash/internal/api"
	"github.com/ptrvsrg/crack-hash/internal/balancer"
	"github.com/ptrvsrg/crack-hash/internal/constants"
	"github.com/ptrvsrg/crack-hash/internal/logger"
	"github.com/ptrvsrg/crack-hash/internal/orchestrator"
	"github.com/ptrvsrg/crack-hash/internal/rabbit"
	"github.com/ptrvsrg/crack-hash/internal/sweeper"
)

var (
	serveHost string
	servePort int
	serveNoMQ bool
)

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "адрес HTTP-сервера (перекрывает конфигурацию)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "порт HTTP-сервера (перекрывает конфигурацию)")
	serveCmd.Flags().BoolVar(&serveNoMQ, "no-rabbit", false, "не подключаться к RabbitMQ; отчёты принимаются только по HTTP")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Запустить менеджер: HTTP API, приём результатов и сверку задач",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveHost != "" {
		cfg.Server.Host = serveHost
	}
	if servePort > 0 {
		cfg.Server.Port = servePort
	}
	if serveNoMQ {
		cfg.Rabbit.Enabled = false
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer closeStore(st)

	var (
		opts []orchestrator.Option
		wg   sync.WaitGroup
	)
	startConsumer := func(*orchestrator.Service) {}
	var workers *balancer.RoundRobin
	switch {
	case cfg.Rabbit.Enabled:
		conn, err := amqputil.ConnectRabbitMQ(ctx, cfg.Rabbit.URI, constants.DefaultConnectRetries)
		if err != nil {
			return fmt.Errorf("connect rabbitmq: %w", err)
		}
		defer conn.Close()
		ch, err := amqputil.CreateChannel(ctx, conn, constants.TasksQueue, 0)
		if err != nil {
			return fmt.Errorf("open tasks channel: %w", err)
		}
		opts = append(opts, orchestrator.WithDispatcher(rabbit.NewPublisher(conn, ch, cfg.Rabbit.URI, cfg.Task.Alphabet)))

		startConsumer = func(svc *orchestrator.Service) {
			consumer := rabbit.NewResultConsumer(svc, conn, cfg.Rabbit.URI, cfg.Rabbit.ResultsPrefetch)
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Logf("Manager", "Приём результатов остановлен: %v", err)
					cancel()
				}
			}()
		}
		logger.Log("Manager", "Соединение с RabbitMQ установлено")
	case cfg.Workers.Enabled:
		workers = balancer.NewRoundRobin()
		sendCfg := balancer.DefaultSendConfig()
		sendCfg.MaxRetries = cfg.Workers.SendRetries
		sendCfg.Delay = cfg.Workers.SendDelay
		opts = append(opts, orchestrator.WithDispatcher(balancer.NewDispatcher(workers, nil, cfg.Task.Alphabet, sendCfg)))
		logger.Log("Manager", "Подзадачи раздаются HTTP-воркерам, ожидается их регистрация")
	default:
		logger.Log("Manager", "RabbitMQ отключён: подзадачи только сохраняются")
	}

	svc := orchestrator.New(st, serviceConfig(cfg), opts...)
	startConsumer(svc)

	if cfg.Sweeper.Enabled {
		sw := sweeper.New(svc, cfg.Sweeper.Interval, cfg.Sweeper.Batch)
		wg.Add(1)
		go func() {
			defer wg.Done()
			sw.Run(ctx)
		}()
	}

	apiServer := api.NewServer(svc, cfg.Server.StatusPushInterval)
	if workers != nil {
		apiServer.SetWorkerRegistry(workers)
	}
	httpServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      apiServer.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		// websocket-потоки завершаются вместе с сервисом
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Logf("Manager", "HTTP-сервер слушает %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	logger.Log("Manager", "Сервис запущен")
	select {
	case <-ctx.Done():
	case err = <-serveErr:
	}

	logger.Log("Manager", "Остановка сервиса")
	cancel()
	shutdownCtx, stop := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer stop()
	if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
		logger.Logf("Manager", "Ошибка остановки HTTP-сервера: %v", shutdownErr)
	}
	wg.Wait()
	return err
}
