// Package cli – командная строка менеджера на cobra.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ptrvsrg/crack-hash/internal/config"
	"github.com/ptrvsrg/crack-hash/internal/logger"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "manager",
	Short: "Менеджер распределённого подбора паролей по MD5-хэшу",
	Long: `Менеджер разбивает запрос на подзадачи, раздаёт их воркерам через RabbitMQ
и собирает их отчёты в единый статус задачи.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "путь к config.toml (по умолчанию CONFIG_FILE или ./config.toml)")
}

// Execute запускает корневую команду. Вызывается из main.
func Execute(version string) {
	rootCmd.Version = version

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig читает конфигурацию и выставляет уровень логирования.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, err
	}
	logger.SetLevel(cfg.Logging.Level)
	return cfg, nil
}
