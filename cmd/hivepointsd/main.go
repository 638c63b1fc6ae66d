// Command hivepointsd runs the chain indexer, the hourly points job and
// the read API as a single process.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/hiveswap/hive-points/internal/accrual"
	"github.com/hiveswap/hive-points/internal/api"
	"github.com/hiveswap/hive-points/internal/indexer"
	"github.com/hiveswap/hive-points/internal/rpc"
	"github.com/hiveswap/hive-points/internal/scheduler"
	"github.com/hiveswap/hive-points/internal/store"
	"github.com/hiveswap/hive-points/pkg/config"
	"github.com/hiveswap/hive-points/pkg/decoder"
)

func main() {
	root := &cobra.Command{
		Use:          "hivepointsd",
		Short:        "MAP Protocol liquidity and bridge points daemon",
		SilenceUsage: true,
		RunE:         run,
	}

	root.Flags().String("config", "", "config file path (default: ./config.yaml)")
	root.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	level, _ := cmd.Flags().GetString("log-level")
	initLogger(level)

	cfgPath, _ := cmd.Flags().GetString("config")
	if cfgPath != "" {
		viper.SetConfigFile(cfgPath)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/hivepoints")
	}
	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("reading config: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info().
		Str("name", cfg.Name).
		Str("network", cfg.Network).
		Uint64("chain_id", cfg.ChainID).
		Str("config", viper.ConfigFileUsed()).
		Msg("configuration loaded")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	storeCfg := store.DefaultConfig()
	storeCfg.DSN = cfg.Database
	st, err := store.New(storeCfg)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	if err := st.Migrate(); err != nil {
		return fmt.Errorf("migrating schema: %w", err)
	}

	rpcCfg := rpc.DefaultConfig()
	rpcCfg.URL = cfg.RPCURL
	rpcCfg.Proxy = cfg.HTTPSProxy
	rpcCfg.ChainID = cfg.ChainID
	rpcCfg.MaxRetries = cfg.Sync.MaxRetries
	client, err := rpc.New(ctx, rpcCfg)
	if err != nil {
		return fmt.Errorf("dialing rpc: %w", err)
	}
	defer client.Close()

	dec, err := decoder.New()
	if err != nil {
		return fmt.Errorf("building decoder: %w", err)
	}

	idx, err := indexer.New(ctx, cfg, client, st, dec)
	if err != nil {
		return fmt.Errorf("building indexer: %w", err)
	}

	job := accrual.New(st, accrual.Config{
		PointsPerHour:    decimal.NewFromInt(cfg.Points.PerHour),
		PointsStartTime:  cfg.Points.StartTime,
		NewRuleValidTime: cfg.Points.NewRuleValidTime,
		RetryAttempts:    cfg.Sync.MaxRetries,
		RetryDelay:       cfg.Sync.RetryDelay,
	})

	sched := scheduler.New(ctx)
	if err := sched.Add("accrual", scheduler.HourlySpec, job.Run); err != nil {
		return fmt.Errorf("scheduling accrual: %w", err)
	}

	cfg.Watch(func(next *config.Config) {
		log.Info().
			Int("max_retries", next.Sync.MaxRetries).
			Dur("poll_interval", next.PollInterval).
			Msg("configuration reloaded")
	})

	apiSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.APIPort),
		Handler: api.New(st).Router(),
	}
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.MetricsPort),
		Handler: metricsMux,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return idx.Run(ctx)
	})

	g.Go(func() error {
		// Run one accrual pass at startup to drain any ticks missed
		// while the process was down, then hand over to the scheduler.
		if err := job.Run(ctx); err != nil {
			log.Error().Err(err).Msg("startup accrual pass failed")
		}
		sched.Start()
		<-ctx.Done()
		sched.Stop()
		return ctx.Err()
	})

	g.Go(func() error {
		log.Info().Str("addr", apiSrv.Addr).Msg("read API listening")
		if err := apiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		log.Info().Str("addr", metricsSrv.Addr).Msg("metrics listening")
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := apiSrv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("api shutdown")
		}
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("metrics shutdown")
		}
		return nil
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		log.Info().Msg("shutdown complete")
		return nil
	}
	return err
}

func initLogger(level string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
}
