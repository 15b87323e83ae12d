// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/luxfi/database"
	"github.com/luxfi/database/badgerdb"
	"github.com/luxfi/database/corruptabledb"
	"github.com/luxfi/database/memdb"
	"github.com/luxfi/log"
	"github.com/luxfi/metric"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/luxfi/abciapp/api"
	"github.com/luxfi/abciapp/app"
	"github.com/luxfi/abciapp/config"
	"github.com/luxfi/abciapp/executor"
	"github.com/luxfi/abciapp/metrics"
	"github.com/luxfi/abciapp/server"
	"github.com/luxfi/abciapp/state"
)

type flags struct {
	dataDir       string
	listenAddr    string
	httpAddr      string
	ephemeral     bool
	blockGasLimit uint64
	commitTimeout time.Duration
	retainBlocks  uint64
}

func newCommand() *cobra.Command {
	f := &flags{}
	cmd := &cobra.Command{
		Use:   app.Name,
		Short: "Runs the consensus application node",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, f)
		},
	}

	cmd.Flags().StringVar(&f.dataDir, "data-dir", defaultDataDir(), "directory for durable state")
	cmd.Flags().StringVar(&f.listenAddr, "listen-addr", "127.0.0.1:26658", "address the consensus engine connects to")
	cmd.Flags().StringVar(&f.httpAddr, "http-addr", "127.0.0.1:26659", "address of the read-only JSON-RPC API")
	cmd.Flags().BoolVar(&f.ephemeral, "ephemeral", false, "keep state in memory only, for development")
	defaults := config.DefaultConfig()
	cmd.Flags().Uint64Var(&f.blockGasLimit, "block-gas-limit", defaults.BlockGasLimit, "gas capacity of one block")
	cmd.Flags().DurationVar(&f.commitTimeout, "commit-timeout", defaults.CommitTimeout, "durable commit deadline")
	cmd.Flags().Uint64Var(&f.retainBlocks, "retain-blocks", defaults.RetainBlocks, "blocks the engine is hinted to retain, 0 retains all")
	return cmd
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".abciapp"
	}
	return home + "/.abciapp"
}

func run(cmd *cobra.Command, f *flags) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := log.NewLogger(app.Name)

	var db database.Database
	if f.ephemeral {
		db = memdb.New()
		logger.Warn("running with ephemeral state")
	} else {
		badger, err := badgerdb.New(f.dataDir, nil, "", nil)
		if err != nil {
			return fmt.Errorf("opening database at %s: %w", f.dataDir, err)
		}
		db = corruptabledb.New(badger, logger)
	}

	registry := metric.NewRegistry()
	m, err := metrics.New(registry)
	if err != nil {
		return err
	}

	cfg := config.Config{
		BlockGasLimit: f.blockGasLimit,
		CommitTimeout: f.commitTimeout,
		RetainBlocks:  f.retainBlocks,
	}
	st := state.New(db, logger)
	committer := state.NewCommitter(st, logger, cfg.CommitTimeout)
	application := app.New(cfg, st, committer, executor.NewRegistry(), logger, m)
	if err := application.Initialize(ctx); err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}

	apiHandler, err := api.NewHandler(logger, st, m, "abci")
	if err != nil {
		return err
	}
	httpServer := &http.Server{
		Addr:              f.httpAddr,
		Handler:           apiHandler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return server.New(application, logger).Serve(ctx, f.listenAddr)
	})
	eg.Go(func() error {
		logger.Info("API listening", log.String("addr", f.httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		return httpServer.Close()
	})

	err = eg.Wait()
	if closeErr := st.Close(); err == nil {
		err = closeErr
	}
	logger.Info("node stopped", log.Err(err))
	return err
}

func main() {
	if err := newCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
