// Package exporter wires config, logging, scheduler, registry and the HTTP
// server into the script-exporter process.
package exporter

import (
	"context"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/script-exporter/config"
	"github.com/script-exporter/internal/executor"
	"github.com/script-exporter/internal/labels"
	"github.com/script-exporter/internal/registry"
	"github.com/script-exporter/internal/scheduler"
	"github.com/script-exporter/internal/selfstats"
	"github.com/script-exporter/internal/server"
	"github.com/script-exporter/pkg/banner"
	"github.com/script-exporter/pkg/logger"
	"github.com/script-exporter/pkg/signal"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "script-exporter",
	Short: "Run external scripts/commands and export their output as Prometheus metrics",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if err := run(cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	cobra.CheckErr(rootCmd.Execute())
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "configs/config.yaml", "path to config file")
}

func run(cfg *config.Config) error {
	if err := logger.Init(cfg.Log); err != nil {
		return fmt.Errorf("init logger failed: %w", err)
	}
	defer logger.Sync()
	log := logger.Get()

	banner.Print("script-exporter")
	log.Info("starting script-exporter",
		zap.Int("jobs", len(cfg.Jobs)),
		zap.String("listen_addr", cfg.Server.Addr))

	reg := registry.New()
	jobs := buildJobs(cfg, log)

	sched, err := scheduler.New(jobs, executor.New(), reg, log, scheduler.Options{
		Tick:           cfg.Scheduler.Tick,
		MaxConcurrency: cfg.Scheduler.MaxConcurrency,
	})
	if err != nil {
		return fmt.Errorf("init scheduler failed: %w", err)
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(reg)

	self, err := selfstats.New(sched)
	if err != nil {
		log.Warn("self metrics unavailable", zap.Error(err))
	} else {
		promReg.MustRegister(self)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	schedDone := make(chan struct{})
	go func() {
		sched.Run(ctx)
		close(schedDone)
	}()

	httpServer := server.New(cfg.Server, log, promReg)
	if err := httpServer.Start(); err != nil {
		return fmt.Errorf("start HTTP server failed: %w", err)
	}

	signal.WaitForShutdown(log, func() error {
		cancel()
		<-schedDone
		sched.Stop()
		return httpServer.Shutdown()
	})
	return nil
}

// buildJobs turns validated job configs into runtime jobs with resolved
// label sets. The rename of a user "component" label is warned here, once
// per job, as it changes the exported schema.
func buildJobs(cfg *config.Config, log *zap.Logger) []*executor.Job {
	jobs := make([]*executor.Job, 0, len(cfg.Jobs))
	for i := range cfg.Jobs {
		jc := &cfg.Jobs[i]
		if labels.HasReservedKey(jc.Labels) {
			log.Warn("found <component> label in config, renamed to <user_defined_component>",
				zap.String("job", jc.Name))
		}
		jobs = append(jobs, &executor.Job{
			Name:     jc.Name,
			Command:  jc.Command,
			Interval: jc.EffectiveInterval(),
			Metric:   jc.Metric,
			Help:     jc.Help,
			Kind:     registry.Kind(jc.Type),
			Labels:   labels.Resolve(cfg.GlobalLabels, jc.Labels, executor.MainComponent),
			Timeout:  jc.Timeout,
		})
	}
	return jobs
}
