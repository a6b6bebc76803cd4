package main

import (
	"context"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/idealo/mongodb-stress/internal/backend"
	"github.com/idealo/mongodb-stress/internal/config"
	"github.com/idealo/mongodb-stress/internal/stress"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
	metrics "github.com/rcrowley/go-metrics"
	"github.com/urfave/cli"
)

const (
	fillPhase   = "fill"
	stressPhase = "stress"

	sampleInterval = time.Second
	closeTimeout   = 5 * time.Second
)

// runOptions are the flags that shape a run rather than the workload.
type runOptions struct {
	backend      string
	host         string
	port         int
	database     string
	onlyCreate   bool
	onlyStress   bool
	keepDatabase bool
	output       string
	statusAddr   string
}

func runOptionsFromContext(c *cli.Context) runOptions {
	return runOptions{
		backend:      c.String(backendFlagName),
		host:         c.String(hostFlagName),
		port:         c.Int(portFlagName),
		database:     c.String(databaseFlagName),
		onlyCreate:   c.Bool(onlyCreateFlagName),
		onlyStress:   c.Bool(onlyStressFlagName),
		keepDatabase: c.Bool(keepDatabaseFlagName),
		output:       c.String(outputFlagName),
		statusAddr:   c.String(statusAddrFlagName),
	}
}

func run(c *cli.Context) error {
	conf, err := loadConfig(c)
	if err != nil {
		return err
	}
	if err = conf.Validate(); err != nil {
		return err
	}
	opts := runOptionsFromContext(c)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	client, err := connect(ctx, opts)
	if err != nil {
		return err
	}
	return execute(ctx, client, conf, opts)
}

func connect(ctx context.Context, opts runOptions) (backend.Client, error) {
	switch opts.backend {
	case "mongo":
		return backend.Connect(ctx, opts.host, opts.port)
	case "memory":
		return backend.NewMemory(), nil
	default:
		return nil, errors.Errorf("unknown backend '%s'", opts.backend)
	}
}

// execute runs the selected phases against client and always releases it.
func execute(ctx context.Context, client backend.Client, conf config.Config, opts runOptions) error {
	catcher := grip.NewBasicCatcher()
	db := client.Database(opts.database)
	// Cleanup must run even after an interrupt.
	cleanupCtx := context.WithoutCancel(ctx)

	defer func() {
		if !opts.onlyCreate && !opts.keepDatabase {
			catcher.Wrapf(db.Drop(cleanupCtx), "dropping database '%s'", db.Name())
		}
		catcher.Wrap(client.Disconnect(cleanupCtx), "disconnecting")
	}()

	meters := metrics.NewRegistry()
	var phase atomic.Value
	phase.Store("setup")

	if opts.statusAddr != "" {
		status := stress.NewStatusServer(opts.statusAddr, meters, func() string { return phase.Load().(string) })
		if err := status.Start(); err != nil {
			return err
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(cleanupCtx, closeTimeout)
			defer cancel()
			catcher.Wrap(status.Close(closeCtx), "stopping status server")
		}()
	}

	err := runPhases(ctx, db, conf, opts, meters, &phase)
	catcher.Add(err)
	return catcher.Resolve()
}

func runPhases(ctx context.Context, db backend.Database, conf config.Config, opts runOptions, meters metrics.Registry, phase *atomic.Value) error {
	if !opts.onlyStress {
		if err := db.Drop(ctx); err != nil {
			return errors.Wrapf(err, "dropping database '%s'", db.Name())
		}
	}

	o, err := stress.New(db, conf, meters)
	if err != nil {
		return err
	}
	if err = o.Setup(ctx); err != nil {
		return err
	}

	if !opts.onlyStress {
		phase.Store(fillPhase)
		err = monitored(meters, opts.output, fillPhase, func() (*stress.Report, error) {
			return o.Fill(ctx)
		})
		if err != nil {
			return err
		}
	}

	if opts.onlyCreate {
		return nil
	}
	if ctx.Err() != nil {
		return errors.Wrap(ctx.Err(), "interrupted before stress")
	}

	meters.UnregisterAll()
	phase.Store(stressPhase)
	err = monitored(meters, opts.output, stressPhase, func() (*stress.Report, error) {
		return o.Stress(ctx, conf.Duration())
	})
	phase.Store("done")
	return err
}

// monitored samples meters while op runs, prints its report and writes the
// samples and the summary when an output prefix is set.
func monitored(meters metrics.Registry, output, name string, op func() (*stress.Report, error)) error {
	monitor := stress.NewMonitor(meters, sampleInterval)
	monitor.Start()
	report, err := op()
	monitor.Stop()
	if err != nil {
		return errors.Wrapf(err, "%s phase", name)
	}

	grip.Info(message.Fields{
		"message": "phase finished",
		"phase":   name,
		"elapsed": report.Elapsed.Round(time.Millisecond).String(),
	})
	report.Print(os.Stdout)
	grip.WarningWhen(report.Failed > 0, message.Fields{
		"message": "workers failed",
		"phase":   name,
		"failed":  report.Failed,
	})

	if output == "" {
		return nil
	}
	catcher := grip.NewBasicCatcher()
	for suffix, records := range map[string][][]string{
		name:              monitor.Records(),
		name + "_summary": report.Records(),
	} {
		filename, err := stress.WriteCSV(output, suffix, records)
		if err != nil {
			catcher.Add(err)
			continue
		}
		grip.Info(message.Fields{
			"message": "wrote results",
			"file":    filename,
		})
	}
	return catcher.Resolve()
}
