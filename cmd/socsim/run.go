package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/sarchlab/socsim/config"
	"github.com/sarchlab/socsim/console"
	"github.com/sarchlab/socsim/driver"
	"github.com/sarchlab/socsim/harness"
	"github.com/sarchlab/socsim/hw"
	"github.com/sarchlab/socsim/loader"
	"github.com/sarchlab/socsim/soc"
	"github.com/sarchlab/socsim/trace"
	"github.com/sarchlab/socsim/uart"
)

var (
	errVerdict     = errors.New("not every test passed")
	errInterrupted = errors.New("interrupted")
)

// runner wires one batch together. stdin is only switched to raw mode when
// it is a terminal and the model has a UART.
type runner struct {
	fs     afero.Fs
	logger log.Logger
	stdin  io.Reader
	stdout io.Writer
	color  *bool
}

func (r *runner) run(ctx context.Context, conf *config.Config, args []string) (*harness.Report, error) {
	resolver := harness.NewResolver(r.fs, conf.TestDir, conf.Prefixes,
		harness.WithResolverLogger(r.logger))
	tests, missing, err := resolver.Select(args, conf.DefaultImage)
	if err != nil {
		return nil, err
	}
	for _, name := range missing {
		fmt.Fprintf(r.stdout, "Test binary for %s not found.\n", name)
	}

	model, err := soc.Open(soc.Revision(conf.Revision),
		soc.WithRegions(conf.Regions),
		soc.WithFetchCache(conf.FetchCache),
		soc.WithLogger(r.logger),
	)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	out := r.stdout
	opts := []driver.Option{
		driver.WithRegions(conf.Regions),
		driver.WithLoader(loader.New(loader.WordWidth(conf.WordWidth),
			loader.WithFs(r.fs), loader.WithLogger(r.logger))),
		driver.WithLogger(r.logger),
	}
	if _, ok := hw.UARTOf(model); ok {
		term := &console.Terminal{}
		if f, ok := r.stdin.(*os.File); ok {
			term, err = console.MakeRaw(f)
			if err != nil {
				return nil, err
			}
		}
		defer func() {
			if err := term.Restore(); err != nil {
				level.Warn(r.logger).Log("msg", "failed to restore terminal", "err", err)
			}
		}()
		out = term.Output(r.stdout)

		input := console.NewInput(r.stdin,
			console.WithInputLogger(r.logger),
			console.WithInterrupt(func() { cancel(errInterrupted) }),
		)
		defer input.Close()

		opts = append(opts, driver.WithBridge(uart.NewBridge(input, out, uart.WithLogger(r.logger))))
	}

	session, err := driver.NewSession(model, opts...)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := session.Close(); err != nil {
			level.Warn(r.logger).Log("msg", "failed to close session", "err", err)
		}
	}()

	hopts := []harness.Option{harness.WithOutput(out), harness.WithLogger(r.logger)}
	if r.color != nil {
		hopts = append(hopts, harness.WithColor(*r.color))
	}
	if conf.Trace {
		hopts = append(hopts, harness.WithTrace(r.traceSink(conf.TraceFile)))
	}
	var metrics *harness.Metrics
	if conf.MetricsFile != "" {
		metrics = harness.NewMetrics()
		hopts = append(hopts, harness.WithMetrics(metrics))
	}

	report, err := harness.New(session, hopts...).Run(ctx, tests)
	if report != nil {
		report.Missing = missing
	}
	if err != nil {
		return report, err
	}

	fmt.Fprintln(out, "All simulations finished.")
	report.WriteTable(out)

	if conf.ReportJSON != "" {
		if err := report.WriteJSON(r.fs, conf.ReportJSON); err != nil {
			return report, err
		}
	}
	if metrics != nil {
		if err := metrics.WriteToTextfile(r.fs, conf.MetricsFile); err != nil {
			return report, err
		}
	}

	if conf.FailOnVerdict && !report.AllPassed() {
		return report, errVerdict
	}
	return report, nil
}

func (r *runner) traceSink(path string) harness.SinkFactory {
	return func() (driver.Sink, error) {
		if err := r.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, errors.Wrapf(err, "failed to create trace directory for %s", path)
		}
		level.Info(r.logger).Log("msg", "writing waveform", "path", path)
		return trace.Create(r.fs, path, trace.WithLogger(r.logger))
	}
}
