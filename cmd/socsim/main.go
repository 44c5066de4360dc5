// Command socsim runs RISC-V test programs on a simulated SoC and reports
// a verdict for each.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime/pprof"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/sarchlab/socsim/config"
	"github.com/sarchlab/socsim/console"
	"github.com/sarchlab/socsim/loader"
	"github.com/sarchlab/socsim/programs"
)

var cfg struct {
	configFile    string
	testDir       string
	traceFile     string
	noTrace       bool
	revision      string
	wordWidth     int
	reportJSON    string
	metricsFile   string
	failOnVerdict bool
	verbose       bool
	cpuProfile    string

	run struct {
		tests []string
	}
	samples struct {
		dir string
	}
}

var (
	consoleOutput = os.Stderr
	logger        = log.NewLogfmtLogger(log.NewSyncWriter(consoleOutput))
)

func main() {
	app := kingpin.New(filepath.Base(os.Args[0]), "Run RISC-V test programs on a simulated SoC.").UsageWriter(os.Stdout)
	app.HelpFlag.Short('h')
	app.Flag("config", "Path to a YAML configuration file.").Envar("SOCSIM_CONFIG").StringVar(&cfg.configFile)
	app.Flag("test-dir", "Directory holding the test images.").Envar("SOCSIM_TEST_DIR").StringVar(&cfg.testDir)
	app.Flag("trace-file", "Waveform output path; a .gz suffix compresses it.").Envar("SOCSIM_TRACE_FILE").StringVar(&cfg.traceFile)
	app.Flag("no-trace", "Never write a waveform.").Envar("SOCSIM_NO_TRACE").BoolVar(&cfg.noTrace)
	app.Flag("revision", "Hardware model revision (a or b).").Envar("SOCSIM_REVISION").StringVar(&cfg.revision)
	app.Flag("word-width", "ELF word width in bits (32 or 64).").Envar("SOCSIM_WORD_WIDTH").IntVar(&cfg.wordWidth)
	app.Flag("report-json", "Write the batch report as JSON to this path.").Envar("SOCSIM_REPORT_JSON").StringVar(&cfg.reportJSON)
	app.Flag("metrics-file", "Write Prometheus metrics in textfile format to this path.").Envar("SOCSIM_METRICS_FILE").StringVar(&cfg.metricsFile)
	app.Flag("fail-on-verdict", "Exit non-zero unless every test passes.").Envar("SOCSIM_FAIL_ON_VERDICT").BoolVar(&cfg.failOnVerdict)
	app.Flag("cpuprofile", "Write a CPU profile of the run to this path.").Envar("SOCSIM_CPUPROFILE").StringVar(&cfg.cpuProfile)
	app.Flag("verbose", "Enable verbose logging.").Short('v').Envar("SOCSIM_VERBOSE").BoolVar(&cfg.verbose)

	runCmd := app.Command("run", "Run tests. Without arguments the default image runs.").Default()
	runCmd.Arg("tests", "Short test names, image paths, or \"all\".").StringsVar(&cfg.run.tests)

	samplesCmd := app.Command("samples", "Write the built-in sample images.")
	samplesCmd.Arg("dir", "Output directory.").Required().StringVar(&cfg.samples.dir)

	parsedCmd := kingpin.MustParse(app.Parse(os.Args[1:]))

	if cfg.verbose {
		logger = level.NewFilter(logger, level.AllowDebug())
	} else {
		logger = level.NewFilter(logger, level.AllowInfo())
	}
	logger = log.With(logger, "ts", log.DefaultTimestampUTC)

	switch parsedCmd {
	case runCmd.FullCommand():
		os.Exit(checkError(runMain()))
	case samplesCmd.FullCommand():
		os.Exit(checkError(writeSamples(afero.NewOsFs(), cfg.samples.dir)))
	default:
		level.Error(logger).Log("msg", "unknown command", "cmd", parsedCmd)
		os.Exit(1)
	}
}

func checkError(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errVerdict):
		// The verdicts are already printed.
	default:
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	}
	return 1
}

func runMain() error {
	fs := afero.NewOsFs()
	conf, err := loadConfig(fs)
	if err != nil {
		return err
	}

	ctx, stop := console.NotifyContext(context.Background())
	defer stop()

	if cfg.cpuProfile != "" {
		stopProfile, err := startCPUProfile(cfg.cpuProfile)
		if err != nil {
			return err
		}
		defer stopProfile()
	}

	r := &runner{
		fs:     fs,
		logger: logger,
		stdin:  os.Stdin,
		stdout: os.Stdout,
	}
	_, err = r.run(ctx, conf, cfg.run.tests)
	return err
}

func startCPUProfile(path string) (func(), error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create CPU profile")
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		_ = f.Close()
		return nil, errors.Wrap(err, "failed to start CPU profile")
	}
	return func() {
		pprof.StopCPUProfile()
		_ = f.Close()
	}, nil
}

// loadConfig reads the configuration file, if any, and lays the command
// line on top of it.
func loadConfig(fs afero.Fs) (*config.Config, error) {
	conf := config.Default()
	if cfg.configFile != "" {
		var err error
		conf, err = config.Load(fs, cfg.configFile)
		if err != nil {
			return nil, err
		}
	}

	applyFlags(conf)

	if err := conf.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return conf, nil
}

func applyFlags(conf *config.Config) {
	if cfg.testDir != "" {
		conf.TestDir = cfg.testDir
	}
	if cfg.traceFile != "" {
		conf.TraceFile = cfg.traceFile
	}
	if cfg.noTrace {
		conf.Trace = false
	}
	if cfg.revision != "" {
		conf.Revision = cfg.revision
	}
	if cfg.wordWidth != 0 {
		conf.WordWidth = cfg.wordWidth
	}
	if cfg.reportJSON != "" {
		conf.ReportJSON = cfg.reportJSON
	}
	if cfg.metricsFile != "" {
		conf.MetricsFile = cfg.metricsFile
	}
	if cfg.failOnVerdict {
		conf.FailOnVerdict = true
	}
}

func writeSamples(fs afero.Fs, dir string) error {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "failed to create %s", dir)
	}

	width := loader.Width32
	if cfg.wordWidth != 0 {
		width = loader.WordWidth(cfg.wordWidth)
	}
	if !width.Valid() {
		return errors.Errorf("unsupported word width %d", cfg.wordWidth)
	}

	paths, err := programs.WriteSamples(fs, dir, width)
	if err != nil {
		return err
	}
	for _, p := range paths {
		fmt.Println(p)
	}
	level.Info(logger).Log("msg", "wrote samples", "dir", dir, "count", len(paths))
	return nil
}
