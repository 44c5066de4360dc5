package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-kit/log"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/afero"

	"github.com/sarchlab/socsim/config"
	"github.com/sarchlab/socsim/driver"
	"github.com/sarchlab/socsim/harness"
	"github.com/sarchlab/socsim/loader"
	"github.com/sarchlab/socsim/programs"
)

var _ = Describe("runner", func() {
	var (
		dir    string
		fs     afero.Fs
		conf   *config.Config
		stdout *bytes.Buffer
		r      *runner
	)

	writeTest := func(sample, name string) {
		s, ok := programs.Lookup(sample)
		Expect(ok).To(BeTrue())
		img, err := s.Image(loader.Width32)
		Expect(err).NotTo(HaveOccurred())
		Expect(img.WriteFile(fs, filepath.Join(dir, "generated", name))).To(Succeed())
	}

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
		fs = afero.NewOsFs()
		writeTest("pass", "rv32ui-p-pass")
		writeTest("fail", "rv32ui-p-fail")
		writeTest("muldiv", "rv32um-p-muldiv")
		writeTest("hello", "rv32ui-p-hello")

		conf = config.Default()
		conf.Revision = "a"
		conf.TestDir = filepath.Join(dir, "generated")
		conf.TraceFile = filepath.Join(dir, "build", "wave.vcd")
		conf.DefaultImage = filepath.Join(dir, "generated", "rv32ui-p-pass")

		stdout = &bytes.Buffer{}
		noColor := false
		r = &runner{
			fs:     fs,
			logger: log.NewNopLogger(),
			stdin:  strings.NewReader(""),
			stdout: stdout,
			color:  &noColor,
		}
	})

	It("should run the default image and trace it", func() {
		report, err := r.run(context.Background(), conf, nil)

		Expect(err).NotTo(HaveOccurred())
		Expect(report.Outcomes).To(HaveLen(1))
		Expect(report.Outcomes[0].Verdict).To(Equal(driver.VerdictPass))
		Expect(stdout.String()).To(ContainSubstring("[rv32ui-p-pass]: x3=1, x26=1, x27=1, test success"))
		Expect(stdout.String()).To(ContainSubstring("All simulations finished."))

		wave, err := os.ReadFile(conf.TraceFile)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(wave)).To(HavePrefix("$version"))
	})

	It("should resolve short names and skip missing ones", func() {
		conf.Trace = false

		report, err := r.run(context.Background(), conf, []string{"pass", "nope", "muldiv"})

		Expect(err).NotTo(HaveOccurred())
		Expect(report.Outcomes).To(HaveLen(2))
		Expect(report.Missing).To(Equal([]string{"nope"}))
		Expect(stdout.String()).To(ContainSubstring("Test binary for nope not found."))
		_, err = os.Stat(conf.TraceFile)
		Expect(os.IsNotExist(err)).To(BeTrue())
	})

	It("should not trace when more than one test runs", func() {
		_, err := r.run(context.Background(), conf, []string{harness.AllTests})

		Expect(err).NotTo(HaveOccurred())
		_, err = os.Stat(conf.TraceFile)
		Expect(os.IsNotExist(err)).To(BeTrue())
	})

	It("should exit cleanly on failing verdicts by default", func() {
		conf.Trace = false

		report, err := r.run(context.Background(), conf, []string{"fail"})

		Expect(err).NotTo(HaveOccurred())
		Expect(report.Count(driver.VerdictFail)).To(Equal(1))
	})

	It("should report failing verdicts when asked to", func() {
		conf.Trace = false
		conf.FailOnVerdict = true

		_, err := r.run(context.Background(), conf, []string{"pass", "fail"})

		Expect(err).To(MatchError(errVerdict))
		Expect(checkError(err)).To(Equal(1))
	})

	It("should write the JSON report and metrics", func() {
		conf.Trace = false
		conf.ReportJSON = filepath.Join(dir, "report.json")
		conf.MetricsFile = filepath.Join(dir, "socsim.prom")

		_, err := r.run(context.Background(), conf, []string{"pass"})
		Expect(err).NotTo(HaveOccurred())

		report, err := harness.ReadReport(fs, conf.ReportJSON)
		Expect(err).NotTo(HaveOccurred())
		Expect(report.Outcomes[0].Name).To(Equal("rv32ui-p-pass"))

		metrics, err := os.ReadFile(conf.MetricsFile)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(metrics)).To(ContainSubstring(`socsim_tests_total{verdict="PASS"} 1`))
	})

	It("should bridge the UART on revision b", func() {
		conf.Revision = "b"
		conf.Trace = false

		report, err := r.run(context.Background(), conf, []string{"hello"})

		Expect(err).NotTo(HaveOccurred())
		Expect(report.Outcomes[0].Verdict).To(Equal(driver.VerdictPass))
		Expect(stdout.String()).To(ContainSubstring("hello, world\n"))
	})

	It("should fail on a broken image", func() {
		conf.Trace = false
		bogus := filepath.Join(dir, "generated", "rv32ui-p-bogus")
		Expect(os.WriteFile(bogus, []byte("not an elf"), 0o644)).To(Succeed())

		_, err := r.run(context.Background(), conf, []string{"bogus"})

		Expect(err).To(MatchError(loader.ErrTruncatedHeader))
		Expect(checkError(err)).To(Equal(1))
	})
})

var _ = Describe("loadConfig", func() {
	AfterEach(func() {
		cfg.configFile = ""
		cfg.revision = ""
		cfg.noTrace = false
		cfg.wordWidth = 0
	})

	It("should lay flags over the file", func() {
		fs := afero.NewMemMapFs()
		Expect(afero.WriteFile(fs, "/socsim.yaml", []byte("revision: b\ntest_dir: /tests\n"), 0o644)).To(Succeed())
		cfg.configFile = "/socsim.yaml"
		cfg.revision = "a"
		cfg.noTrace = true

		conf, err := loadConfig(fs)

		Expect(err).NotTo(HaveOccurred())
		Expect(conf.Revision).To(Equal("a"))
		Expect(conf.TestDir).To(Equal("/tests"))
		Expect(conf.Trace).To(BeFalse())
	})

	It("should reject an invalid combination", func() {
		cfg.wordWidth = 16

		_, err := loadConfig(afero.NewMemMapFs())

		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("word_width"))
	})
})
