package console_test

import (
	"io"
	"sync/atomic"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/pkg/errors"
	"go.uber.org/goleak"

	"github.com/sarchlab/socsim/console"
)

var _ = Describe("Input", func() {
	var (
		pr     *io.PipeReader
		pw     *io.PipeWriter
		ignore goleak.Option
	)

	BeforeEach(func() {
		ignore = goleak.IgnoreCurrent()
		pr, pw = io.Pipe()
	})

	AfterEach(func() {
		_ = pw.Close()
		Eventually(func() error {
			return goleak.Find(ignore)
		}).Should(Succeed())
	})

	It("should return nothing when no input is available", func() {
		in := console.NewInput(pr)
		defer in.Close()

		Expect(in.Poll()).To(BeEmpty())
	})

	It("should deliver bytes written by the host", func() {
		in := console.NewInput(pr)
		defer in.Close()

		_, err := pw.Write([]byte("abc"))
		Expect(err).NotTo(HaveOccurred())

		Eventually(in.Poll).Should(Equal([]byte("abc")))
		Expect(in.Poll()).To(BeEmpty())
	})

	It("should join chunks that arrive between polls", func() {
		in := console.NewInput(pr)
		defer in.Close()

		_, err := pw.Write([]byte("ab"))
		Expect(err).NotTo(HaveOccurred())
		_, err = pw.Write([]byte("cd"))
		Expect(err).NotTo(HaveOccurred())

		var got []byte
		Eventually(func() []byte {
			got = append(got, in.Poll()...)
			return got
		}).Should(Equal([]byte("abcd")))
	})

	It("should report the interrupt byte", func() {
		var interrupts atomic.Int32
		in := console.NewInput(pr, console.WithInterrupt(func() {
			interrupts.Add(1)
		}))
		defer in.Close()

		_, err := pw.Write([]byte{'x', console.InterruptByte})
		Expect(err).NotTo(HaveOccurred())

		Eventually(interrupts.Load).Should(Equal(int32(1)))
		Eventually(in.Poll).Should(Equal([]byte{'x', console.InterruptByte}))
	})

	It("should record the error that stopped the reader", func() {
		in := console.NewInput(pr)
		defer in.Close()

		broken := errors.New("broken pipe")
		Expect(pw.CloseWithError(broken)).To(Succeed())

		Eventually(in.Err).Should(MatchError(broken))
	})

	It("should stop the reader on end of input", func() {
		in := console.NewInput(pr)

		Expect(pw.Close()).To(Succeed())
		Eventually(in.Err).Should(MatchError(io.EOF))
		Expect(in.Close()).To(Succeed())
		Expect(in.Close()).To(Succeed())
	})
})
