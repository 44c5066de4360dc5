package harness_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/afero"

	"github.com/sarchlab/socsim/driver"
	"github.com/sarchlab/socsim/harness"
)

var _ = Describe("Resolver", func() {
	var (
		fs       afero.Fs
		resolver *harness.Resolver
	)

	BeforeEach(func() {
		fs = afero.NewMemMapFs()
		for _, name := range []string{
			"rv32ui-p-add",
			"rv32ui-p-mul",
			"rv32um-p-mul",
			"rv32um-p-div",
			"rv32ui-p-add.dump",
		} {
			Expect(afero.WriteFile(fs, "/tests/"+name, []byte{0x7f}, 0o644)).To(Succeed())
		}
		Expect(fs.MkdirAll("/tests/nested", 0o755)).To(Succeed())
		Expect(afero.WriteFile(fs, "/images/payload.elf", []byte{0x7f}, 0o644)).To(Succeed())

		resolver = harness.NewResolver(fs, "/tests", []string{"rv32ui-p-", "rv32um-p-"})
	})

	It("should try the prefixes in order", func() {
		tests, missing := resolver.Resolve([]string{"add", "mul", "div"})

		Expect(missing).To(BeEmpty())
		Expect(tests).To(Equal([]driver.Test{
			{Name: "rv32ui-p-add", Path: "/tests/rv32ui-p-add"},
			{Name: "rv32ui-p-mul", Path: "/tests/rv32ui-p-mul"},
			{Name: "rv32um-p-div", Path: "/tests/rv32um-p-div"},
		}))
	})

	It("should skip names that match nothing", func() {
		tests, missing := resolver.Resolve([]string{"nope", "add"})

		Expect(missing).To(Equal([]string{"nope"}))
		Expect(tests).To(HaveLen(1))
		Expect(tests[0].Name).To(Equal("rv32ui-p-add"))
	})

	It("should not resolve a name to a directory", func() {
		_, missing := resolver.Resolve([]string{"/tests/nested"})

		Expect(missing).To(Equal([]string{"/tests/nested"}))
	})

	It("should accept a path to an image", func() {
		tests, missing := resolver.Resolve([]string{"/images/payload.elf"})

		Expect(missing).To(BeEmpty())
		Expect(tests).To(Equal([]driver.Test{{Name: "payload", Path: "/images/payload.elf"}}))
	})

	It("should only treat names with a separator as paths", func() {
		Expect(afero.WriteFile(fs, "payload", []byte{0x7f}, 0o644)).To(Succeed())

		tests, missing := resolver.Resolve([]string{"payload", "./payload"})

		Expect(missing).To(Equal([]string{"payload"}))
		Expect(tests).To(Equal([]driver.Test{{Name: "payload", Path: "./payload"}}))
	})

	It("should prefer a prefixed test over a file of the same name", func() {
		Expect(afero.WriteFile(fs, "add", []byte{0x7f}, 0o644)).To(Succeed())

		tests, missing := resolver.Resolve([]string{"add"})

		Expect(missing).To(BeEmpty())
		Expect(tests).To(Equal([]driver.Test{{Name: "rv32ui-p-add", Path: "/tests/rv32ui-p-add"}}))
	})

	It("should discover extension-less files in name order", func() {
		tests, err := resolver.Discover()

		Expect(err).NotTo(HaveOccurred())
		var names []string
		for _, t := range tests {
			names = append(names, t.Name)
		}
		Expect(names).To(Equal([]string{"rv32ui-p-add", "rv32ui-p-mul", "rv32um-p-div", "rv32um-p-mul"}))
	})

	It("should fail to discover in a missing directory", func() {
		_, err := harness.NewResolver(fs, "/missing", nil).Discover()

		Expect(err).To(HaveOccurred())
	})

	Describe("Select", func() {
		It("should fall back to the default image", func() {
			tests, missing, err := resolver.Select(nil, "/images/payload.elf")

			Expect(err).NotTo(HaveOccurred())
			Expect(missing).To(BeEmpty())
			Expect(tests).To(Equal([]driver.Test{{Name: "payload", Path: "/images/payload.elf"}}))
		})

		It("should run everything when all is given", func() {
			tests, missing, err := resolver.Select([]string{"add", harness.AllTests}, "")

			Expect(err).NotTo(HaveOccurred())
			Expect(missing).To(BeEmpty())
			Expect(tests).To(HaveLen(4))
		})

		It("should resolve names otherwise", func() {
			tests, missing, err := resolver.Select([]string{"div", "nope"}, "")

			Expect(err).NotTo(HaveOccurred())
			Expect(missing).To(Equal([]string{"nope"}))
			Expect(tests).To(HaveLen(1))
		})
	})

	It("should name tests after their file", func() {
		Expect(harness.NewTest("simulator/build/payload/payload.elf").Name).To(Equal("payload"))
		Expect(harness.NewTest("generated/rv32ui-p-add").Name).To(Equal("rv32ui-p-add"))
	})
})
