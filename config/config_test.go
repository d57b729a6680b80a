package config_test

import (
	"os"
	"path/filepath"

	"github.com/sarchlab/vmsim/config"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Config", func() {
	var dir string

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
	})

	write := func(name, content string) string {
		path := filepath.Join(dir, name)
		Expect(os.WriteFile(path, []byte(content), 0o644)).To(Succeed())

		return path
	}

	It("should start from valid defaults", func() {
		cfg, err := config.Load("", "")

		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Validate()).To(Succeed())
		Expect(cfg.NumFrames).To(Equal(64))
	})

	It("should read a TOML file", func() {
		path := write("vmsim.toml", `
num_frames = 8
swap_file = "swap.dsk"

[workload]
processes = 2
seed = 42
`)

		cfg, err := config.Load(path, "")

		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.NumFrames).To(Equal(8))
		Expect(cfg.SwapFile).To(Equal("swap.dsk"))
		Expect(cfg.Workload.Processes).To(Equal(2))
		Expect(cfg.Workload.Seed).To(Equal(int64(42)))
		Expect(cfg.Workload.Rounds).To(Equal(config.Default().Workload.Rounds))
	})

	It("should report broken TOML files", func() {
		path := write("vmsim.toml", "num_frames = [")

		_, err := config.Load(path, "")

		Expect(err).To(HaveOccurred())
	})

	It("should let the environment override the file", func() {
		path := write("vmsim.toml", "num_frames = 8\n")
		GinkgoT().Setenv("VMSIM_NUM_FRAMES", "16")
		GinkgoT().Setenv("VMSIM_LOG_FORMAT", "json")
		GinkgoT().Setenv("VMSIM_OPEN_BROWSER", "true")

		cfg, err := config.Load(path, "")

		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.NumFrames).To(Equal(16))
		Expect(cfg.LogFormat).To(Equal("json"))
		Expect(cfg.OpenBrowser).To(BeTrue())
	})

	It("should read a .env file", func() {
		envPath := write(".env", "VMSIM_WORKLOAD_ROUNDS=3\n")
		GinkgoT().Setenv("VMSIM_WORKLOAD_ROUNDS", "")
		Expect(os.Unsetenv("VMSIM_WORKLOAD_ROUNDS")).To(Succeed())

		cfg, err := config.Load("", envPath)

		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Workload.Rounds).To(Equal(3))
		Expect(os.Unsetenv("VMSIM_WORKLOAD_ROUNDS")).To(Succeed())
	})

	It("should ignore a missing .env file", func() {
		_, err := config.Load("", filepath.Join(dir, "missing.env"))

		Expect(err).NotTo(HaveOccurred())
	})

	It("should reject malformed numbers", func() {
		GinkgoT().Setenv(config.EnvPrefix+"NUM_FRAMES", "many")

		_, err := config.Load("", "")

		Expect(err).To(HaveOccurred())
	})

	DescribeTable("should reject unusable settings",
		func(mutate func(*config.Config)) {
			cfg := config.Default()
			mutate(&cfg)

			Expect(cfg.Validate()).NotTo(Succeed())
		},
		Entry("no frames", func(c *config.Config) { c.NumFrames = 0 }),
		Entry("tiny swap", func(c *config.Config) { c.SwapSectors = 7 }),
		Entry("negative port", func(c *config.Config) { c.MonitorPort = -1 }),
		Entry("negative rounds", func(c *config.Config) { c.Workload.Rounds = -1 }),
		Entry("unknown format", func(c *config.Config) { c.LogFormat = "xml" }),
	)
})
