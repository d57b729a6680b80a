package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"

	"github.com/sarchlab/vmsim/config"
	"github.com/sarchlab/vmsim/datarecording"
	"github.com/sarchlab/vmsim/mem/vm/swap"
	"github.com/sarchlab/vmsim/mem/vm/vmm"
	"github.com/sarchlab/vmsim/monitoring"
	"github.com/sarchlab/vmsim/tracing"
	"github.com/sarchlab/vmsim/workload"
)

const summaryTableName = "run_summary"

type summaryEntry struct {
	Processes    int
	Rounds       int
	BytesChecked uint64
	NumFrames    int
	Evictions    uint64
	SwapOuts     uint64
	SwapIns      uint64
	DurationNS   int64
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the synthetic workload.",
	Long: "`run` spawns the configured number of processes, lets them touch " +
		"their memory, and checks every byte they read back.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		applyRunFlags(cmd, &cfg)

		if err := cfg.Validate(); err != nil {
			return err
		}

		if err := setupLogging(cfg); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		return run(ctx, cfg)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().Int("frames", 0, "number of physical frames")
	runCmd.Flags().String("swap-file", "",
		"file that backs the swap device, in memory if empty")
	runCmd.Flags().String("record", "",
		"record the paging events into this SQLite database")
	runCmd.Flags().Bool("monitor", false, "serve the kernel state over HTTP")
	runCmd.Flags().Int("port", 0, "port of the monitoring server")
	runCmd.Flags().Bool("open-browser", false,
		"open the monitoring page in a browser")
	runCmd.Flags().Int("processes", 0, "number of processes")
	runCmd.Flags().Int("rounds", 0, "number of rounds per process")
	runCmd.Flags().Int64("seed", 0, "seed of the workload")
}

func applyRunFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()

	if flags.Changed("frames") {
		cfg.NumFrames, _ = flags.GetInt("frames")
	}

	if flags.Changed("swap-file") {
		cfg.SwapFile, _ = flags.GetString("swap-file")
	}

	if flags.Changed("record") {
		cfg.RecordPath, _ = flags.GetString("record")
	}

	if flags.Changed("monitor") {
		cfg.Monitor, _ = flags.GetBool("monitor")
	}

	if flags.Changed("port") {
		cfg.MonitorPort, _ = flags.GetInt("port")
	}

	if flags.Changed("open-browser") {
		cfg.OpenBrowser, _ = flags.GetBool("open-browser")
	}

	if flags.Changed("processes") {
		cfg.Workload.Processes, _ = flags.GetInt("processes")
	}

	if flags.Changed("rounds") {
		cfg.Workload.Rounds, _ = flags.GetInt("rounds")
	}

	if flags.Changed("seed") {
		cfg.Workload.Seed, _ = flags.GetInt64("seed")
	}
}

func buildKernel(cfg config.Config) (*vmm.Kernel, error) {
	b := vmm.MakeBuilder().
		WithNumFrames(cfg.NumFrames).
		WithLogger(logrus.StandardLogger())

	if cfg.SwapFile != "" {
		device, err := swap.OpenFileDevice(cfg.SwapFile, cfg.SwapSectors)
		if err != nil {
			return nil, err
		}

		atexit.Register(func() {
			if err := device.Close(); err != nil {
				logrus.WithError(err).Warn("closing swap file")
			}
		})

		b = b.WithSwapDevice(device)
	} else {
		b = b.WithSwapDevice(swap.NewMemoryDevice(cfg.SwapSectors))
	}

	return b.Build("Kernel"), nil
}

func run(ctx context.Context, cfg config.Config) error {
	kernel, err := buildKernel(cfg)
	if err != nil {
		return err
	}
	defer kernel.Shutdown()

	counter := tracing.NewCountTracer(nil)
	kernel.AcceptHook(counter)

	var recorder datarecording.DataRecorder
	if cfg.RecordPath != "" {
		recorder = datarecording.New(cfg.RecordPath)
		recorder.CreateTable(summaryTableName, summaryEntry{})

		dbTracer := tracing.NewDBTracer(recorder, nil)
		kernel.AcceptHook(dbTracer)
		defer dbTracer.Terminate()
	}

	runner := workload.NewRunner(kernel, cfg.Workload)

	if cfg.Monitor || cfg.OpenBrowser {
		monitor := monitoring.NewMonitor().WithPortNumber(cfg.MonitorPort)
		monitor.RegisterKernel(kernel)

		url := monitor.StartServer()
		defer monitor.StopServer()

		if cfg.OpenBrowser {
			monitor.OpenInBrowser(url)
		}

		bar := monitor.CreateProgressBar("rounds", runner.TotalRounds())
		defer monitor.CompleteProgressBar(bar)

		runner = runner.WithProgress(bar)
	}

	start := time.Now()
	result, err := runner.Run(ctx)
	duration := time.Since(start)

	if err != nil {
		return err
	}

	frameStats := kernel.FrameTable().Stats()
	swapStats := kernel.Swap().Stats()

	logrus.WithFields(logrus.Fields{
		"processes":     result.Processes,
		"rounds":        result.Rounds,
		"bytes_checked": result.BytesChecked,
		"evictions":     frameStats.NumEvictions,
		"swap_outs":     swapStats.NumOuts,
		"swap_ins":      swapStats.NumIns,
		"duration":      duration,
	}).Info("workload finished")

	for _, kind := range counter.Kinds() {
		fmt.Printf("%-16s %d\n", kind, counter.Count(kind))
	}

	if recorder != nil {
		recorder.InsertData(summaryTableName, summaryEntry{
			Processes:    result.Processes,
			Rounds:       result.Rounds,
			BytesChecked: result.BytesChecked,
			NumFrames:    frameStats.NumFrames,
			Evictions:    frameStats.NumEvictions,
			SwapOuts:     swapStats.NumOuts,
			SwapIns:      swapStats.NumIns,
			DurationNS:   duration.Nanoseconds(),
		})
	}

	return nil
}
