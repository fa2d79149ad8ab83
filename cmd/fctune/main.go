// Command fctune drives the automatic cavity tuner: it loads an instrument
// configuration, connects to the VNA and motor controllers, and runs one
// tuning session against a target frequency.
//
// Usage:
//
//	fctune -config fctune.yaml -target-hz 5.2e9
//	fctune -config fctune.yaml -target-hz 5.2e9 -small-change=false -scan-coupling
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"

	"github.com/filtcav/fctune/instrument"
	"github.com/filtcav/fctune/internal/config"
	"github.com/filtcav/fctune/lookup"
	"github.com/filtcav/fctune/scpi"
	"github.com/filtcav/fctune/store"
	"github.com/filtcav/fctune/tmcl"
	"github.com/filtcav/fctune/tuning"
	"github.com/filtcav/fctune/zaber/ascii"
)

func main() {
	configPath := flag.String("config", "fctune.yaml", "path to instrument configuration")
	targetHz := flag.Float64("target-hz", 0, "target resonance frequency in Hz")
	verbose := flag.Bool("verbose", false, "enable verbose logging")
	linSpanMM := flag.Float64("lin-span-mm", tuning.DefaultLinSpanMM, "bounding span of the linear-axis simplex, in mm")
	couplingSpan := flag.Float64("coupling-span", tuning.DefaultCouplingSpan, "initial coupling-axis simplex offset scale")
	smallChange := flag.Bool("small-change", true, "start from the current position instead of consulting the lookup table")
	scanCoupling := flag.Bool("scan-coupling", false, "run the coupling scanner before the simplex search")
	depthEps := flag.Float64("depth-tol", tuning.DefaultDepthEps, "depth convergence tolerance (linear)")
	omegaEps := flag.Float64("freq-tol", tuning.DefaultOmegaEps, "frequency convergence tolerance, in Hz")
	flag.Parse()

	if *targetHz <= 0 {
		fmt.Fprintln(os.Stderr, "fctune: -target-hz is required and must be positive")
		os.Exit(2)
	}

	if *verbose {
		log.SetLevel(log.DebugLevel)
	}

	if err := run(*configPath, *targetHz, tuning.Options{
		Verbose:      *verbose,
		LinSpanMM:    *linSpanMM,
		CouplingSpan: *couplingSpan,
		SmallChange:  smallChange,
		ScanCoupling: *scanCoupling,
		DepthEps:     *depthEps,
		OmegaEps:     *omegaEps,
	}); err != nil {
		log.Fatal("fctune: tuning run failed", "err", err)
	}
}

func run(configPath string, targetHz float64, opts tuning.Options) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	timeout := time.Duration(cfg.VNA.Timeout.Seconds * float64(time.Second))
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	vnaClient, err := scpi.Dial(ctx, cfg.VNA.Address, timeout)
	if err != nil {
		return fmt.Errorf("fctune: dial VNA: %w", err)
	}
	defer vnaClient.Close()
	var vna instrument.VNA = scpi.NewVNA(vnaClient)
	if cfg.DataPath != "" {
		vna = store.NewTracingVNA(vna, cfg.DataPath)
	}

	linearPort, err := ascii.Open(cfg.Linear.Port, cfg.Linear.Baud)
	if err != nil {
		return fmt.Errorf("fctune: open linear stage: %w", err)
	}
	defer linearPort.Close()
	linearDevice := ascii.NewDevice(linearPort, cfg.Linear.Address)
	linear := ascii.NewLinearStage(linearDevice, cfg.Linear.Axis, cfg.Linear.StepToMM)

	rotaryPort, err := tmcl.Open(cfg.Rotary.Port, cfg.Rotary.Baud)
	if err != nil {
		return fmt.Errorf("fctune: open rotary stage: %w", err)
	}
	defer rotaryPort.Close()
	rotary := tmcl.NewMotor(rotaryPort, cfg.Rotary.Address)

	var table *lookup.Table
	if cfg.LookupTable != "" {
		table, err = lookup.Load(cfg.LookupTable)
		if err != nil {
			return fmt.Errorf("fctune: load lookup table: %w", err)
		}
	}

	session := tuning.NewSession(vna, linear, rotary, table, opts)
	result, err := session.Run(ctx, targetHz)
	if err != nil {
		return err
	}

	if result.Convergence != nil {
		log.Warn("fctune: convergence failure, returning best-effort result", "iterations", result.Convergence.Iterations)
	}
	log.Info("fctune: tuning complete",
		"converged", result.Converged,
		"iterations", result.Iterations,
		"best_length_mm", result.BestPoint.LengthMM,
		"best_coupling_steps", result.BestPoint.CouplingSteps,
		"best_cost", result.BestCost,
	)
	return nil
}
