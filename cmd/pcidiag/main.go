// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	zapcore "go.uber.org/zap"

	"github.com/antimetal/pcidiag/pkg/cloudctx"
	"github.com/antimetal/pcidiag/pkg/diag"
	"github.com/antimetal/pcidiag/pkg/pci"
	"github.com/antimetal/pcidiag/pkg/remediate"
)

var (
	verbose      bool
	workDir      string
	parallelScan bool
	maxBoots     int
	deviceFilter string
	planSlot     string
	planStrategy string
	enableCloud  bool
)

func init() {
	flag.BoolVar(&verbose, "verbose", false, "Enable verbose logging")
	flag.StringVar(&workDir, "work-dir", "", "Directory scan reports are persisted to (default "+pci.DefaultWorkDir+")")
	flag.BoolVar(&parallelScan, "parallel-scan", false, "Scan PCI devices concurrently")
	flag.IntVar(&maxBoots, "max-boots", 0, fmt.Sprintf("Number of boots the crash correlator analyzes (default %d)", pci.DefaultMaxBoots))
	flag.StringVar(&deviceFilter, "device-filter", "", "Restrict crash correlation to slots containing this substring")
	flag.StringVar(&planSlot, "plan-device", "", "If set, generate a remediation plan for this PCI slot instead of scanning")
	flag.StringVar(&planStrategy, "plan-strategy", "", "Remediation strategy for -plan-device: pci-stub, vfio-pci, dual, power-off, disable, unbind")
	flag.BoolVar(&enableCloud, "cloud-context", false, "Attempt AWS instance metadata enrichment")
}

func main() {
	flag.Parse()

	var logger logr.Logger
	if verbose {
		zapLog, _ := zapcore.NewDevelopment()
		logger = zapr.NewLogger(zapLog)
	} else {
		zapLog, _ := zapcore.NewProduction()
		logger = zapr.NewLogger(zapLog)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if planSlot != "" {
		runPlan(ctx, logger)
		return
	}

	runScan(ctx, logger)
}

func runScan(ctx context.Context, logger logr.Logger) {
	config := pci.Config{ParallelScan: parallelScan, WorkDir: workDir, MaxBoots: maxBoots}
	config.ApplyDefaults()

	reader, err := pci.NewReader(logger, config)
	if err != nil {
		logger.Error(err, "unable to create PCI reader")
		os.Exit(1)
	}

	var acpiErrors []pci.AcpiError
	journal := diag.JournalBootLogSource{Logger: logger}
	if log, err := journal.ReadBootLog(ctx, "0"); err == nil {
		acpiErrors = diag.ScanAcpiErrors(log)
	}

	describer := pci.NewDescriber()

	report, err := pci.Scan(ctx, logger, reader, describer, time.Now, acpiErrors)
	if err != nil {
		logger.Error(err, "scan failed")
		os.Exit(1)
	}

	if enableCloud {
		if client, err := cloudctx.New(ctx, logger); err == nil {
			report.CloudContext = client.Discover(ctx)
		} else {
			logger.V(1).Info("cloud context unavailable", "err", err)
		}
	}

	sink := pci.FileReportSink{WorkDir: config.WorkDir}
	if err := sink.Persist(ctx, report); err != nil {
		logger.V(1).Info("failed to persist scan report", "err", err)
	}

	diagnosis, err := diag.Diagnose(ctx, journal, config.MaxBoots, deviceFilter)
	if err != nil {
		logger.V(1).Info("crash correlation unavailable", "err", err)
	}

	output, _ := json.MarshalIndent(struct {
		Report    pci.SystemReport   `json:"report"`
		Diagnosis diag.CrashDiagnosis `json:"diagnosis"`
	}{report, diagnosis}, "", "  ")
	fmt.Println(string(output))
}

func runPlan(ctx context.Context, logger logr.Logger) {
	config := pci.Config{}
	config.ApplyDefaults()

	idReader := remediate.SysfsPciIDReader{SysPath: config.SysPath}
	plan, err := remediate.CreatePlan(idReader, func() int64 { return time.Now().Unix() }, planSlot, planStrategy)
	if err != nil {
		logger.Error(err, "unable to create remediation plan")
		os.Exit(1)
	}

	store, err := remediate.NewStore(logger, "")
	if err != nil {
		logger.Error(err, "unable to open remediation store")
		os.Exit(1)
	}
	defer store.Close()

	if err := store.SavePlan(plan); err != nil {
		logger.Error(err, "unable to save plan")
		os.Exit(1)
	}

	applier := remediate.NewApplier(logger, os.Stdout, store, time.Now)
	if _, err := applier.Apply(ctx, plan); err != nil {
		logger.Error(err, "unable to apply plan")
		os.Exit(1)
	}
}
