package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"regexp"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hochfrequenz/nta-batch/internal/bridge"
	"github.com/hochfrequenz/nta-batch/internal/cancel"
	"github.com/hochfrequenz/nta-batch/internal/clock"
	"github.com/hochfrequenz/nta-batch/internal/latch"
	"github.com/hochfrequenz/nta-batch/internal/samplelist"
)

var (
	validateWatch bool
	probeTimeout  time.Duration
	probeReset    bool
)

func init() {
	validateCmd := &cobra.Command{
		Use:   "validate LIST",
		Short: "Check a sample list without running it",
		Args:  cobra.ExactArgs(1),
		RunE:  runValidate,
	}
	validateCmd.Flags().BoolVarP(&validateWatch, "watch", "w", false, "re-check on every change")
	rootCmd.AddCommand(validateCmd)

	portsCmd := &cobra.Command{
		Use:   "ports",
		Short: "List serial ports and which one matches the bridge pattern",
		RunE:  runPorts,
	}
	rootCmd.AddCommand(portsCmd)

	probeCmd := &cobra.Command{
		Use:   "probe",
		Short: "Check the bridge link and whether the autosampler signal is live",
		RunE:  runProbe,
	}
	probeCmd.Flags().DurationVar(&probeTimeout, "timeout", 5*time.Second, "how long to wait for the signal")
	probeCmd.Flags().BoolVar(&probeReset, "reset", false, "clear the latch first")
	rootCmd.AddCommand(probeCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	path := args[0]
	report := func(list *samplelist.List, err error) {
		if err != nil {
			var verr *samplelist.ValidationError
			if errors.As(err, &verr) {
				fmt.Printf("%s has %d problem(s):\n", path, len(verr.Problems))
				for _, p := range verr.Problems {
					fmt.Printf("  - %s\n", p)
				}
				return
			}
			fmt.Printf("%s: %v\n", path, err)
			return
		}
		fmt.Printf("%s: %d samples OK\n", path, len(list.Samples))
	}

	list, err := samplelist.Load(path)
	report(list, err)
	if !validateWatch {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	fmt.Println("Watching for changes, Ctrl+C to stop")
	return samplelist.Watch(ctx, path, 500*time.Millisecond, report)
}

func runPorts(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	pattern, err := regexp.Compile(cfg.Bridge.PortPattern)
	if err != nil {
		return fmt.Errorf("bridge port pattern: %w", err)
	}

	ports, err := bridge.SerialDriver{}.List()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		fmt.Println("No serial ports found")
		return nil
	}

	matched := make(map[string]bool)
	for _, p := range bridge.Matching(ports, pattern) {
		matched[p.Name] = true
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PORT\tDESCRIPTION\tUSB ID\tBRIDGE")
	for _, p := range ports {
		usb := "-"
		if p.VID != "" {
			usb = p.VID + ":" + p.PID
		}
		mark := ""
		if matched[p.Name] {
			mark = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.Name, p.Description, usb, mark)
	}
	return w.Flush()
}

func runProbe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := openLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Close()

	pattern, err := regexp.Compile(cfg.Bridge.PortPattern)
	if err != nil {
		return fmt.Errorf("bridge port pattern: %w", err)
	}
	ch, err := bridge.Open(bridge.SerialDriver{}, pattern, bridgeSettings(cfg), log)
	if err != nil {
		return err
	}
	defer ch.Close()
	fmt.Printf("Bridge on %s\n", ch.PortName())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	p := latch.New(ch, clock.Real(), cancel.NewToken(ctx), latch.Options{
		Attempts:      cfg.Timing.RetryAttempts,
		RetryInterval: cfg.Timing.RetryInterval(),
		PollInterval:  cfg.Timing.PollInterval(),
	}, log)

	if probeReset {
		res := p.ResetLatch()
		fmt.Printf("Reset latch: %s\n", res)
		if res != latch.Cleared {
			return probeError(p, res)
		}
	}

	res := p.Probe(probeTimeout)
	switch res {
	case latch.Signaled:
		fmt.Println("Autosampler signal is live")
	case latch.TimedOut:
		fmt.Printf("No autosampler signal within %s\n", probeTimeout)
	default:
		return probeError(p, res)
	}
	return nil
}

func probeError(p *latch.Protocol, res latch.Result) error {
	if err := p.LastError(); err != nil {
		return fmt.Errorf("probe %s: %w", res, err)
	}
	return fmt.Errorf("probe %s", res)
}
