package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"d4macro/internal/api"
	"d4macro/internal/autostart"
	"d4macro/internal/config"
	"d4macro/internal/engine"
	"d4macro/internal/hotkey"
	"d4macro/internal/input"
	"d4macro/internal/macro"
	"d4macro/internal/osutils"
	"d4macro/internal/tray"

	"github.com/spf13/cobra"
)

type runOptions struct {
	dryRun bool
	noTray bool
}

func newRunCmd(g *globalFlags) *cobra.Command {
	opts := runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the macro service",
		Long:  "Runs the engine, hotkey poller, config watcher, local API and tray until interrupted.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runService(g, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "log key events instead of injecting them")
	cmd.Flags().BoolVar(&opts.noTray, "no-tray", false, "do not show the system tray icon")
	return cmd
}

// newDriver picks the input driver for the service
func newDriver(cfg *config.Config, dryRun bool) input.Driver {
	if dryRun {
		log.Println("Service: Dry run, key events are logged only")
		return input.NewDryRun()
	}

	osutils.WarnIfUnprivileged()
	driver := input.NewDriver()
	if cfg.General.DriverTimeoutMs > 0 {
		driver = input.WithTimeout(driver, time.Duration(cfg.General.DriverTimeoutMs)*time.Millisecond)
	}
	return driver
}

// syncAutostart brings the login item in line with start_on_boot
func syncAutostart(want bool) {
	if want == autostart.IsEnabled() {
		return
	}
	var err error
	if want {
		err = autostart.Enable()
	} else {
		err = autostart.Disable()
	}
	if err != nil {
		log.Printf("Warning: failed to update autostart: %v", err)
	}
}

func runService(g *globalFlags, opts runOptions) error {
	log.Println("D4Macro Service starting...")

	cfgMgr, err := loadConfig(g.configPath)
	if err != nil {
		return err
	}
	if _, err := os.Stat(cfgMgr.Path()); errors.Is(err, os.ErrNotExist) {
		if err := cfgMgr.Save(); err != nil {
			log.Printf("Warning: failed to write default config: %v", err)
		}
	}
	cfg := cfgMgr.Get()
	syncAutostart(cfg.General.StartOnBoot)

	driver := newDriver(cfg, opts.dryRun)
	eng := engine.New(driver)
	ctrl := macro.New(cfgMgr, eng)
	poller := hotkey.NewPoller(driver, cfgMgr, ctrl)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Status fan-out: API relay and tray
	var (
		listenersMu sync.Mutex
		listeners   []func(macro.Status)
	)
	addListener := func(fn func(macro.Status)) {
		listenersMu.Lock()
		listeners = append(listeners, fn)
		listenersMu.Unlock()
	}
	ctrl.OnStatusChange(func(status macro.Status) {
		log.Printf("Service: %s (%d running)", status.State, status.Running)
		listenersMu.Lock()
		fns := append([]func(macro.Status){}, listeners...)
		listenersMu.Unlock()
		for _, fn := range fns {
			fn(status)
		}
	})

	var wg sync.WaitGroup
	goLoop := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("Warning: %s stopped: %v", name, err)
			}
		}()
	}
	goLoop("engine", eng.Run)
	goLoop("hotkey poller", poller.Run)
	goLoop("config watcher", func(ctx context.Context) error { return config.Watch(ctx, cfgMgr) })

	var apiServer *api.Server
	if cfg.General.APIEnabled {
		apiServer = api.NewServer(cfgMgr, ctrl)
		addListener(apiServer.BroadcastStatus)
		go func() {
			if err := apiServer.Start(cfg.General.APIPort); err != nil {
				log.Printf("API server error: %v", err)
			}
		}()
	}

	for _, p := range cfg.Profiles {
		log.Printf("Service: Profile %q (%s) on %s", p.Name, p.ID, p.StartStopKey)
	}

	if cfg.General.ShowTray && !opts.noTray {
		t := tray.New(ctrl, stop)
		t.SetProfiles(cfgMgr.GetProfiles())
		addListener(t.UpdateStatus)
		cfgMgr.RegisterChangeCallback(func() {
			t.SetProfiles(cfgMgr.GetProfiles())
		})
		go func() {
			<-ctx.Done()
			t.Stop()
		}()

		log.Println("D4Macro Service running. Press Ctrl+C to stop.")
		t.Run()
		stop()
	} else {
		log.Println("D4Macro Service running. Press Ctrl+C to stop.")
		<-ctx.Done()
	}

	log.Println("Shutting down...")
	wg.Wait()

	if ctrl.IsAnyRunning() {
		ctrl.StopAllProfiles()
	}
	eng.Shutdown()

	if apiServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("Warning: API shutdown: %v", err)
		}
	}
	return nil
}
