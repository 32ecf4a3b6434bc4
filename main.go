package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"dio.wtf/blepad/blepad"
	"dio.wtf/blepad/blepad/bluez"
	"dio.wtf/blepad/blepad/log"
	"dio.wtf/blepad/blepad/source"
	"dio.wtf/blepad/blepad/tinyble"
	"dio.wtf/blepad/blepad/ui"
	tea "github.com/charmbracelet/bubbletea"
)

var (
	service        = flag.String("service", "0xffe0", "primary service uuid (0x-hex, 4 hex digits or full uuid)")
	characteristic = flag.String("characteristic", "0xffe1", "writable characteristic uuid")
	withResponse   = flag.Bool("with-response", false, "use acknowledged writes")
	backend        = flag.String("backend", "bluez", "bluetooth backend: bluez or tinygo")
	adapterId      = flag.String("adapter", "", "bluez adapter id, e.g. hci0 (default: first adapter)")
	address        = flag.String("address", "", "only accept the peripheral with this address")
	scanTimeout    = flag.Duration("scan-timeout", bluez.DefaultScanTimeout, "give up scanning after this long")
	evdevPath      = flag.String("evdev", "", "grab this input device, e.g. /dev/input/event3")
	joystickId     = flag.Int("joystick", -1, "poll this joystick index")
	hold           = flag.Duration("hold", ui.DefaultHold, "release a terminal key after this long without repeats")
	logLevel       = flag.String("loglevel", "info", "log level")
	logFile        = flag.String("logfile", "", "also write the log to this file")
)

type closer interface {
	Close()
}

func newPlatform() (blepad.Platform, error) {
	switch *backend {
	case "bluez":
		p := bluez.NewPlatform(*adapterId)
		p.Address = *address
		p.ScanTimeout = *scanTimeout
		return p, nil
	case "tinygo":
		p := tinyble.NewPlatform()
		p.ScanTimeout = *scanTimeout
		return p, nil
	}
	return nil, fmt.Errorf("unknown backend %q", *backend)
}

type inputSource interface {
	Name() string
	Run(ctx context.Context, events chan<- blepad.InputEvent) error
}

func openSources() (sources []inputSource) {
	if *evdevPath != "" {
		dev, err := source.OpenEvdev(*evdevPath)
		if nil != err {
			log.Warn(err)
		} else {
			sources = append(sources, dev)
		}
	}
	if *joystickId >= 0 {
		js, err := source.OpenJoystick(*joystickId)
		if nil != err {
			log.Warn(err)
		} else {
			sources = append(sources, js)
		}
	}
	return
}

func main() {
	flag.Parse()

	if err := log.SetLevel(*logLevel); nil != err {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	// The terminal belongs to the UI; the log goes to its panel and the file.
	logs := ui.NewLogBuffer(ui.DefaultLogLines)
	log.AddHook(logs)
	log.SetOutput(io.Discard)
	if *logFile != "" {
		f, err := os.OpenFile(*logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if nil != err {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		defer f.Close()
		log.SetOutput(f)
	}

	platform, err := newPlatform()
	if nil != err {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if c, ok := platform.(closer); ok {
		defer c.Close()
	}

	indicator := ui.NewIndicator()
	pad := blepad.NewPad(platform, indicator)
	pad.SetWriteWithResponse(*withResponse)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan blepad.InputEvent, 64)
	var wg sync.WaitGroup
	for _, src := range openSources() {
		wg.Add(1)
		go func(src inputSource) {
			defer wg.Done()
			if err := src.Run(ctx, events); nil != err {
				log.ErrorF("%s: %v", src.Name(), err)
			}
		}(src)
	}
	go pad.Pump(ctx, events)

	model := ui.NewModel(pad, ui.Options{
		Config: blepad.Config{
			Service:        *service,
			Characteristic: *characteristic,
			WithResponse:   *withResponse,
		},
		Indicator: indicator,
		Logs:      logs,
		Hold:      *hold,
	})
	program := tea.NewProgram(model,
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
		tea.WithReportFocus(),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM)
	go func() {
		<-sigCh
		program.Quit()
	}()

	if _, err := program.Run(); nil != err {
		fmt.Fprintln(os.Stderr, err)
	}

	cancel()
	waitTimeout(&wg, time.Second)
	if pad.Status().CanDisconnect() {
		pad.Disconnect()
	}
}

func waitTimeout(wg *sync.WaitGroup, d time.Duration) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d):
		log.Debug("input sources did not stop in time")
	}
}
