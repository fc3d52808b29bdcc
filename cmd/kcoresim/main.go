// Command kcoresim boots the kernel core as a regular process. Keystrokes
// from the controlling terminal are delivered as keyboard interrupts and a
// host ticker drives the timer interrupt.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/gnl2024/os-tutorial/kernel/config"
	"github.com/gnl2024/os-tutorial/kernel/kfmt"
	"github.com/gnl2024/os-tutorial/kernel/kmain"
	"github.com/hashicorp/go-hclog"
	"github.com/mattn/go-tty"
)

// options collects repeated -o key=value flags.
type options map[string]string

func (o options) String() string {
	var parts []string
	for k, v := range o {
		parts = append(parts, k+"="+v)
	}
	return strings.Join(parts, ",")
}

func (o options) Set(s string) error {
	key, value, ok := strings.Cut(s, "=")
	if !ok {
		return fmt.Errorf("expected key=value; got %q", s)
	}
	o[key] = value
	return nil
}

// crlfWriter translates line feeds for a terminal in raw mode.
type crlfWriter struct {
	w io.Writer
}

func (c crlfWriter) Write(p []byte) (int, error) {
	if _, err := c.w.Write(bytes.ReplaceAll(p, []byte("\n"), []byte("\r\n"))); err != nil {
		return 0, err
	}
	return len(p), nil
}

var (
	configFlag = flag.String("config", "", "load the kernel configuration from a JSON file")
	memMapFlag = flag.String("memmap", "", "write a PNG map of the memory regions to this file and exit")
	tickFlag   = flag.Duration("tick", 100*time.Millisecond, "timer interrupt period")
	demoFlag   = flag.Bool("demo", false, "populate the kernel tables with demo processes and messages")
	opts       = options{}
)

func main() {
	flag.Var(opts, "o", "override a configuration key (key=value); may be repeated")
	flag.Parse()

	log := hclog.New(&hclog.LoggerOptions{Name: "kcoresim", Output: os.Stderr})
	if err := run(log); err != nil {
		log.Error("simulator failed", "error", err)
		os.Exit(1)
	}
}

func loadConfig(log hclog.Logger) (config.Config, error) {
	cfg := config.Default()
	if *configFlag != "" {
		f, err := os.Open(*configFlag)
		if err != nil {
			return cfg, err
		}
		defer f.Close()

		if cfg, err = config.Load(f); err != nil {
			return cfg, err
		}
	}

	if *demoFlag {
		cfg.Demo = true
	}
	kmain.ApplyCmdLine(&cfg, opts, log)
	return cfg, nil
}

func run(log hclog.Logger) error {
	cfg, err := loadConfig(log)
	if err != nil {
		return err
	}

	if *memMapFlag != "" {
		return writeMemMap(cfg, *memMapFlag)
	}

	term, err := tty.Open()
	if err != nil {
		return err
	}
	defer term.Close()

	restore, err := term.Raw()
	if err != nil {
		return err
	}
	defer restore()

	out := crlfWriter{w: term.Output()}
	kfmt.SetOutputSink(out)

	m, kerr := newMachine(cfg, out)
	if kerr != nil {
		return kerr
	}
	kfmt.SetHaltFn(m.halt)

	fmt.Fprintf(out, "System ready!\n> ")

	keys := readKeys(term.ReadRune, m.halted)

	ticker := time.NewTicker(*tickFlag)
	defer ticker.Stop()

	for {
		select {
		case <-m.halted:
			return nil
		case <-ticker.C:
			m.tick()
		case r, ok := <-keys:
			if !ok {
				return nil
			}
			m.press(r)
		}
	}
}

// readKeys forwards runes returned by next until it fails or done is
// closed. The returned channel is closed when the reader exits.
func readKeys(next func() (rune, error), done <-chan struct{}) <-chan rune {
	keys := make(chan rune)
	go func() {
		defer close(keys)
		for {
			r, err := next()
			if err != nil {
				return
			}

			select {
			case keys <- r:
			case <-done:
				return
			}
		}
	}()
	return keys
}

func writeMemMap(cfg config.Config, path string) error {
	m, kerr := newMachine(cfg, io.Discard)
	if kerr != nil {
		return kerr
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}

	if err = renderMemMap(f, m.k.Memory, m.k.MPU); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
