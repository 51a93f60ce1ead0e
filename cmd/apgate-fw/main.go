package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/aspect-build/apgate/internal/boot"
	"github.com/aspect-build/apgate/internal/bus"
	"github.com/aspect-build/apgate/internal/config"
	"github.com/aspect-build/apgate/internal/dispatch"
	"github.com/aspect-build/apgate/internal/flash"
	"github.com/aspect-build/apgate/internal/hostmsg"
	"github.com/aspect-build/apgate/internal/identity"
	"github.com/aspect-build/apgate/internal/logx"
	"github.com/aspect-build/apgate/internal/redact"
	"github.com/aspect-build/apgate/internal/registry"
	"github.com/aspect-build/apgate/internal/secure"
	"github.com/aspect-build/apgate/internal/version"
)

// flagEnv maps flags that override configuration to their variables.
var flagEnv = map[string]string{
	"provision": "APGATE_PROVISION",
	"serial":    "APGATE_SERIAL",
	"store":     "APGATE_STORE",
	"i2c":       "APGATE_I2C",
	"arg-mode":  "APGATE_ARG_MODE",
	"boot-exec": "APGATE_BOOT_EXEC",
}

func main() {
	showVersion := pflag.BoolP("version", "v", false, "Print version and exit")
	verbose := pflag.Bool("verbose", false, "Enable verbose debug logs (same as --log-level debug)")
	logLevel := pflag.String("log-level", "", "Log level: debug|info|warn|error (or APGATE_LOG_LEVEL)")
	pflag.String("provision", "", "Provisioning file (or APGATE_PROVISION)")
	pflag.String("serial", "", "Host link tty; stdin/stdout when empty (or APGATE_SERIAL)")
	pflag.String("store", "", "Registry store: memory|file:<path>|sqlite:<path> (or APGATE_STORE)")
	pflag.String("i2c", "", "Board bus i2c-dev node (or APGATE_I2C)")
	pflag.String("arg-mode", "", "Argument mode: prompt|batch (or APGATE_ARG_MODE)")
	pflag.String("boot-exec", "", "Post-boot image to exec (or APGATE_BOOT_EXEC)")
	benchComponents := pflag.StringSlice("bench-component", nil, "Component provisioning files answered in-process for attest (bench use only)")
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s\n\n", version.String("apgate-fw"))
		fmt.Fprintf(os.Stderr, "apgate-fw serves the device command protocol on the host serial link.\n\n")
		fmt.Fprintf(os.Stderr, "Environment variables:\n")
		fmt.Fprintf(os.Stderr, "  APGATE_PROVISION   Provisioning file, YAML or JSONC (required)\n")
		fmt.Fprintf(os.Stderr, "  APGATE_SERIAL      Host link tty (default: stdin/stdout)\n")
		fmt.Fprintf(os.Stderr, "  APGATE_BAUD        Host link baud rate (default: 115200)\n")
		fmt.Fprintf(os.Stderr, "  APGATE_STORE       Registry store (default: file:apgate.flash)\n")
		fmt.Fprintf(os.Stderr, "  APGATE_I2C         Board bus i2c-dev node (default: none)\n")
		fmt.Fprintf(os.Stderr, "  APGATE_ARG_MODE    prompt|batch (default: prompt)\n")
		fmt.Fprintf(os.Stderr, "  APGATE_TRANSCRIPT  Prefix output lines with the board name (default: false)\n")
		fmt.Fprintf(os.Stderr, "  APGATE_BOARD       Board name for transcripts (default: A)\n")
		fmt.Fprintf(os.Stderr, "  APGATE_MAGIC       Registry magic (default: 0x4B1D)\n")
		fmt.Fprintf(os.Stderr, "  APGATE_BOOT_EXEC   Post-boot image (default: halt after boot)\n")
		fmt.Fprintf(os.Stderr, "  APGATE_LOG_LEVEL   debug|info|warn|error (default: info)\n")
		fmt.Fprintf(os.Stderr, "\nFlags:\n")
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if *showVersion {
		fmt.Println(version.String("apgate-fw"))
		os.Exit(0)
	}

	if err := logx.Configure(*logLevel, *verbose); err != nil {
		log.Fatalf("configure logging: %v", err)
	}

	pflag.Visit(func(f *pflag.Flag) {
		if env, ok := flagEnv[f.Name]; ok {
			os.Setenv(env, f.Value.String())
		}
	})
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	src, err := identity.LoadFile(cfg.ProvisionPath)
	if err != nil {
		log.Fatalf("load provisioning: %v", err)
	}
	id, err := identity.NewProvider(src).Get()
	if err != nil {
		log.Fatalf("resolve identity: %v", err)
	}

	masker := redact.NewMaskingWriter(os.Stderr, id.Secrets())
	defer masker.Flush()
	logx.SetOutput(masker)
	logx.Infof("%s starting as %s", version.String("apgate-fw"), id.Role())

	link, closeLink, err := openLink(cfg)
	if err != nil {
		log.Fatalf("open host link: %v", err)
	}
	defer closeLink()

	dir := bus.NewDirectory(nil)
	if cfg.I2CPath != "" {
		dev, err := bus.OpenI2CDev(cfg.I2CPath)
		if err != nil {
			log.Fatalf("open bus: %v", err)
		}
		defer dev.Close()
		dir = bus.NewDirectory(dev)
	}

	dcfg := dispatch.Config{
		Channel:   hostmsg.New(link, hostmsg.Options{BoardName: cfg.Board, Transcript: cfg.Transcript}),
		Identity:  id,
		Directory: dir,
		Secure:    secure.Unimplemented{},
		Mode:      cfg.ArgMode,
	}

	var halt *boot.Halt
	if id.IsAP() {
		store, closeStore, err := flash.Open(cfg.Store)
		if err != nil {
			log.Fatalf("open store: %v", err)
		}
		defer closeStore()

		reg := registry.New(store, id.AP().AuthorizedIDs)
		if err := reg.Init(cfg.Magic); err != nil {
			// list and replace report the fault to the host.
			logx.Errorf("registry init: %v", err)
		}
		dcfg.Registry = reg

		if cfg.BootExec != "" {
			dcfg.Booter = &boot.Exec{Path: cfg.BootExec}
		} else {
			halt = &boot.Halt{}
			dcfg.Booter = halt
		}

		if len(*benchComponents) > 0 {
			lb, err := loadBench(*benchComponents)
			if err != nil {
				log.Fatalf("load bench components: %v", err)
			}
			logx.Warnf("attest answered in-process for %d bench component(s)", len(*benchComponents))
			dcfg.Secure = lb
		}
	}

	d, err := dispatch.New(dcfg)
	if err != nil {
		log.Fatalf("build dispatcher: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = d.Run(ctx)
	switch {
	case errors.Is(err, dispatch.ErrBooted):
		if halt != nil {
			logx.Infof("halted after boot")
			<-ctx.Done()
		}
	case errors.Is(err, context.Canceled):
		logx.Infof("shutting down")
	case err != nil:
		logx.Errorf("dispatcher: %v", err)
		masker.Flush()
		os.Exit(1)
	}
}

type stdio struct {
	io.Reader
	io.Writer
}

func openLink(cfg *config.Config) (io.ReadWriter, func() error, error) {
	if cfg.SerialPath == "" {
		return stdio{os.Stdin, os.Stdout}, func() error { return nil }, nil
	}
	f, err := hostmsg.OpenSerial(cfg.SerialPath, cfg.Baud)
	if err != nil {
		return nil, nil, err
	}
	return f, f.Close, nil
}

func loadBench(paths []string) (*secure.Loopback, error) {
	var comps []*identity.Component
	for _, p := range paths {
		src, err := identity.LoadFile(p)
		if err != nil {
			return nil, err
		}
		id, err := identity.Resolve(src)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		if id.IsAP() {
			return nil, fmt.Errorf("%s: not a component provisioning file", p)
		}
		c := id.Component()
		comps = append(comps, &c)
	}
	return secure.NewLoopback(comps...), nil
}
