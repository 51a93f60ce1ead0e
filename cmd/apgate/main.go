package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/aspect-build/apgate/internal/host"
	"github.com/aspect-build/apgate/internal/hostmsg"
	"github.com/aspect-build/apgate/internal/identity"
	"github.com/aspect-build/apgate/internal/logx"
	"github.com/aspect-build/apgate/internal/redact"
	"github.com/aspect-build/apgate/internal/version"
)

// devCommands is populated by dev.go (build tag "dev") with dev-only subcommands.
var devCommands []*cobra.Command

// portOptions are the flags shared by every command that talks to a device.
type portOptions struct {
	port    string
	baud    int
	batch   bool
	timeout time.Duration
}

func (o *portOptions) flagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("port", pflag.ContinueOnError)
	fs.StringVarP(&o.port, "port", "p", "", "Device serial port (or set APGATE_PORT)")
	fs.IntVar(&o.baud, "baud", 115200, "Serial baud rate")
	fs.BoolVar(&o.batch, "batch", false, "Send arguments on the command line (device in batch mode)")
	fs.DurationVar(&o.timeout, "timeout", 10*time.Second, "Per-command timeout")
	return fs
}

// resolvePort returns the port from the flag or APGATE_PORT.
func (o *portOptions) resolvePort(cmd *cobra.Command) (string, error) {
	if cmd.Flags().Changed("port") {
		return o.port, nil
	}
	if v := os.Getenv("APGATE_PORT"); v != "" {
		return v, nil
	}
	return "", fmt.Errorf("serial port required: use --port flag or set APGATE_PORT")
}

// withClient opens the port, runs fn with a client and a context bounded by
// the configured timeout, then closes the port.
func (o *portOptions) withClient(cmd *cobra.Command, fn func(ctx context.Context, c *host.Client) error) error {
	port, err := o.resolvePort(cmd)
	if err != nil {
		return err
	}
	f, err := hostmsg.OpenSerial(port, o.baud)
	if err != nil {
		return err
	}
	defer f.Close()

	var opts []host.Option
	if o.batch {
		opts = append(opts, host.WithBatch())
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), o.timeout)
	defer cancel()
	return fn(ctx, host.New(f, opts...))
}

func main() {
	var (
		verbose  bool
		logLevel string
	)

	rootCmd := &cobra.Command{
		Use:     "apgate",
		Short:   "apgate - drive and inspect Application Processor devices",
		Version: version.Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return logx.Configure(logLevel, verbose)
		},
		SilenceUsage: true,
	}
	rootCmd.SetVersionTemplate(version.String("apgate") + "\n")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Enable verbose debug logs (same as --log-level debug)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug|info|warn|error (or APGATE_LOG_LEVEL)")

	rootCmd.AddCommand(newListCmd())
	rootCmd.AddCommand(newBootCmd())
	rootCmd.AddCommand(newReplaceCmd())
	rootCmd.AddCommand(newAttestCmd())
	rootCmd.AddCommand(newRegistryCmd())
	rootCmd.AddCommand(newProvisionCmd())
	for _, cmd := range devCommands {
		rootCmd.AddCommand(cmd)
	}

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newListCmd() *cobra.Command {
	var opts portOptions
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List provisioned component ids and components found on the bus",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withClient(cmd, func(ctx context.Context, c *host.Client) error {
				l, err := c.List(ctx)
				if err != nil {
					return err
				}
				printListing(cmd.OutOrStdout(), l)
				return nil
			})
		},
	}
	cmd.Flags().AddFlagSet(opts.flagSet())
	return cmd
}

func printListing(w io.Writer, l *host.Listing) {
	for _, id := range l.Provisioned {
		fmt.Fprintf(w, "provisioned=%s\n", host.FormatID(id))
	}
	for _, id := range l.Found {
		fmt.Fprintf(w, "found=%s\n", host.FormatID(id))
	}
}

func newBootCmd() *cobra.Command {
	var opts portOptions
	cmd := &cobra.Command{
		Use:   "boot",
		Short: "Boot the device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withClient(cmd, func(ctx context.Context, c *host.Client) error {
				msg, err := c.Boot(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "boot_msg=%s\n", msg)
				return nil
			})
		},
	}
	cmd.Flags().AddFlagSet(opts.flagSet())
	return cmd
}

func newReplaceCmd() *cobra.Command {
	var (
		opts  portOptions
		token string
	)
	cmd := &cobra.Command{
		Use:   "replace --token <token> <new_id> <old_id>",
		Short: "Replace a provisioned component id",
		Long: `Replace old_id with new_id in the device registry. Ids are 0x-prefixed hex.
The token may also be supplied through APGATE_TOKEN.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			newID, err := identity.ParseID(args[0])
			if err != nil {
				return err
			}
			oldID, err := identity.ParseID(args[1])
			if err != nil {
				return err
			}
			token, err := secretValue(cmd, "token", token, "APGATE_TOKEN")
			if err != nil {
				return err
			}
			defer redactLogs(token).Flush()
			return opts.withClient(cmd, func(ctx context.Context, c *host.Client) error {
				if err := c.Replace(ctx, token, newID, oldID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "replaced=%s->%s\n", host.FormatID(oldID), host.FormatID(newID))
				return nil
			})
		},
	}
	cmd.Flags().AddFlagSet(opts.flagSet())
	cmd.Flags().StringVar(&token, "token", "", "Replacement token (or set APGATE_TOKEN)")
	return cmd
}

func newAttestCmd() *cobra.Command {
	var (
		opts portOptions
		pin  string
	)
	cmd := &cobra.Command{
		Use:   "attest --pin <pin> <component_id>",
		Short: "Read a component's attestation data",
		Long:  `The pin may also be supplied through APGATE_PIN.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := identity.ParseID(args[0])
			if err != nil {
				return err
			}
			pin, err := secretValue(cmd, "pin", pin, "APGATE_PIN")
			if err != nil {
				return err
			}
			defer redactLogs(pin).Flush()
			return opts.withClient(cmd, func(ctx context.Context, c *host.Client) error {
				a, err := c.Attest(ctx, pin, id)
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				fmt.Fprintf(w, "component=%s\n", host.FormatID(a.ComponentID))
				fmt.Fprintf(w, "location=%s\n", a.Location)
				fmt.Fprintf(w, "date=%s\n", a.Date)
				fmt.Fprintf(w, "customer=%s\n", a.Customer)
				return nil
			})
		},
	}
	cmd.Flags().AddFlagSet(opts.flagSet())
	cmd.Flags().StringVar(&pin, "pin", "", "Attestation pin (or set APGATE_PIN)")
	return cmd
}

func secretValue(cmd *cobra.Command, flag, value, env string) (string, error) {
	if cmd.Flags().Changed(flag) {
		return value, nil
	}
	if v := os.Getenv(env); v != "" {
		return v, nil
	}
	return "", fmt.Errorf("%s required: use --%s flag or set %s", flag, flag, env)
}

// redactLogs keeps secret out of debug logs, which echo the host side of
// the exchange.
func redactLogs(secret string) *redact.MaskingWriter {
	mw := redact.NewMaskingWriter(os.Stderr, []string{secret})
	logx.SetOutput(mw)
	return mw
}
