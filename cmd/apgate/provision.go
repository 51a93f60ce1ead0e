package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/aspect-build/apgate/internal/dispatch"
	"github.com/aspect-build/apgate/internal/host"
	"github.com/aspect-build/apgate/internal/identity"
	"github.com/aspect-build/apgate/internal/registry"
)

func newProvisionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Work with provisioning files",
	}
	cmd.AddCommand(newProvisionCheckCmd())
	return cmd
}

func newProvisionCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <file>",
		Short: "Validate a provisioning file and print its non-secret constants",
		Long: `Load a YAML or JSONC provisioning file, resolve it the way the firmware
does, and check that its secrets fit the firmware's receive buffers. Pins and
tokens are never printed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return checkProvision(cmd.OutOrStdout(), args[0])
		},
	}
}

func checkProvision(w io.Writer, path string) error {
	src, err := identity.LoadFile(path)
	if err != nil {
		return err
	}
	id, err := identity.Resolve(src)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "role=%s\n", id.Role())
	if !id.IsAP() {
		c := id.Component()
		fmt.Fprintf(w, "id=%s\n", host.FormatID(c.ID))
		fmt.Fprintf(w, "boot_msg=%s\n", c.BootMsg)
		fmt.Fprintf(w, "attestation_loc=%s\n", c.AttestationLoc)
		fmt.Fprintf(w, "attestation_date=%s\n", c.AttestationDate)
		fmt.Fprintf(w, "attestation_customer=%s\n", c.AttestationCustomer)
		return nil
	}

	ap := id.AP()
	if len(ap.Pin) > dispatch.PinSize {
		return fmt.Errorf("pin is %d bytes, the device accepts at most %d", len(ap.Pin), dispatch.PinSize)
	}
	if len(ap.Token) > dispatch.TokenSize {
		return fmt.Errorf("token is %d bytes, the device accepts at most %d", len(ap.Token), dispatch.TokenSize)
	}
	if len(ap.AuthorizedIDs) > registry.Capacity {
		return fmt.Errorf("%d authorized ids, registry holds at most %d", len(ap.AuthorizedIDs), registry.Capacity)
	}

	fmt.Fprintf(w, "boot_msg=%s\n", ap.BootMsg)
	fmt.Fprintf(w, "pin_len=%d\n", len(ap.Pin))
	fmt.Fprintf(w, "token_len=%d\n", len(ap.Token))
	for _, cid := range ap.AuthorizedIDs {
		fmt.Fprintf(w, "authorized=%s\n", host.FormatID(cid))
	}
	return nil
}
