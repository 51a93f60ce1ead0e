//go:build dev

package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aspect-build/apgate/internal/config"
	"github.com/aspect-build/apgate/internal/flash"
	"github.com/aspect-build/apgate/internal/identity"
	"github.com/aspect-build/apgate/internal/registry"
)

func init() {
	devCommands = append(devCommands, newFormatCmd())
}

func newFormatCmd() *cobra.Command {
	var (
		storeSpec string
		seed      string
		magic     uint32
	)

	cmd := &cobra.Command{
		Use:   "format",
		Short: "[dev] Overwrite a registry store with a fresh entry",
		Long: `Write a new registry entry holding the given ids, discarding whatever the
store held. The firmware keeps an existing entry whose magic matches, so this
is how a bench store is reset.

NOTE: This command is only available in dev builds (go build -tags dev).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := resolveStore(cmd, storeSpec)
			if err != nil {
				return err
			}
			return formatStore(spec, seed, magic)
		},
	}

	cmd.Flags().StringVar(&storeSpec, "store", "", "Registry store (or set APGATE_STORE)")
	cmd.Flags().StringVar(&seed, "ids", "", "Comma-separated 0x-prefixed component ids")
	cmd.Flags().Uint32Var(&magic, "magic", config.DefaultMagic, "Registry magic")

	return cmd
}

func formatStore(spec, seed string, magic uint32) error {
	var ids []uint32
	for _, s := range strings.Split(seed, ",") {
		if s = strings.TrimSpace(s); s == "" {
			continue
		}
		id, err := identity.ParseID(s)
		if err != nil {
			return err
		}
		ids = append(ids, id)
	}
	if len(ids) > registry.Capacity {
		return fmt.Errorf("%d ids, registry holds at most %d", len(ids), registry.Capacity)
	}

	store, closeStore, err := flash.Open(spec)
	if err != nil {
		return err
	}
	defer closeStore()
	if err := store.Initialize(); err != nil {
		return fmt.Errorf("initialize store: %w", err)
	}

	e := registry.Entry{Magic: magic, Count: uint32(len(ids))}
	copy(e.IDs[:], ids)
	if err := store.Write(e); err != nil {
		return fmt.Errorf("write store: %w", err)
	}
	if err := store.Poll(); err != nil {
		return fmt.Errorf("poll store: %w", err)
	}

	fmt.Fprintf(os.Stderr, "Wrote %d id(s) to %s\n", len(ids), spec)
	return nil
}
