package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/aspect-build/apgate/internal/flash"
	"github.com/aspect-build/apgate/internal/host"
	"github.com/aspect-build/apgate/internal/registry"
)

func newRegistryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "registry",
		Short: "Inspect a persisted component registry offline",
	}
	cmd.AddCommand(newRegistryShowCmd())
	return cmd
}

// resolveStore returns the store spec from the flag or APGATE_STORE.
func resolveStore(cmd *cobra.Command, flagValue string) (string, error) {
	if cmd.Flags().Changed("store") {
		return flagValue, nil
	}
	if v := os.Getenv("APGATE_STORE"); v != "" {
		return v, nil
	}
	return "", fmt.Errorf("store required: use --store flag or set APGATE_STORE")
}

type entryView struct {
	Magic string   `yaml:"magic"`
	Count uint32   `yaml:"count"`
	IDs   []string `yaml:"ids"`
}

type historyView struct {
	Seq       int64     `yaml:"seq"`
	WrittenAt time.Time `yaml:"written_at"`
	Entry     entryView `yaml:"entry"`
}

func viewOf(e registry.Entry) entryView {
	v := entryView{Magic: fmt.Sprintf("0x%x", e.Magic), Count: e.Count}
	for _, id := range e.Live() {
		v.IDs = append(v.IDs, host.FormatID(id))
	}
	return v
}

func newRegistryShowCmd() *cobra.Command {
	var (
		storeSpec string
		history   bool
		asYAML    bool
	)

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the registry entry held in a store",
		Long: `Read the registry entry from a store without modifying it. The store is
memory, file:<path> or sqlite:<path>. --history lists every past write and is
only available for sqlite stores.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := resolveStore(cmd, storeSpec)
			if err != nil {
				return err
			}
			return showRegistry(cmd.OutOrStdout(), spec, history, asYAML)
		},
	}

	cmd.Flags().StringVar(&storeSpec, "store", "", "Registry store (or set APGATE_STORE)")
	cmd.Flags().BoolVar(&history, "history", false, "Include write history (sqlite stores)")
	cmd.Flags().BoolVar(&asYAML, "yaml", false, "Print as YAML")
	return cmd
}

func showRegistry(w io.Writer, spec string, history, asYAML bool) error {
	store, closeStore, err := flash.Open(spec)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := store.Initialize(); err != nil {
		return fmt.Errorf("initialize store: %w", err)
	}
	e, err := store.Read()
	if errors.Is(err, registry.ErrBlank) {
		fmt.Fprintf(w, "store=%s\nblank=true\n", spec)
		return nil
	}
	if err != nil {
		return fmt.Errorf("read store: %w", err)
	}

	var past []historyView
	if history {
		sq, ok := store.(*flash.SQLiteStore)
		if !ok {
			return fmt.Errorf("--history requires a sqlite store")
		}
		recs, err := sq.History()
		if err != nil {
			return err
		}
		for _, r := range recs {
			past = append(past, historyView{Seq: r.Seq, WrittenAt: r.WrittenAt, Entry: viewOf(r.Entry)})
		}
	}

	if asYAML {
		doc := struct {
			Store   string        `yaml:"store"`
			Entry   entryView     `yaml:"entry"`
			History []historyView `yaml:"history,omitempty"`
		}{spec, viewOf(e), past}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return err
		}
		return enc.Close()
	}

	v := viewOf(e)
	fmt.Fprintf(w, "store=%s\n", spec)
	fmt.Fprintf(w, "magic=%s\n", v.Magic)
	fmt.Fprintf(w, "count=%d\n", v.Count)
	for _, id := range v.IDs {
		fmt.Fprintf(w, "id=%s\n", id)
	}
	for _, h := range past {
		fmt.Fprintf(w, "history seq=%d written_at=%s ids=%v\n", h.Seq, h.WrittenAt.Format(time.RFC3339), h.Entry.IDs)
	}
	return nil
}
