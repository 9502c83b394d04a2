package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dgnsrekt/swofeed/internal/symbols"
)

func lookupCmd() *cobra.Command {
	var elf string

	cmd := &cobra.Command{
		Use:   "lookup ADDR...",
		Short: "Resolve target addresses against an ELF image",
		Long: `Resolve one or more hex addresses to function, file and line using the
configured ELF image. EXC_RETURN values are reported by exception origin.

Examples:
  swofeed lookup --elf firmware.elf 0x08000200 0800031c
  swofeed lookup 0xFFFFFFF9`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("elf") {
				cfg.Symbols.ELF = elf
			}

			addrs := make([]uint32, 0, len(args))
			for _, arg := range args {
				addr, err := symbols.ParseAddr(arg)
				if err != nil {
					return err
				}
				addrs = append(addrs, addr)
			}

			resolver, err := loadSymbols(cfg)
			if err != nil {
				return err
			}
			if !resolver.Loaded() {
				logger.Warn("no ELF image configured, only EXC_RETURN values resolve")
			}

			var unresolved int
			for _, addr := range addrs {
				res := resolver.Lookup(addr)
				if !res.Found && !res.Interrupt() {
					unresolved++
				}
				fmt.Fprintf(cmd.OutOrStdout(), "0x%08X %s\n", addr, res)
			}
			if unresolved == len(addrs) && resolver.Loaded() {
				return errors.New("no address resolved")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&elf, "elf", "e", "", "ELF image (overrides symbols.elf)")
	return cmd
}
