package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/k2io/hooksync"
	"github.com/k2io/hooksync/internal/layout"
)

func symbolsCmd() *cobra.Command {
	var layoutOnly bool
	cmd := &cobra.Command{
		Use:   "symbols FILE",
		Short: "List the symbols of a host binary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			syms, err := hooksync.GetSymbols(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if layoutOnly {
				var l layout.Layout
				for _, name := range l.ApplySymbols(syms) {
					fmt.Fprintf(out, "%-24s %#010x\n", name, syms[name])
				}
				return nil
			}
			names := make([]string, 0, len(syms))
			for name := range syms {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Fprintf(out, "%#010x %s\n", syms[name], name)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&layoutOnly, "layout", "l", false, "only symbols naming layout fields")
	return cmd
}
