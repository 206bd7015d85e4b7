package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/k2io/hooksync"
	"github.com/k2io/hooksync/internal/game"
)

func patchCmd(g *globalFlags) *cobra.Command {
	var pid int
	var file string
	cmd := &cobra.Command{
		Use:   "patch",
		Short: "Allow several instances of the host",
		Long: `Patch removes the single instance check of the host, either in a
running process or in its executable.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if (pid == 0) == (file == "") {
				return errors.New("give exactly one of --pid and --file")
			}
			log := g.logger()
			_, l, err := g.load(log)
			if err != nil {
				return err
			}
			if file != "" {
				if err := game.PatchExecutable(file, l); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "patched %s at %#x\n", file, l.MultiProcessRaw)
				return nil
			}
			mem, err := hooksync.OpenProcess(pid)
			if err != nil {
				return err
			}
			defer mem.Close()
			if err := game.AllowMultiProcess(mem, l).Enable(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "patched process %d at %#x\n", pid, l.MultiProcess)
			return nil
		},
	}
	cmd.Flags().IntVarP(&pid, "pid", "p", 0, "running host process")
	cmd.Flags().StringVarP(&file, "file", "f", "", "host executable")
	return cmd
}
