package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/k2io/hooksync"
	"github.com/k2io/hooksync/internal/game"
	"github.com/k2io/hooksync/internal/host/sim"
	"github.com/k2io/hooksync/internal/layout"
	"github.com/k2io/hooksync/internal/metrics"
	"github.com/k2io/hooksync/internal/protocol"
	"github.com/k2io/hooksync/internal/status"
)

const playHelp = `commands:
  load [level]          load a level, the online level by default
  primary X Y ID        create a primary actor
  secondary X Y ID      create a secondary actor
  spawn X Y ID          let the host spawner create a secondary actor
  end                   end the level
  menu                  open the runtime menu
  pause                 lose focus
  show                  print the board and the actors
  quit`

func playCmd(g *globalFlags) *cobra.Command {
	var role, listen string
	cmd := &cobra.Command{
		Use:   "play",
		Short: "Play a session on a simulated host",
		Long: `Play maps a simulated host, installs the patches and reads commands
from stdin. Run one Primary and one Secondary to see events mirrored.

` + playHelp,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := protocol.ParseRole(role)
			if err != nil {
				return err
			}
			log := g.logger()
			cfg, l, err := g.load(log)
			if err != nil {
				return err
			}
			if listen == "" {
				listen = cfg.Status.Listen
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			h, err := sim.New(l, log)
			if err != nil {
				return err
			}
			reg := prometheus.NewRegistry()
			st := game.NewStartup(game.Env{
				Host:    h,
				Layout:  l,
				Config:  cfg,
				Role:    r,
				Arena:   hooksync.NewArena(h.Memory(), h.Arch(), l.ArenaBase, int(l.ArenaSize), l.Gate, h.Dispatcher()),
				Log:     log,
				Metrics: metrics.New(reg),
				Notify:  func(msg string) { fmt.Fprintln(cmd.ErrOrStderr(), msg) },
			})
			if err := st.Run(ctx); err != nil {
				return err
			}
			defer st.Stop()

			if listen != "" {
				go func() {
					if err := status.Serve(ctx, listen, status.Handler(st.Session(), reg), log); err != nil {
						log.Error("status endpoint failed", "err", err)
					}
				}()
			}

			lines := make(chan string)
			go func() {
				defer close(lines)
				sc := bufio.NewScanner(cmd.InOrStdin())
				for sc.Scan() {
					lines <- sc.Text()
				}
			}()
			out := cmd.OutOrStdout()
			for {
				select {
				case <-ctx.Done():
					return nil
				case line, ok := <-lines:
					if !ok {
						return nil
					}
					quit, err := play(out, h, line)
					if err != nil {
						fmt.Fprintf(out, "error: %v\n", err)
					}
					if quit {
						return nil
					}
				}
			}
		},
	}
	cmd.Flags().StringVarP(&role, "role", "r", "primary", "primary or secondary")
	cmd.Flags().StringVar(&listen, "status", "", "status endpoint address, [Status] Listen by default")
	return cmd
}

func actorArgs(f []string) (x, y, id int32, err error) {
	if len(f) != 3 {
		return 0, 0, 0, fmt.Errorf("want X Y ID")
	}
	var v [3]int32
	for i, s := range f {
		n, err := strconv.ParseInt(s, 0, 32)
		if err != nil {
			return 0, 0, 0, err
		}
		v[i] = int32(n)
	}
	return v[0], v[1], v[2], nil
}

// play runs one command line against h.
func play(out io.Writer, h *sim.Host, line string) (quit bool, err error) {
	f := strings.Fields(line)
	if len(f) == 0 {
		return false, nil
	}
	switch f[0] {
	case "load":
		level := int64(layout.OnlineLevelID)
		if len(f) > 1 {
			if level, err = strconv.ParseInt(f[1], 0, 32); err != nil {
				return false, err
			}
		}
		return false, h.LoadLevel(int32(level), true)
	case "primary", "secondary", "spawn":
		x, y, id, err := actorArgs(f[1:])
		if err != nil {
			return false, err
		}
		switch f[0] {
		case "primary":
			return false, h.CreatePrimaryActor(x, y, id)
		case "secondary":
			return false, h.CreateSecondaryActor(x, y, id)
		}
		return false, h.SpawnWave(x, y, id)
	case "end":
		return false, h.EndLevel()
	case "menu":
		shown, err := h.RuntimeMenu()
		fmt.Fprintf(out, "menu shown: %v\n", shown)
		return false, err
	case "pause":
		paused, err := h.AutoPause(true)
		fmt.Fprintf(out, "paused: %v\n", paused)
		return false, err
	case "show":
		fmt.Fprintf(out, "level %#x, resource %d, ended %d\n", h.Level(), h.Resource(), h.Ended())
		for _, a := range h.Actors() {
			fmt.Fprintf(out, "  %s actor %d at (%d, %d)\n", a.Kind, a.ID, a.X, a.Y)
		}
		return false, nil
	case "quit", "exit":
		return true, nil
	case "help":
		fmt.Fprintln(out, playHelp)
		return false, nil
	}
	return false, fmt.Errorf("unknown command %q, try help", f[0])
}
