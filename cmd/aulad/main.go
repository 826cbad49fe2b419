// Command aulad runs one allocation server replica: the broker, its
// heartbeat publisher, the peer observer and the Binary-Star failover
// controller, sharing one reservation database.
package main

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"aula"
	"aula/internal/binarystar"
	"aula/internal/broker"
	"aula/internal/heartbeat"
	"aula/internal/logging"
	"aula/internal/ntpcheck"
	"aula/internal/store"
	"aula/pkg/defaults"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := logging.Configure(logging.LevelInfo); err != nil {
		_, _ = os.Stderr.WriteString("configure logger: " + err.Error() + "\n")
		os.Exit(1)
	}

	if err := rootCmd().Execute(); err != nil {
		slog.Error("command failed", "err", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		role       string
		peer       string
		dbPath     string
		listenAddr string
		hbAddr     string
		semester   string
		classrooms int
		labs       int
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "aulad",
		Short: "Classroom allocation server replica",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := logging.LevelInfo
			if debug {
				level = logging.LevelDebug
			}
			return logging.Configure(level)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if role != aula.RolePrimary && role != aula.RoleBackup {
				return fmt.Errorf("--role must be %s or %s, got %q", aula.RolePrimary, aula.RoleBackup, role)
			}
			if peer == "" {
				return fmt.Errorf("--peer is required")
			}

			st, err := store.Open(dbPath)
			if err != nil {
				return err
			}
			defer st.Close()
			if err := st.SeedInventory(classrooms, labs, semester); err != nil {
				return err
			}

			host, err := os.Hostname()
			if err != nil {
				host = listenAddr
			}
			if err := st.RegisterServerRole(host, role); err != nil {
				return err
			}

			obs := heartbeat.NewObserver([]heartbeat.Peer{
				{Name: "peer", HeartbeatURL: peerHeartbeatURL(peer)},
			}, aula.RealClock{})
			pub := heartbeat.NewPublisher(defaults.HBInterval)
			brk := broker.New(st, listenAddr)
			ctrl := binarystar.New(role, host, brk, st, func() bool {
				return obs.Alive("peer")
			})
			drift := ntpcheck.NewChecker(aula.RealClock{})

			slog.Info("replica starting",
				"role", role, "peer", peer, "listen", listenAddr, "hb", hbAddr, "db", dbPath)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return pub.ListenAndServe(gctx, hbAddr) })
			g.Go(func() error { return obs.Run(gctx) })
			g.Go(func() error { return ctrl.Run(gctx) })
			g.Go(func() error {
				drift.Run(gctx)
				return nil
			})
			return g.Wait()
		},
	}

	cmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	cmd.Flags().StringVar(&role, "role", aula.RolePrimary, "Replica role: PRIMARY or BACKUP")
	cmd.Flags().StringVar(&peer, "peer", "", "Peer replica host (host or host:hb-port)")
	cmd.Flags().StringVar(&dbPath, "db", defaults.DBPath, "Reservation database path")
	cmd.Flags().StringVar(&listenAddr, "listen", fmt.Sprintf(":%d", defaults.AllocatePort), "Allocation listen address")
	cmd.Flags().StringVar(&hbAddr, "hb", fmt.Sprintf(":%d", defaults.HeartbeatPort), "Heartbeat listen address")
	cmd.Flags().StringVar(&semester, "semester", defaults.Semester, "Academic semester")
	cmd.Flags().IntVar(&classrooms, "classrooms", defaults.InitialClassrooms, "Classrooms to seed")
	cmd.Flags().IntVar(&labs, "labs", defaults.InitialLabs, "Labs to seed")
	return cmd
}

// peerHeartbeatURL builds the peer's heartbeat stream URL, defaulting
// the port when only a host was given.
func peerHeartbeatURL(peer string) string {
	host, port, err := net.SplitHostPort(peer)
	if err != nil {
		host, port = peer, strconv.Itoa(defaults.HeartbeatPort)
	}
	return "http://" + net.JoinHostPort(host, port) + defaults.HeartbeatPath
}
