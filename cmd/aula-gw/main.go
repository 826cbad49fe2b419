// Command aula-gw runs one faculty gateway: the program-facing
// request/reply endpoint bridged to whichever allocation replica is
// currently alive.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"aula"
	"aula/config"
	"aula/internal/gateway"
	"aula/internal/heartbeat"
	"aula/internal/logging"
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
		facultyID   int
		facultyName string
		semester    string
		port        int
		dbPath      string
		endpoints   string
		syncMode    bool
		debug       bool
	)

	cmd := &cobra.Command{
		Use:   "aula-gw",
		Short: "Faculty gateway to the classroom allocation service",
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

			if facultyID <= 0 {
				return fmt.Errorf("--faculty-id must be positive, got %d", facultyID)
			}
			if facultyName == "" {
				return fmt.Errorf("--faculty-name is required")
			}

			st, err := store.Open(dbPath)
			if err != nil {
				return err
			}
			defer st.Close()
			if err := st.EnsureFaculty(facultyID, facultyName, semester); err != nil {
				return err
			}

			cfg, err := config.Load(endpoints)
			if err != nil {
				return err
			}
			peers := make([]heartbeat.Peer, 0, len(cfg.Replicas))
			for _, r := range cfg.Replicas {
				peers = append(peers, heartbeat.Peer{
					Name:         r.Name,
					HeartbeatURL: r.HeartbeatURL(),
					Endpoint:     r.AllocateAddr(),
				})
			}
			obs := heartbeat.NewObserver(peers, aula.RealClock{})

			var handler gateway.Handler
			var gw *gateway.Gateway
			if syncMode {
				handler = gateway.NewSync(st, obs, facultyID, facultyName, semester)
			} else {
				gw = gateway.New(st, obs, facultyID, facultyName, semester)
				handler = gw
			}
			srv := gateway.NewServer(handler, fmt.Sprintf(":%d", port))

			slog.Info("gateway starting",
				"faculty", facultyName, "faculty_id", facultyID,
				"port", port, "sync", syncMode, "replicas", len(peers))

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return obs.Run(gctx) })
			g.Go(func() error { return srv.ListenAndServe(gctx) })
			if gw != nil {
				g.Go(func() error { return gw.Run(gctx) })
			}
			return g.Wait()
		},
	}

	cmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	cmd.Flags().IntVar(&facultyID, "faculty-id", 0, "Faculty id")
	cmd.Flags().StringVar(&facultyName, "faculty-name", "", "Faculty name")
	cmd.Flags().StringVar(&semester, "semester", defaults.Semester, "Academic semester")
	cmd.Flags().IntVar(&port, "port", defaults.GatewayPort, "Program-facing listen port")
	cmd.Flags().StringVar(&dbPath, "db", defaults.DBPath, "Reservation database path")
	cmd.Flags().StringVar(&endpoints, "endpoints", "", "Replica endpoints file (default "+config.Path()+")")
	cmd.Flags().BoolVar(&syncMode, "sync", false, "Serialize requests over a fresh connection per transaction")
	return cmd
}
