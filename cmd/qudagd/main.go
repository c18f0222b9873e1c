// Command qudagd is the QuDAG node daemon: it wires configuration,
// identity, and the transport listener into a running engine.Engine.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/qudag/qudag/config"
	"github.com/qudag/qudag/engine"
	qlog "github.com/qudag/qudag/log"
	"github.com/qudag/qudag/metrics"
	"github.com/qudag/qudag/persist"
	"github.com/qudag/qudag/transport"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "qudagd",
		Short: "QuDAG quantum-resistant DAG node",
		Long: `qudagd runs a single QuDAG node: a post-quantum secured overlay
peer, a QR-Avalanche consensus engine, and the DAG store they drive
together.`,
	}
	cmd.AddCommand(runCmd(), keygenCmd())
	return cmd
}

func keygenCmd() *cobra.Command {
	var locator, out string
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a new node identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := generateIdentity(locator)
			if err != nil {
				return err
			}
			if err := saveIdentity(out, id); err != nil {
				return err
			}
			fmt.Printf("wrote identity for locator %q to %s\n", locator, out)
			return nil
		},
	}
	cmd.Flags().StringVar(&locator, "locator", "localhost:9000", "network address this node advertises")
	cmd.Flags().StringVar(&out, "out", "identity.json", "output path for the generated identity")
	return cmd
}

func runCmd() *cobra.Command {
	var (
		identityPath string
		listenAddr   string
		peers        []string
		configPath   string
		preset       string
		metricsAddr  string
		dbPath       string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start a QuDAG node",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNode(identityPath, listenAddr, peers, configPath, preset, metricsAddr, dbPath)
		},
	}
	cmd.Flags().StringVar(&identityPath, "identity", "identity.json", "path to this node's identity file")
	cmd.Flags().StringVar(&listenAddr, "listen", ":9000", "address to accept inbound connections on")
	cmd.Flags().StringSliceVar(&peers, "peer", nil, "bootstrap peer address (repeatable)")
	cmd.Flags().StringVar(&configPath, "config", "", "path to a YAML configuration overlay")
	cmd.Flags().StringVar(&preset, "preset", "default", "parameter preset when --config is not given: default, mainnet, testnet, local")
	cmd.Flags().StringVar(&metricsAddr, "metrics-listen", "", "address to serve Prometheus /metrics on (disabled if empty)")
	cmd.Flags().StringVar(&dbPath, "db", "", "directory for durable node state (in-memory only if empty)")
	return cmd
}

func loadParams(configPath, preset string) (config.Parameters, error) {
	if configPath != "" {
		return config.LoadFile(configPath)
	}
	switch preset {
	case "mainnet":
		return config.Mainnet(), nil
	case "testnet":
		return config.Testnet(), nil
	case "local":
		return config.Local(), nil
	default:
		return config.Default(), nil
	}
}

func runNode(identityPath, listenAddr string, peers []string, configPath, preset, metricsAddr, dbPath string) error {
	params, err := loadParams(configPath, preset)
	if err != nil {
		return err
	}

	id, err := loadIdentity(identityPath)
	if err != nil {
		return fmt.Errorf("load identity (run 'qudagd keygen' first): %w", err)
	}

	local, err := transport.GenerateKeyPair()
	if err != nil {
		return err
	}

	logger := qlog.New("qudagd")
	manager := newConnManager(local, id, params)

	eng := engine.New(params, id, manager, logger)
	manager.bind(eng)

	var recoveredVertices uint64
	if dbPath != "" {
		db, err := persist.Open(dbPath)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := eng.AttachPersistence(db, time.Now()); err != nil {
			return fmt.Errorf("recover persisted state: %w", err)
		}
		recoveredVertices = db.VertexCount()
		logger.Info("recovered persisted state", "db", dbPath, "vertices", recoveredVertices)
	}

	if metricsAddr != "" {
		reg := prometheus.NewRegistry()
		if err := eng.EnableMetrics(metrics.New(reg)); err != nil {
			return fmt.Errorf("enable metrics: %w", err)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: metricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server exited", "err", err)
			}
		}()
		defer srv.Close()
	}

	ln, err := transport.Listen(listenAddr, local, params.HandshakeTimeout)
	if err != nil {
		return err
	}
	defer ln.Close()
	go manager.acceptLoop(ln)

	dialSeeds(manager, peers)
	if len(peers) == 0 && recoveredVertices == 0 {
		if _, err := eng.SubmitVertex([]byte("genesis"), time.Now()); err != nil {
			logger.Error("failed to author genesis vertex", "err", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("qudagd starting", "listen", listenAddr, "peer_id", id.Self.String())
	eng.Run(ctx)
	return nil
}
