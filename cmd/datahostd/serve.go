package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	bolt "go.etcd.io/bbolt"
	"gopkg.in/yaml.v3"

	"github.com/cuemby/datahost/pkg/auth"
	"github.com/cuemby/datahost/pkg/cluster"
	"github.com/cuemby/datahost/pkg/gateway"
	"github.com/cuemby/datahost/pkg/log"
	"github.com/cuemby/datahost/pkg/metrics"
	"github.com/cuemby/datahost/pkg/path"
	"github.com/cuemby/datahost/pkg/txn"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// errPeerBootstrap is returned when a --peer address cannot be reached or
// rejects this node as a replica at startup, mapping to exit code 2.
var errPeerBootstrap = errors.New("peer bootstrap failed")

// tokenTTL is how long a bearer token minted by /authorize remains valid.
const tokenTTL = time.Hour

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start a data host node",
	RunE:  runServe,
}

func init() {
	registerServeFlags(serveCmd)
}

// registerServeFlags declares serve's flags on cmd. Split out of init() so
// tests can build a throwaway *cobra.Command with the same flag set
// without mutating the package-level serveCmd.
func registerServeFlags(cmd *cobra.Command) {
	cmd.Flags().String("data-dir", "./data", "Directory holding this node's block files")
	cmd.Flags().String("http-addr", "0.0.0.0:8080", "Address the remote listener binds")
	cmd.Flags().String("workspace", "", "Volatile scratch directory; also hosts the local read-only Unix socket")
	cmd.Flags().StringArray("peer", nil, "Peer replica link (repeatable), host:port form")
	cmd.Flags().String("config", "", "Optional YAML file overriding the flags above")
}

// serveConfig mirrors the flags runServe accepts; an optional --config YAML
// file overrides them wholesale.
type serveConfig struct {
	DataDir   string   `yaml:"dataDir"`
	HTTPAddr  string   `yaml:"httpAddr"`
	Workspace string   `yaml:"workspace"`
	Peers     []string `yaml:"peers"`
}

func loadServeConfig(cmd *cobra.Command) (serveConfig, error) {
	cfg := serveConfig{}
	cfg.DataDir, _ = cmd.Flags().GetString("data-dir")
	cfg.HTTPAddr, _ = cmd.Flags().GetString("http-addr")
	cfg.Workspace, _ = cmd.Flags().GetString("workspace")
	cfg.Peers, _ = cmd.Flags().GetStringArray("peer")

	configPath, _ := cmd.Flags().GetString("config")
	if configPath == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return cfg, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config file: %w", err)
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadServeConfig(cmd)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	db, err := bolt.Open(filepath.Join(cfg.DataDir, "datahost.db"), 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return fmt.Errorf("opening block store: %w", err)
	}
	defer db.Close()

	// Opening the store here establishes the node's on-disk block-file
	// directory before any collection is mounted; which tables, indices,
	// and tensors live under it is an administrative concern this wire
	// protocol does not name an operation for, so none are created by
	// this command.

	nodeID := uuid.New().String()
	selfLink := path.NewLink(path.Path{"cluster"})
	selfLink.Host = cfg.HTTPAddr

	registry := cluster.NewRegistry()
	manager := txn.NewManager()
	replicator := cluster.NewHTTPReplicator(nil)
	host := cluster.New(selfLink, registry, manager, replicator)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	for _, peer := range cfg.Peers {
		link := path.Link{Host: peer, Path: path.Path{"cluster"}}
		if err := host.AddReplica(ctx, link); err != nil {
			log.Logger.Error().Err(err).Str("peer", peer).Msg("failed to register peer as replica")
			return fmt.Errorf("%w: %v", errPeerBootstrap, err)
		}
	}

	issuer := auth.NewIssuer(tokenTTL)

	router := gateway.NewRouter()
	router.Mount(path.Path{"cluster"}, host.Handler())
	router.Mount(path.Path{"cluster", "authorize"}, host.AuthorizeHandler(issuer))
	router.Mount(path.Path{"cluster", "install"}, host.InstallHandler())

	metrics.SetVersion(Version)
	metrics.RegisterComponent("storage", true, "block store open")
	metrics.RegisterComponent("cluster", true, "node "+nodeID+" ready")

	server := gateway.NewServer(router, issuer, false)

	listener, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("binding %s: %w", cfg.HTTPAddr, err)
	}
	metrics.RegisterComponent("gateway", true, "listening on "+cfg.HTTPAddr)

	log.Logger.Info().Str("node", nodeID).Str("http_addr", cfg.HTTPAddr).Msg("datahostd serving")

	errs := make(chan error, 2)
	go func() { errs <- server.Serve(ctx, listener) }()

	if cfg.Workspace != "" {
		if err := os.MkdirAll(cfg.Workspace, 0o755); err != nil {
			return fmt.Errorf("creating workspace directory: %w", err)
		}
		socketPath := filepath.Join(cfg.Workspace, "datahostd.sock")
		_ = os.Remove(socketPath)
		localListener, err := net.Listen("unix", socketPath)
		if err != nil {
			return fmt.Errorf("binding local socket: %w", err)
		}
		localServer := gateway.NewServer(router, nil, true)
		go func() { errs <- localServer.Serve(ctx, localListener) }()
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-errs:
		return err
	}
}
