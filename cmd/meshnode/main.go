package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"gopkg.in/alecthomas/kingpin.v2"

	"meshnode/pkg/auth"
	"meshnode/pkg/client"
	"meshnode/pkg/config"
	"meshnode/pkg/logging"
	"meshnode/pkg/node"
	"meshnode/pkg/version"
)

var (
	app = kingpin.New("meshnode", "Overlay routing node control plane.")

	runCmd     = app.Command("run", "Run the node control plane.").Default()
	configFile = runCmd.Flag("config.file", "Path to configuration file.").Default("meshnode.yaml").String()
	listenAddr = runCmd.Flag("web.listen-address", "Admin API listen address (overrides config).").String()
	logLevel   = runCmd.Flag("log.level", "Log level: trace, debug, info, warn, error.").String()

	apiURL   = app.Flag("api", "Admin API base URL for client commands.").Default("http://" + config.DefaultAPIAddr).Envar("MESHNODE_API").String()
	apiToken = app.Flag("token", "Bearer token for the admin API.").Envar("MESHNODE_API_TOKEN").String()
	caFile   = app.Flag("tls.ca", "CA bundle to verify the admin API.").String()
	certFile = app.Flag("tls.cert", "Client certificate for mutual TLS.").String()
	keyFile  = app.Flag("tls.key", "Client key for mutual TLS.").String()
	insecure = app.Flag("tls.insecure", "Skip admin API certificate verification.").Bool()
	timeout  = app.Flag("timeout", "Client request timeout.").Default("10s").Duration()

	inspectCmd = app.Command("inspect", "Show node identity.")

	peersCmd       = app.Command("peers", "Manage peers.")
	peersListCmd   = peersCmd.Command("list", "List peers.").Default()
	peersAddCmd    = peersCmd.Command("add", "Add a static peer.")
	peersAddArg    = peersAddCmd.Arg("endpoint", "Peer endpoint, e.g. tcp://203.0.113.5:9651.").Required().String()
	peersRemoveCmd = peersCmd.Command("remove", "Remove a peer.")
	peersRemoveArg = peersRemoveCmd.Arg("endpoint", "Peer endpoint.").Required().String()

	routesCmd         = app.Command("routes", "Show the routing table.")
	routesSelectedCmd = routesCmd.Command("selected", "Show selected routes.").Default()
	routesFallbackCmd = routesCmd.Command("fallback", "Show fallback routes.")

	auditCmd   = app.Command("audit", "Show recent admin changes.")
	auditLimit = auditCmd.Flag("limit", "Number of entries.").Default("50").Int()

	hashCmd = app.Command("hash-password", "Print the bcrypt hash of a password for api.auth.password_hash.")
	hashArg = hashCmd.Arg("password", "Password to hash.").Required().String()
)

func main() {
	app.Version(version.String())
	app.HelpFlag.Short('h')
	cmd := kingpin.MustParse(app.Parse(os.Args[1:]))

	if cmd == runCmd.FullCommand() {
		if err := run(); err != nil {
			fmt.Fprintln(os.Stderr, "meshnode:", err)
			os.Exit(1)
		}
		return
	}
	if err := runClient(cmd, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "meshnode:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		if _, statErr := os.Stat(*configFile); !os.IsNotExist(statErr) {
			return err
		}
		// No config file: run from defaults and environment.
		cfg = config.Default()
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	if *listenAddr != "" {
		cfg.API.Listen = *listenAddr
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}

	logger := logging.New(cfg.Log.Level, cfg.Log.Format)
	logger.Info("starting", "version", version.String(), "config", *configFile)

	n, err := node.New(cfg, logger)
	if err != nil {
		return err
	}
	srv, err := n.Start()
	if err != nil {
		_ = n.Close()
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		logger.Info("received signal, shutting down", "signal", sig.String())
	case <-srv.Done():
		logger.Error("admin API stopped unexpectedly", "error", srv.Err())
	}
	if err := n.Close(); err != nil {
		logger.Warn("shutdown incomplete", "error", err)
	}
	return srv.Err()
}

func runClient(cmd string, out io.Writer) error {
	if cmd == hashCmd.FullCommand() {
		return hashPassword(*hashArg, out)
	}

	hc, err := client.HTTPClient(*caFile, *certFile, *keyFile, *insecure)
	if err != nil {
		return err
	}
	hc.Timeout = *timeout
	c := client.New(*apiURL, client.WithHTTPClient(hc), client.WithToken(*apiToken))
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	switch cmd {
	case inspectCmd.FullCommand():
		info, err := c.Info(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "subnet: %s\n", info.NodeSubnet)
	case peersListCmd.FullCommand():
		peers, err := c.Peers(ctx)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ENDPOINT\tTYPE\tSTATE\tTX\tRX")
		for _, p := range peers {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\n", p.Endpoint, p.Type, p.ConnectionState, p.TxBytes, p.RxBytes)
		}
		return tw.Flush()
	case peersAddCmd.FullCommand():
		if err := c.AddPeer(ctx, *peersAddArg); err != nil {
			return err
		}
		fmt.Fprintf(out, "added %s\n", *peersAddArg)
	case peersRemoveCmd.FullCommand():
		if err := c.RemovePeer(ctx, *peersRemoveArg); err != nil {
			return err
		}
		fmt.Fprintf(out, "removed %s\n", *peersRemoveArg)
	case routesSelectedCmd.FullCommand(), routesFallbackCmd.FullCommand():
		list := c.SelectedRoutes
		if cmd == routesFallbackCmd.FullCommand() {
			list = c.FallbackRoutes
		}
		routes, err := list(ctx)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "SUBNET\tNEXT HOP\tMETRIC\tSEQNO")
		for _, r := range routes {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", r.Subnet, r.NextHop, r.Metric, r.Seqno)
		}
		return tw.Flush()
	case auditCmd.FullCommand():
		entries, err := c.Audit(ctx, *auditLimit)
		if err != nil {
			return err
		}
		for _, e := range entries {
			fmt.Fprintf(out, "%s %s %s %s\n", e.Timestamp.Format(time.RFC3339), e.Actor, e.Action, e.Target)
		}
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}

func hashPassword(password string, out io.Writer) error {
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, hash)
	return err
}
