// Command recursord runs the recursive resolver daemon: the authoritative
// front-end, the iterative engine, the conditional forwarder, the
// dynamic-update HTTP surface, and the metrics endpoint, all wired from one
// YAML configuration file.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/nullzone-dns/recursor/authority"
	"github.com/nullzone-dns/recursor/config"
	"github.com/nullzone-dns/recursor/forwarder"
	"github.com/nullzone-dns/recursor/metricsapi"
	"github.com/nullzone-dns/recursor/msgcache"
	"github.com/nullzone-dns/recursor/nsas"
	"github.com/nullzone-dns/recursor/recursor"
	"github.com/nullzone-dns/recursor/rpcapi"
	"github.com/nullzone-dns/recursor/rrcache"
	"github.com/nullzone-dns/recursor/server"
)

// Resource bounds from spec.md §5: MC positive 20,000, MC negative 10,000,
// RRC 40,000, NSAS zones 1,009, NSAS nameservers 3,001.
const (
	rrcCapacity        = 40_000
	mcNegativeCapacity = 10_000
	nsasZoneCapacity   = 1_009
	nsasNSCapacity     = 3_001
)

func main() {
	root := &cobra.Command{
		Use:   "recursord",
		Short: "Recursive DNS resolver with an authoritative front-end",
		RunE:  runDaemon,
	}
	root.Flags().String("config", "/etc/recursord/recursord.yaml", "path to the YAML configuration file")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log := logrus.StandardLogger()

	authorityStore := authority.New()
	zones := make(map[string]string, len(cfg.Authority.Zones))
	for _, z := range cfg.Authority.Zones {
		zones[z.Name] = z.FilePath
	}
	if err := server.LoadZones(authorityStore, zones); err != nil {
		return err
	}
	log.WithField("zones", len(zones)).Info("authoritative zones loaded")

	var recursorEngine *recursor.Engine
	if cfg.Recursor.Enable {
		rrc := rrcache.New(rrcCapacity)
		rrcNegative := rrcache.New(rrcCapacity)
		mc := msgcache.New(mcNegativeCapacity, rrc, rrcNegative)
		nsasStore := nsas.New(nsasZoneCapacity, nsasNSCapacity)
		recursorEngine = recursor.New(mc, rrc, nsasStore, recursor.RootHints(rootHintAddresses()))
		recursorEngine.Log = log

		if len(cfg.Forwarder.Forwarders) > 0 {
			recursorEngine.Forwarder = forwarder.New(cfg.ForwarderZoneMap())
		}
	}

	dnsServer := server.New(cfg.Server.Address, cfg.Server.EnableTCP, authorityStore, recursorEngine)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- dnsServer.ListenAndServe(ctx)
	}()

	if cfg.VGCtrl.Address != "" {
		go runControlPlane(ctx, cfg.VGCtrl.Address, authorityStore, log)
	}
	if cfg.Metrics.Address != "" {
		go runMetrics(ctx, cfg.Metrics.Address, log)
	}

	select {
	case <-ctx.Done():
		return dnsServer.Shutdown()
	case err := <-errCh:
		return err
	}
}

func runControlPlane(ctx context.Context, addr string, store *authority.Store, log *logrus.Logger) {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	rpcapi.Register(r, rpcapi.NewHandler(store))
	srv := &http.Server{Addr: addr, Handler: r}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
	log.WithField("addr", addr).Info("starting dynamic-update control plane")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.WithError(err).Error("control plane listener stopped")
	}
}

// runMetrics serves /metrics and /statistics for a Metrics value of its own.
// The DNS server is not handed that value, so nothing in the daemon
// increments its query and response counters; they, the QPS gauge and the
// queries_total statistic stay at zero.
func runMetrics(ctx context.Context, addr string, log *logrus.Logger) {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	m := metricsapi.New()
	metricsapi.Register(r, m)

	stop := make(chan struct{})
	go m.RunQPSSampler(stop)

	srv := &http.Server{Addr: addr, Handler: r}
	go func() {
		<-ctx.Done()
		close(stop)
		_ = srv.Close()
	}()
	log.WithField("addr", addr).Info("starting metrics endpoint")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.WithError(err).Error("metrics listener stopped")
	}
}

// rootHintAddresses returns the thirteen root nameserver addresses, seeded
// statically per spec.md §2 ("Root hints — a static seed of the thirteen
// root nameservers").
func rootHintAddresses() []net.IP {
	addrs := []string{
		"198.41.0.4", "199.9.14.201", "192.33.4.12", "199.7.91.13",
		"192.203.230.10", "192.5.5.241", "192.112.36.4", "198.97.190.53",
		"192.36.148.17", "192.58.128.30", "193.0.14.129", "199.7.83.42",
		"202.12.27.33",
	}
	hints := make([]net.IP, 0, len(addrs))
	for _, a := range addrs {
		hints = append(hints, net.ParseIP(a))
	}
	return hints
}
