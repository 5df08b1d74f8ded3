package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dnsscience/resolverd/internal/config"
	"github.com/dnsscience/resolverd/internal/metrics"
	"github.com/dnsscience/resolverd/internal/server"
	"github.com/dnsscience/resolverd/internal/transport"
	"github.com/dnsscience/resolverd/internal/validate"
)

var (
	udpAddr          = flag.String("udp", ":5353", "UDP listen address")
	tcpAddr          = flag.String("tcp", ":5353", "TCP listen address")
	udpListeners     = flag.Int("listeners", runtime.NumCPU(), "Number of UDP listeners (SO_REUSEPORT)")
	zoneFile         = flag.String("zone", "", "Zone file to load (optional)")
	zoneFormat       = flag.String("format", "dnszone", "Zone file format (dnszone, bind)")
	recursive        = flag.Bool("recursive", true, "Enable recursive resolver")
	authoritative    = flag.Bool("authoritative", false, "Enable authoritative server")
	stats            = flag.Bool("stats", true, "Print statistics periodically")
	configFile       = flag.String("config", "", "YAML config file (overrides the flags above where set)")
	transferPeers    = flag.String("transfer-peers", "", "Comma-separated CIDRs/IPs allowed to AXFR/IXFR a zone")
	enableMetrics    = flag.Bool("metrics", false, "Register Prometheus metric collectors")
	allowedClients   = flag.String("allowed-clients", "", "Comma-separated CIDRs allowed to query (empty allows all)")
	enableQueryLimit = flag.Bool("query-rate-limit", false, "Enable per-source-IP query rate limiting")
	enableDoT        = flag.Bool("dot", false, "Enable DNS-over-TLS listener")
	dotAddr          = flag.String("dot-addr", ":853", "DoT listen address")
	dotCert          = flag.String("dot-cert", "", "DoT TLS certificate file")
	dotKey           = flag.String("dot-key", "", "DoT TLS private key file")
	enableDoH        = flag.Bool("doh", false, "Enable DNS-over-HTTPS listener")
	dohAddr          = flag.String("doh-addr", ":443", "DoH listen address")
	dohCert          = flag.String("doh-cert", "", "DoH TLS certificate file")
	dohKey           = flag.String("doh-key", "", "DoH TLS private key file")
	enableFastUDP    = flag.Bool("fast-udp", false, "Use the raw-socket fast-path UDP server instead of the standard SO_REUSEPORT pool")
)

func main() {
	flag.Parse()

	fmt.Println("╔══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                                                              ║")
	fmt.Println("║              DNSScienced - Production DNS Server             ║")
	fmt.Println("║                                                              ║")
	fmt.Println("╚══════════════════════════════════════════════════════════════╝")
	fmt.Println()

	// Create server config
	cfg := server.DefaultConfig()
	cfg.UDPAddr = *udpAddr
	cfg.TCPAddr = *tcpAddr
	cfg.UDPListeners = *udpListeners
	cfg.EnableRecursive = *recursive
	cfg.EnableAuthoritative = *authoritative
	if *transferPeers != "" {
		cfg.AllowedTransferPeers = strings.Split(*transferPeers, ",")
	}
	if *enableMetrics {
		cfg.Metrics = metrics.NewPrometheusSink(prometheus.DefaultRegisterer)
	}

	if *allowedClients != "" {
		acl := validate.NewACL(false)
		for _, cidr := range strings.Split(*allowedClients, ",") {
			if err := acl.AllowNet(strings.TrimSpace(cidr)); err != nil {
				fmt.Fprintf(os.Stderr, "Error parsing -allowed-clients entry %q: %v\n", cidr, err)
				os.Exit(1)
			}
		}
		cfg.ACL = acl
	}
	cfg.EnableQueryRateLimit = *enableQueryLimit

	cfg.EnableDoT = *enableDoT
	cfg.DoTConfig = transport.DoTConfig{
		Address:  *dotAddr,
		CertFile: *dotCert,
		KeyFile:  *dotKey,
	}

	cfg.EnableDoH = *enableDoH
	cfg.DoHConfig = transport.DoHConfig{
		Address:  *dohAddr,
		CertFile: *dohCert,
		KeyFile:  *dohKey,
	}

	cfg.EnableFastUDP = *enableFastUDP
	cfg.FastUDPConfig = transport.FastUDPServerConfig{
		Addr: *udpAddr,
	}

	if *configFile != "" {
		fmt.Printf("Loading config: %s\n", *configFile)
		fileCfg, err := config.Load(*configFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
		applyFileConfig(&cfg, fileCfg)
	}

	fmt.Printf("Configuration:\n")
	fmt.Printf("  UDP Address:      %s\n", cfg.UDPAddr)
	fmt.Printf("  TCP Address:      %s\n", cfg.TCPAddr)
	fmt.Printf("  UDP Listeners:    %d (SO_REUSEPORT)\n", cfg.UDPListeners)
	fmt.Printf("  CPU Cores:        %d\n", runtime.NumCPU())
	fmt.Printf("  Recursive:        %v\n", cfg.EnableRecursive)
	fmt.Printf("  Authoritative:    %v\n", cfg.EnableAuthoritative)
	fmt.Printf("  DNS Cookies:      %v\n", cfg.EnableCookies)
	fmt.Printf("  RRL:              %v\n", cfg.EnableRRL)
	fmt.Printf("  Query rate limit: %v\n", cfg.EnableQueryRateLimit)
	fmt.Printf("  DoT:              %v\n", cfg.EnableDoT)
	fmt.Printf("  DoH:              %v\n", cfg.EnableDoH)
	fmt.Printf("  Fast UDP path:    %v\n", cfg.EnableFastUDP)
	fmt.Printf("  Transfer peers:   %v\n", cfg.AllowedTransferPeers)
	fmt.Println()

	// Create server
	srv, err := server.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating server: %v\n", err)
		os.Exit(1)
	}

	// Load zone file if specified
	if *zoneFile != "" {
		fmt.Printf("Loading zone: %s (format: %s)\n", *zoneFile, *zoneFormat)
		if err := srv.LoadZone(*zoneFile, *zoneFormat); err != nil {
			fmt.Fprintf(os.Stderr, "Error loading zone: %v\n", err)
			os.Exit(1)
		}
		fmt.Println()
	}

	// Start server
	if err := srv.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Error starting server: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("DNS server started successfully!")
	fmt.Println()

	// Start stats printer if enabled
	if *stats {
		go printStats(srv)
	}

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh
	fmt.Println()

	// Graceful shutdown
	if err := srv.Stop(); err != nil {
		fmt.Fprintf(os.Stderr, "Error stopping server: %v\n", err)
		os.Exit(1)
	}
}

// applyFileConfig layers a loaded config.Config onto the server.Config
// already built from flags. config.Load starts from config.Default(), so a
// field overrides its flag value only when the file's value differs from
// that default; a file value equal to the default leaves the flag in place.
func applyFileConfig(cfg *server.Config, fc config.Config) {
	def := config.Default()
	if fc.Listen.UDP != "" && fc.Listen.UDP != def.Listen.UDP {
		cfg.UDPAddr = fc.Listen.UDP
	}
	if fc.Listen.TCP != "" && fc.Listen.TCP != def.Listen.TCP {
		cfg.TCPAddr = fc.Listen.TCP
	}
	if fc.Listen.UDPListeners > 0 && fc.Listen.UDPListeners != def.Listen.UDPListeners {
		cfg.UDPListeners = fc.Listen.UDPListeners
	}

	if fc.Recursive.Enabled != def.Recursive.Enabled {
		cfg.EnableRecursive = fc.Recursive.Enabled
	}
	if len(fc.Recursive.Upstreams) > 0 {
		cfg.RecursiveConfig.Upstreams = fc.Recursive.Upstreams
	}
	if fc.Recursive.Workers > 0 && fc.Recursive.Workers != def.Recursive.Workers {
		cfg.RecursiveConfig.Workers = fc.Recursive.Workers
	}
	if fc.Recursive.QueryTimeout > 0 && fc.Recursive.QueryTimeout != def.Recursive.QueryTimeout {
		cfg.RecursiveConfig.QueryTimeout = fc.Recursive.QueryTimeout
	}
	if fc.Recursive.MaxIterations > 0 && fc.Recursive.MaxIterations != def.Recursive.MaxIterations {
		cfg.RecursiveConfig.MaxIterations = fc.Recursive.MaxIterations
	}

	if len(fc.Security.AllowedTransferPeers) > 0 {
		cfg.AllowedTransferPeers = fc.Security.AllowedTransferPeers
	}
	if fc.Security.EnableCookies != def.Security.EnableCookies {
		cfg.EnableCookies = fc.Security.EnableCookies
	}
	if fc.Security.EnableRRL != def.Security.EnableRRL {
		cfg.EnableRRL = fc.Security.EnableRRL
	}
}

func printStats(srv *server.Server) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	lastQueries := uint64(0)
	lastTime := time.Now()

	for range ticker.C {
		stats := srv.GetStats()
		now := time.Now()
		elapsed := now.Sub(lastTime).Seconds()

		// Calculate QPS
		qps := float64(stats.Queries-lastQueries) / elapsed

		fmt.Printf("═══════════════════════════════════════════════════════════\n")
		fmt.Printf("Statistics (%.1fs interval):\n", elapsed)
		fmt.Printf("  Queries:    %10d  (%.0f qps)\n", stats.Queries, qps)
		fmt.Printf("  Answers:    %10d\n", stats.Answers)
		fmt.Printf("  Errors:     %10d\n", stats.Errors)
		fmt.Printf("  NXDOMAIN:   %10d\n", stats.NXDOMAIN)

		if stats.Recursive != nil {
			fmt.Printf("\nRecursive Resolver:\n")
			fmt.Printf("  Cache Hits:   %10d  (%.1f%% hit rate)\n",
				stats.Recursive.Cache.Hits,
				stats.Recursive.Cache.HitRate*100)
			fmt.Printf("  Cache Misses: %10d\n", stats.Recursive.Cache.Misses)
			fmt.Printf("  Cache Size:   %10d entries\n", stats.Recursive.Cache.Size)
		}

		if stats.RRL != nil {
			fmt.Printf("\nRate Limiting:\n")
			fmt.Printf("  Allowed:  %10d\n", stats.RRL.Allowed)
			fmt.Printf("  Dropped:  %10d  (%.1f%%)\n",
				stats.RRL.Dropped,
				stats.RRL.DropRate*100)
			fmt.Printf("  Slipped:  %10d\n", stats.RRL.Slipped)
		}

		fmt.Printf("═══════════════════════════════════════════════════════════\n\n")

		lastQueries = stats.Queries
		lastTime = now
	}
}
