package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	srouter "github.com/IhsanE/Simple-Router"
	"github.com/IhsanE/Simple-Router/internal"
	"github.com/IhsanE/Simple-Router/nat"
	"github.com/IhsanE/Simple-Router/pipeline"
	"github.com/IhsanE/Simple-Router/routing"
)

func main() {
	err := run()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	fmt.Println("success")
}

func run() (err error) {
	var (
		flagInternalIface = "eth-int"
		flagInternalAddr  = "10.0.0.1/24"
		flagExternalIface = "eth-ext"
		flagExternalAddr  = "203.0.113.1/24"
		flagNAT           = false
		flagRoutesFile    = ""
		flagMetricsAddr   = ""
		flagLogLevel      = "info"
	)
	flag.StringVar(&flagInternalIface, "internal-iface", flagInternalIface, "Name of the internal-facing TAP interface.")
	flag.StringVar(&flagInternalAddr, "internal-addr", flagInternalAddr, "CIDR address assigned to the internal interface.")
	flag.StringVar(&flagExternalIface, "external-iface", flagExternalIface, "Name of the external-facing TAP interface.")
	flag.StringVar(&flagExternalAddr, "external-addr", flagExternalAddr, "CIDR address assigned to the external interface.")
	flag.BoolVar(&flagNAT, "nat", flagNAT, "Enable endpoint-independent NAT between the internal and external interfaces.")
	flag.StringVar(&flagRoutesFile, "routes", flagRoutesFile, "Path to a routing table file (dest mask gateway iface per line).")
	flag.StringVar(&flagMetricsAddr, "metrics-addr", flagMetricsAddr, "Address to serve /metrics on. Empty disables the endpoint.")
	flag.StringVar(&flagLogLevel, "log-level", flagLogLevel, "One of debug, info, warn, error.")
	flag.Parse()

	level, err := parseLogLevel(flagLogLevel)
	if err != nil {
		flag.Usage()
		return err
	}
	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: level}))
	slog.SetDefault(logger)

	internalPrefix, err := netip.ParsePrefix(flagInternalAddr)
	if err != nil {
		return fmt.Errorf("parsing -internal-addr: %w", err)
	}
	externalPrefix, err := netip.ParsePrefix(flagExternalAddr)
	if err != nil {
		return fmt.Errorf("parsing -external-addr: %w", err)
	}

	internalTap, err := internal.NewTap(flagInternalIface, internalPrefix)
	if err != nil {
		return fmt.Errorf("opening internal tap %s: %w", flagInternalIface, err)
	}
	defer internalTap.Close()
	externalTap, err := internal.NewTap(flagExternalIface, externalPrefix)
	if err != nil {
		return fmt.Errorf("opening external tap %s: %w", flagExternalIface, err)
	}
	defer externalTap.Close()

	internalHW, err := internalTap.HardwareAddress6()
	if err != nil {
		return fmt.Errorf("reading internal tap hardware address: %w", err)
	}
	externalHW, err := externalTap.HardwareAddress6()
	if err != nil {
		return fmt.Errorf("reading external tap hardware address: %w", err)
	}

	cfg := srouter.Config{
		NATEnabled:  flagNAT,
		MetricsAddr: flagMetricsAddr,
		LogLevel:    flagLogLevel,
		Interfaces: []srouter.Interface{
			{Name: flagInternalIface, Addr: prefixAddr4(internalPrefix), MAC: internalHW, Role: srouter.RoleInternal},
			{Name: flagExternalIface, Addr: prefixAddr4(externalPrefix), MAC: externalHW, Role: srouter.RoleExternal},
		},
	}

	var routes []routing.Route
	if flagRoutesFile != "" {
		routes, err = loadRoutes(flagRoutesFile)
		if err != nil {
			return fmt.Errorf("loading routes file: %w", err)
		}
	}
	routeTable := routing.NewTable(routes)

	reg := prometheus.NewRegistry()
	router := pipeline.NewRouter(cfg, routeTable, nat.Config{}, &tapSender{
		taps: map[string]*internal.Tap{
			flagInternalIface: internalTap,
			flagExternalIface: externalTap,
		},
	}, nil, logger, reg)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return router.Run(ctx) })
	g.Go(func() error { return readLoop(ctx, router, internalTap, flagInternalIface) })
	g.Go(func() error { return readLoop(ctx, router, externalTap, flagExternalIface) })
	if flagMetricsAddr != "" {
		g.Go(func() error { return serveMetrics(ctx, flagMetricsAddr, reg) })
	}
	return g.Wait()
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}

func prefixAddr4(p netip.Prefix) [4]byte {
	return p.Addr().As4()
}

// tapSender adapts a set of internal.Tap devices, one per interface
// name, to srouter.Sender.
type tapSender struct {
	taps map[string]*internal.Tap
}

func (s *tapSender) Send(frame []byte, iface string) error {
	tap, ok := s.taps[iface]
	if !ok {
		return fmt.Errorf("cmd/router: unknown interface %q", iface)
	}
	_, err := tap.Write(frame)
	return err
}

// readLoop feeds every frame read off tap into router.HandleFrame,
// logging (not failing) per-frame errors since a single malformed or
// dropped frame must never bring the interface's read loop down.
func readLoop(ctx context.Context, router *pipeline.Router, tap *internal.Tap, iface string) error {
	buf := make([]byte, 1500)
	for {
		if ctx.Err() != nil {
			return nil
		}
		n, err := tap.Read(buf)
		if err != nil {
			return fmt.Errorf("reading from %s: %w", iface, err)
		}
		if n == 0 {
			continue
		}
		if err := router.HandleFrame(buf[:n], iface); err != nil {
			slog.Debug("handle-frame", slog.String("iface", iface), slog.String("err", err.Error()))
		}
	}
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// loadRoutes parses a routing table file: one route per non-blank,
// non-comment line as "dest mask gateway iface", e.g.
//
//	10.0.0.0 255.255.255.0 0.0.0.0 eth-int
//	0.0.0.0  0.0.0.0       203.0.113.254 eth-ext
//
// A gateway of 0.0.0.0 means the destination is directly connected: the
// next hop for any address in the route is the address itself.
func loadRoutes(path string) ([]routing.Route, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var routes []routing.Route
	scanner := bufio.NewScanner(f)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 4 {
			return nil, fmt.Errorf("routes file line %d: expected 4 fields, got %d", lineNum, len(fields))
		}
		dest, err := parseIPv4(fields[0])
		if err != nil {
			return nil, fmt.Errorf("routes file line %d: %w", lineNum, err)
		}
		mask, err := parseIPv4(fields[1])
		if err != nil {
			return nil, fmt.Errorf("routes file line %d: %w", lineNum, err)
		}
		gateway, err := parseIPv4(fields[2])
		if err != nil {
			return nil, fmt.Errorf("routes file line %d: %w", lineNum, err)
		}
		routes = append(routes, routing.Route{
			Dest:    dest,
			Mask:    mask,
			NextHop: gateway,
			Iface:   fields[3],
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return routes, nil
}

func parseIPv4(s string) ([4]byte, error) {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return [4]byte{}, err
	}
	if !addr.Is4() {
		return [4]byte{}, fmt.Errorf("%q is not an IPv4 address", s)
	}
	return addr.As4(), nil
}
