// Package discovery finds worker endpoints on the local /24 subnet.
// LAN-local and trust-on-connect: any host that answers the probe is treated
// as a legitimate worker.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/multicap/multicap/internal/log"
	"github.com/multicap/multicap/internal/xrpc"
)

var probesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "multicap_discovery_probes_total",
	Help: "Total discovery probes by strategy and result",
}, []string{"strategy", "result"})

// Strategy selects how a candidate host is probed.
type Strategy string

const (
	// StrategyRPC performs an XML-RPC capability handshake. A fault response
	// still counts as reachable: it proves an RPC listener on the port.
	StrategyRPC Strategy = "rpc"
	// StrategyPing shells out to the platform ping with a short timeout.
	StrategyPing Strategy = "ping"
)

// Options configures a subnet scan.
type Options struct {
	LocalOnly    bool
	Port         int           // worker RPC port, StrategyRPC only
	Strategy     Strategy      // defaults to StrategyRPC
	ProbeTimeout time.Duration // per-host, defaults to 2s
	Concurrency  int           // concurrent probes, defaults to 100
	ProbeRate    rate.Limit    // probe launches per second, defaults to 200
}

func (o *Options) defaults() {
	if o.Strategy == "" {
		o.Strategy = StrategyRPC
	}
	if o.ProbeTimeout <= 0 {
		o.ProbeTimeout = 2 * time.Second
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 100
	}
	if o.ProbeRate <= 0 {
		o.ProbeRate = 200
	}
}

// Scan probes every other host on the local /24 subnet and returns the
// reachable ones sorted by last octet. It never fails: when the local
// address cannot be determined or nothing answers, the result is empty and
// the caller decides whether an empty fleet aborts the session.
func Scan(ctx context.Context, opts Options) []string {
	opts.defaults()
	logger := log.WithComponent("discovery")

	if opts.LocalOnly {
		return []string{"127.0.0.1"}
	}

	local, err := outboundIP()
	if err != nil {
		logger.Error().Err(err).Msg("cannot determine local address, no fleet available")
		return nil
	}

	candidates := subnetHosts(local)
	logger.Info().
		Str("local_ip", local.String()).
		Int("candidates", len(candidates)).
		Str("strategy", string(opts.Strategy)).
		Msg("scanning subnet for workers")

	limiter := rate.NewLimiter(opts.ProbeRate, opts.Concurrency)

	var mu sync.Mutex
	var found []string

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for _, host := range candidates {
		host := host
		g.Go(func() error {
			if err := limiter.Wait(gctx); err != nil {
				return nil // scan cancelled; partial results still count
			}
			if probe(gctx, host, opts) {
				mu.Lock()
				found = append(found, host)
				mu.Unlock()
				logger.Info().Str("worker_ip", host).Msg("worker found")
			}
			return nil
		})
	}
	_ = g.Wait()

	sortByLastOctet(found)
	logger.Info().Int("workers", len(found)).Msg("scan finished")
	return found
}

func probe(ctx context.Context, host string, opts Options) bool {
	var ok bool
	switch opts.Strategy {
	case StrategyPing:
		ok = probePing(ctx, host, opts.ProbeTimeout)
	default:
		ok = probeRPC(ctx, host, opts.Port, opts.ProbeTimeout)
	}
	result := "miss"
	if ok {
		result = "hit"
	}
	probesTotal.WithLabelValues(string(opts.Strategy), result).Inc()
	return ok
}

// probeRPC attempts the capability handshake. Both a clean answer and a
// fault are positive; any transport error or timeout is negative.
func probeRPC(ctx context.Context, host string, port int, timeout time.Duration) bool {
	client := xrpc.NewClient(host, port, timeout)
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	_, err := client.ListMethods(cctx)
	if err == nil {
		return true
	}
	var f *xrpc.Fault
	return errors.As(err, &f)
}

// probePing shells out to the platform ping binary. Flag syntax differs
// between Windows and POSIX.
func probePing(ctx context.Context, host string, timeout time.Duration) bool {
	var args []string
	if runtime.GOOS == "windows" {
		args = []string{"-n", "1", "-w", strconv.Itoa(int(timeout.Milliseconds())), host}
	} else {
		secs := int(timeout.Seconds())
		if secs < 1 {
			secs = 1
		}
		args = []string{"-c", "1", "-W", strconv.Itoa(secs), host}
	}

	cctx, cancel := context.WithTimeout(ctx, timeout+time.Second)
	defer cancel()
	return exec.CommandContext(cctx, "ping", args...).Run() == nil
}

// outboundIP determines the host's outbound IPv4 address via a throwaway UDP
// connect; no packet is sent.
func outboundIP() (net.IP, error) {
	conn, err := net.Dial("udp4", "8.8.8.8:80")
	if err != nil {
		return nil, fmt.Errorf("resolve outbound address: %w", err)
	}
	defer func() { _ = conn.Close() }()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok || addr.IP == nil {
		return nil, fmt.Errorf("unexpected local address %v", conn.LocalAddr())
	}
	return addr.IP.To4(), nil
}

// subnetHosts lists every other host address in local's /24.
func subnetHosts(local net.IP) []string {
	base := local.Mask(net.CIDRMask(24, 32))
	hosts := make([]string, 0, 253)
	for i := 1; i < 255; i++ {
		ip := net.IPv4(base[len(base)-4], base[len(base)-3], base[len(base)-2], byte(i)).To4()
		if ip.Equal(local) {
			continue
		}
		hosts = append(hosts, ip.String())
	}
	return hosts
}

func sortByLastOctet(hosts []string) {
	sort.Slice(hosts, func(i, j int) bool {
		return lastOctet(hosts[i]) < lastOctet(hosts[j])
	})
}

func lastOctet(ip string) int {
	idx := strings.LastIndex(ip, ".")
	if idx < 0 {
		return 0
	}
	n, _ := strconv.Atoi(ip[idx+1:])
	return n
}
