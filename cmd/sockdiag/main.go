package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/prometheusx"
	"github.com/m-lab/go/rtx"

	"github.com/m-lab/sockdiag/collector"
	"github.com/m-lab/sockdiag/sockfilter"
	"github.com/m-lab/sockdiag/sockstat"
)

func init() {
	// Always prepend the filename and line number.
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}

var (
	promPort  = flag.String("prom", ":9090", "Prometheus metrics export address and port. Default is ':9090'")
	period    = flag.Duration("period", 5*time.Second, "How often to poll for socket state. Zero means run once and exit.")
	families  = flag.String("families", "", "Comma-separated address families to enumerate: v4, v6. Empty means both.")
	protocols = flag.String("protocols", "", "Comma-separated transport protocols to enumerate: tcp, udp. Empty means both.")
	onlyUser  = flag.Bool("only-current-user", false, "Only report sockets owned by the calling uid.")
	onlyProc  = flag.Bool("only-current-process", false, "Only report sockets owned by the calling pid.")
	portExpr  = flag.String("ports", "", "Port filter expression, e.g. \"eq(dst,443)\". Empty means no port filtering.")

	ctx, cancel = context.WithCancel(context.Background())
)

func main() {
	flag.Parse()
	flagx.ArgsFromEnv(flag.CommandLine)

	filter, err := buildFilter()
	rtx.Must(err, "Could not build socket filter")

	// Expose prometheus and pprof metrics on a separate port.
	promSrv := prometheusx.MustStartPrometheus(*promPort)
	defer promSrv.Shutdown(ctx)

	visit := func(stat sockstat.InetSockStat, tcpStat sockstat.TcpStat) {
		fmt.Printf("%s %s:%d -> %s:%d %s pid=%d uid=%d rtt=%dus cwnd=%d\n",
			stat.Family, stat.LocalAddress, stat.LocalPort,
			stat.RemoteAddress, stat.RemotePort, stat.StateName,
			stat.Pid, stat.Uid, tcpStat.RoundTripTime, tcpStat.SndCwnd)
	}

	if *period == 0 {
		rtx.Must(collector.Collect(filter, visit), "collection pass failed")
		return
	}

	ticker := time.NewTicker(*period)
	defer ticker.Stop()
	for {
		if err := collector.Collect(filter, visit); err != nil {
			log.Println("collection pass failed:", err)
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			cancel()
			return
		}
	}
}

// buildFilter assembles a sockfilter.SockFilter from the command-line flags.
func buildFilter() (*sockfilter.SockFilter, error) {
	filter := &sockfilter.SockFilter{
		OnlyCurrentUser:    *onlyUser,
		OnlyCurrentProcess: *onlyProc,
	}

	fams, err := parseFamilies(*families)
	if err != nil {
		return nil, err
	}
	filter.Families = fams

	protos, err := parseProtocols(*protocols)
	if err != nil {
		return nil, err
	}
	filter.Protocols = protos

	if *portExpr != "" {
		expr, err := sockfilter.ParseExpr(*portExpr)
		if err != nil {
			return nil, err
		}
		filter.Ports = expr
	}
	return filter, nil
}

func parseFamilies(s string) (sockfilter.Family, error) {
	var out sockfilter.Family
	for _, tok := range splitCSV(s) {
		switch tok {
		case "v4":
			out |= sockfilter.V4
		case "v6":
			out |= sockfilter.V6
		default:
			return 0, fmt.Errorf("unknown family %q", tok)
		}
	}
	return out, nil
}

func parseProtocols(s string) (sockfilter.Protocol, error) {
	var out sockfilter.Protocol
	for _, tok := range splitCSV(s) {
		switch tok {
		case "tcp":
			out |= sockfilter.TCP
		case "udp":
			out |= sockfilter.UDP
		default:
			return 0, fmt.Errorf("unknown protocol %q", tok)
		}
	}
	return out, nil
}

// splitCSV splits a comma-separated flag value, trimming whitespace and
// dropping empty tokens so that "" yields no tokens rather than one.
func splitCSV(s string) []string {
	var out []string
	for _, tok := range strings.Split(s, ",") {
		tok = strings.ToLower(strings.TrimSpace(tok))
		if tok != "" {
			out = append(out, tok)
		}
	}
	return out
}
