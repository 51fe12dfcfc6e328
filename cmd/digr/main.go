// Command digr is a minimal dig-like client: send one query over UDP (with
// TCP fallback on truncation) and print the decoded reply, grounded on the
// teacher's own dns.Client.ExchangeContext usage in resolver.go.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/miekg/dns"
	"github.com/spf13/cobra"
)

func main() {
	var (
		server  string
		qtype   string
		timeout time.Duration
		useTCP  bool
	)

	root := &cobra.Command{
		Use:   "digr <name>",
		Short: "Send one DNS query and print the reply",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return query(args[0], server, qtype, timeout, useTCP)
		},
	}
	root.Flags().StringVarP(&server, "server", "s", "127.0.0.1:53", "nameserver to query, host:port")
	root.Flags().StringVarP(&qtype, "type", "t", "A", "query type, e.g. A, AAAA, NS, MX, TXT")
	root.Flags().DurationVar(&timeout, "timeout", 2*time.Second, "query timeout")
	root.Flags().BoolVar(&useTCP, "tcp", false, "use TCP instead of UDP")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func query(name, server, qtypeName string, timeout time.Duration, useTCP bool) error {
	qtype, ok := dns.StringToType[qtypeName]
	if !ok {
		return fmt.Errorf("digr: unknown query type %q", qtypeName)
	}

	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), qtype)
	m.RecursionDesired = true

	net := "udp"
	if useTCP {
		net = "tcp"
	}
	client := &dns.Client{Net: net, Timeout: timeout}

	reply, rtt, err := client.Exchange(m, server)
	if err != nil {
		return fmt.Errorf("digr: query failed: %w", err)
	}

	if reply.Truncated && !useTCP {
		client.Net = "tcp"
		reply, rtt, err = client.Exchange(m, server)
		if err != nil {
			return fmt.Errorf("digr: tcp retry after truncation failed: %w", err)
		}
	}

	printReply(reply, rtt)
	return nil
}

func printReply(reply *dns.Msg, rtt time.Duration) {
	fmt.Printf(";; rcode: %s, rtt: %s\n", dns.RcodeToString[reply.Rcode], rtt)
	fmt.Printf(";; ANSWER: %d, AUTHORITY: %d, ADDITIONAL: %d\n\n",
		len(reply.Answer), len(reply.Ns), len(reply.Extra))

	printSection(";; ANSWER SECTION:", reply.Answer)
	printSection(";; AUTHORITY SECTION:", reply.Ns)
	printSection(";; ADDITIONAL SECTION:", reply.Extra)
}

func printSection(header string, rrs []dns.RR) {
	if len(rrs) == 0 {
		return
	}
	fmt.Println(header)
	for _, rr := range rrs {
		fmt.Println(rr.String())
	}
	fmt.Println()
}
