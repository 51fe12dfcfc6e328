// Package server implements the client-facing UDP/TCP listener: decode a
// query, try the authoritative store, fall through to the iterative engine
// (which applies conditional forwarding itself), encode the reply.
//
// Per spec.md §7, the UDP socket is never closed and TCP connections are
// closed on a framing error or after a 3-second idle period; both behaviours
// come from github.com/miekg/dns's own dns.Server, used the same way the
// teacher's NewTestServer helper does.
package server

import (
	"context"
	"fmt"
	"time"

	"github.com/miekg/dns"
	"github.com/sirupsen/logrus"

	"github.com/nullzone-dns/recursor/authority"
	"github.com/nullzone-dns/recursor/nametree"
	"github.com/nullzone-dns/recursor/recursor"
)

// idleTimeout bounds how long a TCP connection may sit without a query
// before the listener closes it, per spec.md §7.
const idleTimeout = 3 * time.Second

// Server is the client-facing DNS listener. It owns no cache state of its
// own; MC/RRC/NSAS/authority all live in the components it is handed.
type Server struct {
	Addr      string
	EnableTCP bool
	Authority *authority.Store
	Recursor  *recursor.Engine // nil disables recursive/forwarded answers entirely
	Log       *logrus.Logger

	udp *dns.Server
	tcp *dns.Server
}

// New wires a Server over the given authoritative store and recursive
// engine. recursorEngine may be nil if spec.md's recursor.enable is false,
// in which case only zones the authority store covers are answered.
func New(addr string, enableTCP bool, authorityStore *authority.Store, recursorEngine *recursor.Engine) *Server {
	log := logrus.StandardLogger()
	if recursorEngine != nil {
		log = recursorEngine.Log
	}
	return &Server{
		Addr:      addr,
		EnableTCP: enableTCP,
		Authority: authorityStore,
		Recursor:  recursorEngine,
		Log:       log,
	}
}

// ListenAndServe starts the UDP listener and, if EnableTCP is set, the TCP
// listener, and blocks until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	handler := dns.HandlerFunc(s.handle)

	s.udp = &dns.Server{Addr: s.Addr, Net: "udp", Handler: handler}
	errCh := make(chan error, 2)

	go func() {
		s.Log.WithField("addr", s.Addr).Info("starting udp listener")
		errCh <- s.udp.ListenAndServe()
	}()

	if s.EnableTCP {
		s.tcp = &dns.Server{
			Addr:        s.Addr,
			Net:         "tcp",
			Handler:     handler,
			IdleTimeout: func() time.Duration { return idleTimeout },
			ReadTimeout: idleTimeout,
		}
		go func() {
			s.Log.WithField("addr", s.Addr).Info("starting tcp listener")
			errCh <- s.tcp.ListenAndServe()
		}()
	}

	select {
	case <-ctx.Done():
		return s.Shutdown()
	case err := <-errCh:
		_ = s.Shutdown()
		return err
	}
}

// Shutdown gracefully stops both listeners.
func (s *Server) Shutdown() error {
	var firstErr error
	if s.udp != nil {
		if err := s.udp.Shutdown(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.tcp != nil {
		if err := s.tcp.Shutdown(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// handle is the dns.Handler entry point for every incoming query, UDP or
// TCP. Malformed queries are dropped silently per spec.md §7.
func (s *Server) handle(w dns.ResponseWriter, r *dns.Msg) {
	if r.Opcode != dns.OpcodeQuery || len(r.Question) != 1 {
		return
	}
	q := r.Question[0]
	if q.Qclass != dns.ClassINET {
		return
	}

	qname := nametree.NewName(q.Name)
	reply := s.answer(r, qname, q.Qtype)
	rcode := reply.Rcode
	reply.SetReply(r) // SetReply resets Rcode to NOERROR
	reply.Rcode = rcode
	if err := w.WriteMsg(reply); err != nil {
		s.Log.WithError(err).WithField("qname", q.Name).Warn("failed to write reply")
	}
}

// answer tries the authoritative store first; only a name no loaded zone
// covers falls through to the recursive engine.
func (s *Server) answer(r *dns.Msg, qname nametree.Name, qtype uint16) *dns.Msg {
	if s.Authority != nil {
		if result, covered := s.Authority.Find(qname, qtype); covered {
			return authoritativeReply(qname, qtype, result)
		}
	}

	if s.Recursor == nil {
		m := new(dns.Msg)
		m.SetRcode(r, dns.RcodeRefused)
		return m
	}

	ctx, cancel := context.WithTimeout(context.Background(), recursor.OverallDeadline)
	defer cancel()
	return s.Recursor.Query(ctx, qname, qtype)
}

func authoritativeReply(qname nametree.Name, qtype uint16, result authority.FindResult) *dns.Msg {
	m := new(dns.Msg)
	m.Authoritative = true
	m.RecursionAvailable = true

	switch result.Type {
	case authority.Success:
		m.Rcode = dns.RcodeSuccess
		m.Answer = result.RRset
		if qtype != dns.TypeNS {
			m.Ns = result.ApexNS
			m.Extra = result.ApexGlue
		}
	case authority.CName:
		m.Rcode = dns.RcodeSuccess
		m.Answer = result.RRset
	case authority.Delegation:
		m.Authoritative = false
		m.Rcode = dns.RcodeSuccess
		m.Ns = result.RRset
		m.Extra = result.Additional
	case authority.NXRRset:
		m.Rcode = dns.RcodeSuccess
		m.Ns = result.ApexSOA
	case authority.NXDomain:
		m.Rcode = dns.RcodeNameError
		m.Ns = result.ApexSOA
	default:
		m.Rcode = dns.RcodeServerFailure
	}

	m.Question = []dns.Question{{Name: qname.String(), Qtype: qtype, Qclass: dns.ClassINET}}
	return m
}

// LoadZones bulk-loads every zone named in zones (name -> file path) into
// store, returning the first load error annotated with the zone name.
func LoadZones(store *authority.Store, zones map[string]string) error {
	for name, path := range zones {
		if err := store.LoadZone(nametree.NewName(name), path); err != nil {
			return fmt.Errorf("server: loading zone %s: %w", name, err)
		}
	}
	return nil
}
