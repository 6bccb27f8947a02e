// Copyright (c) 2024-2026 IT Help San Diego Inc.
// Licensed under BUSL-1.1 — See LICENSE for terms.
package dnsclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"strings"
	"time"

	"github.com/miekg/dns"
)

type ResolverConfig struct {
	Name string
	IP   string
}

var DefaultResolvers = []ResolverConfig{
	{Name: "Cloudflare", IP: "1.1.1.1"},
	{Name: "Google", IP: "8.8.8.8"},
	{Name: "Quad9", IP: "9.9.9.9"},
}

var UserAgent = "SignalGuard/1.0"

func SetUserAgentVersion(version string) {
	UserAgent = fmt.Sprintf("SignalGuard/%s", version)
}

const defaultTimeout = 2 * time.Second

var ErrNoAnswer = errors.New("no answer")

type exchanger interface {
	ExchangeContext(ctx context.Context, m *dns.Msg, address string) (*dns.Msg, time.Duration, error)
}

type Client struct {
	resolvers []ResolverConfig
	timeout   time.Duration
	dns       exchanger
}

type Option func(*Client)

func WithResolvers(r []ResolverConfig) Option {
	return func(c *Client) { c.resolvers = r }
}

func WithTimeout(t time.Duration) Option {
	return func(c *Client) { c.timeout = t }
}

func New(opts ...Option) *Client {
	c := &Client{
		resolvers: DefaultResolvers,
		timeout:   defaultTimeout,
	}
	for _, o := range opts {
		o(c)
	}
	c.dns = &dns.Client{Net: "udp", Timeout: c.timeout}
	return c
}

// QueryTXT returns the TXT strings for name from the first resolver that
// answers. NXDOMAIN and empty answers stop the fallback.
func (c *Client) QueryTXT(ctx context.Context, name string) ([]string, error) {
	r, err := c.query(ctx, name, dns.TypeTXT)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, rr := range r.Answer {
		if txt, ok := rr.(*dns.TXT); ok {
			out = append(out, strings.Join(txt.Txt, ""))
		}
	}
	if len(out) == 0 {
		return nil, ErrNoAnswer
	}
	return out, nil
}

// LookupPTR returns the first PTR target for ip without the trailing dot.
func (c *Client) LookupPTR(ctx context.Context, ip string) (string, error) {
	arpa, err := dns.ReverseAddr(ip)
	if err != nil {
		return "", fmt.Errorf("reverse name for %q: %w", ip, err)
	}
	r, err := c.query(ctx, arpa, dns.TypePTR)
	if err != nil {
		return "", err
	}
	for _, rr := range r.Answer {
		if ptr, ok := rr.(*dns.PTR); ok {
			return strings.TrimSuffix(ptr.Ptr, "."), nil
		}
	}
	return "", ErrNoAnswer
}

func (c *Client) query(ctx context.Context, name string, qtype uint16) (*dns.Msg, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), qtype)
	msg.RecursionDesired = true

	var lastErr error = ErrNoAnswer
	for _, res := range c.resolvers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r, _, err := c.dns.ExchangeContext(ctx, msg, net.JoinHostPort(res.IP, "53"))
		if err != nil {
			slog.Debug("DNS query failed", "resolver", res.Name, "name", name, "error", err)
			lastErr = err
			continue
		}
		switch r.Rcode {
		case dns.RcodeSuccess:
			return r, nil
		case dns.RcodeNameError:
			return nil, ErrNoAnswer
		default:
			lastErr = fmt.Errorf("resolver %s returned %s", res.Name, dns.RcodeToString[r.Rcode])
		}
	}
	return nil, lastErr
}

// ReverseIPv4 returns the dotted octets of an IPv4 address in reverse order,
// as used by Team Cymru's origin zone.
func ReverseIPv4(ip string) (string, bool) {
	addr, err := netip.ParseAddr(ip)
	if err != nil || !addr.Unmap().Is4() {
		return "", false
	}
	b := addr.Unmap().As4()
	return fmt.Sprintf("%d.%d.%d.%d", b[3], b[2], b[1], b[0]), true
}

// ReverseIPv6 returns the reversed nibble form of an IPv6 address.
func ReverseIPv6(ip string) (string, bool) {
	addr, err := netip.ParseAddr(ip)
	if err != nil || !addr.Is6() || addr.Is4In6() {
		return "", false
	}
	b := addr.As16()
	const hex = "0123456789abcdef"
	var sb strings.Builder
	for i := len(b) - 1; i >= 0; i-- {
		if sb.Len() > 0 {
			sb.WriteByte('.')
		}
		sb.WriteByte(hex[b[i]&0x0f])
		sb.WriteByte('.')
		sb.WriteByte(hex[b[i]>>4])
	}
	return sb.String(), true
}
