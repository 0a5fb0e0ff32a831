package worker

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"time"
)

// ClientConfig parameterizes the worker pool's shared HTTP client.
type ClientConfig struct {
	ConnectTimeout       time.Duration
	TLSSkipVerify        bool
	AllowPrivateNetworks bool // zero value false; cmd/profile sets true: benchmark targets are usually local/private
}

// NewHTTPClient builds the shared client used by every worker. The
// dialer always blocks the cloud-metadata addresses, and blocks loopback,
// link-local and private ranges unless AllowPrivateNetworks is set,
// adapted from the teacher's
// internal/transport/streamable_http.go safeDialer — retargeted so a
// benchmark run against a private inference endpoint (the common case)
// isn't blocked by default.
func NewHTTPClient(cfg ClientConfig) *http.Client {
	dialer := newSafeDialer(cfg.ConnectTimeout, cfg.AllowPrivateNetworks)
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   cfg.ConnectTimeout,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}
	if cfg.TLSSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &http.Client{
		Transport: transport,
		// Timeout is enforced per request via context, not here, so
		// streaming responses aren't cut off mid-stream.
		Timeout: 0,
	}
}

type safeDialer struct {
	dialer               *net.Dialer
	allowPrivateNetworks bool
	blockedRanges        []*net.IPNet
}

func newSafeDialer(timeout time.Duration, allowPrivateNetworks bool) *safeDialer {
	d := &safeDialer{
		dialer:               &net.Dialer{Timeout: timeout},
		allowPrivateNetworks: allowPrivateNetworks,
	}

	alwaysBlocked := []string{
		"169.254.169.254/32", // cloud metadata endpoint
		"100.100.100.200/32", // Alibaba Cloud metadata endpoint
	}
	for _, cidr := range alwaysBlocked {
		if _, ipnet, err := net.ParseCIDR(cidr); err == nil {
			d.blockedRanges = append(d.blockedRanges, ipnet)
		}
	}
	if !allowPrivateNetworks {
		for _, cidr := range []string{
			"127.0.0.0/8", "169.254.0.0/16", "10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16",
		} {
			if _, ipnet, err := net.ParseCIDR(cidr); err == nil {
				d.blockedRanges = append(d.blockedRanges, ipnet)
			}
		}
	}
	return d
}

func (d *safeDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return nil, fmt.Errorf("worker: invalid address %q: %w", address, err)
	}

	ips, err := net.DefaultResolver.LookupIP(ctx, "ip", host)
	if err != nil {
		return nil, fmt.Errorf("worker: DNS lookup failed for %s: %w", host, err)
	}
	for _, ip := range ips {
		if d.isBlocked(ip) {
			return nil, fmt.Errorf("worker: connection to blocked address %s is not allowed", ip)
		}
	}
	return d.dialer.DialContext(ctx, network, net.JoinHostPort(ips[0].String(), port))
}

func (d *safeDialer) isBlocked(ip net.IP) bool {
	for _, blocked := range d.blockedRanges {
		if blocked.Contains(ip) {
			return true
		}
	}
	return false
}
