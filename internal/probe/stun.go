// Copyright (c) 2024-2026 IT Help San Diego Inc.
// Licensed under BUSL-1.1 — See LICENSE for terms.
package probe

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"github.com/pion/stun"
)

const DefaultSTUNServer = "stun.l.google.com:19302"

// STUNGatherer gathers candidates for this process: a host candidate for the
// socket's local address, then a server-reflexive one from a binding request.
type STUNGatherer struct {
	Server  string
	Network string
}

func (g *STUNGatherer) Gather(ctx context.Context) (<-chan string, error) {
	server := g.Server
	if server == "" {
		server = DefaultSTUNServer
	}
	network := g.Network
	if network == "" {
		network = "udp4"
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, network, server)
	if err != nil {
		return nil, fmt.Errorf("dial stun server %s: %w", server, err)
	}
	local, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		conn.Close()
		return nil, fmt.Errorf("unexpected local address type %T", conn.LocalAddr())
	}

	client, err := stun.NewClient(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("stun client: %w", err)
	}

	out := make(chan string, 2)
	out <- HostCandidate(local.IP.String(), local.Port)

	go func() {
		defer close(out)
		defer client.Close()

		done := make(chan struct{})
		defer close(done)
		go func() {
			select {
			case <-ctx.Done():
				client.Close()
			case <-done:
			}
		}()

		var mapped stun.XORMappedAddress
		var bindErr error
		err := client.Do(stun.MustBuild(stun.TransactionID, stun.BindingRequest), func(res stun.Event) {
			if res.Error != nil {
				bindErr = res.Error
				return
			}
			bindErr = mapped.GetFrom(res.Message)
		})
		if err == nil {
			err = bindErr
		}
		if err != nil {
			slog.Debug("STUN binding failed", "server", server, "error", err)
			return
		}

		select {
		case out <- ReflexiveCandidate(mapped.IP.String(), mapped.Port, local.IP.String(), local.Port):
		case <-ctx.Done():
		}
	}()

	return out, nil
}

func HostCandidate(ip string, port int) string {
	return fmt.Sprintf("candidate:1 1 udp 2122260223 %s %d typ host", ip, port)
}

func ReflexiveCandidate(ip string, port int, relIP string, relPort int) string {
	return fmt.Sprintf("candidate:2 1 udp 1686052607 %s %d typ srflx raddr %s rport %d", ip, port, relIP, relPort)
}
