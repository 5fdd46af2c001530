/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package probe

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"os"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"github.com/carverauto/arnet/pkg/logger"
	"github.com/carverauto/arnet/pkg/models"
)

const (
	protocolICMPv4 = 1
	protocolICMPv6 = 58

	icmpReadBuffer  = 1500
	icmpPayloadSize = 32
)

var errNoEchoReplies = errors.New("no echo replies")

// packetConn is the subset of *icmp.PacketConn used by the probe.
type packetConn interface {
	WriteTo(b []byte, dst net.Addr) (int, error)
	ReadFrom(b []byte) (int, net.Addr, error)
	SetReadDeadline(t time.Time) error
	Close() error
}

type listenFunc func(network, address string) (packetConn, error)

// ICMPProbe sends a short burst of echo requests and reports round-trip statistics.
type ICMPProbe struct {
	logger     logger.Logger
	privileged bool
	listen     listenFunc
	id         int
}

// ICMPOption customizes an ICMPProbe.
type ICMPOption func(*ICMPProbe)

// WithPrivilegedICMP uses raw ICMP sockets instead of unprivileged datagram sockets.
// Raw sockets need CAP_NET_RAW.
func WithPrivilegedICMP(privileged bool) ICMPOption {
	return func(p *ICMPProbe) {
		p.privileged = privileged
	}
}

// NewICMPProbe creates an echo probe backed by golang.org/x/net/icmp.
func NewICMPProbe(log logger.Logger, opts ...ICMPOption) *ICMPProbe {
	p := &ICMPProbe{
		logger: log,
		listen: func(network, address string) (packetConn, error) {
			return icmp.ListenPacket(network, address)
		},
		id: os.Getpid() & 0xffff,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Protocol implements DiagnosticProbe.
func (*ICMPProbe) Protocol() models.Protocol {
	return models.ProtocolICMP
}

// echoTarget captures the per-family socket and message details for one poll.
type echoTarget struct {
	network  string
	listen   string
	dst      net.Addr
	request  icmp.Type
	reply    icmp.Type
	protocol int
}

// Poll implements DiagnosticProbe.
func (p *ICMPProbe) Poll(ctx context.Context, address string, _ models.Credentials,
	spec models.ProbeSpec) models.ProbeResult {
	timeout := time.Duration(spec.Timeout)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	host, err := targetHost(address)
	if err != nil {
		return failure(models.ProtocolICMP, err)
	}

	ip, err := resolveIP(ctx, host)
	if err != nil {
		return failure(models.ProtocolICMP, err)
	}

	target := p.echoTarget(ip)

	conn, err := p.listen(target.network, target.listen)
	if err != nil {
		return failure(models.ProtocolICMP, fmt.Errorf("%w: icmp listen %s: %w", ErrProtocol, target.network, err))
	}
	defer func() {
		_ = conn.Close()
	}()

	// closing the socket unblocks a pending read
	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
	defer stop()

	count := spec.Count
	if count <= 0 {
		count = models.DefaultEchoCount
	}

	wait := timeout / time.Duration(count)

	var (
		rtts    []time.Duration
		lastErr error
	)

	for seq := 0; seq < count && ctx.Err() == nil; seq++ {
		rtt, err := p.echo(conn, target, seq, wait)
		if err != nil {
			lastErr = err

			p.logger.Debug().Err(err).Str("target", ip.String()).Int("seq", seq).Msg("Echo request unanswered")

			continue
		}

		rtts = append(rtts, rtt)
	}

	if len(rtts) == 0 {
		if ctx.Err() != nil && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return failure(models.ProtocolICMP, ctx.Err())
		}

		detail := fmt.Sprintf("%v from %s (%d sent)", errNoEchoReplies, ip, count)
		if lastErr != nil {
			detail = fmt.Sprintf("%s: %v", detail, lastErr)
		}

		return models.NewFailure(models.ProtocolICMP, time.Now(), models.ErrorKindUnreachable, detail)
	}

	return models.NewSuccess(models.ProtocolICMP, time.Now(), echoStats(rtts, count))
}

func (p *ICMPProbe) echoTarget(ip net.IP) echoTarget {
	t := echoTarget{
		request:  ipv4.ICMPTypeEcho,
		reply:    ipv4.ICMPTypeEchoReply,
		protocol: protocolICMPv4,
	}

	v4 := ip.To4() != nil
	if !v4 {
		t.request, t.reply, t.protocol = ipv6.ICMPTypeEchoRequest, ipv6.ICMPTypeEchoReply, protocolICMPv6
	}

	switch {
	case p.privileged && v4:
		t.network, t.listen, t.dst = "ip4:icmp", "0.0.0.0", &net.IPAddr{IP: ip}
	case p.privileged:
		t.network, t.listen, t.dst = "ip6:ipv6-icmp", "::", &net.IPAddr{IP: ip}
	case v4:
		t.network, t.listen, t.dst = "udp4", "0.0.0.0", &net.UDPAddr{IP: ip}
	default:
		t.network, t.listen, t.dst = "udp6", "::", &net.UDPAddr{IP: ip}
	}

	return t
}

// echo sends one request and waits up to wait for the matching reply.
func (p *ICMPProbe) echo(conn packetConn, target echoTarget, seq int, wait time.Duration) (time.Duration, error) {
	msg := icmp.Message{
		Type: target.request,
		Body: &icmp.Echo{ID: p.id, Seq: seq, Data: make([]byte, icmpPayloadSize)},
	}

	packet, err := msg.Marshal(nil)
	if err != nil {
		return 0, fmt.Errorf("%w: marshal echo: %w", ErrProtocol, err)
	}

	start := time.Now()

	if err := conn.SetReadDeadline(start.Add(wait)); err != nil {
		return 0, err
	}

	if _, err := conn.WriteTo(packet, target.dst); err != nil {
		return 0, fmt.Errorf("icmp send: %w", err)
	}

	buf := make([]byte, icmpReadBuffer)

	for {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			return 0, fmt.Errorf("icmp read: %w", err)
		}

		reply, err := icmp.ParseMessage(target.protocol, buf[:n])
		if err != nil || reply.Type != target.reply {
			continue
		}

		// unprivileged sockets rewrite the identifier, so only the sequence is matched
		body, ok := reply.Body.(*icmp.Echo)
		if !ok || body.Seq != seq || (p.privileged && body.ID != p.id) {
			continue
		}

		return time.Since(start), nil
	}
}

func echoStats(rtts []time.Duration, sent int) map[string]any {
	minRTT, maxRTT := rtts[0], rtts[0]

	var total time.Duration

	for _, rtt := range rtts {
		total += rtt
		minRTT = min(minRTT, rtt)
		maxRTT = max(maxRTT, rtt)
	}

	avg := total / time.Duration(len(rtts))

	return map[string]any{
		"avg_ms":       millis(avg),
		"min_ms":       millis(minRTT),
		"max_ms":       millis(maxRTT),
		"loss_percent": round2(float64(sent-len(rtts)) / float64(sent) * 100),
		"sent":         sent,
		"received":     len(rtts),
	}
}

func millis(d time.Duration) float64 {
	return round2(float64(d.Microseconds()) / 1000.0)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func resolveIP(ctx context.Context, host string) (net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return ip, nil
	}

	ips, err := net.DefaultResolver.LookupIP(ctx, "ip", host)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", host, err)
	}

	if len(ips) == 0 {
		return nil, fmt.Errorf("%w: %s has no addresses", errInvalidAddress, host)
	}

	return ips[0], nil
}
