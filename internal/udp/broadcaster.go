// Package udp sends one JSON datagram per Qibla reading to a fixed
// destination, unicast or broadcast.
package udp

import (
	"context"
	"encoding/json"
	"net"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/pkg/errors"
)

// Largest payload that fits one unfragmented datagram on typical links.
const maxDatagram = 1472

type udpConn interface {
	Write(p []byte) (int, error)
	Close() error
}

type dialFunc func(ctx context.Context, dest string, broadcast bool) (udpConn, error)

type Broadcaster struct {
	dest      string
	broadcast bool
	conn      udpConn
	sent      atomic.Uint64
}

func NewBroadcaster(dest string) (*Broadcaster, error) {
	return newBroadcaster(dest, dialUDP)
}

func dialUDP(ctx context.Context, dest string, broadcast bool) (udpConn, error) {
	d := net.Dialer{}
	if broadcast {
		d.Control = func(_, _ string, rc syscall.RawConn) error {
			var serr error
			if err := rc.Control(func(fd uintptr) { serr = enableBroadcast(fd) }); err != nil {
				return err
			}
			return serr
		}
	}
	c, err := d.DialContext(ctx, "udp", dest)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// isBroadcast reports a limited broadcast or a subnet broadcast address
// (last octet 255) for IPv4 destinations.
func isBroadcast(dest string) (bool, error) {
	host, _, err := net.SplitHostPort(dest)
	if err != nil {
		return false, err
	}
	ip := net.ParseIP(host)
	if ip == nil {
		// Hostname: let the resolver decide, no broadcast.
		return false, nil
	}
	v4 := ip.To4()
	return v4 != nil && v4[3] == 255, nil
}

func newBroadcaster(dest string, dial dialFunc) (*Broadcaster, error) {
	bcast, err := isBroadcast(dest)
	if err != nil {
		return nil, errors.Wrapf(err, "udp dest %q", dest)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := dial(ctx, dest, bcast)
	if err != nil {
		return nil, errors.Wrapf(err, "dial udp %s", dest)
	}
	return &Broadcaster{dest: dest, broadcast: bcast, conn: conn}, nil
}

func (b *Broadcaster) Dest() string { return b.dest }

// Sent is the number of datagrams written.
func (b *Broadcaster) Sent() uint64 { return b.sent.Load() }

func (b *Broadcaster) Send(payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	if len(payload) > maxDatagram {
		return errors.Errorf("udp payload %d bytes exceeds %d", len(payload), maxDatagram)
	}
	if _, err := b.conn.Write(payload); err != nil {
		return errors.Wrap(err, "udp write")
	}
	b.sent.Add(1)
	return nil
}

// SendJSON marshals v and sends it as one datagram.
func (b *Broadcaster) SendJSON(v any) error {
	p, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "marshal datagram")
	}
	return b.Send(p)
}

func (b *Broadcaster) Close() error {
	if b.conn == nil {
		return nil
	}
	return b.conn.Close()
}
