package classifier

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Recorder counts verdicts as RunAFPacket classifies frames. It is
// satisfied by internal/stats.Counters.
type Recorder interface {
	Record(Verdict)
}

// recvTimeout bounds each blocking read so the loop can notice ctx
// cancellation promptly without spinning.
var recvTimeout = unix.Timeval{Sec: 1}

// RunAFPacket opens a raw AF_PACKET socket on iface, classifies every
// frame it reads with Classify, and hands the verdict to rec. It never
// itself drops traffic — dropping at line rate is the attached
// fast-path program's job, out of scope per spec.md §1 — this loop
// exists so the classify path is runnable and observable end-to-end
// without a compiled eBPF object.
func (c *Classifier) RunAFPacket(ctx context.Context, iface string, rec Recorder) error {
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		return fmt.Errorf("resolving interface %s: %w", iface, err)
	}

	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, int(htons(unix.ETH_P_ALL)))
	if err != nil {
		return fmt.Errorf("opening AF_PACKET socket: %w", err)
	}
	defer unix.Close(fd)

	if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &recvTimeout); err != nil {
		return fmt.Errorf("setting receive timeout: %w", err)
	}

	addr := unix.SockaddrLinklayer{
		Protocol: htons(unix.ETH_P_ALL),
		Ifindex:  ifi.Index,
	}
	if err := unix.Bind(fd, &addr); err != nil {
		return fmt.Errorf("binding to %s: %w", iface, err)
	}

	logrus.WithField("interface", iface).Info("classifier: capture loop started")

	buf := make([]byte, 65536)
	for {
		select {
		case <-ctx.Done():
			logrus.WithField("interface", iface).Info("classifier: capture loop stopped")
			return nil
		default:
		}

		n, _, err := unix.Recvfrom(fd, buf, 0)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EINTR) {
				continue
			}
			return fmt.Errorf("reading frame: %w", err)
		}

		verdict := c.Classify(buf[:n])
		rec.Record(verdict)
	}
}

func htons(host uint16) uint16 {
	return (host<<8)&0xff00 | host>>8
}
