package probe

import (
	"context"
	"fmt"
	"runtime"
	"time"

	probing "github.com/prometheus-community/pro-bing"
	"go.uber.org/zap"

	"github.com/HerbHall/netmedic/pkg/models"
)

// Compile-time interface guard.
var _ Driver = (*PingDriver)(nil)

// PingDriver measures reachability and latency with ICMP echo requests.
type PingDriver struct {
	defaultCount int
	logger       *zap.Logger
}

// NewPingDriver creates a ping driver. defaultCount applies when the
// check spec does not set a packet count.
func NewPingDriver(defaultCount int, logger *zap.Logger) *PingDriver {
	if defaultCount <= 0 {
		defaultCount = 3
	}
	return &PingDriver{defaultCount: defaultCount, logger: logger}
}

func (d *PingDriver) Kind() models.ProbeKind { return models.KindPing }

// Run pings the device and reports packet loss and RTT statistics.
func (d *PingDriver) Run(ctx context.Context, dev models.Device, params Params) *models.ProbeResult {
	res, start := newResult(dev, models.KindPing)

	count := params.Count
	if count <= 0 {
		count = d.defaultCount
	}

	pinger, err := probing.NewPinger(dev.Address)
	if err != nil {
		// Name resolution or address parse failure.
		return fail(res, start, models.ErrUnreachable, fmt.Sprintf("resolve %s: %v", dev.Address, err))
	}

	pinger.Count = count
	if params.PacketGap > 0 {
		pinger.Interval = params.PacketGap
	}
	if deadline, ok := ctx.Deadline(); ok {
		pinger.Timeout = time.Until(deadline)
	}
	// Raw ICMP sockets are required on Windows; UDP ping works elsewhere.
	pinger.SetPrivileged(runtime.GOOS == "windows")

	done := make(chan error, 1)
	go func() {
		done <- pinger.Run()
	}()

	select {
	case err = <-done:
	case <-ctx.Done():
		pinger.Stop()
		<-done
		return fail(res, start, ctxErrorKind(ctx), ctx.Err().Error())
	}
	if err != nil {
		return fail(res, start, models.ErrProtocolError, fmt.Sprintf("ping %s: %v", dev.Address, err))
	}

	stats := pinger.Statistics()
	res.Duration = time.Since(start)
	res.Ping = &models.PingStats{
		PacketsSent: stats.PacketsSent,
		PacketsRecv: stats.PacketsRecv,
		LossPercent: stats.PacketLoss,
		MinRTT:      stats.MinRtt,
		AvgRTT:      stats.AvgRtt,
		MaxRTT:      stats.MaxRtt,
	}

	if stats.PacketsRecv == 0 {
		res.Success = false
		res.Error = models.ErrUnreachable
		res.ErrorMessage = fmt.Sprintf("no reply from %s after %d packets", dev.Address, stats.PacketsSent)
		return res
	}

	res.Success = true
	return res
}
