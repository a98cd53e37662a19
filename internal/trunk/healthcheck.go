package trunk

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"
)

// HealthChecker periodically pings every registered trunk with an OPTIONS
// request (RFC 3261 §11) and records reachability and round-trip time,
// so routing can skip trunks that are down rather than discovering the
// failure mid-call.
type HealthChecker struct {
	client        *sipgo.Client
	registry      *Registry
	advertiseAddr string
	advertisePort int
	interval      time.Duration
	timeout       time.Duration
	log           *slog.Logger
}

// NewHealthChecker creates a checker pinging every trunk in registry on
// interval, using client to send OPTIONS requests.
func NewHealthChecker(client *sipgo.Client, registry *Registry, advertiseAddr string, advertisePort int, interval time.Duration, log *slog.Logger) *HealthChecker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &HealthChecker{
		client:        client,
		registry:      registry,
		advertiseAddr: advertiseAddr,
		advertisePort: advertisePort,
		interval:      interval,
		timeout:       5 * time.Second,
		log:           log.With("subsystem", "trunk-health"),
	}
}

// Run blocks pinging all trunks every interval until ctx is cancelled.
func (h *HealthChecker) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.pingAll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.pingAll(ctx)
		}
	}
}

func (h *HealthChecker) pingAll(ctx context.Context) {
	for _, t := range h.registry.All() {
		go h.ping(ctx, t)
	}
}

func (h *HealthChecker) ping(ctx context.Context, t *Trunk) {
	requestURI := sip.Uri{
		Scheme: "sip",
		Host:   t.ProxyAddress,
		Port:   t.ProxyPort,
	}
	req := sip.NewRequest(sip.OPTIONS, requestURI)

	maxFwd := sip.MaxForwardsHeader(70)
	req.AppendHeader(&maxFwd)

	fromURI := sip.Uri{Scheme: "sip", User: "voicebridge", Host: h.advertiseAddr, Port: h.advertisePort}
	fromParams := sip.NewParams()
	fromParams.Add("tag", uuid.NewString())
	req.AppendHeader(&sip.FromHeader{Address: fromURI, Params: fromParams})

	toURI := requestURI
	req.AppendHeader(&sip.ToHeader{Address: toURI, Params: sip.NewParams()})

	callID := sip.CallIDHeader(uuid.NewString())
	req.AppendHeader(&callID)

	req.AppendHeader(&sip.CSeqHeader{SeqNo: 1, MethodName: sip.OPTIONS})

	pingCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	start := time.Now()
	tx, err := h.client.TransactionRequest(pingCtx, req)
	if err != nil {
		h.log.Debug("trunk health check failed to send", "trunk", t.ID, "error", err)
		t.SetHealth(false, 0)
		return
	}
	defer tx.Terminate()

	select {
	case res := <-tx.Responses():
		rtt := time.Since(start).Milliseconds()
		reachable := res != nil && res.StatusCode < 500
		t.SetHealth(reachable, rtt)
		if !reachable {
			h.log.Warn("trunk health check got failure response", "trunk", t.ID, "status", fmt.Sprint(res.StatusCode))
		}
	case <-pingCtx.Done():
		t.SetHealth(false, 0)
		h.log.Warn("trunk health check timed out", "trunk", t.ID)
	}
}
