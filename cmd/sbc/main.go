package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dialtone/voicebridge/api/admin"
	"github.com/dialtone/voicebridge/internal/app"
	"github.com/dialtone/voicebridge/internal/banner"
	"github.com/dialtone/voicebridge/internal/config"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the voicebridge YAML config file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if cfg.SIP.AdvertiseAddr == "" {
		cfg.SIP.AdvertiseAddr = primaryInterfaceIP()
	}

	banner.Print("VOICEBRIDGE SBC", []banner.ConfigLine{
		{Label: "SIP Listen", Value: fmt.Sprintf("%s:%d", cfg.SIP.BindAddr, cfg.SIP.Port)},
		{Label: "Advertise", Value: cfg.SIP.AdvertiseAddr},
		{Label: "RTP Range", Value: fmt.Sprintf("%d-%d", cfg.Media.RTPPortMin, cfg.Media.RTPPortMax)},
		{Label: "Admin API", Value: cfg.Admin.BindAddr},
		{Label: "AI Bridge", Value: cfg.Bridge.URL},
	})

	server, err := app.NewServer(cfg, logger)
	if err != nil {
		slog.Error("failed to create sbc server", "error", err)
		os.Exit(1)
	}
	defer server.Close()

	adminSrv := admin.NewServer(cfg.Admin.BindAddr, server)
	if err := adminSrv.Start(); err != nil {
		slog.Error("failed to start admin api", "error", err)
		os.Exit(1)
	}
	defer adminSrv.Stop()

	run(server, cfg)
}

func run(server *app.Server, cfg config.Config) {
	slog.Info("starting voicebridge sbc",
		"sip_port", cfg.SIP.Port,
		"advertise_addr", cfg.SIP.AdvertiseAddr,
		"admin_addr", cfg.Admin.BindAddr,
		"bridge_url", cfg.Bridge.URL,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := server.Start(ctx); err != nil {
			slog.Error("sip server error", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	slog.Info("received signal, draining active calls", "signal", sig)

	result := server.CallManager().Drain(context.Background(), 10*time.Second)
	slog.Info("drain complete", "total_calls", result.TotalCalls, "ended", result.Ended, "timed_out", result.TimedOut)

	cancel()
}

func primaryInterfaceIP() string {
	interfaces, err := net.Interfaces()
	if err != nil {
		return "127.0.0.1"
	}
	for _, iface := range interfaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && ipnet.IP.To4() != nil {
				return ipnet.IP.String()
			}
		}
	}
	return "127.0.0.1"
}
