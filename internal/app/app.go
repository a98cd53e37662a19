// Package app wires voicebridge's SIP transport, registrar, trunk registry,
// and Call Manager into a single running server.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"

	"github.com/dialtone/voicebridge/internal/bridge"
	"github.com/dialtone/voicebridge/internal/callmanager"
	"github.com/dialtone/voicebridge/internal/config"
	"github.com/dialtone/voicebridge/internal/dialog"
	"github.com/dialtone/voicebridge/internal/events"
	"github.com/dialtone/voicebridge/internal/media"
	"github.com/dialtone/voicebridge/internal/registrar"
	"github.com/dialtone/voicebridge/internal/trunk"
	"github.com/dialtone/voicebridge/internal/users"
)

// Server is voicebridge's single-process runtime: one SIP UA/server/client,
// a registrar, a trunk registry with background health checking, and the
// Call Manager. The admin REST API (api/admin) is built on top of it
// separately.
type Server struct {
	cfg config.Config

	ua  *sipgo.UserAgent
	srv *sipgo.Server
	uac *sipgo.Client

	dialogMgr *dialog.Manager
	reg       *registrar.Handler
	userRepo  *users.Repository
	trunks    *trunk.Registry
	ports     *media.PortPool
	health    *trunk.HealthChecker
	calls     *callmanager.Manager
	publisher events.Publisher

	log *slog.Logger
}

// NewServer builds a Server from cfg. It does not start listening; call
// Start for that.
func NewServer(cfg config.Config, log *slog.Logger) (*Server, error) {
	if log == nil {
		log = slog.Default()
	}

	ua, err := sipgo.NewUA()
	if err != nil {
		return nil, fmt.Errorf("app: create user agent: %w", err)
	}
	srv, err := sipgo.NewServer(ua)
	if err != nil {
		ua.Close()
		return nil, fmt.Errorf("app: create server: %w", err)
	}
	uac, err := sipgo.NewClient(ua)
	if err != nil {
		ua.Close()
		return nil, fmt.Errorf("app: create client: %w", err)
	}

	contact := sip.ContactHeader{
		Address: sip.Uri{
			Scheme: "sip",
			User:   "voicebridge",
			Host:   cfg.SIP.AdvertiseAddr,
			Port:   cfg.SIP.Port,
		},
	}
	dialogUA := &sipgo.DialogUA{Client: uac, ContactHDR: contact}
	dialogMgr := dialog.NewManager(uac, dialogUA)

	userRepo := users.NewRepository()
	for _, uc := range cfg.Users {
		ha1 := uc.HA1
		if ha1 == "" {
			ha1 = users.ComputeHA1(uc.Username, cfg.SIP.Realm, uc.Password)
		}
		userRepo.Put(&users.User{
			Username:           uc.Username,
			Realm:              cfg.SIP.Realm,
			HA1:                ha1,
			AOR:                uc.AOR,
			Active:             true,
			MaxConcurrentCalls: uc.MaxConcurrentCalls,
		})
	}
	authenticator := users.NewAuthenticator(userRepo, cfg.SIP.Realm, log)

	locStore := registrar.NewStore(registrar.DefaultStoreConfig())
	regHandler := registrar.NewHandler(locStore, authenticator, cfg.SIP.Realm)

	trunks := trunk.NewRegistry()
	for _, tc := range cfg.Trunks {
		t := trunk.New(tc.ID, tc.ProxyAddress, tc.ProxyPort, tc.Transport, tc.CallsPerSecond, tc.MaxConcurrentCalls)
		t.SupportsInbound = tc.SupportsInbound
		t.SupportsOutbound = tc.SupportsOutbound
		t.PreferredCodecs = tc.PreferredCodecs
		if tc.Username != "" {
			t.Creds = &trunk.Credentials{Username: tc.Username, Password: tc.Password, Realm: tc.Realm}
		}
		trunks.Add(t)
	}
	health := trunk.NewHealthChecker(uac, trunks, cfg.SIP.AdvertiseAddr, cfg.SIP.Port, 30*time.Second, log)

	ports := media.NewPortPool(cfg.Media.RTPPortMin, cfg.Media.RTPPortMax)

	publisher := events.NewMultiPublisher(events.NewLoggingPublisher(log))

	bridgeCfg := bridge.Config{
		URL:              cfg.Bridge.URL,
		Secret:           []byte(cfg.Bridge.Secret),
		Token:            cfg.Bridge.Token,
		HandshakeTimeout: cfg.Bridge.HandshakeTimeout,
		SendQueueSize:    cfg.Bridge.SendQueueSize,
	}
	callMgrCfg := callmanager.Config{
		AdvertiseAddr:       cfg.SIP.AdvertiseAddr,
		JitterDepthFrames:   cfg.Media.JitterDepthFrames,
		GlobalMaxConcurrent: cfg.SIP.GlobalMaxConcurrent,
		Bridge:              bridgeCfg,
	}
	callMgr := callmanager.NewManager(callMgrCfg, dialogMgr, regHandler, userRepo, authenticator, trunks, ports, publisher, log)

	s := &Server{
		cfg:       cfg,
		ua:        ua,
		srv:       srv,
		uac:       uac,
		dialogMgr: dialogMgr,
		reg:       regHandler,
		userRepo:  userRepo,
		trunks:    trunks,
		ports:     ports,
		health:    health,
		calls:     callMgr,
		publisher: publisher,
		log:       log.With("subsystem", "app"),
	}

	srv.OnRequest(sip.REGISTER, s.handleRegister)
	srv.OnRequest(sip.INVITE, s.calls.HandleInvite)
	srv.OnRequest(sip.BYE, s.handleBYE)
	srv.OnRequest(sip.ACK, s.handleACK)
	srv.OnRequest(sip.CANCEL, s.handleCANCEL)

	s.log.Info("sip handlers registered", "methods", "REGISTER, INVITE, BYE, ACK, CANCEL")
	return s, nil
}

// CallManager exposes the Call Manager for the admin API.
func (s *Server) CallManager() *callmanager.Manager { return s.calls }

// Registrar exposes the registrar handler for the admin API.
func (s *Server) Registrar() *registrar.Handler { return s.reg }

// Users exposes the user repository for the admin API.
func (s *Server) Users() *users.Repository { return s.userRepo }

// Trunks exposes the trunk registry for the admin API.
func (s *Server) Trunks() *trunk.Registry { return s.trunks }

// Start runs the SIP listener and trunk health checker until ctx is
// cancelled.
func (s *Server) Start(ctx context.Context) error {
	listenAddr := fmt.Sprintf("%s:%d", s.cfg.SIP.BindAddr, s.cfg.SIP.Port)
	s.log.Info("starting sip server", "listen_addr", listenAddr)

	go s.health.Run(ctx)

	if err := s.srv.ListenAndServe(ctx, "udp", listenAddr); err != nil {
		return fmt.Errorf("app: sip listener: %w", err)
	}
	return nil
}

func (s *Server) handleRegister(req *sip.Request, tx sip.ServerTransaction) {
	if err := s.reg.HandleRegister(req, tx); err != nil {
		s.log.Error("register handling failed", "error", err)
	}
}

func (s *Server) handleBYE(req *sip.Request, tx sip.ServerTransaction) {
	if err := s.dialogMgr.HandleIncomingBYE(req, tx); err != nil {
		s.log.Debug("bye handling note", "error", err)
	}
}

func (s *Server) handleACK(req *sip.Request, tx sip.ServerTransaction) {
	if err := s.dialogMgr.ConfirmWithACK(req, tx); err != nil {
		s.log.Debug("ack handling note", "error", err)
	}
}

func (s *Server) handleCANCEL(req *sip.Request, tx sip.ServerTransaction) {
	if err := s.dialogMgr.HandleIncomingCANCEL(req, tx); err != nil {
		s.log.Debug("cancel handling note", "error", err)
	}
}

// Close tears down all active dialogs and releases the UA.
func (s *Server) Close() error {
	for _, dlg := range s.dialogMgr.List() {
		if !dlg.IsTerminated() {
			s.dialogMgr.Terminate(dlg.CallID, dialog.ReasonLocalBYE)
		}
	}
	flushCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	s.publisher.Flush(flushCtx)
	s.publisher.Close()
	if s.ua != nil {
		return s.ua.Close()
	}
	return nil
}
