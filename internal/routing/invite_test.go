package routing

import (
	"testing"

	"github.com/emiago/sipgo/sip"

	"github.com/dialtone/voicebridge/internal/registrar"
	"github.com/dialtone/voicebridge/internal/trunk"
	"github.com/dialtone/voicebridge/internal/users"
)

func newTestInvite(t *testing.T, fromUser, toUser string) *sip.Request {
	t.Helper()

	fromURI := sip.Uri{Scheme: "sip", User: fromUser, Host: "caller.example.com"}
	toURI := sip.Uri{Scheme: "sip", User: toUser, Host: "voicebridge.example.com"}

	req := sip.NewRequest(sip.INVITE, toURI)
	req.AppendHeader(&sip.FromHeader{Address: fromURI, Params: sip.NewParams()})
	req.AppendHeader(&sip.ToHeader{Address: toURI, Params: sip.NewParams()})
	return req
}

func TestDecideBridgesUnauthenticatedCaller(t *testing.T) {
	reg := registrar.NewHandler(registrar.NewStore(registrar.DefaultStoreConfig()), nil, "voicebridge")
	trunks := trunk.NewRegistry()

	req := newTestInvite(t, "18005551234", "1000")
	decision, err := Decide(req, reg, trunks, nil)
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	if decision.Kind != KindBridge {
		t.Errorf("Kind = %s, want %s", decision.Kind, KindBridge)
	}
}

func TestDecideRoutesLocallyWhenCalleeRegistered(t *testing.T) {
	store := registrar.NewStore(registrar.DefaultStoreConfig())
	reg := registrar.NewHandler(store, nil, "voicebridge")
	trunks := trunk.NewRegistry()

	toURI := sip.Uri{Scheme: "sip", User: "1000", Host: "voicebridge.example.com"}
	if _, err := store.Register(&registrar.Binding{
		AOR:        toURI.String(),
		ContactURI: "sip:1000@192.168.1.50:5060",
		Expires:    3600,
	}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	caller := &users.User{Username: "alice", Active: true}
	req := newTestInvite(t, "alice", "1000")

	decision, err := Decide(req, reg, trunks, caller)
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	if decision.Kind != KindLocal {
		t.Fatalf("Kind = %s, want %s", decision.Kind, KindLocal)
	}
	if decision.Target == nil || decision.Target.ContactURI != "sip:1000@192.168.1.50:5060" {
		t.Errorf("Target = %+v, want contact sip:1000@192.168.1.50:5060", decision.Target)
	}
}

func TestDecideRoutesOutboundForAuthenticatedCallerToUnregisteredCallee(t *testing.T) {
	reg := registrar.NewHandler(registrar.NewStore(registrar.DefaultStoreConfig()), nil, "voicebridge")
	trunks := trunk.NewRegistry()
	trunks.Add(trunk.New("pstn1", "sip.carrier.example.com", 5060, "UDP", 5, 10))
	if t0, ok := trunks.Get("pstn1"); ok {
		t0.SupportsOutbound = true
		t0.SetHealth(true, 10)
	}

	caller := &users.User{Username: "alice", Active: true}
	req := newTestInvite(t, "alice", "18005559876")

	decision, err := Decide(req, reg, trunks, caller)
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	if decision.Kind != KindOutbound {
		t.Fatalf("Kind = %s, want %s", decision.Kind, KindOutbound)
	}
	if decision.Trunk == nil || decision.Trunk.ID != "pstn1" {
		t.Errorf("Trunk = %+v, want pstn1", decision.Trunk)
	}
}

func TestDecideReturnsNoRouteWhenNoOutboundTrunkAvailable(t *testing.T) {
	reg := registrar.NewHandler(registrar.NewStore(registrar.DefaultStoreConfig()), nil, "voicebridge")
	trunks := trunk.NewRegistry()

	caller := &users.User{Username: "alice", Active: true}
	req := newTestInvite(t, "alice", "18005559876")

	_, err := Decide(req, reg, trunks, caller)
	if err != ErrNoRoute {
		t.Fatalf("Decide() error = %v, want %v", err, ErrNoRoute)
	}
}
