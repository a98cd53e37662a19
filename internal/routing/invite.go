// Package routing implements the INVITE routing decision described by the
// SIP Dialog/Registrar component's handoff to the Call Manager: a locally
// registered callee routes directly, an authenticated local caller goes out
// a trunk, and everything else bridges to the AI backend.
package routing

import (
	"fmt"

	"github.com/emiago/sipgo/sip"

	"github.com/dialtone/voicebridge/internal/registrar"
	"github.com/dialtone/voicebridge/internal/trunk"
	"github.com/dialtone/voicebridge/internal/users"
)

// Kind identifies which of the three routes a Decision represents.
type Kind string

const (
	// KindLocal routes directly to a registered AOR's bound contact.
	KindLocal Kind = "local"
	// KindOutbound routes through a selected outbound Trunk.
	KindOutbound Kind = "outbound"
	// KindBridge bridges the call to the AI backend; the default route
	// for calls arriving from outside with no better match.
	KindBridge Kind = "bridge"
)

// Decision is the outcome of routing an INVITE.
type Decision struct {
	Kind    Kind
	Target  *registrar.Binding // set when Kind == KindLocal
	Trunk   *trunk.Trunk       // set when Kind == KindOutbound
	Caller  *users.User        // the authenticated local user, if any
}

// ErrNoRoute is returned when an outbound call cannot be routed because no
// trunk supports outbound traffic or none are currently reachable.
var ErrNoRoute = fmt.Errorf("routing: no trunk available for outbound call")

// Decide applies the three-step routing decision from an incoming INVITE:
//  1. a locally registered to_user with an authenticated local caller routes
//     directly to the registered contact;
//  2. an authenticated local caller calling an unregistered/external number
//     routes outbound through a trunk;
//  3. anything else (the common case: an external PSTN/VoIP caller) bridges
//     to the AI backend.
func Decide(req *sip.Request, reg *registrar.Handler, trunks *trunk.Registry, caller *users.User) (Decision, error) {
	toHeader := req.To()
	toAOR := ""
	if toHeader != nil {
		toAOR = toHeader.Address.String()
	}

	if caller != nil {
		if binding := reg.GetAllBindings(toAOR); len(binding) > 0 {
			return Decision{Kind: KindLocal, Target: binding[0], Caller: caller}, nil
		}

		t := trunks.SelectOutbound()
		if t == nil {
			return Decision{}, ErrNoRoute
		}
		return Decision{Kind: KindOutbound, Trunk: t, Caller: caller}, nil
	}

	return Decision{Kind: KindBridge}, nil
}
