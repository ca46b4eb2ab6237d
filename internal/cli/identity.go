package cli

import (
	"errors"
	"fmt"

	"github.com/matheus3301/deskline/internal/local"
	"github.com/matheus3301/deskline/internal/model"
	"github.com/matheus3301/deskline/internal/msgsync"
	"github.com/matheus3301/deskline/internal/typing"
)

// ErrSignedOut is returned when the profile has no identity.
var ErrSignedOut = errors.New("not signed in; run desklinectl login")

// Actor maps a remembered identity onto the typing actor and message sender
// it acts as.
func Actor(id local.Identity) (typing.Actor, msgsync.Sender, error) {
	if id.Empty() || id.OrgID == "" {
		return typing.Actor{}, msgsync.Sender{}, ErrSignedOut
	}
	switch typing.ActorKind(id.ActorKind) {
	case typing.Agent:
		return typing.Actor{ID: id.ActorID, Kind: typing.Agent},
			msgsync.Sender{Kind: model.SenderAgent, AgentID: id.ActorID}, nil
	case typing.Customer:
		return typing.Actor{ID: id.ActorID, Kind: typing.Customer},
			msgsync.Sender{Kind: model.SenderCustomer, CustomerID: id.ActorID}, nil
	}
	return typing.Actor{}, msgsync.Sender{}, fmt.Errorf("unknown actor kind %q", id.ActorKind)
}
