package cli

import (
	"errors"
	"testing"

	"github.com/matheus3301/deskline/internal/local"
	"github.com/matheus3301/deskline/internal/model"
	"github.com/matheus3301/deskline/internal/typing"
)

func TestActor(t *testing.T) {
	actor, sender, err := Actor(local.Identity{ActorID: "a1", ActorKind: "agent", OrgID: "o1"})
	if err != nil {
		t.Fatal(err)
	}
	if actor.Kind != typing.Agent || sender.Kind != model.SenderAgent || sender.AgentID != "a1" || sender.CustomerID != "" {
		t.Errorf("agent = %+v / %+v", actor, sender)
	}

	_, sender, err = Actor(local.Identity{ActorID: "c1", ActorKind: "customer", OrgID: "o1"})
	if err != nil {
		t.Fatal(err)
	}
	if sender.Kind != model.SenderCustomer || sender.CustomerID != "c1" {
		t.Errorf("customer sender = %+v", sender)
	}

	if _, _, err := Actor(local.Identity{}); !errors.Is(err, ErrSignedOut) {
		t.Errorf("empty identity error = %v", err)
	}
	if _, _, err := Actor(local.Identity{ActorID: "x", ActorKind: "bot", OrgID: "o1"}); err == nil {
		t.Error("unknown kind should fail")
	}
}
