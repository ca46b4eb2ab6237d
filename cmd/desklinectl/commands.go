package main

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/deskline/internal/cli"
	"github.com/matheus3301/deskline/internal/entity"
	"github.com/matheus3301/deskline/internal/local"
	"github.com/matheus3301/deskline/internal/model"
	"github.com/matheus3301/deskline/internal/msgsync"
	"github.com/matheus3301/deskline/internal/remote"
	"github.com/matheus3301/deskline/internal/typing"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

// signedIn returns the identity and a connected client.
func signedIn(env *cli.Env) (local.Identity, *remote.Client, error) {
	id := env.State.Identity()
	if _, _, err := cli.Actor(id); err != nil {
		return id, nil, err
	}
	c, err := env.Client()
	return id, c, err
}

func cmdSeed(ctx context.Context, env *cli.Env, args []string) error {
	fs := pflag.NewFlagSet("seed", pflag.ContinueOnError)
	org := fs.String("org", "", "organization id (default: random)")
	name := fs.String("name", "Demo Support", "organization name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *org == "" {
		*org = uuid.NewString()
	}
	c, err := env.Client()
	if err != nil {
		return err
	}

	if _, err := c.Insert(ctx, model.Organizations, *org, model.Row{"name": *name}); err != nil {
		return err
	}
	agent, err := c.Insert(ctx, model.Agents, *org, model.Row{"name": "Grace Hopper", "email": "grace@example.com", "role": "admin"})
	if err != nil {
		return err
	}
	customer, err := c.Insert(ctx, model.Customers, *org, model.Row{"name": "Ada Lovelace", "email": "ada@example.com"})
	if err != nil {
		return err
	}
	conv, err := c.Insert(ctx, model.Conversations, *org, model.Row{"customer_id": customer.String("id"), "agent_id": agent.String("id")})
	if err != nil {
		return err
	}

	out := map[string]string{
		"org_id":          *org,
		"agent_id":        agent.String("id"),
		"customer_id":     customer.String("id"),
		"conversation_id": conv.String("id"),
	}
	if jsonOut {
		outputJSON(out)
		return nil
	}
	for _, k := range []string{"org_id", "agent_id", "customer_id", "conversation_id"} {
		fmt.Printf("%-16s %s\n", k+":", out[k])
	}
	return nil
}

func cmdLogin(ctx context.Context, env *cli.Env, args []string) error {
	fs := pflag.NewFlagSet("login", pflag.ContinueOnError)
	org := fs.String("org", "", "organization id")
	as := fs.String("as", "agent", "agent or customer")
	id := fs.String("id", "", "agent or customer id")
	name := fs.String("name", "", "display name (default: looked up)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	ident := local.Identity{ActorID: *id, ActorKind: *as, OrgID: *org, Name: *name}
	if _, _, err := cli.Actor(ident); err != nil {
		return usageError("login")
	}

	c, err := env.Client()
	if err != nil {
		return err
	}
	collection := model.Agents
	if *as == string(typing.Customer) {
		collection = model.Customers
	}
	rows, err := c.Select(ctx, model.Query{Collection: collection, OrgID: *org, Filters: []model.Eq{{Column: "id", Value: *id}}})
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return fmt.Errorf("no %s %s in organization %s", *as, *id, *org)
	}
	if ident.Name == "" {
		ident.Name = rows[0].String("name")
	}

	if err := env.State.SetIdentity(ident); err != nil {
		return err
	}
	fmt.Printf("Signed in as %s (%s) in %s on profile %s\n", ident.Name, ident.ActorKind, ident.OrgID, env.Profile)
	return nil
}

func cmdLogout(_ context.Context, env *cli.Env, _ []string) error {
	if err := env.State.ClearIdentity(); err != nil {
		return err
	}
	fmt.Println("Signed out.")
	return nil
}

func cmdWhoami(_ context.Context, env *cli.Env, _ []string) error {
	id := env.State.Identity()
	if jsonOut {
		outputJSON(id)
		return nil
	}
	if id.Empty() {
		return cli.ErrSignedOut
	}
	fmt.Printf("%s (%s %s) in %s\n", id.Name, id.ActorKind, id.ActorID, id.OrgID)
	return nil
}

func cmdConversations(ctx context.Context, env *cli.Env, _ []string) error {
	id, c, err := signedIn(env)
	if err != nil {
		return err
	}
	loader := env.Loader(c)
	st := loader.Conversations(id.OrgID).Load(ctx)
	if st.Err != nil {
		return st.Err
	}
	convs := st.Data
	if id.ActorKind == string(typing.Customer) {
		convs = slices.DeleteFunc(convs, func(cv model.Conversation) bool { return cv.CustomerID != id.ActorID })
	}
	if jsonOut {
		outputJSON(convs)
		return nil
	}
	if len(convs) == 0 {
		fmt.Println("No conversations.")
		return nil
	}
	for _, cv := range convs {
		name := cv.CustomerID
		if cust, err := loader.Customer(ctx, id.OrgID, cv.CustomerID); err == nil {
			name = cust.Name
		}
		fmt.Printf("%-28s %-8s %-24s %s\n", cv.ID, cv.Status, name, formatMillis(cv.LastMessageAt))
	}
	return nil
}

func cmdMessages(ctx context.Context, env *cli.Env, args []string) error {
	if len(args) != 1 {
		return usageError("messages")
	}
	id, c, err := signedIn(env)
	if err != nil {
		return err
	}
	st := env.Loader(c).Messages(id.OrgID, args[0]).Load(ctx)
	if st.Err != nil {
		return st.Err
	}
	if jsonOut {
		outputJSON(st.Data)
		return nil
	}
	for _, m := range st.Data {
		printMessage(m)
	}
	return nil
}

func cmdSend(ctx context.Context, env *cli.Env, args []string) error {
	if len(args) != 2 {
		return usageError("send")
	}
	id, c, err := signedIn(env)
	if err != nil {
		return err
	}
	_, sender, _ := cli.Actor(id)

	msg, err := msgsync.Post(ctx, c, id.OrgID, args[0], args[1], sender)
	if err != nil {
		return err
	}
	clearDraft(env, args[0])
	if jsonOut {
		outputJSON(msg)
		return nil
	}
	fmt.Printf("Sent %s\n", msg.ID)
	return nil
}

// clearDraft drops the saved draft of a conversation that was just sent to.
// The message is already stored, so a failure is only logged.
func clearDraft(env *cli.Env, conversationID string) {
	if err := env.State.SetDraft(conversationID, ""); err != nil {
		env.Logger.Warn("clear draft", zap.String("conversation_id", conversationID), zap.Error(err))
	}
}

func cmdCustomer(ctx context.Context, env *cli.Env, args []string) error {
	if len(args) != 1 {
		return usageError("customer")
	}
	id, c, err := signedIn(env)
	if err != nil {
		return err
	}
	cust, err := env.Loader(c).Customer(ctx, id.OrgID, args[0])
	if err != nil {
		return err
	}
	if jsonOut {
		outputJSON(cust)
		return nil
	}
	fmt.Printf("Name:     %s\nEmail:    %s\nMetadata: %s\nSince:    %s\n", cust.Name, cust.Email, cust.Metadata, formatMillis(cust.CreatedAt))
	return nil
}

func cmdStatus(ctx context.Context, env *cli.Env, args []string) error {
	if len(args) != 2 {
		return usageError("status")
	}
	id, c, err := signedIn(env)
	if err != nil {
		return err
	}
	if id.ActorKind != string(typing.Agent) {
		return errors.New("only agents can change a conversation's status")
	}
	conv, err := entity.SetConversationStatus(ctx, c, id.OrgID, args[0], model.ConversationStatus(args[1]))
	if err != nil {
		return err
	}
	if jsonOut {
		outputJSON(conv)
		return nil
	}
	fmt.Printf("Conversation %s is now %s\n", conv.ID, conv.Status)
	return nil
}

func cmdWatch(ctx context.Context, env *cli.Env, args []string) error {
	if len(args) != 1 {
		return usageError("watch")
	}
	id, c, err := signedIn(env)
	if err != nil {
		return err
	}
	self, _, _ := cli.Actor(id)
	conv := args[0]

	tl := msgsync.New(c, c, env.Logger)
	defer tl.Deactivate()
	if err := tl.Activate(ctx, id.OrgID, conv); err != nil {
		return err
	}

	sess, err := typing.Join(ctx, c, conv, self, env.TypingOptions())
	if err != nil {
		return err
	}
	defer leave(sess)

	printed := map[string]bool{}
	flush := func() {
		for _, m := range tl.Snapshot().Messages {
			if !printed[m.ID] {
				printed[m.ID] = true
				printMessage(m)
			}
		}
	}
	flush()

	var label string
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tl.Changes():
			flush()
		case <-sess.Tracker.Changes():
			next := typingLabel(sess.Tracker.Peers())
			if next != label {
				label = next
				if label == "" {
					fmt.Println("  (nobody is typing)")
				} else {
					fmt.Printf("  (%s)\n", label)
				}
			}
		}
	}
}

func cmdTyping(ctx context.Context, env *cli.Env, args []string) error {
	if len(args) != 2 {
		return usageError("typing")
	}
	id, c, err := signedIn(env)
	if err != nil {
		return err
	}
	self, _, _ := cli.Actor(id)
	opts := env.TypingOptions()

	sess, err := typing.Join(ctx, c, args[0], self, opts)
	if err != nil {
		return err
	}
	defer leave(sess)

	sess.Indicator.InputChanged(args[1])
	fmt.Printf("Typing in %s; stops after %s idle.\n", args[0], opts.IdleTimeout)

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for sess.Indicator.State() == typing.Typing {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
	fmt.Println("Stopped typing.")
	return nil
}

// leave leaves the typing channel and waits briefly for the final signal so
// the process does not exit with peers still seeing us type.
func leave(sess *typing.Session) {
	sess.Leave()
	select {
	case <-sess.Done():
	case <-time.After(2 * time.Second):
	}
}

func typingLabel(peers []typing.Actor) string {
	switch len(peers) {
	case 0:
		return ""
	case 1:
		return fmt.Sprintf("%s %s is typing", peers[0].Kind, peers[0].ID)
	}
	return fmt.Sprintf("%d people are typing", len(peers))
}

func printMessage(m model.Message) {
	fmt.Printf("[%s] %-8s %s\n", formatMillis(m.CreatedAt), m.SenderKind, m.Body)
}

func formatMillis(ms int64) string {
	if ms == 0 {
		return "-"
	}
	return time.UnixMilli(ms).Format("2006-01-02 15:04:05")
}
