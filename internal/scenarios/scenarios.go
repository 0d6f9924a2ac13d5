// Package scenarios defines the chains and compositions this bot ships
// with and registers them as one startup pass, so a trigger collision or a
// malformed chain aborts boot instead of surfacing mid-conversation.
package scenarios

import (
	"context"
	"fmt"

	"github.com/ilvi89/stupid-tg-bot/internal/auth"
	"github.com/ilvi89/stupid-tg-bot/internal/users"
	"github.com/ilvi89/stupid-tg-bot/pkg/builder"
	"github.com/ilvi89/stupid-tg-bot/pkg/compose"
	"github.com/ilvi89/stupid-tg-bot/pkg/dialog"
	"github.com/ilvi89/stupid-tg-bot/pkg/registry"
)

// Composition triggers, wired into the app dispatcher.
const (
	TriggerOnboarding = "/start"
	TriggerAdmin      = "/admin"
)

// Deps are the services chains close over.
type Deps struct {
	Users       *users.Store
	Auth        *auth.Manager
	Broadcaster *users.Broadcaster
}

// Register builds every chain and registers it with metadata. It must run
// exactly once at startup.
func Register(reg *registry.Registry, deps Deps) error {
	entries := []registry.Scenario{
		{
			Chain:    registrationChain(deps),
			Triggers: []string{"/register"},
			Audience: registry.AudienceUser,
			Category: registry.CategoryOnboarding,
			Priority: 10,
		},
		{
			Chain:    managerAuthChain(deps),
			Triggers: []string{"/auth"},
			Audience: registry.AudienceUser,
			Category: registry.CategoryAuth,
		},
		{
			Chain:        broadcastChain(deps),
			Triggers:     []string{"/broadcast"},
			Audience:     registry.AudiencePrivileged,
			Category:     registry.CategoryBroadcast,
			Dependencies: []string{"manager_auth"},
		},
		{
			Chain:        profileChain(deps),
			Triggers:     []string{"/profile"},
			Audience:     registry.AudienceUser,
			Category:     registry.CategoryProfile,
			Dependencies: []string{"registration"},
		},
		{
			Chain:        notificationsChain(deps),
			Triggers:     []string{"/notifications"},
			Audience:     registry.AudienceUser,
			Category:     registry.CategoryProfile,
			Dependencies: []string{"registration"},
		},
		{
			Chain:    supportChain(),
			Triggers: []string{"/support", "/help"},
			Audience: registry.AudienceUser,
			Category: registry.CategorySupport,
		},
	}
	for _, entry := range entries {
		if err := reg.Register(entry); err != nil {
			return fmt.Errorf("registering %q: %w", entry.Chain.ID, err)
		}
	}
	return nil
}

// Compositions builds the multi-chain flows over the registered scenarios.
func Compositions(reg *registry.Registry) ([]*compose.Composition, error) {
	onboarding, err := compose.New("onboarding", "Onboarding").
		Describe("Register, then show the fresh profile.").
		Then("registration").
		Then("profile").
		Build(reg)
	if err != nil {
		return nil, err
	}

	admin, err := compose.New("admin", "Admin console").
		Describe("Authenticate, then broadcast. Failed auth loops back.").
		Then("manager_auth").
		Then("broadcast").
		Route("manager_auth", `authorized == "true"`, "broadcast").
		Route("manager_auth", `authorized == "false"`, "manager_auth").
		Build(reg)
	if err != nil {
		return nil, err
	}

	return []*compose.Composition{onboarding, admin}, nil
}

func registrationChain(deps Deps) *dialog.Chain {
	return builder.New("registration", "Registration").
		Describe("Collects name, age and role, then stores the user.").
		StartWith("welcome").
		Message("welcome", "Welcome! Let's get you registered.", "name_step").
		Question("name_step", "What is your name?", "age_step",
			dialog.NotEmpty(), dialog.MinLength(2), dialog.MaxLength(64)).
		Question("age_step", "Nice to meet you, {name}. How old are you?", "choose_role",
			dialog.IsNumber(), dialog.AgeRange(14, 120)).
		Choice("choose_role", "Are you here as a student or a teacher?",
			[]string{"student", "teacher"}, "save").
		Action("save", deps.Users.SaveRegistrationAction(), "done").
		Final("done", "All set, {name}! You are registered as a {role}.").
		MustBuild()
}

func managerAuthChain(deps Deps) *dialog.Chain {
	return builder.New("manager_auth", "Manager authentication").
		Describe("Unlocks privileged scenarios for a limited time.").
		StartWith("password_step").
		Question("password_step", "Manager password:", "check", dialog.NotEmpty()).
		Sensitive("password_step").
		Action("check", deps.Auth.CheckPasswordAction("password"), "denied").
		Branch("check", `authorized == "true"`, "granted").
		Final("granted", "Access granted.").
		Final("denied", "Wrong password.").
		MustBuild()
}

func broadcastChain(deps Deps) *dialog.Chain {
	return builder.New("broadcast", "Broadcast").
		Describe("Sends a message to every registered user.").
		StartWith("message_step").
		Question("message_step", "What should everyone hear?", "choose_confirm",
			dialog.NotEmpty(), dialog.MaxLength(4000)).
		Choice("choose_confirm", "Send this to all users?\n\n{message}",
			[]string{"send", "discard"}, "discarded").
		Branch("choose_confirm", `confirm == "send"`, "deliver").
		Action("deliver", deps.Broadcaster.BroadcastAction("message"), "sent").
		Final("sent", "Delivered to {broadcast_sent} users ({broadcast_failed} failed).").
		Final("discarded", "Broadcast discarded.").
		Permissions(auth.PermissionManager).
		MustBuild()
}

func profileChain(deps Deps) *dialog.Chain {
	return builder.New("profile", "Profile").
		Describe("Shows the stored registration.").
		StartWith("load").
		Action("load", deps.Users.LoadProfileAction(), "missing").
		Branch("load", `registered == "true"`, "show").
		Final("show", "Your profile:\nName: {name}\nAge: {age}\nRole: {role}").
		Final("missing", "You are not registered yet. Send /register to start.").
		MustBuild()
}

func notificationsChain(deps Deps) *dialog.Chain {
	return builder.New("notifications", "Notifications").
		Describe("Turns broadcast delivery on or off for this user.").
		StartWith("choose_alerts").
		Choice("choose_alerts", "Do you want to receive announcements?",
			[]string{"subscribe", "unsubscribe"}, "set").
		Action("set", deps.Users.SetSubscriptionAction("alerts"), "off").
		Branch("set", `registered == "false"`, "missing").
		Branch("set", `subscribed == "true"`, "on").
		Final("on", "You will receive announcements.").
		Final("off", "You will not receive announcements anymore.").
		Final("missing", "You are not registered yet. Send /register to start.").
		MustBuild()
}

func supportChain() *dialog.Chain {
	return builder.New("support", "Support").
		Describe("Collects a support request.").
		StartWith("choose_topic").
		Choice("choose_topic", "What do you need help with?",
			[]string{"account", "technical", "other"}, "detail_step").
		Question("detail_step", "Tell us more about your {topic} issue:", "ack",
			dialog.NotEmpty(), dialog.MinLength(5)).
		Action("ack", acknowledgeSupport, "done").
		Final("done", "Thanks! Your {topic} request was recorded.").
		MustBuild()
}

func acknowledgeSupport(ctx context.Context, identity dialog.Identity, data map[string]any) (map[string]any, error) {
	return map[string]any{"ticket": fmt.Sprintf("SUP-%d-%d", identity.UserID, identity.ChatID)}, nil
}
