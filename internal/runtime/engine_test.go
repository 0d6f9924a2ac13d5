package runtime

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ilvi89/stupid-tg-bot/internal/adapters/memory"
	"github.com/ilvi89/stupid-tg-bot/pkg/builder"
	"github.com/ilvi89/stupid-tg-bot/pkg/dialog"
	"github.com/ilvi89/stupid-tg-bot/pkg/session"
)

type chainMap map[string]*dialog.Chain

func (m chainMap) ChainByID(id string) (*dialog.Chain, bool) {
	c, ok := m[id]
	return c, ok
}

func newTestEngine(t *testing.T, chains chainMap, opts ...Option) (*Engine, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	mgr := session.NewManager(store)
	return New(chains, mgr, opts...), store
}

func registrationChain(t *testing.T) *dialog.Chain {
	t.Helper()
	return builder.New("registration", "Registration").
		StartWith("welcome").
		Message("welcome", "Welcome!", "name_step").
		Question("name_step", "What is your name?", "age_step", dialog.NotEmpty()).
		Question("age_step", "How old are you, {name}?", "choose_role", dialog.IsNumber(), dialog.AgeRange(14, 120)).
		Choice("choose_role", "Pick a role:", []string{"student", "teacher"}, "done").
		Branch("choose_role", `role == "teacher"`, "teacher_note").
		Message("teacher_note", "Teachers get extra duties.", "done").
		Final("done", "Thanks, {name}!").
		MustBuild()
}

var testIdentity = dialog.Identity{UserID: 42, ChatID: 100}

func TestEngine_EndToEnd(t *testing.T) {
	e, store := newTestEngine(t, chainMap{"registration": registrationChain(t)})
	ctx := context.Background()

	turn, err := e.Start(ctx, testIdentity, "registration", nil)
	require.NoError(t, err)
	require.NotNil(t, turn.Prompt)
	assert.Equal(t, []string{"Welcome!", "What is your name?"}, turn.Prompt.Messages)
	assert.Equal(t, dialog.InputText, turn.Prompt.Input)
	assert.Equal(t, "name_step", turn.Prompt.StepID)

	turn, err = e.Advance(ctx, testIdentity, "Alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"How old are you, Alice?"}, turn.Prompt.Messages)

	turn, err = e.Advance(ctx, testIdentity, "30")
	require.NoError(t, err)
	assert.Equal(t, dialog.InputChoice, turn.Prompt.Input)
	assert.Equal(t, []string{"student", "teacher"}, turn.Prompt.Choices)

	turn, err = e.Advance(ctx, testIdentity, "teacher")
	require.NoError(t, err)
	require.True(t, turn.Completed())
	assert.Equal(t, "registration", turn.Completion.ChainID)
	assert.Equal(t, "Alice", turn.Completion.Data["name"])
	assert.Equal(t, "30", turn.Completion.Data["age"])
	assert.Equal(t, "teacher", turn.Completion.Data["role"])
	assert.Equal(t, []string{"Teachers get extra duties.", "Thanks, Alice!"}, turn.Prompt.Messages)

	_, err = store.Load(ctx, testIdentity)
	assert.ErrorIs(t, err, dialog.ErrSessionNotFound, "completion must delete the durable session")
}

func TestEngine_Start_UnknownChain(t *testing.T) {
	e, _ := newTestEngine(t, chainMap{})

	_, err := e.Start(context.Background(), testIdentity, "nope", nil)
	assert.ErrorIs(t, err, dialog.ErrUnknownChain)
}

func TestEngine_Start_ConflictWithActiveSession(t *testing.T) {
	e, _ := newTestEngine(t, chainMap{"registration": registrationChain(t)})
	ctx := context.Background()

	_, err := e.Start(ctx, testIdentity, "registration", nil)
	require.NoError(t, err)

	_, err = e.Start(ctx, testIdentity, "registration", nil)
	var conflict *dialog.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "registration", conflict.ActiveChainID)
	assert.Equal(t, "name_step", conflict.ActiveStepID)
	assert.Equal(t, "registration", conflict.RequestedChain)
}

type brokenLoadStore struct {
	*memory.Store
	loadErr error
}

func (s *brokenLoadStore) Load(ctx context.Context, identity dialog.Identity) (*dialog.Session, error) {
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return s.Store.Load(ctx, identity)
}

func TestEngine_Start_StoreLoadFailurePropagates(t *testing.T) {
	store := &brokenLoadStore{Store: memory.NewStore()}
	e := New(chainMap{"registration": registrationChain(t)}, session.NewManager(store))
	ctx := context.Background()

	_, err := e.Start(ctx, testIdentity, "registration", nil)
	require.NoError(t, err)
	_, err = e.Advance(ctx, testIdentity, "Alice")
	require.NoError(t, err)

	e.Sessions().Evict(testIdentity)
	store.loadErr = errors.New("read failed")

	_, err = e.Start(ctx, testIdentity, "registration", nil)
	require.Error(t, err)
	assert.NotErrorIs(t, err, dialog.ErrNoActiveSession)

	store.loadErr = nil
	sess, err := store.Load(ctx, testIdentity)
	require.NoError(t, err)
	assert.Equal(t, "Alice", sess.Data["name"], "the waiting session must survive a store read failure during Start")
}

func TestEngine_Start_AfterCompletionSucceeds(t *testing.T) {
	e, _ := newTestEngine(t, chainMap{"registration": registrationChain(t)})
	ctx := context.Background()

	_, err := e.Start(ctx, testIdentity, "registration", nil)
	require.NoError(t, err)
	_, err = e.Advance(ctx, testIdentity, "Alice")
	require.NoError(t, err)
	_, err = e.Advance(ctx, testIdentity, "30")
	require.NoError(t, err)
	turn, err := e.Advance(ctx, testIdentity, "student")
	require.NoError(t, err)
	require.True(t, turn.Completed())

	_, err = e.Start(ctx, testIdentity, "registration", nil)
	assert.NoError(t, err, "a completed dialog must never block the next start")
}

func TestEngine_ValidationRetriesThenError(t *testing.T) {
	e, store := newTestEngine(t, chainMap{"registration": registrationChain(t)})
	ctx := context.Background()

	_, err := e.Start(ctx, testIdentity, "registration", nil)
	require.NoError(t, err)
	_, err = e.Advance(ctx, testIdentity, "Alice")
	require.NoError(t, err)

	for i := 0; i < dialog.DefaultMaxRetries-1; i++ {
		turn, err := e.Advance(ctx, testIdentity, "not a number")
		require.NoError(t, err)
		require.NotNil(t, turn.Prompt)
		assert.False(t, turn.Prompt.Recovery, "attempt %d should still be a retry", i+1)
	}

	turn, err := e.Advance(ctx, testIdentity, "still not a number")
	require.NoError(t, err)
	require.NotNil(t, turn.Prompt)
	assert.True(t, turn.Prompt.Recovery, "exhausted retries must escalate to the recovery menu")
	assert.Equal(t, dialog.RecoveryChoices(), turn.Prompt.Choices)

	sess, err := store.Load(ctx, testIdentity)
	require.NoError(t, err)
	assert.Equal(t, dialog.StateError, sess.State)
	assert.NotEmpty(t, sess.ErrorLog)
}

func TestEngine_ValidInputResetsRetryCount(t *testing.T) {
	e, store := newTestEngine(t, chainMap{"registration": registrationChain(t)})
	ctx := context.Background()

	_, err := e.Start(ctx, testIdentity, "registration", nil)
	require.NoError(t, err)
	_, err = e.Advance(ctx, testIdentity, "Alice")
	require.NoError(t, err)
	_, err = e.Advance(ctx, testIdentity, "oops")
	require.NoError(t, err)
	_, err = e.Advance(ctx, testIdentity, "30")
	require.NoError(t, err)

	sess, err := store.Load(ctx, testIdentity)
	require.NoError(t, err)
	assert.Zero(t, sess.RetryCount)
}

func TestEngine_ChoiceMembershipRejected(t *testing.T) {
	e, _ := newTestEngine(t, chainMap{"registration": registrationChain(t)})
	ctx := context.Background()

	_, err := e.Start(ctx, testIdentity, "registration", nil)
	require.NoError(t, err)
	_, err = e.Advance(ctx, testIdentity, "Alice")
	require.NoError(t, err)
	_, err = e.Advance(ctx, testIdentity, "30")
	require.NoError(t, err)

	turn, err := e.Advance(ctx, testIdentity, "wizard")
	require.NoError(t, err)
	require.NotNil(t, turn.Prompt)
	assert.Contains(t, turn.Prompt.Messages[0], "Please choose one of")
	assert.Equal(t, "choose_role", turn.Prompt.StepID)
}

func TestEngine_BranchFirstMatchWins(t *testing.T) {
	chain := builder.New("routing", "Routing").
		StartWith("pick").
		Choice("pick", "Pick:", []string{"a", "b"}, "fallback").
		Branch("pick", `pick == "a"`, "first").
		Branch("pick", `pick != "zzz"`, "second").
		Final("first", "first won").
		Final("second", "second won").
		Final("fallback", "fallback").
		MustBuild()

	e, _ := newTestEngine(t, chainMap{"routing": chain})
	ctx := context.Background()

	_, err := e.Start(ctx, testIdentity, "routing", nil)
	require.NoError(t, err)

	// Both branch conditions hold for "a"; declaration order decides.
	turn, err := e.Advance(ctx, testIdentity, "a")
	require.NoError(t, err)
	require.True(t, turn.Completed())
	assert.Equal(t, []string{"first won"}, turn.Prompt.Messages)
}

func TestEngine_BranchFallsThroughToDefault(t *testing.T) {
	chain := builder.New("routing", "Routing").
		StartWith("pick").
		Choice("pick", "Pick:", []string{"a", "b"}, "fallback").
		Branch("pick", `pick == "a"`, "first").
		Final("first", "first").
		Final("fallback", "fallback").
		MustBuild()

	e, _ := newTestEngine(t, chainMap{"routing": chain})
	ctx := context.Background()

	_, err := e.Start(ctx, testIdentity, "routing", nil)
	require.NoError(t, err)

	turn, err := e.Advance(ctx, testIdentity, "b")
	require.NoError(t, err)
	require.True(t, turn.Completed())
	assert.Equal(t, []string{"fallback"}, turn.Prompt.Messages)
}

func TestEngine_ActionMergesDataAndChains(t *testing.T) {
	chain := builder.New("greet", "Greet").
		StartWith("ask").
		Question("ask", "Name?", "compute", dialog.NotEmpty()).
		Action("compute", func(ctx context.Context, identity dialog.Identity, data map[string]any) (map[string]any, error) {
			return map[string]any{"greeting": "Hello, " + data["ask"].(string)}, nil
		}, "done").
		Final("done", "{greeting}").
		MustBuild()

	e, _ := newTestEngine(t, chainMap{"greet": chain})
	ctx := context.Background()

	_, err := e.Start(ctx, testIdentity, "greet", nil)
	require.NoError(t, err)

	turn, err := e.Advance(ctx, testIdentity, "Bob")
	require.NoError(t, err)
	require.True(t, turn.Completed())
	assert.Equal(t, []string{"Hello, Bob"}, turn.Prompt.Messages)
	assert.Equal(t, "Hello, Bob", turn.Completion.Data["greeting"])
}

func TestEngine_ActionErrorEntersRecoverableState(t *testing.T) {
	attempts := 0
	chain := builder.New("flaky", "Flaky").
		StartWith("work").
		Action("work", func(ctx context.Context, identity dialog.Identity, data map[string]any) (map[string]any, error) {
			attempts++
			if attempts == 1 {
				return nil, errors.New("backend unavailable")
			}
			return nil, nil
		}, "done").
		Final("done", "done").
		MustBuild()

	e, store := newTestEngine(t, chainMap{"flaky": chain})
	ctx := context.Background()

	turn, err := e.Start(ctx, testIdentity, "flaky", nil)
	require.NoError(t, err)
	require.NotNil(t, turn.Prompt)
	assert.True(t, turn.Prompt.Recovery)
	assert.Equal(t, []string{"continue", "restart", "cancel"}, turn.Prompt.Choices)

	sess, err := store.Load(ctx, testIdentity)
	require.NoError(t, err)
	assert.Equal(t, dialog.StateError, sess.State)
	require.Len(t, sess.ErrorLog, 1)
	assert.Contains(t, sess.ErrorLog[0].Message, "backend unavailable")

	// continue retries the failing step
	turn, err = e.Advance(ctx, testIdentity, "continue")
	require.NoError(t, err)
	assert.True(t, turn.Completed())
}

func TestEngine_ActionPanicIsContained(t *testing.T) {
	chain := builder.New("boom", "Boom").
		StartWith("work").
		Action("work", func(ctx context.Context, identity dialog.Identity, data map[string]any) (map[string]any, error) {
			panic("unexpected")
		}, "done").
		Final("done", "done").
		MustBuild()

	e, store := newTestEngine(t, chainMap{"boom": chain})

	turn, err := e.Start(context.Background(), testIdentity, "boom", nil)
	require.NoError(t, err)
	assert.True(t, turn.Prompt.Recovery)

	sess, err := store.Load(context.Background(), testIdentity)
	require.NoError(t, err)
	assert.Contains(t, sess.ErrorLog[0].Message, "panicked")
}

func TestEngine_RecoveryRestart(t *testing.T) {
	e, _ := newTestEngine(t, chainMap{"registration": registrationChain(t)})
	ctx := context.Background()

	_, err := e.Start(ctx, testIdentity, "registration", nil)
	require.NoError(t, err)
	_, err = e.Advance(ctx, testIdentity, "Alice")
	require.NoError(t, err)
	for i := 0; i < dialog.DefaultMaxRetries; i++ {
		_, err = e.Advance(ctx, testIdentity, "bad")
		require.NoError(t, err)
	}

	turn, err := e.Advance(ctx, testIdentity, "restart")
	require.NoError(t, err)
	require.NotNil(t, turn.Prompt)
	assert.Equal(t, []string{"Welcome!", "What is your name?"}, turn.Prompt.Messages)
	assert.Equal(t, "name_step", turn.Prompt.StepID)
}

func TestEngine_RecoveryCancel(t *testing.T) {
	e, store := newTestEngine(t, chainMap{"registration": registrationChain(t)})
	ctx := context.Background()

	_, err := e.Start(ctx, testIdentity, "registration", nil)
	require.NoError(t, err)
	for i := 0; i < dialog.DefaultMaxRetries; i++ {
		_, err = e.Advance(ctx, testIdentity, "")
		require.NoError(t, err)
	}

	_, err = e.Advance(ctx, testIdentity, "cancel")
	require.NoError(t, err)

	_, err = store.Load(ctx, testIdentity)
	assert.ErrorIs(t, err, dialog.ErrSessionNotFound)
}

func TestEngine_RecoveryRejectsUnknownChoice(t *testing.T) {
	e, _ := newTestEngine(t, chainMap{"registration": registrationChain(t)})
	ctx := context.Background()

	_, err := e.Start(ctx, testIdentity, "registration", nil)
	require.NoError(t, err)
	for i := 0; i < dialog.DefaultMaxRetries; i++ {
		_, err = e.Advance(ctx, testIdentity, "")
		require.NoError(t, err)
	}

	turn, err := e.Advance(ctx, testIdentity, "maybe")
	require.NoError(t, err)
	require.NotNil(t, turn.Prompt)
	assert.True(t, turn.Prompt.Recovery)
	assert.Contains(t, turn.Prompt.Messages, "Please pick one of the options.")
}

func TestEngine_CancelIsIdempotent(t *testing.T) {
	e, _ := newTestEngine(t, chainMap{"registration": registrationChain(t)})
	ctx := context.Background()

	_, err := e.Start(ctx, testIdentity, "registration", nil)
	require.NoError(t, err)

	turn, err := e.Cancel(ctx, testIdentity)
	require.NoError(t, err)
	assert.Equal(t, []string{"Dialog cancelled."}, turn.Prompt.Messages)

	turn, err = e.Cancel(ctx, testIdentity)
	require.NoError(t, err, "cancelling with nothing active must still succeed")
	assert.Equal(t, []string{"Nothing to cancel."}, turn.Prompt.Messages)
}

func TestEngine_Resume(t *testing.T) {
	e, _ := newTestEngine(t, chainMap{"registration": registrationChain(t)})
	ctx := context.Background()

	_, err := e.Start(ctx, testIdentity, "registration", nil)
	require.NoError(t, err)

	turn, err := e.Resume(ctx, testIdentity)
	require.NoError(t, err)
	require.NotNil(t, turn.Prompt)
	assert.Equal(t, "name_step", turn.Prompt.StepID)
	assert.Equal(t, []string{"What is your name?"}, turn.Prompt.Messages)
}

func TestEngine_Resume_NoSession(t *testing.T) {
	e, _ := newTestEngine(t, chainMap{})

	_, err := e.Resume(context.Background(), testIdentity)
	assert.ErrorIs(t, err, dialog.ErrNoActiveSession)
}

func TestEngine_PermissionDenied(t *testing.T) {
	chain := builder.New("admin", "Admin").
		StartWith("done").
		Final("done", "ok").
		Permissions("manager").
		MustBuild()

	e, _ := newTestEngine(t, chainMap{"admin": chain})

	_, err := e.Start(context.Background(), testIdentity, "admin", nil)
	assert.ErrorIs(t, err, dialog.ErrPermissionDenied)
}

type allowAll struct{}

func (allowAll) IsPermitted(ctx context.Context, identity dialog.Identity, required []string) bool {
	return true
}

func TestEngine_PermissionGranted(t *testing.T) {
	chain := builder.New("admin", "Admin").
		StartWith("done").
		Final("done", "ok").
		Permissions("manager").
		MustBuild()

	e, _ := newTestEngine(t, chainMap{"admin": chain}, WithPermissionChecker(allowAll{}))

	turn, err := e.Start(context.Background(), testIdentity, "admin", nil)
	require.NoError(t, err)
	assert.True(t, turn.Completed())
}

func TestEngine_SensitiveStepMarksPrompt(t *testing.T) {
	chain := builder.New("auth", "Auth").
		StartWith("password_step").
		Question("password_step", "Password:", "done", dialog.NotEmpty()).
		Sensitive("password_step").
		Final("done", "ok").
		MustBuild()

	e, _ := newTestEngine(t, chainMap{"auth": chain})

	turn, err := e.Start(context.Background(), testIdentity, "auth", nil)
	require.NoError(t, err)
	assert.True(t, turn.Prompt.Sensitive)
}

func TestEngine_CustomInterpolator(t *testing.T) {
	chain := builder.New("shout", "Shout").
		StartWith("done").
		Final("done", "bye {name}").
		MustBuild()

	upper := func(content string, data map[string]any) string {
		return strings.ToUpper(interpolate(content, data))
	}
	e, _ := newTestEngine(t, chainMap{"shout": chain}, WithInterpolator(upper))

	turn, err := e.Start(context.Background(), testIdentity, "shout", map[string]any{"name": "Alice"})
	require.NoError(t, err)
	assert.Equal(t, []string{"BYE ALICE"}, turn.Prompt.Messages)
}

func TestInterpolate(t *testing.T) {
	data := map[string]any{"name": "Alice", "age": 30}

	assert.Equal(t, "Hi Alice, you are 30.", interpolate("Hi {name}, you are {age}.", data))
	assert.Equal(t, "no placeholders", interpolate("no placeholders", data))
	assert.Equal(t, "unknown {field} stays", interpolate("unknown {field} stays", data))
	assert.Equal(t, "dangling { brace", interpolate("dangling { brace", data))
}
