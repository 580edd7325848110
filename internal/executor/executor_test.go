package executor

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/averell-dev/deskrover/api/schemas"
	"github.com/averell-dev/deskrover/internal/config"
)

// -- Test Doubles --

// fakeResolver scripts the element tier and counts how often each operation
// is attempted.
type fakeResolver struct {
	live       bool
	element    *schemas.Element
	resolveErr error
	clickErr   error

	resolveCalls int
	clickCalls   int
	dblCalls     int
}

func (f *fakeResolver) Live() bool { return f.live }

func (f *fakeResolver) ElementFromPoint(ctx context.Context, x, y int) (*schemas.Element, error) {
	f.resolveCalls++
	return f.element, f.resolveErr
}

func (f *fakeResolver) ClickElement(ctx context.Context, el *schemas.Element) error {
	f.clickCalls++
	return f.clickErr
}

func (f *fakeResolver) DoubleClickElement(ctx context.Context, el *schemas.Element) error {
	f.dblCalls++
	return f.clickErr
}

// fakeInjector records every injected event.
type fakeInjector struct {
	calls []string
	err   error
}

func (f *fakeInjector) record(call string) error {
	f.calls = append(f.calls, call)
	return f.err
}

func (f *fakeInjector) Click(ctx context.Context, x, y int, b schemas.MouseButton) error {
	return f.record(fmt.Sprintf("click(%d,%d,%s)", x, y, b))
}
func (f *fakeInjector) DoubleClick(ctx context.Context, x, y int) error {
	return f.record(fmt.Sprintf("double_click(%d,%d)", x, y))
}
func (f *fakeInjector) TypeText(ctx context.Context, text string) error {
	return f.record("type:" + text)
}
func (f *fakeInjector) PressKey(ctx context.Context, key string) error {
	return f.record("key:" + key)
}
func (f *fakeInjector) Hotkey(ctx context.Context, keys ...string) error {
	return f.record(fmt.Sprintf("hotkey:%v", keys))
}
func (f *fakeInjector) Launch(ctx context.Context, app string) error {
	return f.record("launch:" + app)
}

func newTestExecutor(t *testing.T, resolver *fakeResolver, injector *fakeInjector, fallback bool) *Executor {
	t.Helper()
	return New(config.ExecutorConfig{FallbackEnabled: fallback}, resolver, injector, zaptest.NewLogger(t))
}

func clickAction(x, y int) schemas.Action {
	return schemas.Action{Kind: schemas.ActionClick, Params: schemas.ActionParams{X: x, Y: y}}
}

// -- Test Cases: Pointer Tiers --

// Verifies a click rides the element tier when an element resolves, with no
// coordinate injection at all.
func TestExecute_Click_ElementTier(t *testing.T) {
	resolver := &fakeResolver{live: true, element: &schemas.Element{ID: "el1"}}
	injector := &fakeInjector{}
	e := newTestExecutor(t, resolver, injector, true)

	result, err := e.Execute(context.Background(), clickAction(100, 200))
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, schemas.TierElement, result.Tier)
	assert.Equal(t, 1, resolver.clickCalls)
	assert.Empty(t, injector.calls)
}

// Verifies degradation to coordinate injection when no element occupies the
// point. The degrade is silent: not an error on the result.
func TestExecute_Click_FallbackWhenNoElement(t *testing.T) {
	resolver := &fakeResolver{live: true, element: nil}
	injector := &fakeInjector{}
	e := newTestExecutor(t, resolver, injector, true)

	result, err := e.Execute(context.Background(), clickAction(100, 200))
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, schemas.TierFallback, result.Tier)
	assert.Empty(t, result.Error)
	assert.Equal(t, []string{"click(100,200,left)"}, injector.calls)
}

// Verifies a resolution transport failure degrades instead of failing the step.
func TestExecute_Click_FallbackOnResolutionError(t *testing.T) {
	resolver := &fakeResolver{live: true, resolveErr: &schemas.ElementResolutionError{X: 1, Y: 2, Err: errors.New("timeout")}}
	injector := &fakeInjector{}
	e := newTestExecutor(t, resolver, injector, true)

	result, err := e.Execute(context.Background(), clickAction(1, 2))
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, schemas.TierFallback, result.Tier)
}

// Verifies a failed native element operation degrades, and that the element
// tier is attempted exactly once.
func TestExecute_Click_FallbackOnElementClickFailure(t *testing.T) {
	resolver := &fakeResolver{live: true, element: &schemas.Element{ID: "el1"}, clickErr: errors.New("stale element")}
	injector := &fakeInjector{}
	e := newTestExecutor(t, resolver, injector, true)

	result, err := e.Execute(context.Background(), clickAction(5, 5))
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, schemas.TierFallback, result.Tier)
	assert.Equal(t, 1, resolver.resolveCalls)
	assert.Equal(t, 1, resolver.clickCalls)
	assert.Len(t, injector.calls, 1)
}

// Verifies the dead-session path: no session means straight to injection.
func TestExecute_Click_FallbackWhenSessionDead(t *testing.T) {
	resolver := &fakeResolver{live: false}
	injector := &fakeInjector{}
	e := newTestExecutor(t, resolver, injector, true)

	result, err := e.Execute(context.Background(), clickAction(9, 9))
	require.NoError(t, err)
	assert.Equal(t, schemas.TierFallback, result.Tier)
	assert.Equal(t, 0, resolver.resolveCalls, "a dead session must not be queried")
}

// Verifies that with fallback disabled, an element-tier miss is a typed
// execution error and no coordinate event is injected.
func TestExecute_Click_FallbackDisabled(t *testing.T) {
	resolver := &fakeResolver{live: true, element: nil}
	injector := &fakeInjector{}
	e := newTestExecutor(t, resolver, injector, false)

	result, err := e.Execute(context.Background(), clickAction(3, 4))
	require.Error(t, err)
	var execErr *schemas.ActionExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, schemas.TierElement, execErr.Tier)
	assert.False(t, result.Success)
	assert.Empty(t, injector.calls)
}

// Verifies a fallback injection failure surfaces as a typed error naming the
// fallback tier.
func TestExecute_Click_FallbackInjectionFails(t *testing.T) {
	resolver := &fakeResolver{live: false}
	injector := &fakeInjector{err: errors.New("injection blocked")}
	e := newTestExecutor(t, resolver, injector, true)

	result, err := e.Execute(context.Background(), clickAction(3, 4))
	require.Error(t, err)
	var execErr *schemas.ActionExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, schemas.TierFallback, execErr.Tier)
	assert.False(t, result.Success)
}

// Verifies a right-button click skips the element tier entirely: the native
// element operation cannot express it.
func TestExecute_RightClick_DirectTier(t *testing.T) {
	resolver := &fakeResolver{live: true, element: &schemas.Element{ID: "el1"}}
	injector := &fakeInjector{}
	e := newTestExecutor(t, resolver, injector, true)

	action := schemas.Action{Kind: schemas.ActionClick, Params: schemas.ActionParams{X: 7, Y: 8, Button: schemas.ButtonRight}}
	result, err := e.Execute(context.Background(), action)
	require.NoError(t, err)
	assert.Equal(t, schemas.TierDirect, result.Tier)
	assert.Equal(t, 0, resolver.resolveCalls)
	assert.Equal(t, []string{"click(7,8,right)"}, injector.calls)
}

// Verifies a double-click uses the native double-click operation on the
// element tier.
func TestExecute_DoubleClick_ElementTier(t *testing.T) {
	resolver := &fakeResolver{live: true, element: &schemas.Element{ID: "el1"}}
	injector := &fakeInjector{}
	e := newTestExecutor(t, resolver, injector, true)

	action := schemas.Action{Kind: schemas.ActionDoubleClick, Params: schemas.ActionParams{X: 10, Y: 10}}
	result, err := e.Execute(context.Background(), action)
	require.NoError(t, err)
	assert.Equal(t, schemas.TierElement, result.Tier)
	assert.Equal(t, 1, resolver.dblCalls)
	assert.Equal(t, 0, resolver.clickCalls)
}

// -- Test Cases: Direct Tier --

// Verifies keyboard input bypasses element resolution altogether.
func TestExecute_Keyboard_DirectTier(t *testing.T) {
	resolver := &fakeResolver{live: true, element: &schemas.Element{ID: "el1"}}
	injector := &fakeInjector{}
	e := newTestExecutor(t, resolver, injector, true)

	actions := []schemas.Action{
		{Kind: schemas.ActionTypeText, Params: schemas.ActionParams{Text: "hello"}},
		{Kind: schemas.ActionPressKey, Params: schemas.ActionParams{Key: "enter"}},
		{Kind: schemas.ActionHotkey, Params: schemas.ActionParams{Keys: []string{"ctrl", "s"}}},
		{Kind: schemas.ActionLaunch, Params: schemas.ActionParams{App: "notepad"}},
	}
	for _, action := range actions {
		result, err := e.Execute(context.Background(), action)
		require.NoError(t, err, action.String())
		assert.Equal(t, schemas.TierDirect, result.Tier)
	}

	assert.Equal(t, 0, resolver.resolveCalls)
	assert.Equal(t, []string{"type:hello", "key:enter", "hotkey:[ctrl s]", "launch:notepad"}, injector.calls)
}

// Verifies a wait action pauses without touching either backend.
func TestExecute_Wait(t *testing.T) {
	resolver := &fakeResolver{live: true}
	injector := &fakeInjector{}
	e := newTestExecutor(t, resolver, injector, true)

	action := schemas.Action{Kind: schemas.ActionWait, Params: schemas.ActionParams{DurationMs: 20}}
	start := time.Now()
	result, err := e.Execute(context.Background(), action)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	assert.Empty(t, injector.calls)
}

// Verifies a wait honors cancellation.
func TestExecute_Wait_Cancelled(t *testing.T) {
	e := newTestExecutor(t, &fakeResolver{}, &fakeInjector{}, true)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	action := schemas.Action{Kind: schemas.ActionWait, Params: schemas.ActionParams{DurationMs: 60000}}

	start := time.Now()
	_, err := e.Execute(ctx, action)
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

// -- Test Cases: Rejections --

// Verifies terminal and malformed actions never reach a backend.
func TestExecute_Rejections(t *testing.T) {
	resolver := &fakeResolver{live: true}
	injector := &fakeInjector{}
	e := newTestExecutor(t, resolver, injector, true)

	cases := []schemas.Action{
		{Kind: schemas.ActionDone},
		{Kind: schemas.ActionFail},
		{Kind: schemas.ActionTypeText}, // missing text
		{Kind: "teleport"},
		{},
	}
	for _, action := range cases {
		_, err := e.Execute(context.Background(), action)
		assert.Error(t, err, "kind %q", action.Kind)
	}
	assert.Empty(t, injector.calls)
	assert.Equal(t, 0, resolver.resolveCalls)
}
