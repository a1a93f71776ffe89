// internal/app/gatekeeper/engine_test.go
package gatekeeper

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/yerlanov/chatgate/internal/app/policy/accesspolicy"
	"go.uber.org/zap"
)

type verdict struct {
	chatID int64
	userID int64
}

type fakePlatform struct {
	mu         sync.Mutex
	sent       []string
	approved   []verdict
	declined   []verdict
	sendErr    error
	approveErr error
}

func (f *fakePlatform) SendMessage(_ context.Context, _ int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakePlatform) ApproveJoinRequest(_ context.Context, chatID, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.approveErr != nil {
		return f.approveErr
	}
	f.approved = append(f.approved, verdict{chatID, userID})
	return nil
}

func (f *fakePlatform) DeclineJoinRequest(_ context.Context, chatID, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.declined = append(f.declined, verdict{chatID, userID})
	return nil
}

func (f *fakePlatform) snapshot() (sent []string, approved, declined []verdict) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...),
		append([]verdict(nil), f.approved...),
		append([]verdict(nil), f.declined...)
}

type fakeEntitlements struct {
	groups map[string][]string
	err    error
}

func (f *fakeEntitlements) GroupsForEmail(_ context.Context, email string) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.groups[email], nil
}

type fakeMembers struct {
	mu        sync.Mutex
	existing  map[string]bool
	added     []string
	existsErr error
}

func (f *fakeMembers) EmailExists(_ context.Context, email string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.existsErr != nil {
		return false, f.existsErr
	}
	return f.existing[email], nil
}

func (f *fakeMembers) Add(_ context.Context, chatID, userID int64, email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, email)
	return nil
}

type staticPolicy struct{ pol *accesspolicy.Policy }

func (s staticPolicy) Current() *accesspolicy.Policy { return s.pol }

func testPolicy() *accesspolicy.Policy {
	return &accesspolicy.Policy{
		Groups: map[string]accesspolicy.Group{
			"course": {ChatIDs: []int64{-100200}, GCGroupIDs: []int64{10}},
		},
		Messages: accesspolicy.Messages{
			Greeting:  "greeting",
			Retry:     "retry",
			Approved:  "approved",
			Denied:    "denied",
			Duplicate: "duplicate",
		},
	}
}

// deliverEventually feeds msg to the user's prompt once the join flow has
// registered its wait slot.
func deliverEventually(t *testing.T, eng *Engine, userID int64, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if eng.HandleMessage(userID, msg) {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("message %q never consumed by the join flow", msg)
}

func runJoin(eng *Engine, chatID, userID int64) chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		eng.HandleJoinRequest(context.Background(), chatID, userID)
	}()
	return done
}

func waitDone(t *testing.T, done chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("join flow did not finish")
	}
}

func TestJoinRequestApproved(t *testing.T) {
	platform := &fakePlatform{}
	members := &fakeMembers{existing: map[string]bool{}}
	ent := &fakeEntitlements{groups: map[string][]string{"a@x.com": {"10"}}}
	eng := NewEngine(platform, ent, members, staticPolicy{testPolicy()}, time.Second, zap.NewNop())

	done := runJoin(eng, -100200, 42)
	deliverEventually(t, eng, 42, "a@x.com")
	waitDone(t, done)

	sent, approved, declined := platform.snapshot()
	if len(approved) != 1 || approved[0] != (verdict{-100200, 42}) {
		t.Fatalf("approved = %v, want one approval for chat -100200 user 42", approved)
	}
	if len(declined) != 0 {
		t.Errorf("declined = %v, want none", declined)
	}
	if len(sent) != 2 || sent[0] != "greeting" || sent[1] != "approved" {
		t.Errorf("sent = %v, want [greeting approved]", sent)
	}
	if len(members.added) != 1 || members.added[0] != "a@x.com" {
		t.Errorf("recorded members = %v, want [a@x.com]", members.added)
	}
}

func TestJoinRequestFoldsEmail(t *testing.T) {
	platform := &fakePlatform{}
	members := &fakeMembers{existing: map[string]bool{}}
	ent := &fakeEntitlements{groups: map[string][]string{"a@x.com": {"10"}}}
	eng := NewEngine(platform, ent, members, staticPolicy{testPolicy()}, time.Second, zap.NewNop())

	done := runJoin(eng, -100200, 42)
	deliverEventually(t, eng, 42, "  A@X.COM ")
	waitDone(t, done)

	if len(members.added) != 1 || members.added[0] != "a@x.com" {
		t.Fatalf("recorded members = %v, want folded [a@x.com]", members.added)
	}
}

func TestJoinRequestDeclinedAfterTwoAttempts(t *testing.T) {
	platform := &fakePlatform{}
	members := &fakeMembers{existing: map[string]bool{}}
	ent := &fakeEntitlements{groups: map[string][]string{}}
	eng := NewEngine(platform, ent, members, staticPolicy{testPolicy()}, time.Second, zap.NewNop())

	done := runJoin(eng, -100200, 42)
	deliverEventually(t, eng, 42, "wrong1@x.com")
	deliverEventually(t, eng, 42, "wrong2@x.com")
	waitDone(t, done)

	sent, approved, declined := platform.snapshot()
	if len(approved) != 0 {
		t.Errorf("approved = %v, want none", approved)
	}
	if len(declined) != 1 {
		t.Fatalf("declined = %v, want exactly one decline", declined)
	}
	want := []string{"greeting", "retry", "denied"}
	if len(sent) != len(want) {
		t.Fatalf("sent = %v, want %v", sent, want)
	}
	for i := range want {
		if sent[i] != want[i] {
			t.Errorf("sent[%d] = %q, want %q", i, sent[i], want[i])
		}
	}
}

func TestDuplicateEmailDeclinesImmediately(t *testing.T) {
	platform := &fakePlatform{}
	members := &fakeMembers{existing: map[string]bool{"a@x.com": true}}
	ent := &fakeEntitlements{groups: map[string][]string{"a@x.com": {"10"}}}
	eng := NewEngine(platform, ent, members, staticPolicy{testPolicy()}, time.Second, zap.NewNop())

	done := runJoin(eng, -100200, 42)
	deliverEventually(t, eng, 42, "a@x.com")
	waitDone(t, done)

	sent, approved, declined := platform.snapshot()
	if len(approved) != 0 {
		t.Errorf("approved = %v, want none", approved)
	}
	if len(declined) != 1 {
		t.Fatalf("declined = %v, want one decline without a second attempt", declined)
	}
	if len(sent) != 2 || sent[1] != "duplicate" {
		t.Errorf("sent = %v, want [greeting duplicate]", sent)
	}
}

func TestDuplicateCheckFailureFailsAttempt(t *testing.T) {
	platform := &fakePlatform{}
	members := &fakeMembers{existsErr: errors.New("store unavailable")}
	ent := &fakeEntitlements{groups: map[string][]string{"a@x.com": {"10"}}}
	eng := NewEngine(platform, ent, members, staticPolicy{testPolicy()}, time.Second, zap.NewNop())

	done := runJoin(eng, -100200, 42)
	deliverEventually(t, eng, 42, "a@x.com")
	deliverEventually(t, eng, 42, "a@x.com")
	waitDone(t, done)

	sent, approved, declined := platform.snapshot()
	// Without the duplicate guard an otherwise entitled email must never
	// be approved.
	if len(approved) != 0 {
		t.Fatalf("approved = %v, want none when the duplicate check fails", approved)
	}
	if len(declined) != 1 {
		t.Fatalf("declined = %v, want one decline after two failed attempts", declined)
	}
	if len(sent) != 3 || sent[1] != "retry" || sent[2] != "denied" {
		t.Errorf("sent = %v, want [greeting retry denied]", sent)
	}
	if len(members.added) != 0 {
		t.Errorf("recorded members = %v, want none", members.added)
	}
}

func TestTimeoutConsumesAttempt(t *testing.T) {
	platform := &fakePlatform{}
	members := &fakeMembers{existing: map[string]bool{}}
	ent := &fakeEntitlements{groups: map[string][]string{}}
	eng := NewEngine(platform, ent, members, staticPolicy{testPolicy()}, 20*time.Millisecond, zap.NewNop())

	done := runJoin(eng, -100200, 42)
	waitDone(t, done)

	_, approved, declined := platform.snapshot()
	if len(approved) != 0 {
		t.Errorf("approved = %v, want none", approved)
	}
	if len(declined) != 1 {
		t.Errorf("declined = %v, want one decline after two silent attempts", declined)
	}
}

func TestUnmappedChatExhaustsAttempts(t *testing.T) {
	platform := &fakePlatform{}
	members := &fakeMembers{existing: map[string]bool{}}
	ent := &fakeEntitlements{groups: map[string][]string{"a@x.com": {"10"}}}
	eng := NewEngine(platform, ent, members, staticPolicy{testPolicy()}, time.Second, zap.NewNop())

	done := runJoin(eng, -999, 42)
	deliverEventually(t, eng, 42, "a@x.com")
	deliverEventually(t, eng, 42, "a@x.com")
	waitDone(t, done)

	_, approved, declined := platform.snapshot()
	if len(approved) != 0 {
		t.Errorf("approved = %v, want none for an unmapped chat", approved)
	}
	if len(declined) != 1 {
		t.Errorf("declined = %v, want one decline", declined)
	}
}

func TestGreetingFailureLeavesRequestPending(t *testing.T) {
	platform := &fakePlatform{sendErr: errors.New("blocked by user")}
	members := &fakeMembers{existing: map[string]bool{}}
	ent := &fakeEntitlements{groups: map[string][]string{}}
	eng := NewEngine(platform, ent, members, staticPolicy{testPolicy()}, time.Second, zap.NewNop())

	done := runJoin(eng, -100200, 42)
	waitDone(t, done)

	_, approved, declined := platform.snapshot()
	if len(approved) != 0 || len(declined) != 0 {
		t.Errorf("approved=%v declined=%v, want neither when the greeting fails", approved, declined)
	}
	if eng.HandleMessage(42, "a@x.com") {
		t.Error("message consumed, want no wait slot after an aborted flow")
	}
}

func TestApproveFailureTerminatesFlow(t *testing.T) {
	platform := &fakePlatform{approveErr: errors.New("request no longer pending")}
	members := &fakeMembers{existing: map[string]bool{}}
	ent := &fakeEntitlements{groups: map[string][]string{"a@x.com": {"10"}}}
	eng := NewEngine(platform, ent, members, staticPolicy{testPolicy()}, time.Second, zap.NewNop())

	done := runJoin(eng, -100200, 42)
	deliverEventually(t, eng, 42, "a@x.com")
	waitDone(t, done)

	sent, _, declined := platform.snapshot()
	if len(declined) != 0 {
		t.Errorf("declined = %v, want none after a failed approval", declined)
	}
	if len(members.added) != 0 {
		t.Errorf("recorded members = %v, want none", members.added)
	}
	// No retry prompt: a validated email must not be asked for again.
	if len(sent) != 1 || sent[0] != "greeting" {
		t.Errorf("sent = %v, want [greeting]", sent)
	}
}

func TestSecondJoinRequestWhileWaitingAborts(t *testing.T) {
	platform := &fakePlatform{}
	members := &fakeMembers{existing: map[string]bool{}}
	ent := &fakeEntitlements{groups: map[string][]string{"a@x.com": {"10"}}}
	eng := NewEngine(platform, ent, members, staticPolicy{testPolicy()}, time.Second, zap.NewNop())

	first := runJoin(eng, -100200, 42)

	// Wait until the first flow holds the slot, then start a second.
	deadline := time.Now().Add(2 * time.Second)
	for {
		eng.sessions.mu.Lock()
		_, waiting := eng.sessions.byUser[42]
		eng.sessions.mu.Unlock()
		if waiting {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("first flow never registered its wait slot")
		}
		time.Sleep(2 * time.Millisecond)
	}

	second := runJoin(eng, -100300, 42)
	waitDone(t, second)

	deliverEventually(t, eng, 42, "a@x.com")
	waitDone(t, first)

	_, approved, declined := platform.snapshot()
	if len(approved) != 1 || approved[0] != (verdict{-100200, 42}) {
		t.Fatalf("approved = %v, want only the first chat approved", approved)
	}
	if len(declined) != 0 {
		t.Errorf("declined = %v, want none; the duplicate flow just aborts", declined)
	}
}
