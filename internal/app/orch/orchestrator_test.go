package orch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mkorchagin/pairchat/internal/adapters/ledger"
	"github.com/mkorchagin/pairchat/internal/adapters/matchq"
	"github.com/mkorchagin/pairchat/internal/app"
	"github.com/mkorchagin/pairchat/internal/core"
	"github.com/mkorchagin/pairchat/internal/domain"
)

type fakeEndpoint struct {
	id domain.EndpointID

	mu   sync.Mutex
	sent []any
}

func newFakeEndpoint(id string) *fakeEndpoint {
	return &fakeEndpoint{id: domain.EndpointID(id)}
}

func (e *fakeEndpoint) ID() domain.EndpointID { return e.id }

func (e *fakeEndpoint) Send(v any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sent = append(e.sent, v)
	return nil
}

func (e *fakeEndpoint) Close() {}

func (e *fakeEndpoint) events() []any {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]any, len(e.sent))
	copy(out, e.sent)
	return out
}

type testRig struct {
	orch   *Orchestrator
	ledger *ledger.Memory
}

func newTestRig() *testRig {
	mem := ledger.NewMemory(10)
	limiter := app.NewMessageLimiter(10, 10*time.Second)
	rooms := app.NewRoomStore(limiter, 30, 3*time.Second)
	partners := app.NewPartnerHistory(5, 5*time.Minute)
	matcher := app.NewMatcher(partners, rooms, time.Hour, time.Hour)
	broker := app.NewBroker(rooms, 30*time.Second, 60*time.Second)

	o := New(
		app.NewRegistry(), matcher, rooms, broker, app.NewBridge(),
		partners, limiter,
		mem, mem, mem, matchq.NewMemory(),
		Options{
			MatchCost:       1,
			ReconnectWindow: 30 * time.Second,
			RoomMaxIdle:     30 * time.Minute,
			RoomSweepEvery:  5 * time.Minute,
			LimiterIdleTTL:  5 * time.Minute,
			LimiterSweep:    time.Minute,
			PartnerSweep:    5 * time.Minute,
		},
	)
	return &testRig{orch: o, ledger: mem}
}

// The matcher delays are set to an hour, so matches only happen when a test
// drives a pass explicitly.
func (r *testRig) pairText(t *testing.T, a, b *fakeEndpoint, pa, pb domain.ParticipantID) domain.RoomID {
	t.Helper()
	ctx := context.Background()
	if err := r.orch.Connect(ctx, pa, a); err != nil {
		t.Fatalf("connect %s: %v", pa, err)
	}
	if err := r.orch.Connect(ctx, pb, b); err != nil {
		t.Fatalf("connect %s: %v", pb, err)
	}
	if _, err := r.orch.JoinTextQueue(pa, a.ID(), false); err != nil {
		t.Fatalf("join %s: %v", pa, err)
	}
	if _, err := r.orch.JoinTextQueue(pb, b.ID(), false); err != nil {
		t.Fatalf("join %s: %v", pb, err)
	}
	r.orch.Matcher.TryMatch()

	room, ok := r.orch.Rooms.RoomFor(pa)
	if !ok {
		t.Fatal("pairing did not form a room")
	}
	return room.ID
}

func eventOfType[T any](events []any) (T, bool) {
	for _, e := range events {
		if typed, ok := e.(T); ok {
			return typed, true
		}
	}
	var zero T
	return zero, false
}

func TestConnectRejectsInvalidIdentity(t *testing.T) {
	rig := newTestRig()
	err := rig.orch.Connect(context.Background(), "", newFakeEndpoint("ep"))
	var vErr *core.ValidationError
	if !errors.As(err, &vErr) {
		t.Errorf("expected ValidationError, got %v", err)
	}
}

func TestConnectRejectsBanned(t *testing.T) {
	rig := newTestRig()
	rig.ledger.SetProfile(core.Profile{ID: "banned-user", Banned: true})
	err := rig.orch.Connect(context.Background(), "banned-user", newFakeEndpoint("ep"))
	if err == nil {
		t.Error("banned participant should be rejected")
	}
}

func TestTextPairingFlow(t *testing.T) {
	rig := newTestRig()
	a, b := newFakeEndpoint("ep-a"), newFakeEndpoint("ep-b")
	roomID := rig.pairText(t, a, b, "user-a", "user-b")

	ma, ok := eventOfType[MatchedEvent](a.events())
	if !ok {
		t.Fatal("a never got matched event")
	}
	if ma.PartnerID != "user-b" || ma.RoomID != roomID {
		t.Errorf("a matched = %+v", ma)
	}
	if mb, ok := eventOfType[MatchedEvent](b.events()); !ok || mb.PartnerID != "user-a" {
		t.Errorf("b matched = %+v, ok=%v", mb, ok)
	}

	ack, err := rig.orch.SendMessage("user-a", roomID, "hello there")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if ack.MessageID == "" {
		t.Error("ack should carry a message id")
	}
	pm, ok := eventOfType[PartnerMessageEvent](b.events())
	if !ok {
		t.Fatal("partner never got the message")
	}
	if pm.Message.Content != "hello there" || pm.Message.SenderID != "user-a" {
		t.Errorf("partner message = %+v", pm.Message)
	}

	if err := rig.orch.Typing("user-a", roomID, true); err != nil {
		t.Fatalf("Typing: %v", err)
	}
	if te, ok := eventOfType[PartnerTypingEvent](b.events()); !ok || !te.IsTyping {
		t.Errorf("typing event = %+v, ok=%v", te, ok)
	}

	if err := rig.orch.EndRoom("user-a", roomID, ""); err != nil {
		t.Fatalf("EndRoom: %v", err)
	}
	re, ok := eventOfType[RoomEndedEvent](b.events())
	if !ok {
		t.Fatal("partner never told the room ended")
	}
	if re.Reason != domain.EndReasonUserLeft {
		t.Errorf("end reason = %s, want user_left", re.Reason)
	}
	if _, ok := rig.orch.Rooms.Get(roomID); ok {
		t.Error("room should be gone")
	}
}

func TestSendMessageOutsiderRejected(t *testing.T) {
	rig := newTestRig()
	roomID := rig.pairText(t, newFakeEndpoint("ep-a"), newFakeEndpoint("ep-b"), "user-a", "user-b")

	if _, err := rig.orch.SendMessage("intruder", roomID, "hi"); !errors.Is(err, core.ErrIdentityMismatch) {
		t.Errorf("expected ErrIdentityMismatch, got %v", err)
	}
	if _, err := rig.orch.SendMessage("user-a", roomID, "   "); err == nil {
		t.Error("blank message should be rejected")
	}
}

func TestJoinQueueExclusivity(t *testing.T) {
	rig := newTestRig()
	a := newFakeEndpoint("ep-a")
	rig.pairText(t, a, newFakeEndpoint("ep-b"), "user-a", "user-b")

	if _, err := rig.orch.JoinTextQueue("user-a", a.ID(), false); !errors.Is(err, core.ErrAlreadyEngaged) {
		t.Errorf("join while in room should fail with ErrAlreadyEngaged, got %v", err)
	}
}

// A participant who switches from an audio/video search to the text queue
// must not leave a live ticket behind: a later claim of that ticket would
// put them into a session while they own a room.
func TestJoinTextQueueWithdrawsPendingSearch(t *testing.T) {
	rig := newTestRig()
	ctx := context.Background()
	b, c := newFakeEndpoint("ep-b"), newFakeEndpoint("ep-c")
	rig.orch.Connect(ctx, "user-b", b)
	rig.orch.Connect(ctx, "user-c", c)

	if err := rig.orch.FindMatch(ctx, "user-b", domain.ModeAudio); err != nil {
		t.Fatalf("FindMatch: %v", err)
	}
	if _, err := rig.orch.JoinTextQueue("user-b", b.ID(), false); err != nil {
		t.Fatalf("JoinTextQueue: %v", err)
	}

	depth, _ := rig.orch.MatchQ.Depth(ctx, domain.ModeAudio)
	if depth != 0 {
		t.Fatalf("audio queue depth = %d, want 0 after switching to text", depth)
	}

	// With the ticket gone, c's search waits instead of claiming b.
	if err := rig.orch.FindMatch(ctx, "user-c", domain.ModeAudio); err != nil {
		t.Fatalf("FindMatch c: %v", err)
	}
	if _, ok := eventOfType[MatchFoundEvent](c.events()); ok {
		t.Error("c must not be matched against a withdrawn ticket")
	}
	if _, ok := eventOfType[SearchingEvent](c.events()); !ok {
		t.Error("c should be searching")
	}
	if _, ok := rig.orch.sessionFor("user-b"); ok {
		t.Error("b must not be in a session")
	}
	for _, p := range []domain.ParticipantID{"user-b", "user-c"} {
		profile, _ := rig.ledger.Lookup(ctx, p)
		if profile.Coins != 10 {
			t.Errorf("%s coins = %d, want 10 untouched", p, profile.Coins)
		}
	}
}

// Forming a session consumes the caller's own stale tickets too, including
// one waiting in the other mode.
func TestFindMatchDropsCallerStaleTicket(t *testing.T) {
	rig := newTestRig()
	ctx := context.Background()
	b, c, d := newFakeEndpoint("ep-b"), newFakeEndpoint("ep-c"), newFakeEndpoint("ep-d")
	rig.orch.Connect(ctx, "user-b", b)
	rig.orch.Connect(ctx, "user-c", c)
	rig.orch.Connect(ctx, "user-d", d)

	if err := rig.orch.FindMatch(ctx, "user-b", domain.ModeAudio); err != nil {
		t.Fatalf("FindMatch b: %v", err)
	}
	if err := rig.orch.FindMatch(ctx, "user-c", domain.ModeVideo); err != nil {
		t.Fatalf("FindMatch c video: %v", err)
	}
	if err := rig.orch.FindMatch(ctx, "user-c", domain.ModeAudio); err != nil {
		t.Fatalf("FindMatch c audio: %v", err)
	}
	if _, ok := eventOfType[MatchFoundEvent](c.events()); !ok {
		t.Fatal("c should be matched with b in audio")
	}

	depth, _ := rig.orch.MatchQ.Depth(ctx, domain.ModeVideo)
	if depth != 0 {
		t.Fatalf("video queue depth = %d, want 0 after c's session formed", depth)
	}

	// d's video search must not claim the now-sessioned c.
	if err := rig.orch.FindMatch(ctx, "user-d", domain.ModeVideo); err != nil {
		t.Fatalf("FindMatch d: %v", err)
	}
	if _, ok := eventOfType[MatchFoundEvent](d.events()); ok {
		t.Error("d must not be matched against a stale ticket")
	}
}

func TestDisconnectGivesPartnerGraceNotice(t *testing.T) {
	rig := newTestRig()
	a, b := newFakeEndpoint("ep-a"), newFakeEndpoint("ep-b")
	roomID := rig.pairText(t, a, b, "user-a", "user-b")

	rig.orch.Disconnect("user-a", a.ID())

	pd, ok := eventOfType[PartnerDisconnectedEvent](b.events())
	if !ok {
		t.Fatal("partner never got the disconnect notice")
	}
	if pd.ReconnectWindowSec != 30 {
		t.Errorf("window = %d, want 30", pd.ReconnectWindowSec)
	}
	if _, ok := rig.orch.Rooms.Get(roomID); !ok {
		t.Fatal("room must stay alive during the grace window")
	}

	a2 := newFakeEndpoint("ep-a2")
	if err := rig.orch.Connect(context.Background(), "user-a", a2); err != nil {
		t.Fatalf("reconnect connect: %v", err)
	}
	resumed, err := rig.orch.ReconnectRoom("user-a", a2.ID())
	if err != nil {
		t.Fatalf("ReconnectRoom: %v", err)
	}
	if resumed.RoomID != roomID || resumed.PartnerID != "user-b" {
		t.Errorf("resumed = %+v", resumed)
	}
	if _, ok := eventOfType[PartnerReconnectedEvent](b.events()); !ok {
		t.Error("partner never told about the reconnect")
	}
}

func TestFindMatchPairsAndDebits(t *testing.T) {
	rig := newTestRig()
	ctx := context.Background()
	a, b := newFakeEndpoint("ep-a"), newFakeEndpoint("ep-b")
	rig.orch.Connect(ctx, "user-a", a)
	rig.orch.Connect(ctx, "user-b", b)

	if err := rig.orch.FindMatch(ctx, "user-a", domain.ModeVideo); err != nil {
		t.Fatalf("first FindMatch: %v", err)
	}
	if _, ok := eventOfType[SearchingEvent](a.events()); !ok {
		t.Fatal("first searcher should be told they are waiting")
	}

	if err := rig.orch.FindMatch(ctx, "user-b", domain.ModeVideo); err != nil {
		t.Fatalf("second FindMatch: %v", err)
	}

	mfA, okA := eventOfType[MatchFoundEvent](a.events())
	mfB, okB := eventOfType[MatchFoundEvent](b.events())
	if !okA || !okB {
		t.Fatal("both sides should get match_found")
	}
	if mfA.SessionID != mfB.SessionID {
		t.Error("session ids should agree")
	}
	if mfA.IsInitiator == mfB.IsInitiator {
		t.Error("exactly one side initiates")
	}

	for _, p := range []domain.ParticipantID{"user-a", "user-b"} {
		profile, _ := rig.ledger.Lookup(ctx, p)
		if profile.Coins != 9 {
			t.Errorf("%s coins = %d, want 9", p, profile.Coins)
		}
	}
}

func TestFindMatchRefundsWhenCounterpartCannotPay(t *testing.T) {
	rig := newTestRig()
	ctx := context.Background()
	a, b := newFakeEndpoint("ep-a"), newFakeEndpoint("ep-b")
	rig.ledger.SetProfile(core.Profile{ID: "broke", Coins: 0})
	rig.orch.Connect(ctx, "broke", a)
	rig.orch.Connect(ctx, "user-b", b)

	if err := rig.orch.FindMatch(ctx, "broke", domain.ModeAudio); err != nil {
		t.Fatalf("broke user can still wait: %v", err)
	}
	if err := rig.orch.FindMatch(ctx, "user-b", domain.ModeAudio); err != nil {
		t.Fatalf("FindMatch should fall back to searching, got %v", err)
	}

	// The requester's spend was rolled back to the exact prior balance.
	profile, _ := rig.ledger.Lookup(ctx, "user-b")
	if profile.Coins != 10 {
		t.Errorf("user-b coins = %d, want 10 after refund", profile.Coins)
	}
	if profile.TotalChats != 0 {
		t.Errorf("user-b totalChats = %d, want 0 after refund", profile.TotalChats)
	}

	if _, ok := eventOfType[MatchFoundEvent](b.events()); ok {
		t.Error("no session should have formed")
	}
	if _, ok := eventOfType[SearchingEvent](b.events()); !ok {
		t.Error("requester should keep searching")
	}
	if _, ok := eventOfType[ErrorEvent](a.events()); !ok {
		t.Error("broke side should learn they cannot pay")
	}
}

func TestFindMatchRequesterCannotPay(t *testing.T) {
	rig := newTestRig()
	ctx := context.Background()
	a, b := newFakeEndpoint("ep-a"), newFakeEndpoint("ep-b")
	rig.ledger.SetProfile(core.Profile{ID: "broke", Coins: 0})
	rig.orch.Connect(ctx, "user-a", a)
	rig.orch.Connect(ctx, "broke", b)

	rig.orch.FindMatch(ctx, "user-a", domain.ModeAudio)

	err := rig.orch.FindMatch(ctx, "broke", domain.ModeAudio)
	var coinsErr *core.InsufficientCoinsError
	if !errors.As(err, &coinsErr) {
		t.Fatalf("expected InsufficientCoinsError, got %v", err)
	}

	// The claimed counterpart went back into the queue untouched.
	depth, _ := rig.orch.MatchQ.Depth(ctx, domain.ModeAudio)
	if depth != 1 {
		t.Errorf("queue depth = %d, want 1 (counterpart requeued)", depth)
	}
	profile, _ := rig.ledger.Lookup(ctx, "user-a")
	if profile.Coins != 10 {
		t.Errorf("user-a coins = %d, want 10", profile.Coins)
	}
}

func TestEndSessionNotifiesBoth(t *testing.T) {
	rig := newTestRig()
	ctx := context.Background()
	a, b := newFakeEndpoint("ep-a"), newFakeEndpoint("ep-b")
	rig.orch.Connect(ctx, "user-a", a)
	rig.orch.Connect(ctx, "user-b", b)
	rig.orch.FindMatch(ctx, "user-a", domain.ModeVideo)
	rig.orch.FindMatch(ctx, "user-b", domain.ModeVideo)

	mf, _ := eventOfType[MatchFoundEvent](a.events())
	if err := rig.orch.EndSession(ctx, "user-a", mf.SessionID, ""); err != nil {
		t.Fatalf("EndSession: %v", err)
	}

	if se, ok := eventOfType[SessionEndedEvent](b.events()); !ok || se.SessionID != mf.SessionID {
		t.Errorf("partner session_ended = %+v, ok=%v", se, ok)
	}
	if err := rig.orch.EndSession(ctx, "user-a", mf.SessionID, ""); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("double end should report not found, got %v", err)
	}
}

func TestReportCapturesTranscriptBeforeEnding(t *testing.T) {
	rig := newTestRig()
	a, b := newFakeEndpoint("ep-a"), newFakeEndpoint("ep-b")
	roomID := rig.pairText(t, a, b, "user-a", "user-b")

	rig.orch.SendMessage("user-b", roomID, "something nasty")
	rig.orch.SendMessage("user-a", roomID, "stop that")

	if err := rig.orch.Report(context.Background(), "user-a", roomID, "harassment", "see transcript"); err != nil {
		t.Fatalf("Report: %v", err)
	}

	reports := rig.ledger.Reports()
	if len(reports) != 1 {
		t.Fatalf("reports filed = %d, want 1", len(reports))
	}
	r := reports[0]
	if r.ReporterID != "user-a" || r.ReportedID != "user-b" {
		t.Errorf("report parties = %s vs %s", r.ReporterID, r.ReportedID)
	}
	if len(r.Transcript) != 2 {
		t.Errorf("transcript = %d messages, want 2", len(r.Transcript))
	}

	if _, ok := rig.orch.Rooms.Get(roomID); ok {
		t.Error("reported room should be ended")
	}
	if re, ok := eventOfType[RoomEndedEvent](b.events()); !ok || re.Reason != domain.EndReasonReported {
		t.Errorf("room_ended = %+v, ok=%v", re, ok)
	}
}

func TestVideoUpgradeFlow(t *testing.T) {
	rig := newTestRig()
	a, b := newFakeEndpoint("ep-a"), newFakeEndpoint("ep-b")
	roomID := rig.pairText(t, a, b, "user-a", "user-b")

	if err := rig.orch.RequestVideo("user-a", roomID); err != nil {
		t.Fatalf("RequestVideo: %v", err)
	}
	if vr, ok := eventOfType[VideoRequestEvent](b.events()); !ok || vr.From != "user-a" {
		t.Fatalf("video request = %+v, ok=%v", vr, ok)
	}

	if err := rig.orch.RespondVideo(context.Background(), "user-b", roomID, true, ""); err != nil {
		t.Fatalf("RespondVideo: %v", err)
	}
	if resp, ok := eventOfType[VideoResponseEvent](a.events()); !ok || !resp.Accept {
		t.Fatalf("video response = %+v, ok=%v", resp, ok)
	}

	if err := rig.orch.RelaySignal("user-a", roomID, "offer", []byte(`{"sdp":"x"}`)); err != nil {
		t.Fatalf("relay offer: %v", err)
	}
	sig, ok := eventOfType[UpgradeSignalEvent](b.events())
	if !ok || sig.Type != EvtUpgradeOffer {
		t.Fatalf("upgrade signal = %+v, ok=%v", sig, ok)
	}
	if string(sig.Payload) != `{"sdp":"x"}` {
		t.Errorf("payload should pass through verbatim, got %s", sig.Payload)
	}

	if err := rig.orch.RelaySignal("user-b", roomID, "answer", []byte(`{"sdp":"y"}`)); err != nil {
		t.Fatalf("relay answer: %v", err)
	}
	if err := rig.orch.VideoConnected("user-a", roomID); err != nil {
		t.Fatalf("VideoConnected: %v", err)
	}
	if st := rig.orch.Bridge.Status(roomID); st != domain.UpgradeConnected {
		t.Errorf("bridge status = %s, want connected", st)
	}
	// Text keeps flowing alongside the video leg.
	if _, err := rig.orch.SendMessage("user-a", roomID, "still here"); err != nil {
		t.Errorf("text after upgrade: %v", err)
	}
}

func TestUpgradeFailureKeepsRoom(t *testing.T) {
	rig := newTestRig()
	a, b := newFakeEndpoint("ep-a"), newFakeEndpoint("ep-b")
	roomID := rig.pairText(t, a, b, "user-a", "user-b")

	rig.orch.RequestVideo("user-a", roomID)
	rig.orch.RespondVideo(context.Background(), "user-b", roomID, true, "")

	// The receiver drops all endpoints before the offer arrives.
	rig.orch.Registry.RemoveEndpoint("user-b", b.ID())
	if err := rig.orch.RelaySignal("user-a", roomID, "offer", []byte(`{}`)); err == nil {
		t.Fatal("relay to an offline peer should fail")
	}

	if uf, ok := eventOfType[UpgradeFailedEvent](a.events()); !ok || uf.RoomID != roomID {
		t.Errorf("upgrade failed event = %+v, ok=%v", uf, ok)
	}
	if st := rig.orch.Bridge.Status(roomID); st != domain.UpgradeIdle {
		t.Errorf("bridge status = %s, want idle", st)
	}
	if _, ok := rig.orch.Rooms.Get(roomID); !ok {
		t.Error("failed upgrade must not end the room")
	}
}
