package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"selfquiz/internal/domain"
	"selfquiz/internal/infra/memory"
	"selfquiz/internal/localstore"
)

type harness struct {
	ctrl   *Controller
	ledger *Ledger
	store  *memory.Store
	remote *memory.RemoteSync
	clock  *clockwork.FakeClock
}

func newHarness(t *testing.T, store *memory.Store, opts ...ControllerOption) *harness {
	t.Helper()
	if store == nil {
		store = memory.NewStore()
	}
	remote := memory.NewRemoteSync()
	ledger, err := NewLedger(context.Background(), store, remote)
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	clock := clockwork.NewFakeClock()
	content := memory.NewContentRepository(memory.NewStaticContentLoader(map[string][]domain.Item{
		"History": historyItems(),
	}), time.Minute)
	opts = append([]ControllerOption{WithClock(clock)}, opts...)
	ctrl, err := NewController(context.Background(), ledger, store, content, opts...)
	if err != nil {
		t.Fatalf("controller: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = ledger.Wait(ctx)
	})
	return &harness{ctrl: ctrl, ledger: ledger, store: store, remote: remote, clock: clock}
}

func (h *harness) seconds(n int) {
	for i := 0; i < n; i++ {
		h.clock.Advance(time.Second)
		h.ctrl.timer.Tick()
	}
}

func (h *harness) startQuiz(t *testing.T, name, topic string) {
	t.Helper()
	ctx := context.Background()
	if _, err := h.ctrl.SubmitName(ctx, name); err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := h.ctrl.PickTopic(ctx, topic); err != nil {
		t.Fatalf("pick topic: %v", err)
	}
}

func (h *harness) snapshot(t *testing.T) localstore.Snapshot {
	t.Helper()
	snap, err := localstore.Load(context.Background(), h.store)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	return snap
}

func TestSubmitNamePersistsActiveUser(t *testing.T) {
	h := newHarness(t, nil)

	st, err := h.ctrl.SubmitName(context.Background(), "  Ana  ")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if st.Phase != domain.PhaseAwaitingTopic || st.User != "Ana" {
		t.Fatalf("unexpected state %+v", st)
	}
	if st.Settings != domain.DefaultSettings() {
		t.Fatalf("expected default settings, got %+v", st.Settings)
	}
	snap := h.snapshot(t)
	if snap.ActiveUser != "Ana" || len(snap.KnownUsers) != 1 || snap.KnownUsers[0] != "Ana" {
		t.Fatalf("expected user persisted, got %+v", snap)
	}
}

func TestSubmitNameRejectsInvalidNames(t *testing.T) {
	h := newHarness(t, nil)
	cases := map[string]error{
		"":                                 domain.ErrEmptyName,
		"ab":                               domain.ErrNameTooShort,
		"R2D2":                             domain.ErrNameInvalidCharacters,
		"Abcdefghijklmnopqrstuvwxyz":       domain.ErrNameTooLong,
		"Abcdefghijklmnopqrstuvwxyzabcdef": domain.ErrNameTooLong,
	}
	for input, want := range cases {
		st, err := h.ctrl.SubmitName(context.Background(), input)
		if !errors.Is(err, want) {
			t.Fatalf("%q: expected %v, got %v", input, want, err)
		}
		if st.Phase != domain.PhaseLoggedOut {
			t.Fatalf("%q: state must stay logged out, got %s", input, st.Phase)
		}
	}
	if len(h.ledger.KnownUsers()) != 0 {
		t.Fatalf("invalid names must not register")
	}
}

func TestPersistenceFailureLeavesStateUnchanged(t *testing.T) {
	store := memory.NewStore()
	h := newHarness(t, store)
	store.FailCommits(errors.New("quota exceeded"))

	st, err := h.ctrl.SubmitName(context.Background(), "Ana")
	var perr *domain.PersistenceError
	if !errors.As(err, &perr) {
		t.Fatalf("expected persistence error, got %v", err)
	}
	if st.Phase != domain.PhaseLoggedOut || h.ctrl.State().Phase != domain.PhaseLoggedOut {
		t.Fatalf("state must not change, got %+v", st)
	}

	store.FailCommits(nil)
	if _, err := h.ctrl.SubmitName(context.Background(), "Ana"); err != nil {
		t.Fatalf("login: %v", err)
	}
	store.FailCommits(errors.New("quota exceeded"))
	if _, err := h.ctrl.PickTopic(context.Background(), "History"); !errors.As(err, &perr) {
		t.Fatalf("expected persistence error on pick topic, got %v", err)
	}
	if got := h.ctrl.State(); got.Phase != domain.PhaseAwaitingTopic || got.Topic != "" {
		t.Fatalf("state must not change, got %+v", got)
	}
	if h.ctrl.timer.State().Running {
		t.Fatalf("countdown must not start on failed transition")
	}
}

func TestPickTopicStartsCountdown(t *testing.T) {
	h := newHarness(t, nil)
	h.startQuiz(t, "Ana", "History")

	st := h.ctrl.State()
	if st.Phase != domain.PhaseInQuiz || st.Topic != "History" {
		t.Fatalf("unexpected state %+v", st)
	}
	if h.snapshot(t).ActiveTopic != "History" {
		t.Fatalf("expected active topic persisted")
	}
	view := h.ctrl.View()
	if !view.Countdown.Running || view.Countdown.RemainingSeconds != 600 || view.Countdown.Display != "10:00" {
		t.Fatalf("unexpected countdown %+v", view.Countdown)
	}
	if view.ItemCount != 2 {
		t.Fatalf("expected 2 items, got %d", view.ItemCount)
	}

	h.seconds(10)
	if got := h.ctrl.View().Countdown.Display; got != "09:50" {
		t.Fatalf("expected 09:50, got %s", got)
	}
}

func TestPickTopicRequiresTopic(t *testing.T) {
	h := newHarness(t, nil)
	_, _ = h.ctrl.SubmitName(context.Background(), "Ana")
	if _, err := h.ctrl.PickTopic(context.Background(), ""); !errors.Is(err, domain.ErrTopicRequired) {
		t.Fatalf("expected topic required, got %v", err)
	}
}

func TestInvalidTransitionsAreRejected(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	if _, err := h.ctrl.PickTopic(ctx, "History"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("pick topic while logged out: %v", err)
	}
	if _, err := h.ctrl.SubmitScore(ctx, 50); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("score while logged out: %v", err)
	}
	if _, err := h.ctrl.Acknowledge(ctx); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("acknowledge while logged out: %v", err)
	}

	_, _ = h.ctrl.SubmitName(ctx, "Ana")
	if _, err := h.ctrl.SubmitName(ctx, "Bob"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("second login: %v", err)
	}
	if _, err := h.ctrl.Finish(ctx); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("finish while awaiting topic: %v", err)
	}
}

func TestApplySettings(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	_, _ = h.ctrl.SubmitName(ctx, "Ana")

	custom := domain.QuizSettings{CognitiveLevel: domain.LevelAnalysis, QuestionCount: 5, TimeLimit: 5}
	if _, err := h.ctrl.ApplySettings(ctx, custom); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if _, err := h.ctrl.PickTopic(ctx, "History"); err != nil {
		t.Fatalf("pick: %v", err)
	}
	if got := h.ctrl.View().Countdown.RemainingSeconds; got != 300 {
		t.Fatalf("expected custom time limit, got %d", got)
	}

	h.seconds(20)
	custom.TimeLimit = 15
	if _, err := h.ctrl.ApplySettings(ctx, custom); err != nil {
		t.Fatalf("apply in quiz: %v", err)
	}
	if got := h.ctrl.View().Countdown.RemainingSeconds; got != 900 {
		t.Fatalf("expected countdown restarted at 900, got %d", got)
	}

	bad := custom
	bad.QuestionCount = 51
	if _, err := h.ctrl.ApplySettings(ctx, bad); !errors.Is(err, domain.ErrInvalidSettings) {
		t.Fatalf("expected invalid settings, got %v", err)
	}
	if h.ctrl.State().Settings != custom {
		t.Fatalf("invalid settings must not apply")
	}
}

func TestExpiryFreezesAnswers(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	_, _ = h.ctrl.SubmitName(ctx, "Ana")
	_, _ = h.ctrl.ApplySettings(ctx, domain.QuizSettings{CognitiveLevel: domain.LevelRecall, QuestionCount: 10, TimeLimit: 5})
	_, _ = h.ctrl.PickTopic(ctx, "History")

	if err := h.ctrl.SubmitAnswer(ctx, "h1", "b"); err != nil {
		t.Fatalf("answer: %v", err)
	}
	h.seconds(300)
	if h.ctrl.State().Phase != domain.PhaseInQuiz {
		t.Fatalf("expired too early")
	}
	h.seconds(1)
	if h.ctrl.State().Phase != domain.PhaseExpired {
		t.Fatalf("expected expired, got %s", h.ctrl.State().Phase)
	}
	if got := h.ctrl.View().Countdown.Display; got != "00:00" {
		t.Fatalf("expected 00:00, got %s", got)
	}
	if err := h.ctrl.SubmitAnswer(ctx, "h2", "a"); !errors.Is(err, domain.ErrAnswersFrozen) {
		t.Fatalf("expected frozen answers, got %v", err)
	}

	st, err := h.ctrl.Finish(ctx)
	if err != nil {
		t.Fatalf("finish after expiry: %v", err)
	}
	if st.Phase != domain.PhaseCompleted || st.Score != 100 {
		t.Fatalf("expected completed with 100, got %+v", st)
	}
}

func TestRestartIgnoresStaleExpiry(t *testing.T) {
	h := newHarness(t, nil)
	h.startQuiz(t, "Ana", "History")

	staleCycle := h.ctrl.cycle
	_, _ = h.ctrl.ApplySettings(context.Background(), domain.DefaultSettings())
	h.ctrl.handleExpiry(staleCycle)
	if h.ctrl.State().Phase != domain.PhaseInQuiz {
		t.Fatalf("stale expiry must be ignored")
	}
}

func TestSubmitAnswerValidatesIDs(t *testing.T) {
	h := newHarness(t, nil)
	h.startQuiz(t, "Ana", "History")
	ctx := context.Background()

	if err := h.ctrl.SubmitAnswer(ctx, "zz", "a"); !errors.Is(err, domain.ErrItemNotFound) {
		t.Fatalf("expected item not found, got %v", err)
	}
	if err := h.ctrl.SubmitAnswer(ctx, "h1", "zz"); !errors.Is(err, domain.ErrOptionNotFound) {
		t.Fatalf("expected option not found, got %v", err)
	}
}

func TestFinishRecordsResult(t *testing.T) {
	h := newHarness(t, nil, WithCompletionDelay(0))
	h.startQuiz(t, "Ana", "History")
	ctx := context.Background()

	_ = h.ctrl.SubmitAnswer(ctx, "h1", "b")
	_ = h.ctrl.SubmitAnswer(ctx, "h2", "b")
	st, err := h.ctrl.Finish(ctx)
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if st.Phase != domain.PhaseCompleted || st.Score != 50 {
		t.Fatalf("expected completed with 50, got %+v", st)
	}
	if h.ctrl.timer.State().Running {
		t.Fatalf("countdown must stop on completion")
	}
	snap := h.snapshot(t)
	if snap.ActiveTopic != "" {
		t.Fatalf("active topic must be cleared on completion")
	}
	if len(snap.ResultRecords) != 1 || snap.ResultRecords[0].Score != 50 {
		t.Fatalf("expected result persisted, got %+v", snap.ResultRecords)
	}
	if history := h.ctrl.History(); len(history) != 1 || history[0].Topic != "History" {
		t.Fatalf("unexpected history %+v", history)
	}
}

func TestSubmitScoreAndAcknowledge(t *testing.T) {
	h := newHarness(t, nil, WithCompletionDelay(0))
	h.startQuiz(t, "Ana", "History")
	ctx := context.Background()

	if _, err := h.ctrl.SubmitScore(ctx, 101); !errors.Is(err, domain.ErrScoreOutOfRange) {
		t.Fatalf("expected out of range, got %v", err)
	}
	if h.ctrl.State().Phase != domain.PhaseInQuiz {
		t.Fatalf("rejected score must not complete the quiz")
	}
	if _, err := h.ctrl.SubmitScore(ctx, 72); err != nil {
		t.Fatalf("score: %v", err)
	}

	st, err := h.ctrl.Acknowledge(ctx)
	if err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	if st.Phase != domain.PhaseAwaitingTopic || st.Topic != "" || st.Score != 0 {
		t.Fatalf("unexpected state %+v", st)
	}
	if !h.ctrl.timer.State().Running {
		t.Fatalf("expected countdown restarted for topic selection")
	}

	h.seconds(601)
	if h.ctrl.State().Phase != domain.PhaseAwaitingTopic {
		t.Fatalf("expiry outside a quiz must be ignored, got %s", h.ctrl.State().Phase)
	}
}

func TestCompletionAutoAcknowledges(t *testing.T) {
	h := newHarness(t, nil, WithCompletionDelay(2*time.Second))
	h.startQuiz(t, "Ana", "History")
	ctx := context.Background()

	if _, err := h.ctrl.SubmitScore(ctx, 90); err != nil {
		t.Fatalf("score: %v", err)
	}
	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := h.clock.BlockUntilContext(waitCtx, 1); err != nil {
		t.Fatalf("completion timer not armed: %v", err)
	}
	h.clock.Advance(2 * time.Second)

	deadline := time.Now().Add(5 * time.Second)
	for h.ctrl.State().Phase != domain.PhaseAwaitingTopic {
		if time.Now().After(deadline) {
			t.Fatalf("expected auto acknowledge, still %s", h.ctrl.State().Phase)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestLeaveDiscardsProgress(t *testing.T) {
	h := newHarness(t, nil)
	h.startQuiz(t, "Ana", "History")
	ctx := context.Background()
	_ = h.ctrl.SubmitAnswer(ctx, "h1", "b")

	st, err := h.ctrl.Leave(ctx)
	if err != nil {
		t.Fatalf("leave: %v", err)
	}
	if st.Phase != domain.PhaseAwaitingTopic || st.Topic != "" {
		t.Fatalf("unexpected state %+v", st)
	}
	if v := h.ctrl.View(); v.Answered != 0 || v.ItemCount != 0 {
		t.Fatalf("expected progress discarded, got %+v", v)
	}
	if len(h.ledger.Records()) != 0 {
		t.Fatalf("leaving must not record a result")
	}
	if h.snapshot(t).ActiveTopic != "" {
		t.Fatalf("active topic must be cleared")
	}
}

func TestLogout(t *testing.T) {
	h := newHarness(t, nil)
	h.startQuiz(t, "Ana", "History")

	st, err := h.ctrl.Logout(context.Background())
	if err != nil {
		t.Fatalf("logout: %v", err)
	}
	if st != domain.LoggedOut() {
		t.Fatalf("unexpected state %+v", st)
	}
	snap := h.snapshot(t)
	if snap.ActiveUser != "" || snap.ActiveTopic != "" {
		t.Fatalf("expected session keys cleared, got %+v", snap)
	}
	if len(snap.KnownUsers) != 1 {
		t.Fatalf("logout must keep the registry")
	}
	if h.ctrl.timer.State().Running {
		t.Fatalf("countdown must stop on logout")
	}
}

func TestRemoveUser(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	_, _ = h.ctrl.SubmitName(ctx, "Ana")
	_, _ = h.ctrl.Logout(ctx)
	_, _ = h.ctrl.SubmitName(ctx, "Bob")

	if err := h.ctrl.RemoveUser(ctx, "Bob"); !errors.Is(err, domain.ErrUserActive) {
		t.Fatalf("expected active user rejected, got %v", err)
	}
	if err := h.ctrl.RemoveUser(ctx, "Ana"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if users := h.ctrl.View().KnownUsers; len(users) != 1 || users[0] != "Bob" {
		t.Fatalf("unexpected users %v", users)
	}
}

func TestRehydrate(t *testing.T) {
	store := memory.NewStore()
	seed := localstore.Batch{}
	_ = seed.Put(localstore.KeyKnownUsers, []string{"Ana"})
	_ = seed.Put(localstore.KeyActiveUser, "Ana")
	_ = store.Commit(context.Background(), seed)

	h := newHarness(t, store)
	if st := h.ctrl.State(); st.Phase != domain.PhaseAwaitingTopic || st.User != "Ana" {
		t.Fatalf("expected awaiting topic, got %+v", st)
	}

	topic := localstore.Batch{}
	_ = topic.Put(localstore.KeyActiveTopic, "History")
	_ = store.Commit(context.Background(), topic)

	h = newHarness(t, store)
	st := h.ctrl.State()
	if st.Phase != domain.PhaseInQuiz || st.Topic != "History" {
		t.Fatalf("expected resumed quiz, got %+v", st)
	}
	if v := h.ctrl.View(); !v.Countdown.Running || v.Countdown.RemainingSeconds != 600 || v.ItemCount != 2 {
		t.Fatalf("unexpected view %+v", v)
	}
}

func TestShutdownClearsActiveTopic(t *testing.T) {
	h := newHarness(t, nil)
	h.startQuiz(t, "Ana", "History")

	if err := h.ctrl.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	snap := h.snapshot(t)
	if snap.ActiveTopic != "" || snap.ActiveUser != "Ana" {
		t.Fatalf("expected only the topic cleared, got %+v", snap)
	}

	h = newHarness(t, h.store)
	if h.ctrl.State().Phase != domain.PhaseAwaitingTopic {
		t.Fatalf("restart must land on topic selection")
	}
}

func TestTransitionsRejectedAfterShutdown(t *testing.T) {
	h := newHarness(t, nil)
	h.startQuiz(t, "Ana", "History")
	ctx := context.Background()

	if err := h.ctrl.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if _, err := h.ctrl.Leave(ctx); !errors.Is(err, domain.ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed from leave, got %v", err)
	}
	if _, err := h.ctrl.PickTopic(ctx, "History"); !errors.Is(err, domain.ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed from pick topic, got %v", err)
	}
	if err := h.ctrl.SubmitAnswer(ctx, "h1", "b"); !errors.Is(err, domain.ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed from answer, got %v", err)
	}
	if _, err := h.ctrl.Finish(ctx); !errors.Is(err, domain.ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed from finish, got %v", err)
	}
	if _, err := h.ctrl.Logout(ctx); !errors.Is(err, domain.ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed from logout, got %v", err)
	}

	snap := h.snapshot(t)
	if snap.ActiveTopic != "" {
		t.Fatalf("expected active topic to stay cleared, got %q", snap.ActiveTopic)
	}
	if len(h.ledger.Records()) != 0 {
		t.Fatalf("no result may be recorded after shutdown")
	}
	if h.ctrl.timer.State().Running {
		t.Fatalf("countdown must stay stopped after shutdown")
	}
}

func TestSubscribeReceivesViews(t *testing.T) {
	h := newHarness(t, nil)
	updates, cancel := h.ctrl.Subscribe()
	defer cancel()

	initial := <-updates
	if initial.State.Phase != domain.PhaseLoggedOut {
		t.Fatalf("unexpected initial view %+v", initial)
	}

	_, _ = h.ctrl.SubmitName(context.Background(), "Ana")
	select {
	case v := <-updates:
		if v.State.Phase != domain.PhaseAwaitingTopic || len(v.KnownUsers) != 1 {
			t.Fatalf("unexpected view %+v", v)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected an update after login")
	}
}

func TestSlowSubscriberNeverBlocks(t *testing.T) {
	h := newHarness(t, nil)
	_, cancel := h.ctrl.Subscribe()
	defer cancel()

	h.startQuiz(t, "Ana", "History")
	done := make(chan struct{})
	go func() {
		h.seconds(50)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("ticks blocked on an unread subscriber")
	}
}

func TestSubscribeDuringBroadcastBurst(t *testing.T) {
	h := newHarness(t, nil)
	h.startQuiz(t, "Ana", "History")

	stop := make(chan struct{})
	ticking := make(chan struct{})
	go func() {
		defer close(ticking)
		for {
			select {
			case <-stop:
				return
			default:
				h.seconds(1)
			}
		}
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			updates, cancel := h.ctrl.Subscribe()
			if v := <-updates; v.State.Phase == "" {
				t.Errorf("first view must be populated")
			}
			cancel()
		}
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatalf("subscribe blocked against a busy broadcaster")
	}
	close(stop)
	<-ticking
}

func TestGradeCountsAttemptedItemsOnly(t *testing.T) {
	items := historyItems()
	if got := Grade(items, map[string]string{}); got != 0 {
		t.Fatalf("expected 0 without answers, got %d", got)
	}
	if got := Grade(items, map[string]string{"h1": "b"}); got != 100 {
		t.Fatalf("expected 100, got %d", got)
	}
	if got := Grade(items, map[string]string{"h1": "a", "h2": "a"}); got != 50 {
		t.Fatalf("expected 50, got %d", got)
	}
}

func historyItems() []domain.Item {
	return []domain.Item{
		{
			ID:     "h1",
			Topic:  "History",
			Prompt: "In which year did the Berlin Wall fall?",
			Options: []domain.Option{
				{ID: "a", Text: "1987"},
				{ID: "b", Text: "1989", Correct: true},
			},
		},
		{
			ID:     "h2",
			Topic:  "History",
			Prompt: "Who was the first Roman emperor?",
			Options: []domain.Option{
				{ID: "a", Text: "Augustus", Correct: true},
				{ID: "b", Text: "Nero"},
			},
		},
	}
}
