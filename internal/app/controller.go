package app

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"selfquiz/internal/countdown"
	"selfquiz/internal/domain"
	"selfquiz/internal/localstore"
)

// DefaultCompletionDelay is how long a completed quiz stays on screen before
// the session returns to topic selection on its own.
const DefaultCompletionDelay = 2 * time.Second

// Controller is the session state machine. There is one per process; every
// transition runs to completion under mu and persists resumption state
// before it becomes visible.
type Controller struct {
	ledger          *Ledger
	store           localstore.Store
	content         ContentProvider
	clock           clockwork.Clock
	timer           *countdown.Timer
	tickInterval    time.Duration
	completionDelay time.Duration

	mu          sync.Mutex
	state       domain.SessionState
	items       []domain.Item
	answers     map[string]string
	cycle       uint64
	ackTimer    clockwork.Timer
	ackSeq      uint64
	subscribers map[chan domain.SessionView]struct{}
	closed      bool
}

type ControllerOption func(*Controller)

func WithClock(clock clockwork.Clock) ControllerOption {
	return func(c *Controller) { c.clock = clock }
}

func WithTickInterval(d time.Duration) ControllerOption {
	return func(c *Controller) { c.tickInterval = d }
}

// WithCompletionDelay sets the auto-acknowledge delay; zero disables it.
func WithCompletionDelay(d time.Duration) ControllerOption {
	return func(c *Controller) { c.completionDelay = d }
}

// NewController rehydrates the session from the local store.
func NewController(ctx context.Context, ledger *Ledger, store localstore.Store, content ContentProvider, opts ...ControllerOption) (*Controller, error) {
	c := &Controller{
		ledger:          ledger,
		store:           store,
		content:         content,
		clock:           clockwork.NewRealClock(),
		tickInterval:    countdown.DefaultInterval,
		completionDelay: DefaultCompletionDelay,
		state:           domain.LoggedOut(),
		answers:         make(map[string]string),
		subscribers:     make(map[chan domain.SessionView]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.timer = countdown.New(c.clock,
		countdown.WithInterval(c.tickInterval),
		countdown.WithExpiry(c.handleExpiry),
		countdown.WithTick(c.handleTick),
	)

	snap, err := localstore.Load(ctx, store)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "rehydrate", Err: err}
	}
	c.rehydrate(ctx, snap)
	return c, nil
}

func (c *Controller) rehydrate(ctx context.Context, snap localstore.Snapshot) {
	switch {
	case snap.ActiveUser == "":
		return
	case snap.ActiveTopic == "":
		c.state = domain.SessionState{Phase: domain.PhaseAwaitingTopic, User: snap.ActiveUser, Settings: domain.DefaultSettings()}
	default:
		c.state = domain.SessionState{
			Phase:    domain.PhaseInQuiz,
			User:     snap.ActiveUser,
			Topic:    snap.ActiveTopic,
			Settings: domain.DefaultSettings(),
		}
		items, err := c.content.Items(ctx, snap.ActiveTopic)
		if err != nil {
			log.Warn().Err(err).Str("topic", snap.ActiveTopic).Msg("could not reload quiz items")
		}
		c.items = items
		c.cycle = c.timer.Start(c.state.Settings.TimeLimit)
	}
	log.Info().
		Str("phase", string(c.state.Phase)).
		Str("user", c.state.User).
		Str("topic", c.state.Topic).
		Msg("session rehydrated")
}

// Run drives the countdown until ctx is done.
func (c *Controller) Run(ctx context.Context) error {
	return c.timer.Run(ctx)
}

// State returns the current session state by value.
func (c *Controller) State() domain.SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// View returns the current session snapshot.
func (c *Controller) View() domain.SessionView {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewLocked()
}

// Items returns the quiz items of the running quiz, capped at the question count.
func (c *Controller) Items() []domain.Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.activeItemsLocked())
}

// SubmitName logs a user in, registering unknown names in the same commit.
func (c *Controller) SubmitName(ctx context.Context, raw string) (domain.SessionState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return c.state, domain.ErrSessionClosed
	}
	if c.state.Phase != domain.PhaseLoggedOut {
		return c.state, c.invalidLocked("submit name")
	}
	name, err := domain.ValidateName(raw)
	if err != nil {
		loginAttempts.WithLabelValues("rejected").Inc()
		return c.state, err
	}

	batch := localstore.Batch{}
	if err := batch.Put(localstore.KeyActiveUser, name); err != nil {
		return c.state, &domain.PersistenceError{Op: "login", Err: err}
	}
	batch.Delete(localstore.KeyActiveTopic)
	registered, err := c.ledger.Admit(ctx, name, batch)
	if err != nil {
		return c.state, err
	}

	c.state = domain.SessionState{Phase: domain.PhaseAwaitingTopic, User: name, Settings: domain.DefaultSettings()}
	if registered {
		loginAttempts.WithLabelValues("new").Inc()
	} else {
		loginAttempts.WithLabelValues("returning").Inc()
	}
	log.Info().Str("user", name).Bool("new", registered).Msg("user logged in")
	c.broadcastLocked()
	return c.state, nil
}

// PickTopic starts a quiz on topic with the current settings.
func (c *Controller) PickTopic(ctx context.Context, topic string) (domain.SessionState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return c.state, domain.ErrSessionClosed
	}
	if c.state.Phase != domain.PhaseAwaitingTopic {
		return c.state, c.invalidLocked("pick topic")
	}
	if topic == "" {
		return c.state, domain.ErrTopicRequired
	}
	items, err := c.content.Items(ctx, topic)
	if err != nil {
		return c.state, fmt.Errorf("load topic %q: %w", topic, err)
	}

	batch := localstore.Batch{}
	if err := batch.Put(localstore.KeyActiveTopic, topic); err != nil {
		return c.state, &domain.PersistenceError{Op: "pick topic", Err: err}
	}
	if err := c.store.Commit(ctx, batch); err != nil {
		return c.state, &domain.PersistenceError{Op: "pick topic", Err: err}
	}

	c.state = domain.SessionState{
		Phase:    domain.PhaseInQuiz,
		User:     c.state.User,
		Topic:    topic,
		Settings: c.state.Settings,
	}
	c.items = items
	c.answers = make(map[string]string)
	c.cycle = c.timer.Start(c.state.Settings.TimeLimit)
	quizzesStarted.Inc()
	log.Info().
		Str("user", c.state.User).
		Str("topic", topic).
		Int("items", len(c.activeItemsLocked())).
		Int("time_limit", c.state.Settings.TimeLimit).
		Msg("quiz started")
	c.broadcastLocked()
	return c.state, nil
}

// ApplySettings replaces the quiz settings. During a quiz the countdown
// restarts at the new time limit.
func (c *Controller) ApplySettings(_ context.Context, settings domain.QuizSettings) (domain.SessionState, error) {
	if err := settings.Validate(); err != nil {
		return c.State(), err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return c.state, domain.ErrSessionClosed
	}
	switch c.state.Phase {
	case domain.PhaseAwaitingTopic:
		c.state.Settings = settings
	case domain.PhaseInQuiz:
		c.state.Settings = settings
		c.cycle = c.timer.Start(settings.TimeLimit)
		log.Debug().Int("time_limit", settings.TimeLimit).Msg("settings changed, countdown restarted")
	default:
		return c.state, c.invalidLocked("apply settings")
	}
	c.broadcastLocked()
	return c.state, nil
}

// SubmitAnswer records the chosen option for an item. Answers are frozen once time is up.
func (c *Controller) SubmitAnswer(_ context.Context, itemID, optionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return domain.ErrSessionClosed
	}
	switch c.state.Phase {
	case domain.PhaseInQuiz:
	case domain.PhaseExpired:
		return domain.ErrAnswersFrozen
	default:
		return c.invalidLocked("answer")
	}

	items := c.activeItemsLocked()
	idx := slices.IndexFunc(items, func(it domain.Item) bool { return it.ID == itemID })
	if idx < 0 {
		return domain.ErrItemNotFound
	}
	if !slices.ContainsFunc(items[idx].Options, func(o domain.Option) bool { return o.ID == optionID }) {
		return domain.ErrOptionNotFound
	}
	c.answers[itemID] = optionID
	c.broadcastLocked()
	return nil
}

// Finish grades the captured answers and completes the quiz.
func (c *Controller) Finish(ctx context.Context) (domain.SessionState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return c.state, domain.ErrSessionClosed
	}
	if c.state.Phase != domain.PhaseInQuiz && c.state.Phase != domain.PhaseExpired {
		return c.state, c.invalidLocked("finish")
	}
	return c.completeLocked(ctx, Grade(c.activeItemsLocked(), c.answers))
}

// SubmitScore completes the quiz with a score graded elsewhere.
func (c *Controller) SubmitScore(ctx context.Context, score int) (domain.SessionState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return c.state, domain.ErrSessionClosed
	}
	if c.state.Phase != domain.PhaseInQuiz && c.state.Phase != domain.PhaseExpired {
		return c.state, c.invalidLocked("submit score")
	}
	if err := domain.ValidateScore(score); err != nil {
		return c.state, err
	}
	return c.completeLocked(ctx, score)
}

func (c *Controller) completeLocked(ctx context.Context, score int) (domain.SessionState, error) {
	attempt := domain.Attempt{
		Username:       c.state.User,
		Topic:          c.state.Topic,
		Score:          score,
		QuestionCount:  c.state.Settings.QuestionCount,
		CognitiveLevel: c.state.Settings.CognitiveLevel,
	}
	batch := localstore.Batch{}
	batch.Delete(localstore.KeyActiveTopic)
	if _, err := c.ledger.RecordResult(ctx, attempt, batch); err != nil {
		return c.state, err
	}

	c.timer.Stop()
	c.state = domain.SessionState{
		Phase:    domain.PhaseCompleted,
		User:     attempt.Username,
		Topic:    attempt.Topic,
		Settings: c.state.Settings,
		Score:    score,
	}
	c.items = nil
	c.answers = make(map[string]string)
	c.scheduleAckLocked()
	c.broadcastLocked()
	return c.state, nil
}

// Acknowledge leaves the completion screen.
func (c *Controller) Acknowledge(ctx context.Context) (domain.SessionState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return c.state, domain.ErrSessionClosed
	}
	if c.state.Phase != domain.PhaseCompleted {
		return c.state, c.invalidLocked("acknowledge")
	}
	return c.backToTopicsLocked(ctx)
}

// Leave abandons the current quiz, discarding progress.
func (c *Controller) Leave(ctx context.Context) (domain.SessionState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return c.state, domain.ErrSessionClosed
	}
	switch c.state.Phase {
	case domain.PhaseAwaitingTopic, domain.PhaseInQuiz, domain.PhaseExpired:
	default:
		return c.state, c.invalidLocked("leave")
	}
	return c.backToTopicsLocked(ctx)
}

func (c *Controller) backToTopicsLocked(ctx context.Context) (domain.SessionState, error) {
	batch := localstore.Batch{}
	batch.Delete(localstore.KeyActiveTopic)
	if err := c.store.Commit(ctx, batch); err != nil {
		return c.state, &domain.PersistenceError{Op: "clear topic", Err: err}
	}

	c.cancelAckLocked()
	c.state = domain.SessionState{
		Phase:    domain.PhaseAwaitingTopic,
		User:     c.state.User,
		Settings: domain.DefaultSettings(),
	}
	c.items = nil
	c.answers = make(map[string]string)
	c.cycle = c.timer.Start(c.state.Settings.TimeLimit)
	c.broadcastLocked()
	return c.state, nil
}

// Logout ends the session from any phase.
func (c *Controller) Logout(ctx context.Context) (domain.SessionState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return c.state, domain.ErrSessionClosed
	}
	batch := localstore.Batch{}
	batch.Delete(localstore.KeyActiveUser)
	batch.Delete(localstore.KeyActiveTopic)
	if err := c.store.Commit(ctx, batch); err != nil {
		return c.state, &domain.PersistenceError{Op: "logout", Err: err}
	}

	user := c.state.User
	c.timer.Stop()
	c.cancelAckLocked()
	c.state = domain.LoggedOut()
	c.items = nil
	c.answers = make(map[string]string)
	if user != "" {
		log.Info().Str("user", user).Msg("user logged out")
	}
	c.broadcastLocked()
	return c.state, nil
}

// RemoveUser deletes a registered user and their history. The logged-in user cannot be removed.
func (c *Controller) RemoveUser(ctx context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return domain.ErrSessionClosed
	}
	if c.state.Phase != domain.PhaseLoggedOut && c.state.User == name {
		return domain.ErrUserActive
	}
	if err := c.ledger.RemoveUser(ctx, name); err != nil {
		return err
	}
	c.broadcastLocked()
	return nil
}

// UploadContent forwards extracted study material for the logged-in user.
func (c *Controller) UploadContent(_ context.Context, content string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return domain.ErrSessionClosed
	}
	if c.state.Phase == domain.PhaseLoggedOut {
		return c.invalidLocked("upload content")
	}
	c.ledger.SaveCustomContent(c.state.User, content)
	return nil
}

// History returns the logged-in user's results.
func (c *Controller) History() []domain.ResultRecord {
	c.mu.Lock()
	user := c.state.User
	c.mu.Unlock()
	if user == "" {
		return []domain.ResultRecord{}
	}
	return c.ledger.Results(user)
}

// Shutdown is the process lifecycle hook: it closes the controller to further
// transitions, clears the active topic so a restart never resumes a stale
// quiz, then waits for background syncs.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.timer.Stop()
	c.cancelAckLocked()
	batch := localstore.Batch{}
	batch.Delete(localstore.KeyActiveTopic)
	err := c.store.Commit(ctx, batch)
	c.mu.Unlock()
	if err != nil {
		return &domain.PersistenceError{Op: "shutdown", Err: err}
	}
	return c.ledger.Wait(ctx)
}

// Subscribe returns a channel that receives a view on every change.
// The caller must invoke the returned cancel function to avoid leaks.
func (c *Controller) Subscribe() (<-chan domain.SessionView, func()) {
	ch := make(chan domain.SessionView, 8)

	c.mu.Lock()
	c.subscribers[ch] = struct{}{}
	ch <- c.viewLocked()
	c.mu.Unlock()

	cancel := func() {
		c.mu.Lock()
		if _, ok := c.subscribers[ch]; ok {
			delete(c.subscribers, ch)
			close(ch)
		}
		c.mu.Unlock()
	}
	return ch, cancel
}

func (c *Controller) handleExpiry(cycle uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || cycle != c.cycle || c.state.Phase != domain.PhaseInQuiz {
		return
	}
	c.state.Phase = domain.PhaseExpired
	quizzesExpired.Inc()
	log.Info().Str("user", c.state.User).Str("topic", c.state.Topic).Msg("time is up")
	c.broadcastLocked()
}

func (c *Controller) handleTick(_ uint64, _ countdown.State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.broadcastLocked()
}

func (c *Controller) scheduleAckLocked() {
	c.cancelAckLocked()
	if c.completionDelay <= 0 {
		return
	}
	seq := c.ackSeq
	c.ackTimer = c.clock.AfterFunc(c.completionDelay, func() {
		c.autoAcknowledge(seq)
	})
}

func (c *Controller) cancelAckLocked() {
	c.ackSeq++
	if c.ackTimer != nil {
		c.ackTimer.Stop()
		c.ackTimer = nil
	}
}

func (c *Controller) autoAcknowledge(seq uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || seq != c.ackSeq || c.state.Phase != domain.PhaseCompleted {
		return
	}
	if _, err := c.backToTopicsLocked(context.Background()); err != nil {
		log.Error().Err(err).Str("user", c.state.User).Msg("auto acknowledge failed")
	}
}

func (c *Controller) activeItemsLocked() []domain.Item {
	n := c.state.Settings.QuestionCount
	if n <= 0 || n > len(c.items) {
		return c.items
	}
	return c.items[:n]
}

func (c *Controller) invalidLocked(event string) error {
	return fmt.Errorf("%w: %s while %s", domain.ErrInvalidTransition, event, c.state.Phase)
}

func (c *Controller) viewLocked() domain.SessionView {
	st := c.timer.State()
	return domain.SessionView{
		State: c.state,
		Countdown: domain.CountdownView{
			RemainingSeconds: st.RemainingSeconds,
			Running:          st.Running,
			Display:          countdown.Format(st.RemainingSeconds),
		},
		ItemCount:  len(c.activeItemsLocked()),
		Answered:   len(c.answers),
		KnownUsers: c.ledger.KnownUsers(),
	}
}

func (c *Controller) broadcastLocked() {
	view := c.viewLocked()
	for ch := range c.subscribers {
		select {
		case ch <- view:
		default:
			// Drop the oldest queued view so a slow subscriber never blocks a transition.
			select {
			case <-ch:
			default:
			}
			ch <- view
		}
	}
}
