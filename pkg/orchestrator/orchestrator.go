package orchestrator

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/cartouche-dev/cartouche/pkg/adapters"
	"github.com/cartouche-dev/cartouche/pkg/artifacts"
	"github.com/cartouche-dev/cartouche/pkg/events"
	"github.com/cartouche-dev/cartouche/pkg/session"
	"github.com/cartouche-dev/cartouche/pkg/store"
)

// Phase is the in-memory position of the refinement loop. Only the session
// status is persisted; the phase is always re-entered at idle on resume.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseGenerating Phase = "generating"
	PhaseEvaluating Phase = "evaluating"
	PhaseRefining   Phase = "refining"
	PhaseCompleted  Phase = "completed"
)

// CompletionReason records why a session stopped iterating. When several
// conditions hold at once the strongest wins: an explicit stop beats the
// target score, which beats the iteration cap.
type CompletionReason string

const (
	ReasonStopped       CompletionReason = "stopped"
	ReasonTargetReached CompletionReason = "target_score_reached"
	ReasonMaxIterations CompletionReason = "max_iterations_reached"
)

// Settings tune one refinement loop.
type Settings struct {
	// TargetScore completes the session once a committed turn reaches it.
	// Zero disables the check.
	TargetScore float64

	// MaxIterations caps committed turns. Zero disables the cap.
	MaxIterations int

	// TurnTimeout bounds one full generate+evaluate pass. Zero means no
	// deadline beyond the caller's context.
	TurnTimeout time.Duration

	// PersistRetries bounds re-attempts of a failed store write before the
	// failure surfaces.
	PersistRetries uint64

	Generation adapters.GenerationSettings
	Rubric     adapters.Rubric
}

func (s *Settings) fillDefaults() {
	if s.PersistRetries == 0 {
		s.PersistRetries = 4
	}
	if s.Generation.VariantCount < 1 {
		s.Generation.VariantCount = 1
	}
	if s.Rubric.ScaleMax == 0 {
		s.Rubric = adapters.DefaultRubric()
	}
}

// Deps are the collaborators an orchestrator drives. Locker, Bus and
// Enricher may be nil; locking, progress events and enrichment are then
// skipped.
type Deps struct {
	Store     store.Store
	Locker    store.Locker
	Generator adapters.Generator
	Evaluator adapters.Evaluator
	Refiner   adapters.Refiner
	Enricher  adapters.Enricher
	Artifacts *artifacts.FileStore
	Bus       *events.Bus
}

func (d Deps) validate() error {
	switch {
	case d.Store == nil:
		return errors.New("orchestrator: store is required")
	case d.Generator == nil:
		return errors.New("orchestrator: generator is required")
	case d.Evaluator == nil:
		return errors.New("orchestrator: evaluator is required")
	case d.Refiner == nil:
		return errors.New("orchestrator: refiner is required")
	case d.Artifacts == nil:
		return errors.New("orchestrator: artifact store is required")
	}
	return nil
}

// pendingTurn is a fully generated and evaluated turn whose commit failed.
// It survives in memory so RetryCommit can persist it without paying for
// another generation.
type pendingTurn struct {
	turn session.Turn
}

// Orchestrator drives one session's refinement loop. It is the single
// writer for its session; the lock taken at construction guarantees that
// across processes when a distributed Locker is configured.
type Orchestrator struct {
	deps     Deps
	settings Settings

	mu      sync.Mutex
	sess    *session.Session
	phase   Phase
	release func()
	assets  []adapters.Asset
	pending *pendingTurn
	stopped bool
}

// TurnResult reports one committed turn plus whether it completed the
// session.
type TurnResult struct {
	Turn      session.Turn
	Completed bool
	Reason    CompletionReason
}

// Start creates a new session and returns an orchestrator holding its
// write lock. The initial request becomes the first working prompt.
func Start(ctx context.Context, deps Deps, settings Settings, initialRequest string, inputs []adapters.Asset) (*Orchestrator, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(initialRequest) == "" {
		return nil, errors.New("orchestrator: empty initial request")
	}
	settings.fillDefaults()

	id := uuid.NewString()
	release, err := acquire(ctx, deps.Locker, id)
	if err != nil {
		return nil, err
	}
	sess, err := deps.Store.Create(ctx, id, initialRequest)
	if err != nil {
		release()
		return nil, errors.Wrap(err, "orchestrator: create session")
	}
	log.Info().Str("session_id", id).Msg("orchestrator: session started")

	o := &Orchestrator{
		deps:     deps,
		settings: settings,
		sess:     sess,
		phase:    PhaseIdle,
		release:  release,
		assets:   inputs,
	}
	o.publish(ctx, events.Event{Type: events.SessionStarted, SessionID: id})
	return o, nil
}

// Resume reattaches to an existing session. The next turn number and the
// working prompt come straight from the persisted record; committed turns
// are never replayed.
func Resume(ctx context.Context, deps Deps, settings Settings, sessionID string) (*Orchestrator, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	settings.fillDefaults()

	release, err := acquire(ctx, deps.Locker, sessionID)
	if err != nil {
		return nil, err
	}
	sess, err := deps.Store.Get(ctx, sessionID)
	if err != nil {
		release()
		return nil, err
	}
	if sess.Status == session.StatusCompleted {
		release()
		return nil, errors.Wrapf(ErrSessionCompleted, "session %s", sessionID)
	}
	log.Info().
		Str("session_id", sessionID).
		Int("next_turn", sess.NextTurnNumber()).
		Msg("orchestrator: session resumed")

	return &Orchestrator{
		deps:     deps,
		settings: settings,
		sess:     sess,
		phase:    PhaseIdle,
		release:  release,
	}, nil
}

func acquire(ctx context.Context, locker store.Locker, sessionID string) (func(), error) {
	if locker == nil {
		return func() {}, nil
	}
	release, err := locker.Acquire(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return release, nil
}

// Session returns a snapshot of the current in-memory session.
func (o *Orchestrator) Session() session.Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	return *o.sess
}

// Phase returns the loop's current in-memory phase.
func (o *Orchestrator) Phase() Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phase
}

// SetAssets replaces the reference inputs used by subsequent generations.
func (o *Orchestrator) SetAssets(inputs []adapters.Asset) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.assets = inputs
}

// RunTurn executes one generate+evaluate+commit cycle with the current
// working prompt. A provider failure discards the turn and leaves the
// session record untouched. A commit failure keeps the generated turn in
// memory for RetryCommit.
func (o *Orchestrator) RunTurn(ctx context.Context) (*TurnResult, error) {
	o.mu.Lock()
	if o.pending != nil {
		o.mu.Unlock()
		return nil, ErrUncommittedTurn
	}
	if o.phase == PhaseCompleted || o.sess.Status == session.StatusCompleted {
		o.mu.Unlock()
		return nil, ErrSessionCompleted
	}
	o.phase = PhaseGenerating
	prompt := o.sess.CurrentState.Prompt
	turnNumber := o.sess.NextTurnNumber()
	inputs := o.assets
	o.mu.Unlock()

	if o.settings.TurnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.settings.TurnTimeout)
		defer cancel()
	}

	o.publish(ctx, events.Event{
		Type:       events.TurnGenerating,
		SessionID:  o.sess.ID,
		TurnNumber: turnNumber,
		Variants:   o.settings.Generation.VariantCount,
	})

	prompt, err := o.enrichPrompt(ctx, prompt)
	if err != nil {
		return nil, o.failTurn(ctx, turnNumber, &AdapterError{Stage: "enrichment", Err: err})
	}

	result, err := o.deps.Generator.Generate(ctx, prompt, inputs, o.settings.Generation)
	if err != nil {
		return nil, o.failTurn(ctx, turnNumber, &AdapterError{Stage: "generation", Err: err})
	}
	if len(result.Artifacts) == 0 {
		return nil, o.failTurn(ctx, turnNumber, &AdapterError{Stage: "generation", Err: adapters.ErrNoArtifact})
	}

	o.setPhase(PhaseEvaluating)
	o.publish(ctx, events.Event{
		Type:       events.TurnEvaluating,
		SessionID:  o.sess.ID,
		TurnNumber: turnNumber,
		Variants:   len(result.Artifacts),
	})

	variants, err := o.evaluateVariants(ctx, result.Artifacts)
	if err != nil {
		return nil, o.failTurn(ctx, turnNumber, &AdapterError{Stage: "evaluation", Err: err})
	}

	refs, err := o.writeArtifacts(turnNumber, result.Artifacts)
	if err != nil {
		return nil, o.failTurn(ctx, turnNumber, errors.Wrap(err, "orchestrator: store artifacts"))
	}
	for i := range variants {
		variants[i].Ref = refs[i]
	}

	selected := session.SelectVariant(variants)
	turn := session.Turn{
		TurnNumber:      turnNumber,
		PromptUsed:      prompt,
		Artifacts:       variants,
		SelectedVariant: selected,
		Score:           variants[selected].Score,
		Feedback:        variants[selected].Feedback,
		CreatedAt:       time.Now(),
	}

	return o.commit(ctx, turn)
}

// RetryCommit re-attempts persisting the turn left over from a failed
// commit. Nothing is regenerated or re-evaluated.
func (o *Orchestrator) RetryCommit(ctx context.Context) (*TurnResult, error) {
	o.mu.Lock()
	if o.pending == nil {
		o.mu.Unlock()
		return nil, ErrNoPendingTurn
	}
	turn := o.pending.turn
	o.mu.Unlock()
	return o.commit(ctx, turn)
}

func (o *Orchestrator) commit(ctx context.Context, turn session.Turn) (*TurnResult, error) {
	err := o.persistWithRetry(ctx, "append turn", func() error {
		return o.deps.Store.AppendTurn(ctx, o.sess.ID, turn)
	})
	if err != nil {
		o.mu.Lock()
		o.pending = &pendingTurn{turn: turn}
		o.phase = PhaseIdle
		o.mu.Unlock()
		return nil, err
	}

	o.mu.Lock()
	o.pending = nil
	o.sess.Turns = append(o.sess.Turns, turn)
	o.phase = PhaseIdle
	o.mu.Unlock()

	// The turn is durable before anyone hears about it.
	o.publish(ctx, events.Event{
		Type:       events.TurnCommitted,
		SessionID:  o.sess.ID,
		TurnNumber: turn.TurnNumber,
		Variants:   len(turn.Artifacts),
		Score:      turn.Score,
	})
	log.Debug().
		Str("session_id", o.sess.ID).
		Int("turn", turn.TurnNumber).
		Msg("orchestrator: turn committed")

	res := &TurnResult{Turn: turn}
	if reason, done := o.terminationReason(turn); done {
		if err := o.complete(ctx, reason); err != nil {
			return res, err
		}
		res.Completed = true
		res.Reason = reason
	}
	return res, nil
}

// terminationReason applies the completion checks in precedence order
// against the just-committed turn.
func (o *Orchestrator) terminationReason(turn session.Turn) (CompletionReason, bool) {
	o.mu.Lock()
	stopped := o.stopped
	turnCount := len(o.sess.Turns)
	o.mu.Unlock()

	if stopped {
		return ReasonStopped, true
	}
	if o.settings.TargetScore > 0 && turn.Score != nil && *turn.Score >= o.settings.TargetScore {
		return ReasonTargetReached, true
	}
	if o.settings.MaxIterations > 0 && turnCount >= o.settings.MaxIterations {
		return ReasonMaxIterations, true
	}
	return "", false
}

// Refine rewrites the working prompt from the latest turn. With explicit
// user feedback it is folded in verbatim; otherwise the selected variant's
// evaluator feedback drives the rewrite.
func (o *Orchestrator) Refine(ctx context.Context, userFeedback string) (*session.State, error) {
	o.mu.Lock()
	if o.pending != nil {
		o.mu.Unlock()
		return nil, ErrUncommittedTurn
	}
	if o.phase == PhaseCompleted || o.sess.Status == session.StatusCompleted {
		o.mu.Unlock()
		return nil, ErrSessionCompleted
	}
	if len(o.sess.Turns) == 0 {
		o.mu.Unlock()
		return nil, errors.New("orchestrator: nothing to refine before the first turn")
	}
	o.phase = PhaseRefining
	history := turnHistory(o.sess.Turns)
	currentPrompt := o.sess.CurrentState.Prompt
	last := o.sess.Turns[len(o.sess.Turns)-1]
	o.mu.Unlock()

	feedback := strings.TrimSpace(userFeedback)
	if feedback == "" {
		feedback = synthesizeFeedback(last)
	}

	ref, err := o.deps.Refiner.Refine(ctx, history, currentPrompt, feedback)
	if err != nil {
		o.setPhase(PhaseIdle)
		return nil, &AdapterError{Stage: "refinement", Err: err}
	}
	st := session.State{
		Prompt:    ref.NewPrompt,
		Rationale: ref.Rationale,
		UpdatedAt: time.Now(),
	}
	err = o.persistWithRetry(ctx, "update state", func() error {
		return o.deps.Store.UpdateState(ctx, o.sess.ID, st)
	})
	if err != nil {
		o.setPhase(PhaseIdle)
		return nil, err
	}

	o.mu.Lock()
	o.sess.CurrentState = st
	o.phase = PhaseIdle
	o.mu.Unlock()

	o.publish(ctx, events.Event{
		Type:      events.StateRefined,
		SessionID: o.sess.ID,
		Message:   ref.Rationale,
	})
	return &st, nil
}

// Stop requests completion. The session is marked completed immediately
// when the loop is idle; mid-turn the request takes effect at the next
// commit, where it outranks every other termination condition.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	o.stopped = true
	idle := o.phase == PhaseIdle && o.sess.Status == session.StatusActive
	o.mu.Unlock()

	if !idle {
		return nil
	}
	return o.complete(ctx, ReasonStopped)
}

func (o *Orchestrator) complete(ctx context.Context, reason CompletionReason) error {
	err := o.persistWithRetry(ctx, "update status", func() error {
		return o.deps.Store.UpdateStatus(ctx, o.sess.ID, session.StatusCompleted)
	})
	if err != nil {
		return err
	}
	o.mu.Lock()
	o.sess.Status = session.StatusCompleted
	o.phase = PhaseCompleted
	o.mu.Unlock()

	o.publish(ctx, events.Event{
		Type:      events.SessionCompleted,
		SessionID: o.sess.ID,
		Reason:    string(reason),
	})
	log.Info().
		Str("session_id", o.sess.ID).
		Str("reason", string(reason)).
		Msg("orchestrator: session completed")
	return nil
}

// Close releases the session lock. The session itself stays as persisted.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	release := o.release
	o.release = nil
	o.mu.Unlock()
	if release != nil {
		release()
	}
}

// enrichPrompt runs the optional context lookup and folds a non-empty
// result into the generation prompt. An empty result changes nothing.
func (o *Orchestrator) enrichPrompt(ctx context.Context, prompt string) (string, error) {
	if o.deps.Enricher == nil {
		return prompt, nil
	}
	extra, err := o.deps.Enricher.Enrich(ctx, prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(extra) == "" {
		return prompt, nil
	}
	return prompt + "\n\nAdditional context:\n" + extra, nil
}

func (o *Orchestrator) evaluateVariants(ctx context.Context, generated []adapters.GeneratedArtifact) ([]session.Artifact, error) {
	variants := make([]session.Artifact, len(generated))
	evalCtx := adapters.EvalContext{
		OriginalRequest: o.sess.InitialRequest,
		Rubric:          o.settings.Rubric,
	}
	g, ctx := errgroup.WithContext(ctx)
	for i := range generated {
		i := i
		g.Go(func() error {
			ev, err := o.deps.Evaluator.Evaluate(ctx, generated[i], evalCtx)
			if err != nil {
				return errors.Wrapf(err, "variant %d", i)
			}
			score := ev.Score
			fb := ev.Feedback
			variants[i] = session.Artifact{
				Index:     i,
				MediaType: generated[i].MediaType,
				Score:     &score,
				Feedback:  &fb,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return variants, nil
}

func (o *Orchestrator) writeArtifacts(turnNumber int, generated []adapters.GeneratedArtifact) ([]string, error) {
	refs := make([]string, len(generated))
	for i, a := range generated {
		ref, err := o.deps.Artifacts.Write(o.sess.ID, turnNumber, i, a.MediaType, a.Data)
		if err != nil {
			return nil, err
		}
		refs[i] = ref
	}
	return refs, nil
}

// failTurn discards the in-flight turn. Nothing was persisted, so the
// session record still reflects the last committed turn.
func (o *Orchestrator) failTurn(ctx context.Context, turnNumber int, err error) error {
	o.setPhase(PhaseIdle)
	o.publish(ctx, events.Event{
		Type:       events.TurnFailed,
		SessionID:  o.sess.ID,
		TurnNumber: turnNumber,
		Message:    err.Error(),
	})
	log.Warn().
		Str("session_id", o.sess.ID).
		Int("turn", turnNumber).
		Err(err).
		Msg("orchestrator: turn discarded")
	return err
}

func (o *Orchestrator) persistWithRetry(ctx context.Context, op string, fn func() error) error {
	attempts := 0
	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), o.settings.PersistRetries), ctx)
	err := backoff.Retry(func() error {
		attempts++
		err := fn()
		if err == nil {
			return nil
		}
		if session.IsInvariantViolation(err) || errors.Is(err, session.ErrNotFound) {
			return backoff.Permanent(err)
		}
		log.Warn().Str("op", op).Int("attempt", attempts).Err(err).
			Msg("orchestrator: store write failed, backing off")
		return err
	}, bo)
	if err == nil {
		return nil
	}
	if session.IsInvariantViolation(err) || errors.Is(err, session.ErrNotFound) {
		return err
	}
	return &PersistenceError{Op: op, Attempts: attempts, Err: err}
}

func (o *Orchestrator) setPhase(p Phase) {
	o.mu.Lock()
	o.phase = p
	o.mu.Unlock()
}

func (o *Orchestrator) publish(ctx context.Context, ev events.Event) {
	if o.deps.Bus == nil {
		return
	}
	if err := o.deps.Bus.Publish(ctx, ev); err != nil {
		log.Warn().Err(err).Str("type", string(ev.Type)).Msg("orchestrator: event publish failed")
	}
}

func turnHistory(turns []session.Turn) []adapters.TurnSummary {
	out := make([]adapters.TurnSummary, 0, len(turns))
	for _, t := range turns {
		s := adapters.TurnSummary{
			TurnNumber: t.TurnNumber,
			Prompt:     t.PromptUsed,
			Score:      t.Score,
		}
		if t.Feedback != nil {
			s.Feedback = flattenFeedback(*t.Feedback)
		}
		out = append(out, s)
	}
	return out
}

// synthesizeFeedback turns the evaluator verdict of the last turn into the
// refiner's feedback text when the user gave none.
func synthesizeFeedback(last session.Turn) string {
	if last.Feedback == nil || last.Feedback.Empty() {
		return "No specific feedback was recorded. Improve overall fidelity to the original request."
	}
	return flattenFeedback(*last.Feedback)
}

func flattenFeedback(fb session.Feedback) string {
	var parts []string
	if len(fb.Issues) > 0 {
		parts = append(parts, "Issues: "+strings.Join(fb.Issues, "; "))
	}
	if len(fb.SuggestedImprovements) > 0 {
		parts = append(parts, "Suggested improvements: "+strings.Join(fb.SuggestedImprovements, "; "))
	}
	if len(fb.Strengths) > 0 {
		parts = append(parts, "Keep: "+strings.Join(fb.Strengths, "; "))
	}
	if len(parts) == 0 {
		return strings.TrimSpace(fb.Raw)
	}
	return strings.Join(parts, "\n")
}
