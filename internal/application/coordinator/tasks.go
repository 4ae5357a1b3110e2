package coordinator

import (
	"context"
	"time"

	"github.com/blackms/swarm-core/internal/shared"
)

// transitions lists the legal task state changes.
var transitions = map[shared.TaskState][]shared.TaskState{
	shared.TaskStateReceived:     {shared.TaskStateAnalyzed, shared.TaskStateRejected},
	shared.TaskStateAnalyzed:     {shared.TaskStateRejected, shared.TaskStateDeferred, shared.TaskStateCoordinating},
	shared.TaskStateCoordinating: {shared.TaskStateCompleted, shared.TaskStatePartiallyFailed},
}

func canTransition(from, to shared.TaskState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// TaskReport is the settled view of a submitted task.
type TaskReport struct {
	TaskRef  string              `json:"taskRef"`
	TaskID   string              `json:"taskId"`
	State    shared.TaskState    `json:"state"`
	Decision *shared.Decision    `json:"decision,omitempty"`
	Outcome  *shared.WaveOutcome `json:"outcome,omitempty"`
	Error    string              `json:"error,omitempty"`
}

type taskRecord struct {
	ref      string
	task     shared.Task
	state    shared.TaskState
	decision *shared.Decision
	outcome  *shared.WaveOutcome
	err      error
	slots    int
	done     chan struct{}
}

// transition moves rec to state. Callers hold q.mu.
func (q *Queen) transitionLocked(rec *taskRecord, to shared.TaskState) error {
	if !canTransition(rec.state, to) {
		return shared.NewInvalidStateError("illegal task state transition", map[string]interface{}{
			"taskRef": rec.ref,
			"from":    rec.state,
			"to":      to,
		})
	}
	rec.state = to
	if to.IsTerminal() {
		close(rec.done)
		q.retainLocked(rec)
	}
	return nil
}

// retainLocked tracks a settled record and drops the oldest settled records
// beyond RetainSettled. Records still in flight are never dropped.
func (q *Queen) retainLocked(rec *taskRecord) {
	if _, ok := q.tasks[rec.ref]; !ok {
		return
	}
	q.settled = append(q.settled, rec.ref)
	limit := q.config.RetainSettled
	if limit <= 0 {
		return
	}
	for len(q.settled) > limit {
		delete(q.tasks, q.settled[0])
		q.settled = q.settled[1:]
	}
}

func (q *Queen) transition(rec *taskRecord, to shared.TaskState) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.transitionLocked(rec, to)
}

// fail settles rec in state with err.
func (q *Queen) fail(rec *taskRecord, state shared.TaskState, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	rec.err = err
	if terr := q.transitionLocked(rec, state); terr != nil {
		q.logger.Error("task state", "task", rec.task.ID, "error", terr)
	}
}

// SubmitTask is the ingress contract. Analysis and decision run
// synchronously; on proceed the wave runs in the background until Close.
func (q *Queen) SubmitTask(ctx context.Context, t shared.Task) (shared.Submission, error) {
	rec, analysis, decision, err := q.admit(ctx, t)
	if err != nil {
		return shared.Submission{}, err
	}
	sub := shared.Submission{
		Accepted: decision.Outcome == shared.OutcomeProceed,
		TaskRef:  rec.ref,
		Decision: decision,
	}
	if !sub.Accepted {
		return sub, nil
	}

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		q.runWave(q.ctx, rec, analysis)
	}()
	return sub, nil
}

// Process runs the full pipeline on the caller's goroutine and returns the
// settled report.
func (q *Queen) Process(ctx context.Context, t shared.Task) (TaskReport, error) {
	rec, analysis, decision, err := q.admit(ctx, t)
	if err != nil {
		return TaskReport{}, err
	}
	if decision.Outcome == shared.OutcomeProceed {
		q.runWave(ctx, rec, analysis)
	}
	return q.report(rec), nil
}

// Await blocks until the task identified by ref reaches a terminal state.
func (q *Queen) Await(ctx context.Context, ref string) (TaskReport, error) {
	q.mu.RLock()
	rec, ok := q.tasks[ref]
	q.mu.RUnlock()
	if !ok {
		return TaskReport{}, shared.NewValidationError("unknown task reference", map[string]interface{}{"taskRef": ref})
	}

	select {
	case <-rec.done:
		return q.report(rec), nil
	case <-ctx.Done():
		return TaskReport{}, ctx.Err()
	}
}

// TaskState returns the current state of a submitted task.
func (q *Queen) TaskState(ref string) (shared.TaskState, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	rec, ok := q.tasks[ref]
	if !ok {
		return "", false
	}
	return rec.state, true
}

func (q *Queen) report(rec *taskRecord) TaskReport {
	q.mu.RLock()
	defer q.mu.RUnlock()
	r := TaskReport{
		TaskRef:  rec.ref,
		TaskID:   rec.task.ID,
		State:    rec.state,
		Decision: rec.decision,
		Outcome:  rec.outcome,
	}
	if rec.err != nil {
		r.Error = rec.err.Error()
	}
	return r
}

// admit tracks t, analyzes it and records a decision.
func (q *Queen) admit(ctx context.Context, t shared.Task) (*taskRecord, shared.TaskAnalysis, shared.Decision, error) {
	if q.ctx.Err() != nil {
		return nil, shared.TaskAnalysis{}, shared.Decision{}, shared.NewCoordinationError("queen is closed", nil)
	}

	rec := &taskRecord{
		ref:   shared.GenerateID("task"),
		task:  t.Clone(),
		state: shared.TaskStateReceived,
		done:  make(chan struct{}),
	}

	if q.bus != nil {
		q.bus.Emit(shared.Event{
			Type:      shared.EventTaskSubmitted,
			Timestamp: shared.Now(),
			Payload: map[string]interface{}{
				"taskRef": rec.ref,
				"taskId":  t.ID,
				"type":    t.Type,
			},
		})
	}

	// The ref is only handed out once analysis succeeds, so a failed task
	// is never tracked.
	analysis, err := q.AnalyzeTask(ctx, rec.task)
	if err != nil {
		q.fail(rec, shared.TaskStateRejected, err)
		return nil, shared.TaskAnalysis{}, shared.Decision{}, err
	}
	q.mu.Lock()
	q.tasks[rec.ref] = rec
	err = q.transitionLocked(rec, shared.TaskStateAnalyzed)
	q.mu.Unlock()
	if err != nil {
		return nil, shared.TaskAnalysis{}, shared.Decision{}, err
	}

	decision, slots := q.decide(analysis, q.waited(t.ID))

	next := shared.TaskStateCoordinating
	switch decision.Outcome {
	case shared.OutcomeReject:
		next = shared.TaskStateRejected
		q.forget(t.ID)
	case shared.OutcomeDefer:
		next = shared.TaskStateDeferred
	default:
		q.forget(t.ID)
	}

	q.mu.Lock()
	rec.decision = &decision
	rec.slots = slots
	err = q.transitionLocked(rec, next)
	q.mu.Unlock()
	if err != nil {
		q.release(slots)
		return nil, shared.TaskAnalysis{}, shared.Decision{}, err
	}
	return rec, analysis, decision, nil
}

func (q *Queen) runWave(ctx context.Context, rec *taskRecord, analysis shared.TaskAnalysis) {
	outcome, err := q.coordinate(ctx, rec.task, analysis.Roster, rec.slots)
	if err != nil {
		q.fail(rec, shared.TaskStatePartiallyFailed, err)
		return
	}
	outcome.TaskRef = rec.ref

	q.mu.Lock()
	defer q.mu.Unlock()
	rec.outcome = outcome
	if terr := q.transitionLocked(rec, outcome.State); terr != nil {
		q.logger.Error("task state", "task", rec.task.ID, "error", terr)
	}
}

// deferral tracks the wait clock of a task id.
type deferral struct {
	first time.Time
	last  time.Time
}

// waited returns how long a task id has been deferred. The clock starts on
// the first submission of the id. Ids not resubmitted within four times the
// wait budget are dropped and start a new clock.
func (q *Queen) waited(taskID string) time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	ttl := 4 * q.config.WaitBudget
	for id, d := range q.firstSeen {
		if now.Sub(d.last) > ttl {
			delete(q.firstSeen, id)
		}
	}

	d, ok := q.firstSeen[taskID]
	if !ok {
		d.first = now
	}
	d.last = now
	q.firstSeen[taskID] = d
	return now.Sub(d.first)
}

// Deferred returns how many task ids currently hold a wait clock.
func (q *Queen) Deferred() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.firstSeen)
}

func (q *Queen) forget(taskID string) {
	q.mu.Lock()
	delete(q.firstSeen, taskID)
	q.mu.Unlock()
}
