package automation

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"farm-automation/internal/actuator"
	apperrors "farm-automation/internal/errors"
	"farm-automation/internal/eventbus"
	"farm-automation/internal/logging"
	"farm-automation/internal/metrics"
	"farm-automation/internal/models"
	"farm-automation/internal/store"
)

type WorkerConfig struct {
	Interval    time.Duration
	MaxAttempts int
	RetryDelay  time.Duration
	BatchSize   int
	TaskTimeout time.Duration
}

func (c WorkerConfig) withDefaults() WorkerConfig {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 60 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = 10 * time.Second
	}
	return c
}

// Worker claims due automation tasks and drives them through the actuator
// gateway. Several workers may share one store; the atomic claim guarantees a
// task is executed by one of them per attempt.
type Worker struct {
	cfg      WorkerConfig
	tasks    store.TaskStore
	alerts   store.AlertStore
	gateway  actuator.Gateway
	registry actuator.StatusRegistry
	bus      *eventbus.Bus
	log      *logrus.Entry
	now      func() time.Time

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewWorker(
	cfg WorkerConfig,
	tasks store.TaskStore,
	alerts store.AlertStore,
	gateway actuator.Gateway,
	registry actuator.StatusRegistry,
	bus *eventbus.Bus,
	logger *logging.Logger,
) *Worker {
	return &Worker{
		cfg:      cfg.withDefaults(),
		tasks:    tasks,
		alerts:   alerts,
		gateway:  gateway,
		registry: registry,
		bus:      bus,
		log:      logger.WithComponent("automation-worker"),
		now:      time.Now,
	}
}

// Start runs one tick immediately and then one per interval until Stop is
// called or ctx ends.
func (w *Worker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.log.WithFields(logrus.Fields{
			"interval":     w.cfg.Interval,
			"max_attempts": w.cfg.MaxAttempts,
			"retry_delay":  w.cfg.RetryDelay,
		}).Info("Automation worker started")

		w.Tick(ctx)

		ticker := time.NewTicker(w.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				w.log.Info("Automation worker stopped")
				return
			case <-ticker.C:
				w.wg.Add(1)
				go func() {
					defer w.wg.Done()
					w.Tick(ctx)
				}()
			}
		}
	}()
}

// Stop cancels the loop and waits for in-flight ticks to finish.
func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

// Tick processes one batch of due tasks and returns how many were executed.
// A tick that starts while another is still running does nothing.
func (w *Worker) Tick(ctx context.Context) int {
	if !w.running.CompareAndSwap(false, true) {
		metrics.TicksSkipped.Inc()
		w.log.Debug("Previous tick still running, skipping")
		return 0
	}
	defer w.running.Store(false)

	start := time.Now()
	defer func() { metrics.TickDuration.Observe(time.Since(start).Seconds()) }()

	due, err := w.tasks.FindDueTasks(ctx, w.now().UTC(), w.cfg.MaxAttempts, w.cfg.BatchSize)
	if err != nil {
		w.log.WithError(err).Error("Failed to load due automation tasks")
		return 0
	}
	if len(due) == 0 {
		return 0
	}
	w.log.Debugf("Processing %d due automation tasks", len(due))

	processed := 0
	for _, task := range due {
		if ctx.Err() != nil {
			break
		}
		if w.process(ctx, task.ID) {
			processed++
		}
	}
	return processed
}

// process claims and executes a single task. It reports whether this worker
// ran the task.
func (w *Worker) process(ctx context.Context, id string) bool {
	task, claimed, err := w.tasks.ClaimTask(ctx, id, w.now().UTC(), w.cfg.MaxAttempts)
	if err != nil {
		w.log.WithError(err).WithField("task_id", id).Error("Failed to claim automation task")
		return false
	}
	if !claimed {
		metrics.ClaimMisses.Inc()
		w.log.WithField("task_id", id).Debug("Task already claimed elsewhere")
		return false
	}

	cmd, result, err := w.execute(ctx, task)
	if err != nil {
		w.fail(ctx, task, err)
		return true
	}
	w.succeed(ctx, task, cmd, result)
	return true
}

func (w *Worker) execute(ctx context.Context, task models.AutomationTask) (cmd actuator.Command, result actuator.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			w.log.WithField("task_id", task.ID).Errorf("Panic while executing task: %v", r)
			err = fmt.Errorf("panic while executing task: %v", r)
		}
	}()

	taskCtx, cancel := context.WithTimeout(ctx, w.cfg.TaskTimeout)
	defer cancel()

	target := task.Target()
	cmd, err = actuator.ResolveCommand(taskCtx, w.registry, target, task.Action)
	if err != nil {
		return "", actuator.Result{}, err
	}

	result, err = w.gateway.Control(taskCtx, target, cmd, task.Metadata.Address)
	if err != nil {
		return cmd, actuator.Result{}, apperrors.NewTransientError(
			fmt.Sprintf("actuator %s rejected %s", target, cmd), err)
	}
	return cmd, result, nil
}

func (w *Worker) succeed(ctx context.Context, task models.AutomationTask, cmd actuator.Command, res actuator.Result) {
	now := w.now().UTC()
	log := w.log.WithFields(logrus.Fields{"task_id": task.ID, "device_id": task.Target(), "command": cmd})

	if err := w.registry.Record(ctx, task.Target(), cmd); err != nil {
		log.WithError(err).Warn("Failed to record actuator status")
	}

	result := models.TaskResult{
		DeviceID:       task.Target(),
		ExecutedAction: cmd.Action(),
		Message:        res.Message,
		CompletedAt:    now,
	}
	stored, err := w.tasks.MarkTaskSuccess(ctx, task.ID, result, now)
	if err != nil {
		log.WithError(err).Error("Failed to mark automation task as successful")
		return
	}
	metrics.TaskExecutions.WithLabelValues("success").Inc()
	log.Info("Automation task executed")

	w.bus.Publish(ctx, eventbus.TaskCompleted{Task: stored, Result: result})

	if stored.AlertID == "" {
		return
	}
	detail := fmt.Sprintf("Automation task %s switched %s %s", stored.ID, stored.Target(), cmd)
	if stored.Action == models.DeviceToggle {
		detail += " (toggle)"
	}
	status := models.TaskSuccess
	cleared := ""
	patch := models.TransitionTo(models.AlertActionExecuted)
	patch.History = []models.HistoryEntry{{
		Event:     models.EventAutomationTaskSuccess,
		Status:    models.AlertActionExecuted,
		Detail:    detail,
		TaskID:    stored.ID,
		CreatedAt: now,
	}}
	patch.Automation = models.AutomationFields{
		CorrelationID:  nonEmpty(stored.CorrelationID),
		LastTaskStatus: &status,
		LastExecutedAt: &now,
		LastError:      &cleared,
	}
	patch.AddTaskIDs = []string{stored.ID}
	w.patchAlert(ctx, stored.AlertID, patch, models.EventAutomationTaskSuccess)
}

func (w *Worker) fail(ctx context.Context, task models.AutomationTask, cause error) {
	now := w.now().UTC()
	final := task.Attempts >= w.cfg.MaxAttempts
	log := w.log.WithFields(logrus.Fields{
		"task_id":   task.ID,
		"device_id": task.Target(),
		"attempt":   task.Attempts,
	})

	var retryAt *time.Time
	if !final {
		at := now.Add(w.cfg.RetryDelay)
		retryAt = &at
	}
	stored, err := w.tasks.MarkTaskFailed(ctx, task.ID, cause.Error(), retryAt, now)
	if err != nil {
		log.WithError(err).Error("Failed to mark automation task as failed")
		return
	}

	if final {
		metrics.TaskExecutions.WithLabelValues("abandoned").Inc()
		log.WithError(cause).Error("Automation task abandoned after final attempt")
	} else {
		metrics.TaskExecutions.WithLabelValues("failed").Inc()
		log.WithError(cause).Warnf("Automation task failed, retrying at %s", retryAt.Format(time.RFC3339))
	}

	w.bus.Publish(ctx, eventbus.TaskFailed{Task: stored, Error: cause.Error(), Final: final})

	if stored.AlertID == "" {
		return
	}
	detail := fmt.Sprintf("Automation task %s failed (attempt %d/%d): %s",
		stored.ID, stored.Attempts, w.cfg.MaxAttempts, cause)
	status := models.TaskFailed
	msg := cause.Error()

	var patch models.AlertPatch
	entry := models.HistoryEntry{Event: models.EventAutomationTaskFailed, CreatedAt: now}
	if final {
		patch = models.TransitionTo(models.AlertActionFailed)
		entry.Status = models.AlertActionFailed
		entry.TaskID = stored.ID
		detail += "; giving up"
	} else {
		detail += fmt.Sprintf("; retry scheduled at %s", retryAt.Format(time.RFC3339))
	}
	entry.Detail = detail
	patch.History = []models.HistoryEntry{entry}
	patch.Automation = models.AutomationFields{
		CorrelationID:  nonEmpty(stored.CorrelationID),
		LastTaskStatus: &status,
		LastExecutedAt: &now,
		LastError:      &msg,
	}
	patch.AddTaskIDs = []string{stored.ID}
	w.patchAlert(ctx, stored.AlertID, patch, models.EventAutomationTaskFailed)
}

func (w *Worker) patchAlert(ctx context.Context, alertID string, patch models.AlertPatch, reason string) {
	alert, err := w.alerts.PatchAlert(ctx, alertID, patch, w.now().UTC())
	if err != nil {
		w.log.WithError(err).WithField("alert_id", alertID).Error("Failed to update alert after automation task")
		return
	}
	if patch.Status != nil && alert.Status == *patch.Status {
		metrics.AlertTransitions.WithLabelValues(string(alert.Status)).Inc()
	}
	w.bus.Publish(ctx, eventbus.AlertUpdated{Alert: alert, Reason: reason})
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
