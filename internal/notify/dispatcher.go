// Package notify runs escalation side effects off the evaluation path.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"compliance/engine-service/internal/models"
	"compliance/engine-service/internal/telemetry"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// Task describes the side effects of one fired escalation tier.
type Task struct {
	ExecutionID    string
	RuleID         string
	RuleName       string
	RequestID      string
	EntityID       string
	ServiceKey     string
	TierLevel      int
	Severity       models.Severity
	ElapsedPercent float64
	NotifyRoles    []string
	ReassignRole   string
	NotifyClient   bool
	OpenIncident   bool
	FiredAt        time.Time
}

// Assigner moves a request to a role's queue.
type Assigner interface {
	Assign(ctx context.Context, requestID, role string) error
}

// IncidentOpener raises an incident for a fired tier.
type IncidentOpener interface {
	OpenIncident(ctx context.Context, task Task) error
}

type Config struct {
	Workers     int
	QueueSize   int
	TaskTimeout time.Duration
}

type Dispatcher struct {
	notifier  Notifier
	assigner  Assigner
	incidents IncidentOpener
	logger    *zap.Logger
	metrics   *telemetry.Metrics
	workers   int
	timeout   time.Duration

	mu     sync.Mutex
	closed bool
	queue  chan Task
	wg     sync.WaitGroup
}

func NewDispatcher(cfg Config, notifier Notifier, assigner Assigner, incidents IncidentOpener, logger *zap.Logger, metrics *telemetry.Metrics) *Dispatcher {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = 256
	}
	timeout := cfg.TaskTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if incidents == nil {
		incidents = NotifierIncidents{Notifier: notifier}
	}
	if metrics == nil {
		metrics = telemetry.NopMetrics()
	}
	return &Dispatcher{
		notifier:  notifier,
		assigner:  assigner,
		incidents: incidents,
		logger:    logger,
		metrics:   metrics,
		workers:   workers,
		timeout:   timeout,
		queue:     make(chan Task, size),
	}
}

// Start launches the workers. They exit once Close drains the queue.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for task := range d.queue {
				d.run(ctx, task)
			}
		}()
	}
}

// Dispatch enqueues a task without blocking. It reports false when the task
// was dropped.
func (d *Dispatcher) Dispatch(task Task) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}
	select {
	case d.queue <- task:
		return true
	default:
		d.metrics.DispatchDropped.Add(context.Background(), 1)
		d.logger.Warn("escalation dispatch queue full",
			zap.String("rule_id", task.RuleID),
			zap.String("request_id", task.RequestID),
			zap.Int("tier", task.TierLevel),
		)
		return false
	}
}

// Close stops accepting tasks and waits for queued ones to finish.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) run(ctx context.Context, task Task) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()

	if err := d.Execute(ctx, task); err != nil {
		d.metrics.DispatchFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("rule_id", task.RuleID)))
		d.logger.Error("escalation side effects failed",
			zap.String("execution_id", task.ExecutionID),
			zap.String("request_id", task.RequestID),
			zap.Int("tier", task.TierLevel),
			zap.Error(err),
		)
	}
}

// Execute performs every side effect of the task, continuing past failures.
func (d *Dispatcher) Execute(ctx context.Context, task Task) error {
	var errs []error
	message := renderTemplate(defaultTemplate(task), task)

	for _, role := range task.NotifyRoles {
		if err := d.notifier.Send(ctx, "role", role, message); err != nil {
			errs = append(errs, fmt.Errorf("notify role %s: %w", role, err))
		}
	}
	if task.ReassignRole != "" {
		if d.assigner == nil {
			errs = append(errs, errors.New("reassign: no assigner configured"))
		} else if err := d.assigner.Assign(ctx, task.RequestID, task.ReassignRole); err != nil {
			errs = append(errs, fmt.Errorf("reassign to %s: %w", task.ReassignRole, err))
		}
	}
	if task.NotifyClient && task.EntityID != "" {
		if err := d.notifier.Send(ctx, "client", task.EntityID, clientMessage(task)); err != nil {
			errs = append(errs, fmt.Errorf("notify client: %w", err))
		}
	}
	if task.OpenIncident {
		if err := d.incidents.OpenIncident(ctx, task); err != nil {
			errs = append(errs, fmt.Errorf("open incident: %w", err))
		}
	}
	return errors.Join(errs...)
}

// NotifierIncidents opens incidents by sending to the "incident" channel.
type NotifierIncidents struct {
	Notifier Notifier
}

func (n NotifierIncidents) OpenIncident(ctx context.Context, task Task) error {
	return n.Notifier.Send(ctx, "incident", string(task.Severity), renderTemplate(incidentTemplate, task))
}

const incidentTemplate = "Incident: request {request_id} breached {rule} tier {tier} ({elapsed}% elapsed)."

func defaultTemplate(task Task) string {
	if task.Severity == models.SeverityCritical {
		return "CRITICAL escalation on request {request_id}: {rule} tier {tier} at {elapsed}% elapsed."
	}
	return "Escalation on request {request_id}: {rule} tier {tier} ({severity}) at {elapsed}% elapsed."
}

func clientMessage(task Task) string {
	return renderTemplate("Your request {request_id} ({service_key}) has been escalated for priority handling.", task)
}

func renderTemplate(template string, task Task) string {
	name := task.RuleName
	if name == "" {
		name = task.RuleID
	}
	replacer := strings.NewReplacer(
		"{request_id}", task.RequestID,
		"{service_key}", task.ServiceKey,
		"{rule}", name,
		"{tier}", strconv.Itoa(task.TierLevel),
		"{severity}", string(task.Severity),
		"{elapsed}", strconv.FormatFloat(task.ElapsedPercent, 'f', 0, 64),
	)
	return replacer.Replace(template)
}
