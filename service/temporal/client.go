package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	enums "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/client"
)

// Client starts and schedules SubmitAndAwaitWorkflow executions.
type Client struct {
	client    client.Client
	taskQueue string
	logger    *slog.Logger
}

// NewClient creates a new Temporal client.
func NewClient(host, namespace, taskQueue string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("connecting to temporal",
		"host", host,
		"namespace", namespace,
		"task_queue", taskQueue,
	)

	c, err := client.Dial(client.Options{
		HostPort:  host,
		Namespace: namespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}

	logger.Info("connected to temporal successfully")

	return newClient(c, taskQueue, logger), nil
}

func newClient(c client.Client, taskQueue string, logger *slog.Logger) *Client {
	return &Client{
		client:    c,
		taskQueue: taskQueue,
		logger:    logger,
	}
}

// StartSubmitAndAwait starts a workflow execution and returns its run ID.
// workflowID doubles as an idempotency key: starting a running ID fails.
func (c *Client) StartSubmitAndAwait(ctx context.Context, workflowID string, input SubmitAndAwaitInput) (string, error) {
	if len(input.Instructions) == 0 {
		return "", fmt.Errorf("at least one instruction is required")
	}

	run, err := c.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        workflowID,
		TaskQueue: c.taskQueue,
	}, SubmitAndAwaitWorkflow, input)
	if err != nil {
		c.logger.Error("failed to start workflow",
			"workflow_id", workflowID,
			"error", err,
		)
		return "", fmt.Errorf("failed to start workflow %q: %w", workflowID, err)
	}

	c.logger.Info("workflow started",
		"workflow_id", workflowID,
		"run_id", run.GetRunID(),
		"instructions", len(input.Instructions),
	)
	return run.GetRunID(), nil
}

// WaitSubmitAndAwait blocks until the workflow finishes and returns its result.
// An empty runID waits for the latest run.
func (c *Client) WaitSubmitAndAwait(ctx context.Context, workflowID, runID string) (*SubmitAndAwaitResult, error) {
	var result SubmitAndAwaitResult
	if err := c.client.GetWorkflow(ctx, workflowID, runID).Get(ctx, &result); err != nil {
		return nil, fmt.Errorf("workflow %q failed: %w", workflowID, err)
	}
	return &result, nil
}

// WorkflowStatus is the externally visible state of a SubmitAndAwait execution.
type WorkflowStatus struct {
	WorkflowID string                `json:"workflow_id"`
	RunID      string                `json:"run_id"`
	Status     string                `json:"status"`
	Result     *SubmitAndAwaitResult `json:"result,omitempty"`
}

// DescribeSubmitAndAwait reports the status of the latest run of workflowID.
// Result is only populated once the run has completed.
func (c *Client) DescribeSubmitAndAwait(ctx context.Context, workflowID string) (*WorkflowStatus, error) {
	desc, err := c.client.DescribeWorkflowExecution(ctx, workflowID, "")
	if err != nil {
		return nil, fmt.Errorf("failed to describe workflow %q: %w", workflowID, err)
	}

	info := desc.GetWorkflowExecutionInfo()
	status := &WorkflowStatus{
		WorkflowID: workflowID,
		RunID:      info.GetExecution().GetRunId(),
		Status:     info.GetStatus().String(),
	}
	if info.GetStatus() == enums.WORKFLOW_EXECUTION_STATUS_COMPLETED {
		result, err := c.WaitSubmitAndAwait(ctx, workflowID, status.RunID)
		if err != nil {
			return nil, err
		}
		status.Result = result
	}
	return status, nil
}

// UpsertSubmitSchedule creates or updates a schedule that runs input every interval.
func (c *Client) UpsertSubmitSchedule(ctx context.Context, name string, input SubmitAndAwaitInput, interval time.Duration) error {
	id := scheduleID(name)

	c.logger.Debug("upserting submit schedule",
		"schedule_id", id,
		"interval", interval,
	)

	handle := c.client.ScheduleClient().GetHandle(ctx, id)
	if _, err := handle.Describe(ctx); err != nil {
		c.logger.Debug("schedule not found, creating new one",
			"schedule_id", id,
			"error", err,
		)
		return c.createSubmitSchedule(ctx, id, input, interval)
	}

	err := handle.Update(ctx, client.ScheduleUpdateOptions{
		DoUpdate: func(update client.ScheduleUpdateInput) (*client.ScheduleUpdate, error) {
			update.Description.Schedule.Spec.Intervals = []client.ScheduleIntervalSpec{
				{Every: interval},
			}
			update.Description.Schedule.Action = submitAction(id, c.taskQueue, input)
			return &client.ScheduleUpdate{
				Schedule: &update.Description.Schedule,
			}, nil
		},
	})
	if err != nil {
		c.logger.Error("failed to update schedule",
			"schedule_id", id,
			"error", err,
		)
		return fmt.Errorf("failed to update schedule %q: %w", id, err)
	}

	c.logger.Info("submit schedule updated",
		"schedule_id", id,
		"interval", interval,
	)
	return nil
}

func (c *Client) createSubmitSchedule(ctx context.Context, id string, input SubmitAndAwaitInput, interval time.Duration) error {
	_, err := c.client.ScheduleClient().Create(ctx, client.ScheduleOptions{
		ID: id,
		Spec: client.ScheduleSpec{
			Intervals: []client.ScheduleIntervalSpec{{Every: interval}},
		},
		Action: submitAction(id, c.taskQueue, input),
		Memo: map[string]interface{}{
			"instructions": len(input.Instructions),
			"created_by":   "ledgersync",
		},
	})
	if err != nil {
		c.logger.Error("failed to create schedule",
			"schedule_id", id,
			"error", err,
		)
		return fmt.Errorf("failed to create schedule %q: %w", id, err)
	}

	c.logger.Info("submit schedule created",
		"schedule_id", id,
		"interval", interval,
	)
	return nil
}

// DeleteSubmitSchedule deletes a schedule created by UpsertSubmitSchedule.
func (c *Client) DeleteSubmitSchedule(ctx context.Context, name string) error {
	id := scheduleID(name)

	handle := c.client.ScheduleClient().GetHandle(ctx, id)
	if err := handle.Delete(ctx); err != nil {
		c.logger.Error("failed to delete schedule",
			"schedule_id", id,
			"error", err,
		)
		return fmt.Errorf("failed to delete schedule %q: %w", id, err)
	}

	c.logger.Info("submit schedule deleted", "schedule_id", id)
	return nil
}

// SDKClient returns the underlying Temporal SDK client for direct workflow operations.
func (c *Client) SDKClient() client.Client {
	return c.client
}

// TaskQueue returns the configured task queue for this client.
func (c *Client) TaskQueue() string {
	return c.taskQueue
}

// Close closes the Temporal client connection.
func (c *Client) Close() {
	c.logger.Info("closing temporal client")
	c.client.Close()
}

func submitAction(id, taskQueue string, input SubmitAndAwaitInput) *client.ScheduleWorkflowAction {
	return &client.ScheduleWorkflowAction{
		ID:        id,
		Workflow:  SubmitAndAwaitWorkflow,
		TaskQueue: taskQueue,
		Args:      []interface{}{input},
	}
}

// scheduleID generates the schedule ID for a named recurring submission.
func scheduleID(name string) string {
	return "submit-schedule-" + name
}

// temporalLogger adapts slog.Logger to Temporal's logger interface.
type temporalLogger struct {
	logger *slog.Logger
}

func newTemporalLogger(logger *slog.Logger) *temporalLogger {
	return &temporalLogger{logger: logger}
}

func (l *temporalLogger) Debug(msg string, keyvals ...interface{}) {
	l.logger.Debug(msg, keyvals...)
}

func (l *temporalLogger) Info(msg string, keyvals ...interface{}) {
	l.logger.Info(msg, keyvals...)
}

func (l *temporalLogger) Warn(msg string, keyvals ...interface{}) {
	l.logger.Warn(msg, keyvals...)
}

func (l *temporalLogger) Error(msg string, keyvals ...interface{}) {
	l.logger.Error(msg, keyvals...)
}
