// Package tasks owns the analysis task lifecycle: durable creation plus an
// in-memory table, background execution behind a bounded slot pool,
// push-based progress with debounced durable writes, cancellation flags,
// zombie reclamation, and the layered status / result reads.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/quantflow/argus/pkg/agents"
	"github.com/quantflow/argus/pkg/config"
	"github.com/quantflow/argus/pkg/graph"
	"github.com/quantflow/argus/pkg/models"
	"github.com/quantflow/argus/pkg/notify"
	"github.com/quantflow/argus/pkg/store"
)

// AnalysisRunner executes one analysis run to completion. *graph.Engine
// implements it; tests script it.
type AnalysisRunner interface {
	Run(ctx context.Context, in *graph.RunInput) (*models.AnalysisState, error)
}

// EventPublisher fans one progress event out to subscribers. Publish
// failures are logged by the manager, never fatal to the run.
type EventPublisher interface {
	PublishProgress(ctx context.Context, event *models.ProgressEvent) error
}

// ToolScoperFactory builds the tool scoper for one task. The returned
// scoper owns the task's circuit-breaker state and preferred-source
// ordering, so it must not be shared between tasks. Nil disables tools.
type ToolScoperFactory func(taskID string, preferred []string) graph.ToolScoper

// entry is one resident task: the live record plus the run's control
// handles. task and the progress maps are guarded by the manager mutex.
type entry struct {
	task       *models.AnalysisTask
	analysisID string
	provider   *config.LLMProviderConfig

	ctx       context.Context
	cancel    context.CancelFunc
	cancelled atomic.Bool

	// Progress resolution for the enabled analyst set, built at run start.
	labels   map[string]string
	percents map[string]float64

	// Hydration layer 1, set when the run reaches a terminal state.
	result map[string]any

	lastFlush time.Time
}

// Manager is the task lifecycle facade the HTTP layer talks to. All
// mutations of a resident task serialize through its mutex.
type Manager struct {
	cfg        *config.TasksConfig
	registry   *config.LLMProviderRegistry
	defaultLLM string
	reportsDir string

	records   *agents.Store
	tasks     *store.TaskStore
	reports   *store.ReportStore
	runner    AnalysisRunner
	tools     ToolScoperFactory
	publisher EventPublisher
	notifier  *notify.Service

	mu    sync.RWMutex
	table map[string]*entry

	sem      chan struct{}
	wg       sync.WaitGroup
	stopCh   chan struct{}
	stopOnce sync.Once

	sweepCancel context.CancelFunc
	sweepDone   chan struct{}

	logger *slog.Logger
}

// NewManager assembles the lifecycle manager. tools and publisher may be
// nil (the graph then runs tool-less and events are dropped), as may
// notifier (completion notifications disabled).
func NewManager(cfg *config.Config, records *agents.Store, taskStore *store.TaskStore,
	reportStore *store.ReportStore, runner AnalysisRunner, tools ToolScoperFactory,
	publisher EventPublisher, notifier *notify.Service) *Manager {
	tc := cfg.Tasks
	if tc == nil {
		tc = config.DefaultTasksConfig()
	}
	reportsDir := ""
	if cfg.Data != nil {
		reportsDir = cfg.Data.ReportsDir
	}
	return &Manager{
		cfg:        tc,
		registry:   cfg.LLMProviderRegistry,
		defaultLLM: cfg.DefaultLLMProvider,
		reportsDir: reportsDir,
		records:    records,
		tasks:      taskStore,
		reports:    reportStore,
		runner:     runner,
		tools:      tools,
		publisher:  publisher,
		notifier:   notifier,
		table:      make(map[string]*entry),
		sem:        make(chan struct{}, max(tc.MaxConcurrentTasks, 1)),
		stopCh:     make(chan struct{}),
		logger:     slog.Default().With("component", "tasks"),
	}
}

// Start launches the zombie sweeper when one is configured. Submissions
// work without Start; calling it twice is a no-op.
func (m *Manager) Start(ctx context.Context) {
	if m.cfg.ZombieSweepInterval <= 0 || m.sweepCancel != nil {
		return
	}
	ctx, m.sweepCancel = context.WithCancel(ctx)
	m.sweepDone = make(chan struct{})
	go m.runSweeper(ctx)
	m.logger.Info("Zombie sweeper started",
		"interval", m.cfg.ZombieSweepInterval,
		"max_running_hours", m.cfg.ZombieMaxRunningHours)
}

// Stop refuses new submissions, stops the sweeper, and waits up to the
// graceful-shutdown timeout for running analyses. Tasks still running at
// the deadline are cancelled so their goroutines unwind.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	if m.sweepCancel != nil {
		m.sweepCancel()
		<-m.sweepDone
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		m.logger.Info("Task manager stopped gracefully")
	case <-time.After(m.cfg.GracefulShutdownTimeout):
		m.mu.RLock()
		var remaining []string
		for id, e := range m.table {
			if !e.task.Status.IsTerminal() {
				remaining = append(remaining, id)
				e.cancel()
			}
		}
		m.mu.RUnlock()
		m.logger.Warn("Graceful shutdown timed out, cancelling remaining tasks",
			"count", len(remaining), "task_ids", remaining)
		<-done
	}
}

// Submit validates, persists, and launches one analysis task. The returned
// snapshot is the created pending record; execution continues in the
// background.
func (m *Manager) Submit(ctx context.Context, userID string, params models.AnalysisParams) (*models.AnalysisTask, error) {
	return m.submitOne(ctx, userID, "", params)
}

// SubmitBatch creates one task per symbol (cap MaxBatchSize) and launches
// them all; the symbol→task_id mapping returns without waiting for any
// analysis to finish.
func (m *Manager) SubmitBatch(ctx context.Context, userID string, symbols []string, params models.AnalysisParams) (*models.BatchSubmitResult, error) {
	cleaned := make([]string, 0, len(symbols))
	seen := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		cleaned = append(cleaned, s)
	}
	if len(cleaned) == 0 {
		return nil, store.NewValidationError("symbols", "股票代码列表不能为空")
	}
	if len(cleaned) > m.cfg.MaxBatchSize {
		return nil, store.NewValidationError("symbols",
			fmt.Sprintf("批量分析最多支持 %d 个股票，当前提交了 %d 个", m.cfg.MaxBatchSize, len(cleaned)))
	}

	batchID := uuid.New().String()
	result := &models.BatchSubmitResult{
		BatchID: batchID,
		Tasks:   make(map[string]string, len(cleaned)),
	}

	var resultMu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, symbol := range cleaned {
		g.Go(func() error {
			p := params
			p.Symbol = symbol
			task, err := m.submitOne(gctx, userID, batchID, p)
			if err != nil {
				return fmt.Errorf("创建任务失败 (symbol=%s): %w", symbol, err)
			}
			resultMu.Lock()
			result.Tasks[symbol] = task.TaskID
			resultMu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	result.Count = len(result.Tasks)
	m.logger.Info("Batch submitted", "batch_id", batchID, "count", result.Count, "user_id", userID)
	return result, nil
}

func (m *Manager) submitOne(ctx context.Context, userID, batchID string, params models.AnalysisParams) (*models.AnalysisTask, error) {
	select {
	case <-m.stopCh:
		return nil, errors.New("task manager is shutting down")
	default:
	}

	params.Symbol = strings.TrimSpace(params.Symbol)
	if params.Symbol == "" {
		return nil, store.NewValidationError("symbol", "required")
	}
	if params.MarketType == "" {
		params.MarketType = "A股"
	}
	if params.AnalysisDate == "" {
		params.AnalysisDate = time.Now().Format("2006-01-02")
	}

	provider, err := m.resolveProvider(params)
	if err != nil {
		return nil, err
	}

	task := &models.AnalysisTask{
		TaskID:     uuid.New().String(),
		UserID:     userID,
		Symbol:     params.Symbol,
		MarketType: params.MarketType,
		Status:     models.TaskStatusPending,
		Message:    "任务已创建，等待执行",
		Params:     params,
		BatchID:    batchID,
	}
	if err := m.tasks.CreateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to create task record: %w", err)
	}

	runCtx, cancel := context.WithTimeout(context.Background(), m.cfg.TaskTimeout)
	e := &entry{
		task:       task,
		analysisID: uuid.New().String(),
		provider:   provider,
		ctx:        runCtx,
		cancel:     cancel,
	}
	m.mu.Lock()
	m.table[task.TaskID] = e
	m.mu.Unlock()

	m.wg.Add(1)
	go m.run(e)

	m.logger.Info("Task submitted",
		"task_id", task.TaskID, "symbol", task.Symbol, "user_id", task.UserID,
		"market_type", task.MarketType, "batch_id", batchID)
	return snapshot(task), nil
}

// resolveProvider picks the task's LLM endpoint, honoring a per-task model
// override on a copy so the registry entry stays untouched.
func (m *Manager) resolveProvider(params models.AnalysisParams) (*config.LLMProviderConfig, error) {
	name := params.LLMProvider
	if name == "" {
		name = m.defaultLLM
	}
	provider, err := m.registry.Get(name)
	if err != nil {
		return nil, store.NewValidationError("llm_provider", err.Error())
	}
	if params.LLMModel != "" && params.LLMModel != provider.Model {
		override := *provider
		override.Model = params.LLMModel
		return &override, nil
	}
	return provider, nil
}

// run is the per-task goroutine: wait for a slot, flip to running, drive
// the graph, record the terminal state.
func (m *Manager) run(e *entry) {
	defer m.wg.Done()
	defer e.cancel()

	select {
	case m.sem <- struct{}{}:
		defer func() { <-m.sem }()
	case <-e.ctx.Done():
		// Cancelled or timed out while still queued.
		m.finish(e, nil, e.ctx.Err())
		return
	}
	if e.cancelled.Load() {
		m.finish(e, nil, graph.ErrCancelled)
		return
	}

	m.markRunning(e)

	var scoper graph.ToolScoper
	if m.tools != nil {
		scoper = m.tools(e.task.TaskID, e.task.Params.PreferredSources)
	}
	state, err := m.runner.Run(e.ctx, &graph.RunInput{
		TaskID:    e.task.TaskID,
		Params:    e.task.Params,
		Provider:  e.provider,
		Tools:     scoper,
		Progress:  m,
		Cancelled: e.cancelled.Load,
	})
	m.finish(e, state, err)
}

func (m *Manager) markRunning(e *entry) {
	now := time.Now()
	m.mu.Lock()
	e.task.Status = models.TaskStatusRunning
	e.task.StartedAt = &now
	e.task.Message = "分析进行中..."
	e.task.UpdatedAt = now
	m.mu.Unlock()

	if err := m.tasks.MarkRunning(e.ctx, e.task.TaskID); err != nil && !errors.Is(err, store.ErrNotFound) {
		m.logger.Warn("Failed to mark task running", "task_id", e.task.TaskID, "error", err)
	}

	// Progress resolution needs the same analyst set the graph will run.
	records, err := m.records.Records()
	if err != nil {
		m.logger.Warn("Failed to load analyst records for progress map",
			"task_id", e.task.TaskID, "error", err)
		return
	}
	selected, _ := agents.SelectAnalysts(agents.EnabledAnalysts(records), e.task.Params.Analysts)
	labels := agents.NodeLabels(selected)
	percents := agents.ProgressMap(selected)
	m.mu.Lock()
	e.labels = labels
	e.percents = percents
	m.mu.Unlock()
}

// finish records the terminal state exactly once: in memory, durably, in
// the report store for completed runs, and as a terminal event. The
// durable write uses a background context inside the store because the run
// context may already be dead.
func (m *Manager) finish(e *entry, state *models.AnalysisState, runErr error) {
	status, lastError, message := m.terminalFor(e, runErr)

	var result map[string]any
	if state != nil {
		result = m.buildResult(e, state, status)
	}

	now := time.Now()
	m.mu.Lock()
	if e.task.Status.IsTerminal() {
		// Mark-failed or reclamation got here first; its write wins.
		m.mu.Unlock()
		return
	}
	e.task.Status = status
	e.task.Message = message
	e.task.LastError = lastError
	e.task.CompletedAt = &now
	e.task.UpdatedAt = now
	if status == models.TaskStatusCompleted {
		e.task.Progress = 100
	}
	e.result = result
	progress := e.task.Progress
	m.mu.Unlock()

	if err := m.tasks.SetTerminal(context.Background(), e.task.TaskID, status, result, lastError); err != nil &&
		!errors.Is(err, store.ErrNotFound) {
		m.logger.Error("Failed to persist terminal status",
			"task_id", e.task.TaskID, "status", status, "error", err)
	}

	if status == models.TaskStatusCompleted && state != nil {
		m.saveReport(e, state, result)
	}

	m.publishTerminal(e.task.TaskID, status, progress, message)
	m.notifyCompletion(e, state, status, lastError)

	if runErr != nil && !errors.Is(runErr, graph.ErrCancelled) {
		m.logger.Error("Analysis task failed",
			"task_id", e.task.TaskID, "symbol", e.task.Symbol, "status", status, "error", runErr)
		return
	}
	m.logger.Info("Analysis task finished",
		"task_id", e.task.TaskID, "symbol", e.task.Symbol, "status", status)
}

// notifyCompletion posts the terminal summary to the configured channel.
// Runs on a background context: the run context is usually dead here.
func (m *Manager) notifyCompletion(e *entry, state *models.AnalysisState, status models.TaskStatus, lastError string) {
	if m.notifier == nil {
		return
	}

	in := notify.Completion{
		TaskID:       e.task.TaskID,
		Symbol:       e.task.Symbol,
		Status:       string(status),
		ErrorMessage: lastError,
	}
	if state != nil {
		in.CompanyName = state.CompanyName
		if sum := state.StructuredSummary; sum != nil {
			in.FinalSignal = sum.FinalSignal
			in.Confidence = sum.ModelConfidence
			in.Summary = sum.AnalysisSummary
		}
	}
	m.notifier.NotifyCompleted(context.Background(), in)
}

func (m *Manager) terminalFor(e *entry, runErr error) (models.TaskStatus, string, string) {
	switch {
	case runErr == nil:
		return models.TaskStatusCompleted, "", "分析完成"
	case errors.Is(runErr, graph.ErrCancelled), e.cancelled.Load():
		return models.TaskStatusCancelled, "", "任务已取消"
	case errors.Is(runErr, context.DeadlineExceeded), errors.Is(e.ctx.Err(), context.DeadlineExceeded):
		return models.TaskStatusFailed,
			fmt.Sprintf("任务执行超时（上限 %s）", m.cfg.TaskTimeout), "任务执行超时"
	case errors.Is(runErr, context.Canceled):
		return models.TaskStatusFailed, "任务在完成前被中止", "任务已中止"
	default:
		return models.TaskStatusFailed, runErr.Error(), "分析失败"
	}
}

// buildResult shapes the terminal result payload shared by the in-memory
// table and the analysis_tasks row. The embedded state keeps the hydrator's
// inference layer viable for rows written before report persistence.
func (m *Manager) buildResult(e *entry, state *models.AnalysisState, status models.TaskStatus) map[string]any {
	reports := state.AllReports()

	var executionTime float64
	m.mu.RLock()
	if e.task.StartedAt != nil {
		executionTime = time.Since(*e.task.StartedAt).Seconds()
	}
	analysts := e.task.Params.Analysts
	depth := e.task.Params.ResearchDepth
	m.mu.RUnlock()

	result := map[string]any{
		"analysis_id":    e.analysisID,
		"task_id":        e.task.TaskID,
		"stock_symbol":   state.Symbol,
		"company_name":   state.CompanyName,
		"analysis_date":  state.TradeDate,
		"market_type":    state.MarketType,
		"status":         string(status),
		"analysts":       analysts,
		"research_depth": depth,
		"execution_time": executionTime,
		"reports":        reports,
		"state":          toMapViaJSON(state),
	}

	if sum := state.StructuredSummary; sum != nil {
		result["summary"] = sum.AnalysisSummary
		result["recommendation"] = sum.InvestmentRecommendation
		result["confidence_score"] = float64(sum.ModelConfidence)
		result["risk_level"] = sum.RiskAssessment.Level
		result["decision"] = decisionFrom(sum)
		result["structured_summary"] = toMapViaJSON(sum)
	}
	if state.LastError != "" {
		result["last_error"] = state.LastError
	}
	return result
}

func (m *Manager) saveReport(e *entry, state *models.AnalysisState, result map[string]any) {
	reports := state.AllReports()
	decision := models.ToMap(result["decision"], nil)

	report := &models.AnalysisReport{
		AnalysisID:     e.analysisID,
		TaskID:         e.task.TaskID,
		UserID:         e.task.UserID,
		Symbol:         e.task.Symbol,
		MarketType:     e.task.MarketType,
		Status:         string(models.TaskStatusCompleted),
		AnalysisDate:   state.TradeDate,
		Summary:        deriveSummary(models.ToString(result["summary"], ""), reports),
		Recommendation: deriveRecommendation(models.ToString(result["recommendation"], ""), decision, reports),
		Reports:        reports,
		Decision:       decision,
		KeyPoints:      deriveKeyPoints(nil, decision, reports),
	}
	if err := m.reports.SaveReport(context.Background(), report); err != nil {
		m.logger.Error("Failed to persist analysis report",
			"task_id", e.task.TaskID, "analysis_id", e.analysisID, "error", err)
	}
}

// Cancel flags a task for cancellation. Running tasks observe the flag
// between graph nodes; queued tasks are released immediately.
func (m *Manager) Cancel(ctx context.Context, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.table[taskID]
	if !ok {
		return store.ErrNotFound
	}
	if e.task.Status.IsTerminal() {
		return store.NewValidationError("status", "任务已结束，无法取消")
	}
	e.cancelled.Store(true)
	if e.task.Status == models.TaskStatusPending {
		e.cancel()
	}
	e.task.Message = "取消请求已接收"
	e.task.UpdatedAt = time.Now()
	m.logger.Info("Task cancellation requested", "task_id", taskID)
	return nil
}

// MarkFailed force-fails a stuck task from the admin surface: memory and
// the durable row are both flipped, and a live run is cancelled.
func (m *Manager) MarkFailed(ctx context.Context, taskID string) error {
	const reason = "用户手动标记为失败"

	now := time.Now()
	flipped := false
	m.mu.Lock()
	if e, ok := m.table[taskID]; ok && !e.task.Status.IsTerminal() {
		e.cancelled.Store(true)
		e.cancel()
		e.task.Status = models.TaskStatusFailed
		e.task.LastError = reason
		e.task.Message = "手动标记为失败"
		e.task.CompletedAt = &now
		e.task.UpdatedAt = now
		flipped = true
	}
	m.mu.Unlock()

	err := m.tasks.SetTerminal(ctx, taskID, models.TaskStatusFailed, nil, reason)
	if err != nil && !flipped {
		return err
	}
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		m.logger.Warn("Durable mark-failed write failed", "task_id", taskID, "error", err)
	}
	if flipped {
		m.publishTerminal(taskID, models.TaskStatusFailed, m.progressOf(taskID), "手动标记为失败")
	}
	m.logger.Info("Task marked failed", "task_id", taskID)
	return nil
}

// Delete removes a task from memory and the durable store. A live run is
// cancelled; its late terminal write then lands on a missing row and is
// dropped.
func (m *Manager) Delete(ctx context.Context, taskID string) error {
	m.mu.Lock()
	if e, ok := m.table[taskID]; ok {
		e.cancelled.Store(true)
		e.cancel()
		delete(m.table, taskID)
	}
	m.mu.Unlock()

	if err := m.tasks.DeleteTask(ctx, taskID); err != nil {
		return err
	}
	m.logger.Info("Task deleted", "task_id", taskID)
	return nil
}

func (m *Manager) progressOf(taskID string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if e, ok := m.table[taskID]; ok {
		return e.task.Progress
	}
	return 0
}

// snapshot copies a task record so callers never share the live struct the
// manager keeps mutating.
func snapshot(t *models.AnalysisTask) *models.AnalysisTask {
	copied := *t
	return &copied
}
