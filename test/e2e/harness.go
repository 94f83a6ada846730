// Package e2e boots a complete analysis server against a real PostgreSQL
// and a scripted LLM, and drives it through the public HTTP surface.
package e2e

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quantflow/argus/pkg/agents"
	"github.com/quantflow/argus/pkg/api"
	"github.com/quantflow/argus/pkg/config"
	"github.com/quantflow/argus/pkg/database"
	"github.com/quantflow/argus/pkg/events"
	"github.com/quantflow/argus/pkg/graph"
	"github.com/quantflow/argus/pkg/store"
	"github.com/quantflow/argus/pkg/tasks"
	testdb "github.com/quantflow/argus/test/database"
)

// adminUserID is the X-User-ID the admin endpoints accept in tests.
const adminUserID = "e2e-admin"

// TestApp is a full analysis server instance wired for one test.
type TestApp struct {
	Config      *config.Config
	DBClient    *database.Client
	LLM         *ScriptedLLMClient
	Manager     *tasks.Manager
	TaskStore   *store.TaskStore
	ReportStore *store.ReportStore
	ConnManager *events.ConnectionManager
	Server      *api.Server

	BaseURL string // e.g. "http://127.0.0.1:54321"
	WSURL   string // e.g. "ws://127.0.0.1:54321"

	ReportsDir string

	t *testing.T
}

type testAppConfig struct {
	llm       *ScriptedLLMClient
	tasksCfg  func(*config.TasksConfig)
	serverCfg func(*config.ServerConfig)
}

// TestAppOption configures the test app.
type TestAppOption func(*testAppConfig)

// WithLLM sets a pre-scripted LLM client.
func WithLLM(client *ScriptedLLMClient) TestAppOption {
	return func(c *testAppConfig) { c.llm = client }
}

// WithTasksConfig mutates the task lifecycle settings before startup.
func WithTasksConfig(mutate func(*config.TasksConfig)) TestAppOption {
	return func(c *testAppConfig) { c.tasksCfg = mutate }
}

// WithServerConfig mutates the HTTP settings before startup.
func WithServerConfig(mutate func(*config.ServerConfig)) TestAppOption {
	return func(c *testAppConfig) { c.serverCfg = mutate }
}

// staticNames is a canned code-to-name lookup standing in for the
// provider-backed resolver.
type staticNames map[string]string

func (m staticNames) Name(_ context.Context, code string) string { return m[code] }

// NewTestApp creates and starts a full test instance. Shutdown is
// registered via t.Cleanup automatically.
func NewTestApp(t *testing.T, opts ...TestAppOption) *TestApp {
	t.Helper()

	tc := &testAppConfig{}
	for _, opt := range opts {
		opt(tc)
	}
	if tc.llm == nil {
		tc.llm = NewScriptedLLMClient()
	}

	// 1. Database — per-test schema with migrations applied.
	dbClient := testdb.NewTestClient(t)
	taskStore := store.NewTaskStore(dbClient.DB())
	reportStore := store.NewReportStore(dbClient.DB())

	// 2. Configuration.
	tasksCfg := &config.TasksConfig{
		MaxConcurrentTasks:      3,
		MaxBatchSize:            5,
		TaskTimeout:             30 * time.Second,
		GracefulShutdownTimeout: 10 * time.Second,
		ProgressFlushInterval:   0, // every progress update flushes
	}
	if tc.tasksCfg != nil {
		tc.tasksCfg(tasksCfg)
	}
	serverCfg := &config.ServerConfig{AdminUserID: adminUserID}
	if tc.serverCfg != nil {
		tc.serverCfg(serverCfg)
	}
	reportsDir := t.TempDir()
	cfg := &config.Config{
		Server:             serverCfg,
		Tasks:              tasksCfg,
		Data:               &config.DataConfig{ReportsDir: reportsDir},
		DefaultLLMProvider: "dashscope",
		LLMProviderRegistry: config.NewLLMProviderRegistry(map[string]*config.LLMProviderConfig{
			"dashscope": {Model: "qwen-max"},
		}),
		MCPServerRegistry: config.NewMCPServerRegistry(nil),
	}

	// 3. Agent records — the full four-stage roster.
	agentStore := seedAgentStore(t)

	// 4. Streaming infrastructure — real publisher and LISTEN connection.
	ctx := context.Background()
	publisher := events.NewPublisher(dbClient.DB())
	connManager := events.NewConnectionManager(5 * time.Second)
	notifyListener := events.NewNotifyListener(dbClient.DSN(), connManager)
	require.NoError(t, notifyListener.Start(ctx))
	connManager.SetListener(notifyListener)

	// 5. Graph engine over the scripted LLM, tool-less.
	engine := graph.NewEngine(agentStore, tc.llm,
		staticNames{"600519": "贵州茅台", "000001": "平安银行"}, reportsDir)

	// 6. Task manager.
	manager := tasks.NewManager(cfg, agentStore, taskStore, reportStore,
		engine, nil, publisher, nil)
	manager.Start(ctx)

	// 7. HTTP server behind httptest for a random port.
	server := api.NewServer(cfg, dbClient, manager, agentStore, connManager)
	httpSrv := httptest.NewServer(server)

	app := &TestApp{
		Config:      cfg,
		DBClient:    dbClient,
		LLM:         tc.llm,
		Manager:     manager,
		TaskStore:   taskStore,
		ReportStore: reportStore,
		ConnManager: connManager,
		Server:      server,
		BaseURL:     httpSrv.URL,
		WSURL:       "ws" + strings.TrimPrefix(httpSrv.URL, "http"),
		ReportsDir:  reportsDir,
		t:           t,
	}

	t.Cleanup(func() {
		manager.Stop()
		httpSrv.Close()
		notifyListener.Stop(context.Background())
	})

	return app
}

// seedAgentStore writes the standard phase files into a temp directory.
func seedAgentStore(t *testing.T) *agents.Store {
	t.Helper()
	agentStore := agents.NewStore(t.TempDir())

	_, err := agentStore.Save(1, []agents.Record{
		{Slug: "market-analyst", Name: "市场技术分析师", Groups: []string{"read"},
			RoleDefinition: "您是市场技术分析师。今天是 {current_date}，标的 {ticker}（{company_name}）。"},
		{Slug: "sentiment-analyst", Name: "情绪分析师", Groups: []string{"read"},
			RoleDefinition: "您是情绪分析师，评估市场讨论热度。"},
	})
	require.NoError(t, err)

	_, err = agentStore.Save(2, []agents.Record{
		{Slug: "bull-researcher", Name: "看涨研究员", Groups: []string{"read"}, RoleDefinition: "您是看涨研究员。"},
		{Slug: "bear-researcher", Name: "看跌研究员", Groups: []string{"read"}, RoleDefinition: "您是看跌研究员。"},
		{Slug: "research-manager", Name: "研究经理", Groups: []string{"read"}, RoleDefinition: "您是研究经理。"},
		{Slug: "trader", Name: "交易员", Groups: []string{"read"}, RoleDefinition: "您是交易员。"},
	})
	require.NoError(t, err)

	_, err = agentStore.Save(3, []agents.Record{
		{Slug: "risky-analyst", Name: "激进风险分析师", Groups: []string{"read"}, RoleDefinition: "您是激进派风险分析师。"},
		{Slug: "safe-analyst", Name: "保守风险分析师", Groups: []string{"read"}, RoleDefinition: "您是保守派风险分析师。"},
		{Slug: "neutral-analyst", Name: "中立风险分析师", Groups: []string{"read"}, RoleDefinition: "您是中立派风险分析师。"},
		{Slug: "risk-judge", Name: "风险经理", Groups: []string{"read"}, RoleDefinition: "您是风险经理，负责最终裁决。"},
	})
	require.NoError(t, err)

	return agentStore
}
