package assistant

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/yanqian/sqlassistant/internal/domain/conversation"
	"github.com/yanqian/sqlassistant/internal/domain/fewshot"
	"github.com/yanqian/sqlassistant/internal/domain/prompt"
	"github.com/yanqian/sqlassistant/internal/infra/embedder"
	"github.com/yanqian/sqlassistant/internal/infra/inventorydb"
	"github.com/yanqian/sqlassistant/internal/infra/llm/chatgpt"
	"github.com/yanqian/sqlassistant/internal/infra/sessionstore"
	apperrors "github.com/yanqian/sqlassistant/pkg/errors"
)

const nikeSQL = "SELECT sum(stock_quantity) FROM t_shirts WHERE brand = 'Nike' AND color = 'White'"

type scriptedClient struct {
	replies  []string
	err      error
	requests []chatgpt.ChatCompletionRequest
}

func (c *scriptedClient) CreateChatCompletion(_ context.Context, req chatgpt.ChatCompletionRequest) (chatgpt.ChatCompletionResponse, error) {
	c.requests = append(c.requests, req)
	var resp chatgpt.ChatCompletionResponse
	if c.err != nil {
		return resp, c.err
	}
	if len(c.replies) == 0 {
		return resp, nil
	}
	reply := c.replies[0]
	c.replies = c.replies[1:]
	resp.Choices = append(resp.Choices, struct {
		Message      chatgpt.Message `json:"message"`
		FinishReason string          `json:"finish_reason"`
	}{Message: chatgpt.Message{Role: "assistant", Content: reply}})
	resp.Usage = chatgpt.Usage{PromptTokens: 100, CompletionTokens: 5, TotalTokens: 105}
	return resp, nil
}

type staticSchema struct {
	text string
	err  error
}

func (s staticSchema) TableInfo(context.Context) (string, error) { return s.text, s.err }
func (s staticSchema) Refresh(context.Context) (string, error)   { return s.text, s.err }

type harness struct {
	svc     Service
	client  *scriptedClient
	mock    sqlmock.Sqlmock
	history conversation.Service
	session conversation.Session
}

func newHarness(t *testing.T, mode string, replies ...string) *harness {
	t.Helper()
	ctx := context.Background()

	index := fewshot.NewIndex(fewshot.Config{EmbeddingModel: "det"}, fewshot.DefaultExemplars(), embedder.NewDeterministicEmbedder(64), nil, nil)
	require.NoError(t, index.Init(ctx))

	assembler, err := prompt.NewAssembler(prompt.Config{})
	require.NoError(t, err)

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	history := conversation.NewService(sessionstore.NewMemoryStore(), nil)
	session, err := history.Start(ctx)
	require.NoError(t, err)

	client := &scriptedClient{replies: replies}
	svc := NewService(
		Config{K: 2, Dialect: "PostgreSQL", TopK: 5, AnswerMode: mode, Model: "test-model", Temperature: 0.2},
		index,
		staticSchema{text: "CREATE TABLE t_shirts (\n\tt_shirt_id INTEGER NOT NULL\n)"},
		assembler,
		inventorydb.NewExecutor(db, inventorydb.Config{ReadOnly: true}, nil),
		client,
		history,
		nil,
		nil,
	)
	return &harness{svc: svc, client: client, mock: mock, history: history, session: session}
}

// expectQuery registers a statement run inside the executor's read-only transaction.
func (h *harness) expectQuery(re string) *sqlmock.ExpectedQuery {
	h.mock.ExpectBegin()
	q := h.mock.ExpectQuery(re)
	h.mock.ExpectRollback()
	return q
}

func (h *harness) entries(t *testing.T) []conversation.Entry {
	t.Helper()
	entries, err := h.history.List(context.Background(), h.session)
	require.NoError(t, err)
	return entries
}

func TestAskAnswersWhiteNikeQuestion(t *testing.T) {
	h := newHarness(t, AnswerModeLLM, "SQLQuery: "+nikeSQL, "91")
	h.expectQuery(regexp.QuoteMeta(nikeSQL)).
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(int64(91)))

	res, err := h.svc.Ask(context.Background(), h.session, "  How many white Nike t-shirts are in stock?  ")
	require.NoError(t, err)
	require.Equal(t, "91", res.Answer)
	require.Equal(t, nikeSQL, res.SQL)
	require.Equal(t, "[(91,)]", res.RawResult)
	require.Len(t, res.Exemplars, 2)
	require.Equal(t, 210, res.TokenUsage.TotalTokens)
	require.NoError(t, h.mock.ExpectationsWereMet())

	require.Len(t, h.client.requests, 2)
	first := h.client.requests[0]
	require.Equal(t, []string{"\nSQLResult:"}, first.Stop)
	require.Equal(t, "test-model", first.Model)
	require.True(t, strings.HasSuffix(first.Messages[0].Content, "Question: How many white Nike t-shirts are in stock?\nSQLQuery: "))
	second := h.client.requests[1].Messages[0].Content
	require.True(t, strings.HasSuffix(second, nikeSQL+"\nSQLResult: [(91,)]\nAnswer: "))

	entries := h.entries(t)
	require.Len(t, entries, 1)
	require.Equal(t, "How many white Nike t-shirts are in stock?", entries[0].Question)
	require.Equal(t, "91", entries[0].Answer)
}

func TestAskDirectModeSkipsSecondCall(t *testing.T) {
	h := newHarness(t, AnswerModeDirect, "```sql\n"+nikeSQL+"\n```")
	h.expectQuery(regexp.QuoteMeta(nikeSQL)).
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(int64(91)))

	res, err := h.svc.Ask(context.Background(), h.session, "How many white Nike t-shirts are in stock?")
	require.NoError(t, err)
	require.Equal(t, "[(91,)]", res.Answer)
	require.Len(t, h.client.requests, 1)
}

func TestAskLLMFailureLeavesHistoryUntouched(t *testing.T) {
	h := newHarness(t, AnswerModeLLM)
	h.client.err = errors.New("status=503")

	_, err := h.svc.Ask(context.Background(), h.session, "How many white Nike t-shirts are in stock?")
	require.True(t, apperrors.IsCode(err, apperrors.CodeLLM))
	require.Empty(t, h.entries(t))
}

func TestAskSQLFailure(t *testing.T) {
	h := newHarness(t, AnswerModeLLM, "SELECT colour FROM t_shirts")
	h.expectQuery("SELECT colour").WillReturnError(errors.New(`column "colour" does not exist`))

	_, err := h.svc.Ask(context.Background(), h.session, "What colours are there?")
	require.True(t, apperrors.IsCode(err, apperrors.CodeSQL))
	require.Empty(t, h.entries(t))
	require.Len(t, h.client.requests, 1)
}

func TestAskRejectsWrites(t *testing.T) {
	h := newHarness(t, AnswerModeLLM, "DELETE FROM t_shirts")

	_, err := h.svc.Ask(context.Background(), h.session, "Remove everything")
	require.True(t, apperrors.IsCode(err, apperrors.CodeSQL))
	require.ErrorIs(t, err, inventorydb.ErrNotReadOnly)
}

func TestAskEmptyCompletion(t *testing.T) {
	h := newHarness(t, AnswerModeLLM, "   ")

	_, err := h.svc.Ask(context.Background(), h.session, "How many?")
	require.True(t, apperrors.IsCode(err, apperrors.CodeGeneration))
	require.Empty(t, h.entries(t))
}

func TestAskEmptyQuestion(t *testing.T) {
	h := newHarness(t, AnswerModeLLM)

	_, err := h.svc.Ask(context.Background(), h.session, "   ")
	require.True(t, apperrors.IsCode(err, apperrors.CodeInvalidInput))
	require.Empty(t, h.client.requests)
}

func TestAskIndexNotReady(t *testing.T) {
	index := fewshot.NewIndex(fewshot.Config{}, fewshot.DefaultExemplars(), embedder.NewDeterministicEmbedder(8), nil, nil)
	assembler, err := prompt.NewAssembler(prompt.Config{})
	require.NoError(t, err)
	history := conversation.NewService(sessionstore.NewMemoryStore(), nil)
	svc := NewService(Config{K: 2, TopK: 5}, index, staticSchema{}, assembler, nil, &scriptedClient{}, history, nil, nil)

	_, err = svc.Ask(context.Background(), conversation.Session{}, "q")
	require.True(t, apperrors.IsCode(err, apperrors.CodeIndex))
	require.ErrorIs(t, err, fewshot.ErrIndexNotReady)
}

func TestAskSchemaFailure(t *testing.T) {
	h := newHarness(t, AnswerModeLLM)
	svc := h.svc.(*service)
	svc.schema = staticSchema{err: errors.New("permission denied")}

	_, err := svc.Ask(context.Background(), h.session, "q")
	require.True(t, apperrors.IsCode(err, apperrors.CodeSchema))
	_, err = svc.RefreshSchema(context.Background())
	require.True(t, apperrors.IsCode(err, apperrors.CodeSchema))
}

func TestExtractSQL(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{in: nikeSQL, want: nikeSQL},
		{in: "SQLQuery: SELECT 1", want: "SELECT 1"},
		{in: "```sql\nSELECT 1\n```", want: "SELECT 1"},
		{in: "SQLQuery: ```SQL\nSELECT 1;\n```\nSQLResult: [(1,)]", want: "SELECT 1;"},
		{in: "SELECT 1\nSQLResult: [(1,)]\nAnswer: 1", want: "SELECT 1"},
		{in: "Question: q\nSQLQuery: SELECT 2\nAnswer: 2", want: "SELECT 2"},
		{in: "  ", want: ""},
		{in: "```\nSQLQuery: SELECT 1\n```", want: "SELECT 1"},
		{in: "```sql SELECT 1```", want: "SELECT 1"},
		{in: "```\nsqlquery: select 1\n```", want: "select 1"},
		{in: "İİ sqlquery: SELECT 'Ä'", want: "SELECT 'Ä'"},
		{in: "ẞẞẞ SQLQuery: SELECT 3", want: "SELECT 3"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, ExtractSQL(tc.in), tc.in)
	}
}

func TestCleanAnswer(t *testing.T) {
	require.Equal(t, "91", CleanAnswer(" 91 \nQuestion: How many Levi?"))
	require.Equal(t, "There are 91.", CleanAnswer("Answer: There are 91."))
}
