package service

import (
	"context"
	"errors"
	"hash/fnv"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/ragdesk/internal/ai"
	"github.com/xxxsen/ragdesk/internal/db"
	"github.com/xxxsen/ragdesk/internal/model"
	appErr "github.com/xxxsen/ragdesk/internal/pkg/errors"
	"github.com/xxxsen/ragdesk/internal/repo"
	"github.com/xxxsen/ragdesk/internal/vectorstore"
)

const testDim = 32

// wordEmbedder hashes lowercase words into a fixed size bag of words.
type wordEmbedder struct {
	calls int
	fail  func(text string) bool
}

func (e *wordEmbedder) Embed(_ context.Context, text string) []float32 {
	e.calls++
	if e.fail != nil && e.fail(text) {
		return []float32{}
	}
	vec := make([]float32, testDim)
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	}) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		vec[h.Sum32()%testDim]++
	}
	return vec
}

func newTestVectorStore(t *testing.T) vectorstore.Store {
	t.Helper()
	s, err := vectorstore.New(context.Background(), "sqlite", map[string]interface{}{
		"path": filepath.Join(t.TempDir(), "vectors.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestConversationRepo(t *testing.T) *repo.ConversationRepo {
	t.Helper()
	conn, err := db.OpenSQLite(filepath.Join(t.TempDir(), "ragdesk.db"))
	require.NoError(t, err)
	require.NoError(t, db.ApplyMigrations(conn, "sqlite"))
	t.Cleanup(func() { _ = conn.Close() })
	return repo.NewConversationRepo(conn, "sqlite")
}

func TestIngestAndRetrieveEndToEnd(t *testing.T) {
	ctx := context.Background()
	store := newTestVectorStore(t)
	emb := &wordEmbedder{}
	ingest := NewIngestService(ai.NewSplitter(), emb, store)

	stats, err := ingest.Ingest(ctx, strings.Repeat("Hello world. ", 100), "t1")
	require.NoError(t, err)
	require.Equal(t, "t1", stats.Collection)
	require.GreaterOrEqual(t, stats.ChunksTotal, 1)
	require.Equal(t, stats.ChunksTotal, stats.ChunksProcessed)
	require.Zero(t, stats.ChunksSkipped)
	require.Equal(t, stats.TotalChars, stats.TotalCharsStored)
	require.Equal(t, stats.ChunksProcessed, stats.CollectionRecords)

	got := NewRetriever(emb, store).Retrieve(ctx, "Hello world", "t1", 3)
	require.NotEmpty(t, got)
	require.LessOrEqual(t, len(got), 3)
	for _, doc := range got {
		require.Contains(t, doc, "Hello world")
	}
}

func TestIngestReingestReplacesChunks(t *testing.T) {
	ctx := context.Background()
	store := newTestVectorStore(t)
	ingest := NewIngestService(ai.NewSplitter(ai.WithChunkSize(50), ai.WithOverlap(10)), &wordEmbedder{}, store)

	text := strings.Repeat("ticket escalation dialer outage. ", 10)
	first, err := ingest.Ingest(ctx, text, "t1")
	require.NoError(t, err)
	second, err := ingest.Ingest(ctx, text, "t1")
	require.NoError(t, err)
	require.Equal(t, first.CollectionRecords, second.CollectionRecords)

	c, found, err := store.GetCollection(ctx, "t1")
	require.NoError(t, err)
	require.True(t, found)
	n, err := c.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, first.ChunksProcessed, n)
}

func TestIngestRejectsBlankInput(t *testing.T) {
	ctx := context.Background()
	store := newTestVectorStore(t)
	emb := &wordEmbedder{}
	ingest := NewIngestService(ai.NewSplitter(), emb, store)

	for _, text := range []string{"", "   \n\t  "} {
		_, err := ingest.Ingest(ctx, text, "t1")
		require.True(t, errors.Is(err, appErr.ErrInvalid))
	}
	_, err := ingest.Ingest(ctx, "some text", " ")
	require.True(t, errors.Is(err, appErr.ErrInvalid))

	require.Zero(t, emb.calls)
	_, found, err := store.GetCollection(ctx, "t1")
	require.NoError(t, err)
	require.False(t, found)
}

func TestIngestSkipsChunksWithoutEmbedding(t *testing.T) {
	ctx := context.Background()
	store := newTestVectorStore(t)
	emb := &wordEmbedder{fail: func(text string) bool { return strings.Contains(text, "broken") }}
	ingest := NewIngestService(ai.NewSplitter(ai.WithChunkSize(30), ai.WithOverlap(0)), emb, store)

	text := "alpha beta gamma delta\n\nbroken chunk here\n\nepsilon zeta eta theta"
	stats, err := ingest.Ingest(ctx, text, "t1")
	require.NoError(t, err)
	require.GreaterOrEqual(t, stats.ChunksSkipped, 1)
	require.GreaterOrEqual(t, stats.ChunksProcessed, 1)
	require.Equal(t, stats.ChunksTotal, stats.ChunksProcessed+stats.ChunksSkipped)
	require.Less(t, stats.TotalCharsStored, stats.TotalChars)

	c, _, err := store.GetCollection(ctx, "t1")
	require.NoError(t, err)
	n, err := c.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, stats.ChunksProcessed, n)
	require.Equal(t, n, stats.CollectionRecords)
}

func TestRetrieveEmptyOrMissingCollection(t *testing.T) {
	ctx := context.Background()
	store := newTestVectorStore(t)
	emb := &wordEmbedder{}
	r := NewRetriever(emb, store)

	got := r.Retrieve(ctx, "anything", "missing", 3)
	require.NotNil(t, got)
	require.Empty(t, got)
	_, found, err := store.GetCollection(ctx, "missing")
	require.NoError(t, err)
	require.False(t, found)

	_, err = vectorstore.GetOrCreateCollection(ctx, store, "empty")
	require.NoError(t, err)
	got = r.Retrieve(ctx, "anything", "empty", 3)
	require.NotNil(t, got)
	require.Empty(t, got)

	require.Empty(t, r.Retrieve(ctx, "anything", "empty", 0))
}

func TestRetrieveBoundsAndOrder(t *testing.T) {
	ctx := context.Background()
	store := newTestVectorStore(t)
	emb := &wordEmbedder{}
	c, err := vectorstore.GetOrCreateCollection(ctx, store, "t1")
	require.NoError(t, err)
	docs := []string{"dialer outage in campaign", "billing invoice mismatch", "dialer rule based dialing issue", "password reset request"}
	for i, d := range docs {
		require.NoError(t, vectorstore.Upsert(ctx, c, []vectorstore.Record{{
			ID: model.ChunkID(i), Document: d, Embedding: emb.Embed(ctx, d),
		}}))
	}

	got := NewRetriever(emb, store).Retrieve(ctx, "dialer rule based dialing issue", "t1", 2)
	require.Len(t, got, 2)
	require.Equal(t, "dialer rule based dialing issue", got[0])
}

func TestRetrieveWithFailedEmbeddingStillAnswers(t *testing.T) {
	ctx := context.Background()
	store := newTestVectorStore(t)
	ok := &wordEmbedder{}
	c, err := vectorstore.GetOrCreateCollection(ctx, store, "t1")
	require.NoError(t, err)
	require.NoError(t, vectorstore.Upsert(ctx, c, []vectorstore.Record{
		{ID: "chunk_0", Document: "first", Embedding: ok.Embed(ctx, "first")},
		{ID: "chunk_1", Document: "second", Embedding: ok.Embed(ctx, "second")},
	}))

	broken := &wordEmbedder{fail: func(string) bool { return true }}
	got := NewRetriever(broken, store).Retrieve(ctx, "anything", "t1", 1)
	require.Equal(t, []string{"first"}, got)
}

func TestMarkerExtractor(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "marker pair", in: "noise --- KEEP ME --- noise", want: "KEEP ME"},
		{name: "multiline marker pair", in: "head\n---\nline one\nline two\n---\ntail", want: "line one\nline two"},
		{name: "longer dash rule is not a marker", in: "Header\n------\nnoise\n---\nKEEP ME\n---\ntail", want: "KEEP ME"},
		{name: "empty inline pair skipped", in: "a ------ b --- KEEP ME --- c", want: "KEEP ME"},
		{name: "marker lines win over inline dashes", in: "x --- y\n---\nsolution text\n---\n", want: "solution text"},
		{name: "main issue until marker", in: "intro Main Issue: dialer down\ncalls drop --- footer", want: "Main Issue: dialer down\ncalls drop"},
		{name: "main issue until end", in: "intro Main Issue: dialer down ", want: "Main Issue: dialer down"},
		{name: "no markers", in: "plain context text", want: "plain context text"},
		{name: "empty", in: "", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, MarkerExtractor{}.Extract(tt.in))
		})
	}
	require.Equal(t, "a --- b --- c", PassthroughExtractor{}.Extract("a --- b --- c"))
}

func TestNewContextExtractor(t *testing.T) {
	for name, want := range map[string]ContextExtractor{
		"":            MarkerExtractor{},
		"marker":      MarkerExtractor{},
		"Passthrough": PassthroughExtractor{},
	} {
		got, err := NewContextExtractor(name)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	_, err := NewContextExtractor("regex")
	require.Error(t, err)
}

func TestPromptTemplateRender(t *testing.T) {
	out := AnswerTemplate.Render("CTX", "Q?")
	require.True(t, strings.HasSuffix(out, "Context:\nCTX\n\nQuestion: Q?\n"))
	require.Contains(t, out, `"Sub Disposition": "<sub disposition text>"`)
	require.NotContains(t, out, "{context}")

	chat := ChatTemplate.Render("", "hi")
	require.Contains(t, chat, "### Context:\n\n\n### Question:\nhi")
	require.Contains(t, chat, `"solution": "<complete and detailed extracted solution text>"`)
}

type recordingRetriever struct {
	query  string
	topK   int
	result []string
}

func (r *recordingRetriever) Retrieve(_ context.Context, query string, _ string, topK int) []string {
	r.query = query
	r.topK = topK
	return r.result
}

func seedConversation(t *testing.T, store ConversationStore, sessionID string) {
	t.Helper()
	ctx := context.Background()
	for _, m := range []model.Message{
		{Role: model.RoleHuman, Content: "q1"},
		{Role: model.RoleAssistant, Content: "a1"},
		{Role: model.RoleHuman, Content: "q2"},
		{Role: model.RoleAssistant, Content: "a2"},
		{Role: model.RoleHuman, Content: "q3"},
		{Role: model.RoleAssistant, Content: "a3"},
		{Role: model.RoleHuman, Content: "q4"},
	} {
		if m.Role == model.RoleHuman {
			require.NoError(t, store.AppendUser(ctx, sessionID, m.Content))
		} else {
			require.NoError(t, store.AppendAssistant(ctx, sessionID, m.Content))
		}
	}
}

func TestBuildContextWindows(t *testing.T) {
	ctx := context.Background()
	history := newTestConversationRepo(t)
	seedConversation(t, history, "s1")
	rt := &recordingRetriever{result: []string{"noise --- KEEP ME --- noise", "other chunk"}}
	a := NewContextAssembler(rt, history, MarkerExtractor{}, AssemblerConfig{HistoryQueries: 3, HistoryWindow: 5, TopK: 3})

	out := a.BuildContext(ctx, "now", "s1", "t1", AnswerTemplate)
	require.Equal(t, "q2 q3 q4 now", rt.query)
	require.Equal(t, "q2 q3 q4 now", out.RetrievalQuery)
	require.Equal(t, 3, rt.topK)
	require.Equal(t, "KEEP ME", out.Context)
	require.Contains(t, out.Prompt, "Context:\nKEEP ME\n\nQuestion: now")
	require.Equal(t, []model.Message{
		{Role: model.RoleHuman, Content: "q2"},
		{Role: model.RoleAssistant, Content: "a2"},
		{Role: model.RoleHuman, Content: "q3"},
		{Role: model.RoleAssistant, Content: "a3"},
		{Role: model.RoleHuman, Content: "q4"},
		{Role: model.RoleHuman, Content: "now"},
	}, out.History)
}

func TestBuildContextFreshSession(t *testing.T) {
	rt := &recordingRetriever{}
	a := NewContextAssembler(rt, newTestConversationRepo(t), nil, AssemblerConfig{})

	out := a.BuildContext(context.Background(), "first question", "fresh", "t1", ChatTemplate)
	require.Equal(t, "first question", rt.query)
	require.Equal(t, DefaultTopK, rt.topK)
	require.Empty(t, out.Context)
	require.Equal(t, []model.Message{{Role: model.RoleHuman, Content: "first question"}}, out.History)
}

type fakeGenerator struct {
	system  string
	history []model.Message
	resp    string
	err     error
}

func (g *fakeGenerator) Generate(_ context.Context, system string, history []model.Message) (string, error) {
	g.system = system
	g.history = history
	return g.resp, g.err
}

func newTestChatService(t *testing.T, gen ai.IGenerator) (*ChatService, *repo.ConversationRepo, *recordingRetriever) {
	t.Helper()
	history := newTestConversationRepo(t)
	rt := &recordingRetriever{result: []string{"Main Issue: dialer drops calls"}}
	a := NewContextAssembler(rt, history, MarkerExtractor{}, AssemblerConfig{HistoryQueries: 3, HistoryWindow: 5, TopK: 3})
	return NewChatService(a, gen, history, "tickets"), history, rt
}

func TestChatServiceAnswer(t *testing.T) {
	ctx := context.Background()
	gen := &fakeGenerator{resp: "```json\n{\"solution\": \"restart dialer\\nverify rules\", \"Disposition\": \"Dialer Issue\", \"Sub Disposition\": \"Rule Based Dialing Issue\", \"Priority\": \"Semi Critical\"}\n```"}
	svc, history, rt := newTestChatService(t, gen)

	res, err := svc.Answer(ctx, "Dialer down", "Calls are dropping", "s1", "")
	require.NoError(t, err)
	require.Equal(t, model.Answer{
		Solution:       `restart dialer\nverify rules`,
		Disposition:    "Dialer Issue",
		SubDisposition: "Rule Based Dialing Issue",
		Priority:       "Semi Critical",
	}, res.Answer)
	require.Equal(t, "Dialer down\nCalls are dropping", rt.query)
	require.Contains(t, gen.system, "Main Issue: dialer drops calls")
	require.Equal(t, []model.Message{{Role: model.RoleHuman, Content: "Dialer down\nCalls are dropping"}}, gen.history)

	msgs, err := history.ReadRecent(ctx, "s1", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, model.Message{Role: model.RoleHuman, Content: "Dialer down\nCalls are dropping"}, msgs[0])
	require.Equal(t, model.RoleAssistant, msgs[1].Role)
	require.Equal(t, res.Raw, msgs[1].Content)
}

func TestChatServiceUnparsableOutput(t *testing.T) {
	svc, _, _ := newTestChatService(t, &fakeGenerator{resp: "I cannot help with that"})
	res, err := svc.Chat(context.Background(), "hello", "s1")
	require.NoError(t, err)
	require.Equal(t, ai.ApologyText, res.Answer.Solution)
}

func TestChatServiceEmptyOutput(t *testing.T) {
	ctx := context.Background()
	svc, history, _ := newTestChatService(t, &fakeGenerator{resp: ""})
	res, err := svc.Answer(ctx, "Dialer down", "Calls are dropping", "s1", "")
	require.NoError(t, err)
	require.Equal(t, ai.ApologyText, res.Answer.Solution)
	require.Empty(t, res.Raw)

	msgs, err := history.ReadRecent(ctx, "s1", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
}

func TestChatServiceGeneratorFailure(t *testing.T) {
	ctx := context.Background()
	svc, history, _ := newTestChatService(t, &fakeGenerator{err: errors.New("connection refused")})
	_, err := svc.Chat(ctx, "dialer issue", "s1")
	require.True(t, errors.Is(err, appErr.ErrUpstreamUnavailable))

	msgs, err := history.ReadRecent(ctx, "s1", 10)
	require.NoError(t, err)
	require.Empty(t, msgs)
}

func TestChatServiceValidation(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestChatService(t, &fakeGenerator{resp: "{}"})

	_, err := svc.Chat(ctx, "  ", "s1")
	require.True(t, errors.Is(err, appErr.ErrInvalid))
	_, err = svc.Chat(ctx, "question", "")
	require.True(t, errors.Is(err, appErr.ErrInvalid))
	_, err = svc.Answer(ctx, " ", " ", "s1", "t1")
	require.True(t, errors.Is(err, appErr.ErrInvalid))
	_, err = svc.History(ctx, "", 10)
	require.True(t, errors.Is(err, appErr.ErrInvalid))
}

func TestChatServiceHistory(t *testing.T) {
	ctx := context.Background()
	svc, history, _ := newTestChatService(t, &fakeGenerator{})
	seedConversation(t, history, "s1")

	msgs, err := svc.History(ctx, "s1", 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, model.Message{Role: model.RoleAssistant, Content: "a3"}, msgs[0].Message())
	require.Equal(t, model.Message{Role: model.RoleHuman, Content: "q4"}, msgs[1].Message())
	require.Equal(t, "s1", msgs[1].SessionID)
}

