package gateway

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"archcritic/pkg/bus"
	"archcritic/pkg/channel"
	"archcritic/pkg/config"
	"archcritic/pkg/quota"
	"archcritic/pkg/vision"
)

type fakeAnalyzer struct {
	mu     sync.Mutex
	result vision.Result
	err    error
	calls  int
	inputs [][]byte
}

func (f *fakeAnalyzer) AnalyzeDetailed(_ context.Context, raw []byte) (vision.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.inputs = append(f.inputs, raw)
	if f.err != nil {
		return vision.Result{}, f.err
	}
	return f.result, nil
}

func (f *fakeAnalyzer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type healthyProvider struct{}

func (healthyProvider) Health(context.Context) error { return nil }

type failingStore struct {
	quota.Store
	err error
}

func (s failingStore) Get(context.Context, string) (quota.Key, error) {
	return quota.Key{}, s.err
}

func newDispatchService(t *testing.T, analyzer Analyzer) (*Service, *quota.FileStore) {
	t.Helper()

	store := quota.NewFileStore(filepath.Join(t.TempDir(), "keys.json"))
	cfg := &config.Config{}
	cfg.Quota.DefaultQuota = 10

	svc, err := NewService(cfg, Dependencies{
		Provider: healthyProvider{},
		Analyzer: analyzer,
		Keys:     store,
	}, []channel.Adapter{&scriptedAdapter{name: "telegram", done: make(chan struct{})}}, nil)
	require.NoError(t, err)

	return svc, store
}

func generateKey(t *testing.T, store quota.Store, remaining int) string {
	t.Helper()

	keys, err := store.Generate(context.Background(), 1, remaining)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	return keys[0]
}

func imageMessage(data []byte) bus.InboundMessage {
	return bus.InboundMessage{
		Channel:    "telegram",
		ChatID:     "100",
		SessionKey: "telegram:100",
		Kind:       bus.KindImage,
		Image: &bus.ImageRef{
			FileID: "photo-1",
			Fetch: func(context.Context) ([]byte, error) {
				return data, nil
			},
		},
	}
}

func textMessage(text string) bus.InboundMessage {
	return bus.InboundMessage{Channel: "telegram", ChatID: "100", SessionKey: "telegram:100", Kind: bus.KindText, Content: text}
}

func commandMessage(command string, args string) bus.InboundMessage {
	return bus.InboundMessage{Channel: "telegram", ChatID: "100", SessionKey: "telegram:100", Kind: bus.KindCommand, Command: command, Args: args}
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	t.Parallel()

	adapters := []channel.Adapter{&scriptedAdapter{name: "telegram"}}
	_, err := NewService(&config.Config{}, Dependencies{}, adapters, nil)
	require.Error(t, err)

	_, err = NewService(&config.Config{}, Dependencies{Provider: healthyProvider{}, Analyzer: &fakeAnalyzer{}}, adapters, nil)
	require.ErrorContains(t, err, "key store")

	_, err = NewService(nil, Dependencies{}, adapters, nil)
	require.ErrorContains(t, err, "config")
}

func TestHandleCommands(t *testing.T) {
	t.Parallel()

	svc, _ := newDispatchService(t, &fakeAnalyzer{})
	ctx := context.Background()

	out, err := svc.handleInbound(ctx, commandMessage("start", ""))
	require.NoError(t, err)
	require.Equal(t, replyWelcome, out.Content)
	require.Equal(t, "telegram:100", out.SessionKey)

	out, err = svc.handleInbound(ctx, commandMessage("help", ""))
	require.NoError(t, err)
	require.Equal(t, replyHelp, out.Content)

	out, err = svc.handleInbound(ctx, commandMessage("key", ""))
	require.NoError(t, err)
	require.Equal(t, replyKeyMissingArg, out.Content)

	out, err = svc.handleInbound(ctx, commandMessage("key", "nope"))
	require.NoError(t, err)
	require.Equal(t, replyKeyInvalid, out.Content)
}

func TestKeyCommandBindsKey(t *testing.T) {
	t.Parallel()

	svc, store := newDispatchService(t, &fakeAnalyzer{})
	key := generateKey(t, store, 10)

	out, err := svc.handleInbound(context.Background(), commandMessage("key", key+" trailing"))
	require.NoError(t, err)
	require.Equal(t, "Ключ принят. Остаток изображений: 10 из 10.", out.Content)

	bound, ok := svc.sessions.Key("telegram:100")
	require.True(t, ok)
	require.Equal(t, key, bound)
}

func TestKeyCommandUnlimited(t *testing.T) {
	t.Parallel()

	svc, store := newDispatchService(t, &fakeAnalyzer{})
	key, err := store.GenerateUnlimited(context.Background())
	require.NoError(t, err)

	out, err := svc.handleInbound(context.Background(), commandMessage("key", key))
	require.NoError(t, err)
	require.Equal(t, replyKeyAcceptedUnlimited, out.Content)
}

func TestTextIsTreatedAsKey(t *testing.T) {
	t.Parallel()

	svc, store := newDispatchService(t, &fakeAnalyzer{})
	ctx := context.Background()

	out, err := svc.handleInbound(ctx, textMessage("hello"))
	require.NoError(t, err)
	require.Equal(t, replyTextUnbound, out.Content)

	out, err = svc.handleInbound(ctx, textMessage("   "))
	require.NoError(t, err)
	require.Equal(t, replyEmptyText, out.Content)

	key := generateKey(t, store, 3)
	out, err = svc.handleInbound(ctx, textMessage("  "+key+"\n"))
	require.NoError(t, err)
	require.Equal(t, "Ключ принят. Остаток изображений: 3 из 10. Теперь пришлите фото здания.", out.Content)

	out, err = svc.handleInbound(ctx, textMessage("what style is this?"))
	require.NoError(t, err)
	require.Equal(t, replyTextBound, out.Content)

	unlimited, err := store.GenerateUnlimited(ctx)
	require.NoError(t, err)
	out, err = svc.handleInbound(ctx, textMessage(unlimited))
	require.NoError(t, err)
	require.Equal(t, replyTextKeyAcceptedUnlimited, out.Content)
}

func TestVoiceAndUnsupportedReplies(t *testing.T) {
	t.Parallel()

	svc, _ := newDispatchService(t, &fakeAnalyzer{})
	ctx := context.Background()

	out, err := svc.handleInbound(ctx, bus.InboundMessage{SessionKey: "telegram:1", Kind: bus.KindVoice})
	require.NoError(t, err)
	require.Equal(t, replyVoice, out.Content)

	out, err = svc.handleInbound(ctx, bus.InboundMessage{SessionKey: "telegram:1", Kind: bus.KindUnsupported})
	require.NoError(t, err)
	require.Equal(t, replyNotImage, out.Content)
}

func TestImageRequiresBoundKey(t *testing.T) {
	t.Parallel()

	analyzer := &fakeAnalyzer{}
	svc, _ := newDispatchService(t, analyzer)

	out, err := svc.handleInbound(context.Background(), imageMessage([]byte("jpeg")))
	require.NoError(t, err)
	require.Equal(t, replyKeyUnbound, out.Content)
	require.Zero(t, analyzer.callCount())
}

func TestImageWithUnknownBoundKey(t *testing.T) {
	t.Parallel()

	analyzer := &fakeAnalyzer{}
	svc, _ := newDispatchService(t, analyzer)
	svc.sessions.Bind("telegram:100", "deleted-key")

	out, err := svc.handleInbound(context.Background(), imageMessage([]byte("jpeg")))
	require.NoError(t, err)
	require.Equal(t, replyKeyRevoked, out.Content)
	require.Zero(t, analyzer.callCount())

	_, ok := svc.sessions.Key("telegram:100")
	require.False(t, ok)
}

func TestImageWithExhaustedKey(t *testing.T) {
	t.Parallel()

	analyzer := &fakeAnalyzer{}
	svc, store := newDispatchService(t, analyzer)
	key := generateKey(t, store, 1)
	_, err := store.Decrement(context.Background(), key)
	require.NoError(t, err)
	svc.sessions.Bind("telegram:100", key)

	out, err := svc.handleInbound(context.Background(), imageMessage([]byte("jpeg")))
	require.NoError(t, err)
	require.Equal(t, replyExhausted(10), out.Content)
	require.Zero(t, analyzer.callCount())
}

func TestImageWithoutBytes(t *testing.T) {
	t.Parallel()

	analyzer := &fakeAnalyzer{}
	svc, store := newDispatchService(t, analyzer)
	svc.sessions.Bind("telegram:100", generateKey(t, store, 5))

	out, err := svc.handleInbound(context.Background(), imageMessage(nil))
	require.NoError(t, err)
	require.Equal(t, replyNotImage, out.Content)

	inbound := imageMessage(nil)
	inbound.Image = nil
	out, err = svc.handleInbound(context.Background(), inbound)
	require.NoError(t, err)
	require.Equal(t, replyNotImage, out.Content)
	require.Zero(t, analyzer.callCount())
}

func TestImageDownloadFailure(t *testing.T) {
	t.Parallel()

	svc, store := newDispatchService(t, &fakeAnalyzer{})
	svc.sessions.Bind("telegram:100", generateKey(t, store, 5))

	inbound := imageMessage(nil)
	inbound.Image.Fetch = func(context.Context) ([]byte, error) {
		return nil, errors.New("file api down")
	}

	out, err := svc.handleInbound(context.Background(), inbound)
	require.NoError(t, err)
	require.Equal(t, vision.MessageGeneric, out.Content)
	require.Contains(t, out.Error, "file api down")
}

func TestImageSuccessDecrementsAndReportsStatus(t *testing.T) {
	t.Parallel()

	analyzer := &fakeAnalyzer{result: vision.Result{Text: "Стиль: конструктивизм", Model: "gpt-4o-mini", Rung: 1, Attempts: 1}}
	svc, store := newDispatchService(t, analyzer)
	key := generateKey(t, store, 10)
	svc.sessions.Bind("telegram:100", key)

	var statuses []string
	ctx := channel.WithStatusReporter(context.Background(), func(_ context.Context, text string) error {
		statuses = append(statuses, text)
		return nil
	})

	out, err := svc.handleInbound(ctx, imageMessage([]byte("jpeg-bytes")))
	require.NoError(t, err)
	require.Equal(t, "Стиль: конструктивизм\n\nОстаток по ключу: 9/10.", out.Content)
	require.Equal(t, []string{replyAnalyzing}, statuses)
	require.Equal(t, "9", out.Metadata[RemainingKey])
	require.NotEmpty(t, out.Metadata[RequestIDKey])
	require.Equal(t, "gpt-4o-mini", out.Metadata[ModelKey])

	info, err := store.Get(context.Background(), key)
	require.NoError(t, err)
	require.Equal(t, 9, info.Remaining)
	require.Equal(t, [][]byte{[]byte("jpeg-bytes")}, analyzer.inputs)
}

func TestImageSuccessWithUnlimitedKey(t *testing.T) {
	t.Parallel()

	analyzer := &fakeAnalyzer{result: vision.Result{Text: "Оценка", Cached: true}}
	svc, store := newDispatchService(t, analyzer)
	key, err := store.GenerateUnlimited(context.Background())
	require.NoError(t, err)
	svc.sessions.Bind("telegram:100", key)

	out, err := svc.handleInbound(context.Background(), imageMessage([]byte("jpeg")))
	require.NoError(t, err)
	require.Equal(t, "Оценка\n\nОстаток по ключу: безлимит.", out.Content)

	info, err := store.Get(context.Background(), key)
	require.NoError(t, err)
	require.True(t, info.Unlimited())
}

func TestImageNoAssessmentStillCharges(t *testing.T) {
	t.Parallel()

	analyzer := &fakeAnalyzer{result: vision.Result{Text: vision.NoAssessment}}
	svc, store := newDispatchService(t, analyzer)
	key := generateKey(t, store, 2)
	svc.sessions.Bind("telegram:100", key)

	out, err := svc.handleInbound(context.Background(), imageMessage([]byte("jpeg")))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(out.Content, vision.NoAssessment))

	info, err := store.Get(context.Background(), key)
	require.NoError(t, err)
	require.Equal(t, 1, info.Remaining)
}

func TestImageAnalysisFailureKeepsQuota(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "timeout", err: &vision.Error{Kind: vision.KindTimeout}, want: vision.MessageTimeout},
		{name: "restricted", err: &vision.Error{Kind: vision.KindAccessRestricted}, want: vision.MessageAccessRestricted},
		{name: "insufficient", err: &vision.Error{Kind: vision.KindInsufficientInput}, want: vision.MessageInsufficientInput},
		{name: "rejected", err: &vision.Error{Kind: vision.KindContentRejected}, want: vision.MessageContentRejected},
		{name: "unclassified", err: errors.New("boom"), want: vision.MessageGeneric},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			svc, store := newDispatchService(t, &fakeAnalyzer{err: tt.err})
			key := generateKey(t, store, 4)
			svc.sessions.Bind("telegram:100", key)

			out, err := svc.handleInbound(context.Background(), imageMessage([]byte("jpeg")))
			require.NoError(t, err)
			require.Equal(t, tt.want, out.Content)
			require.NotEmpty(t, out.Error)
			require.Equal(t, string(vision.KindOf(tt.err)), out.Metadata[ErrorKindKey])

			info, err := store.Get(context.Background(), key)
			require.NoError(t, err)
			require.Equal(t, 4, info.Remaining)
		})
	}
}

func TestStoreFailureRepliesGeneric(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}
	svc, err := NewService(cfg, Dependencies{
		Provider: healthyProvider{},
		Analyzer: &fakeAnalyzer{},
		Keys:     failingStore{err: errors.New("redis unavailable")},
	}, []channel.Adapter{&scriptedAdapter{name: "telegram"}}, nil)
	require.NoError(t, err)

	out, err := svc.handleInbound(context.Background(), commandMessage("key", "abc"))
	require.NoError(t, err)
	require.Equal(t, vision.MessageGeneric, out.Content)
	require.Contains(t, out.Error, "redis unavailable")

	svc.sessions.Bind("telegram:100", "abc")
	out, err = svc.handleInbound(context.Background(), imageMessage([]byte("jpeg")))
	require.NoError(t, err)
	require.Equal(t, vision.MessageGeneric, out.Content)
}

func TestEventsPublishedForAnalysis(t *testing.T) {
	t.Parallel()

	analyzer := &fakeAnalyzer{result: vision.Result{Text: "ok", Rung: 1}}
	svc, store := newDispatchService(t, analyzer)
	svc.sessions.Bind("telegram:100", generateKey(t, store, 10))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, unsubscribe := svc.events.SubscribeEvents(ctx, 8)
	defer unsubscribe()

	_, err := svc.handleInbound(ctx, imageMessage([]byte("jpeg")))
	require.NoError(t, err)

	received := <-events
	completed := <-events
	require.Equal(t, bus.EventAnalysisReceived, received.Type)
	require.Equal(t, bus.EventAnalysisCompleted, completed.Type)
	require.Equal(t, received.RequestID, completed.RequestID)
	require.Equal(t, "telegram:100", completed.SessionKey)
	require.Equal(t, "9", completed.Payload[RemainingKey])
}
