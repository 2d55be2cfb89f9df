package synthesis

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"news_narrator/internal/domain"
)

var errEngine = errors.New("engine unavailable")

type engineFunc func(ctx context.Context, text, lang string) ([]byte, error)

func (f engineFunc) Synthesize(ctx context.Context, text, lang string) ([]byte, error) {
	return f(ctx, text, lang)
}

// fakeAudio encodes the chunk's first letter and length so tests can tell
// chunks apart.
func fakeAudio(text string) []byte {
	return []byte(fmt.Sprintf("[%c:%d]", text[0], len(text)))
}

var echo = engineFunc(func(_ context.Context, text, _ string) ([]byte, error) {
	return fakeAudio(text), nil
})

type gapMerger struct {
	calls int
	err   error
}

func (m *gapMerger) Merge(_ context.Context, parts [][]byte, gap time.Duration) ([]byte, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	silence := []byte(fmt.Sprintf("<%s>", gap))
	return bytes.Join(parts, silence), nil
}

type memArtifacts struct {
	mu      sync.Mutex
	files   map[string][]byte
	removed []string
}

func newMemArtifacts() *memArtifacts {
	return &memArtifacts{files: map[string][]byte{}}
}

func (m *memArtifacts) Write(_ context.Context, key string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[key] = append([]byte(nil), data...)
	return "mem://" + key, nil
}

func (m *memArtifacts) Read(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[key]
	if !ok {
		return nil, os.ErrNotExist
	}
	return data, nil
}

func (m *memArtifacts) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, key)
	m.removed = append(m.removed, key)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func recorder() (*[]int, func(int)) {
	var got []int
	return &got, func(v int) { got = append(got, v) }
}

// threeChunks returns 12000 characters that split into three chunks at 5000.
func threeChunks() (string, []string) {
	parts := []string{
		strings.Repeat("a", 3999),
		strings.Repeat("b", 3999),
		strings.Repeat("c", 3998),
	}
	return strings.Join(parts, "\n\n"), parts
}

func TestStage_AtomicPath(t *testing.T) {
	store := newMemArtifacts()
	stage := NewStage(echo, nil, store, Config{}, testLogger())
	got, sink := recorder()

	ref, err := stage.Run(context.Background(), Request{ArticleID: "art", Variant: domain.VariantTranslated, Text: "hello", Lang: "zh"}, sink)

	require.NoError(t, err)
	assert.Equal(t, "mem://art", ref)
	assert.Equal(t, fakeAudio("hello"), store.files["art"])
	assert.Equal(t, []int{50, 100}, *got)
}

func TestStage_AtomicFailureSurfaces(t *testing.T) {
	failing := engineFunc(func(context.Context, string, string) ([]byte, error) {
		return nil, errEngine
	})
	store := newMemArtifacts()
	stage := NewStage(failing, nil, store, Config{}, testLogger())
	got, sink := recorder()

	_, err := stage.Run(context.Background(), Request{ArticleID: "art", Text: "hello"}, sink)

	assert.ErrorIs(t, err, errEngine)
	assert.Empty(t, store.files)
	assert.Equal(t, []int{50}, *got)
}

func TestStage_ChunkedMerge(t *testing.T) {
	text, parts := threeChunks()
	require.Len(t, text, 12000)

	store := newMemArtifacts()
	merger := &gapMerger{}
	stage := NewStage(echo, merger, store, Config{ChunkSize: 5000, SilenceGap: 500 * time.Millisecond}, testLogger())
	got, sink := recorder()

	ref, err := stage.Run(context.Background(), Request{ArticleID: "art", Variant: domain.VariantTranslated, Text: text}, sink)

	require.NoError(t, err)
	assert.Equal(t, "mem://art", ref)
	assert.Equal(t, 1, merger.calls)

	want := string(fakeAudio(parts[0])) + "<500ms>" + string(fakeAudio(parts[1])) + "<500ms>" + string(fakeAudio(parts[2]))
	assert.Equal(t, want, string(store.files["art"]))

	assert.ElementsMatch(t, []string{"art.part1", "art.part2"}, store.removed)
	assert.Len(t, store.files, 1)
	assert.Equal(t, []int{10, 37, 63, 90, 100}, *got)
}

func TestStage_NoMergerKeepsFirstChunk(t *testing.T) {
	text, parts := threeChunks()
	store := newMemArtifacts()
	stage := NewStage(echo, nil, store, Config{ChunkSize: 5000}, testLogger())

	_, err := stage.Run(context.Background(), Request{ArticleID: "art", Variant: domain.VariantOriginal, Text: text}, nil)

	require.NoError(t, err)
	assert.Equal(t, fakeAudio(parts[0]), store.files["art_original"])
	assert.ElementsMatch(t, []string{"art_original.part1", "art_original.part2"}, store.removed)
}

func TestStage_MergeFailureKeepsFirstChunk(t *testing.T) {
	text, parts := threeChunks()
	store := newMemArtifacts()
	merger := &gapMerger{err: errors.New("ffmpeg exploded")}
	stage := NewStage(echo, merger, store, Config{ChunkSize: 5000}, testLogger())
	got, sink := recorder()

	_, err := stage.Run(context.Background(), Request{ArticleID: "art", Text: text}, sink)

	require.NoError(t, err)
	assert.Equal(t, fakeAudio(parts[0]), store.files["art"])
	assert.Len(t, store.removed, 2)
	assert.Equal(t, 100, (*got)[len(*got)-1])
}

func TestStage_FailedChunkIsSkipped(t *testing.T) {
	text, parts := threeChunks()
	engine := engineFunc(func(_ context.Context, text, _ string) ([]byte, error) {
		if text[0] == 'b' {
			return nil, errEngine
		}
		return fakeAudio(text), nil
	})
	store := newMemArtifacts()
	stage := NewStage(engine, &gapMerger{}, store, Config{ChunkSize: 5000, SilenceGap: time.Second}, testLogger())

	_, err := stage.Run(context.Background(), Request{ArticleID: "art", Text: text}, nil)

	require.NoError(t, err)
	assert.Equal(t, string(fakeAudio(parts[0]))+"<1s>"+string(fakeAudio(parts[2])), string(store.files["art"]))
	assert.Equal(t, []string{"art.part2"}, store.removed)
}

func TestStage_FirstChunkFailureFallsBackToNextChunk(t *testing.T) {
	text, parts := threeChunks()
	engine := engineFunc(func(_ context.Context, text, _ string) ([]byte, error) {
		if text[0] == 'a' {
			return nil, errEngine
		}
		return fakeAudio(text), nil
	})
	store := newMemArtifacts()
	stage := NewStage(engine, nil, store, Config{ChunkSize: 5000}, testLogger())

	_, err := stage.Run(context.Background(), Request{ArticleID: "art", Text: text}, nil)

	require.NoError(t, err)
	assert.Equal(t, fakeAudio(parts[1]), store.files["art"])
	assert.Len(t, store.files, 1)
}

func TestStage_AllChunksFail(t *testing.T) {
	text, _ := threeChunks()
	failing := engineFunc(func(context.Context, string, string) ([]byte, error) {
		return nil, errEngine
	})
	store := newMemArtifacts()
	stage := NewStage(failing, &gapMerger{}, store, Config{ChunkSize: 5000}, testLogger())

	_, err := stage.Run(context.Background(), Request{ArticleID: "art", Text: text}, nil)

	assert.ErrorIs(t, err, ErrNoAudio)
	assert.Empty(t, store.files)
}

func TestStage_CancelledBetweenChunksCleansUp(t *testing.T) {
	text, _ := threeChunks()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	engine := engineFunc(func(_ context.Context, text string, _ string) ([]byte, error) {
		calls++
		if calls == 2 {
			cancel()
		}
		return fakeAudio(text), nil
	})
	store := newMemArtifacts()
	stage := NewStage(engine, &gapMerger{}, store, Config{ChunkSize: 5000}, testLogger())

	_, err := stage.Run(ctx, Request{ArticleID: "art", Text: text}, nil)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, calls)
	assert.Equal(t, []string{"art.part1"}, store.removed)
}
