package docstore

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type counterDoc struct {
	Name  string `json:"name,omitempty"`
	Count int    `json:"count"`
	Tag   string `json:"tag,omitempty"`
}

func TestMemory_SetGet(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	var got counterDoc
	ok, err := m.Get(ctx, "a/b", &got)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, m.Set(ctx, "a/b", counterDoc{Name: "x", Count: 1, Tag: "keep"}, false))
	require.NoError(t, m.Set(ctx, "a/b", map[string]any{"count": 2}, true))

	ok, err = m.Get(ctx, "a/b", &got)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, counterDoc{Name: "x", Count: 2, Tag: "keep"}, got)

	require.NoError(t, m.Set(ctx, "a/b", counterDoc{Count: 3}, false))
	got = counterDoc{}
	_, err = m.Get(ctx, "a/b", &got)
	require.NoError(t, err)
	require.Equal(t, counterDoc{Count: 3}, got)
}

func TestMemory_InvalidPath(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	for _, path := range []string{"", "a//b", "/a", "a/"} {
		require.ErrorIs(t, m.Set(ctx, path, counterDoc{}, false), ErrInvalidPath, path)
	}
	_, err := m.DeleteCollection(ctx, "")
	require.ErrorIs(t, err, ErrInvalidPath)
}

func TestMemory_BatchIsAtomic(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Set(ctx, "c/old", counterDoc{Count: 1}, false))

	err := m.Batch(ctx, []Write{
		SetWrite("c/new", counterDoc{Count: 2}),
		DeleteWrite("c/old"),
		SetWrite("c/bad", func() {}),
	})
	require.Error(t, err)
	require.Equal(t, 1, m.Len())

	require.NoError(t, m.Batch(ctx, []Write{
		SetWrite("c/new", counterDoc{Count: 2}),
		MergeWrite("c/new", map[string]any{"tag": "t"}),
		DeleteWrite("c/old"),
	}))

	var got counterDoc
	ok, err := m.Get(ctx, "c/new", &got)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, counterDoc{Count: 2, Tag: "t"}, got)

	ok, err = m.Get(ctx, "c/old", &got)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemory_Update(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	increment := func(_ Reader, current []byte, exists bool) (any, error) {
		var doc counterDoc
		if exists {
			if err := Unmarshal(current, &doc); err != nil {
				return nil, err
			}
		}
		doc.Count++
		return doc, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, m.Update(ctx, "counters/x", increment))
		}()
	}
	wg.Wait()

	var got counterDoc
	_, err := m.Get(ctx, "counters/x", &got)
	require.NoError(t, err)
	require.Equal(t, 50, got.Count)

	boom := errors.New("boom")
	err = m.Update(ctx, "counters/x", func(Reader, []byte, bool) (any, error) { return nil, boom })
	require.ErrorIs(t, err, boom)

	_, err = m.Get(ctx, "counters/x", &got)
	require.NoError(t, err)
	require.Equal(t, 50, got.Count)
}

func TestMemory_ListAndDelete(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	for _, p := range []string{"events/e1/kingdoms/1/players/a", "events/e1/kingdoms/1/players/b", "events/e1/kingdoms/2/players/c", "events/e2/kingdoms/1/players/a", "aggregates/x"} {
		require.NoError(t, m.Set(ctx, p, counterDoc{}, false))
	}

	docs, err := m.List(ctx, Collection("events", "e1"))
	require.NoError(t, err)
	require.Len(t, docs, 3)
	require.Equal(t, "a", docs[0].ID())
	require.Equal(t, "events/e1/kingdoms/2/players/c", docs[2].Path)

	n, err := m.DeleteCollection(ctx, Collection("events"))
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.Equal(t, 1, m.Len())
}

func TestMergeJSON(t *testing.T) {
	out, err := MergeJSON([]byte(`{"a":1,"b":{"x":1}}`), []byte(`{"b":{"y":2},"c":3}`))
	require.NoError(t, err)
	require.JSONEq(t, `{"a":1,"b":{"y":2},"c":3}`, string(out))

	out, err = MergeJSON(nil, []byte(`{"c":3}`))
	require.NoError(t, err)
	require.JSONEq(t, `{"c":3}`, string(out))
}

func TestDocument_ID(t *testing.T) {
	require.Equal(t, "Pass 7", Document{Path: "aggregates/kingdoms/1400/Pass 7"}.ID())
	require.Equal(t, "root", Document{Path: "root"}.ID())
	require.Equal(t, "a/b/", Collection("a", "b"))
	require.Equal(t, "a/b", Path("a", "b"))
}

func TestMemory_UpdateCanReadOtherDocuments(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Set(ctx, "src/a", counterDoc{Count: 4}, false))
	require.NoError(t, m.Set(ctx, "src/b", counterDoc{Count: 6}, false))

	err := m.Update(ctx, "sum/all", func(tx Reader, _ []byte, _ bool) (any, error) {
		total := 0
		for _, p := range []string{"src/a", "src/b", "src/missing"} {
			var c counterDoc
			if _, err := tx.Get(ctx, p, &c); err != nil {
				return nil, err
			}
			total += c.Count
		}
		return counterDoc{Count: total}, nil
	})
	require.NoError(t, err)

	var got counterDoc
	_, err = m.Get(ctx, "sum/all", &got)
	require.NoError(t, err)
	require.Equal(t, 10, got.Count)
}
