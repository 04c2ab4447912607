package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"esther/internal/models"
)

type fakeSource struct {
	lists    []models.List
	items    map[string][]models.Item
	failSlug string
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (f *fakeSource) Lists(context.Context, int64) ([]models.List, error) {
	return f.lists, nil
}

func (f *fakeSource) Items(_ context.Context, _ int64, slug string) ([]models.Item, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		peak := f.peak.Load()
		if n <= peak || f.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	if slug == f.failSlug {
		return nil, errors.New("boom")
	}
	return f.items[slug], nil
}

func newSource(n int) *fakeSource {
	src := &fakeSource{items: map[string][]models.Item{}}
	for i := n; i >= 1; i-- {
		slug := "list-" + string(rune('a'+i))
		src.lists = append(src.lists, models.List{ID: int64(i), Slug: slug, Title: slug})
		src.items[slug] = []models.Item{{ID: int64(i * 10), Slug: slug, Description: "item of " + slug}}
	}
	return src
}

func TestCollectOrdersByListID(t *testing.T) {
	src := newSource(6)

	lists, err := Collect(context.Background(), src, 1, 2)
	require.NoError(t, err)
	require.Len(t, lists, 6)
	for i, l := range lists {
		assert.Equal(t, int64(i+1), l.ID)
		require.Len(t, l.Items, 1)
		assert.Equal(t, l.Slug, l.Items[0].Slug)
	}
	assert.LessOrEqual(t, src.peak.Load(), int32(2))
}

func TestCollectPropagatesErrors(t *testing.T) {
	src := newSource(3)
	src.failSlug = src.lists[0].Slug

	_, err := Collect(context.Background(), src, 1, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), src.failSlug)
}

func TestWriteJSONAndYAML(t *testing.T) {
	lists := []List{{List: models.List{ID: 1, Slug: "a", Title: "A"}, Items: []models.Item{{ID: 2, Slug: "a", Description: "x"}}}}

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, lists, "json"))
	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "a", decoded[0]["slug"])
	assert.Len(t, decoded[0]["items"], 1)

	buf.Reset()
	require.NoError(t, Write(&buf, lists, "yaml"))
	var fromYAML []map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &fromYAML))
	assert.Equal(t, "A", fromYAML[0]["title"])
	assert.True(t, strings.Contains(buf.String(), "description: x"))

	assert.Error(t, Write(&buf, lists, "xml"))
}
