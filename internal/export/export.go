// Package export dumps a user's lists together with their items.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/sourcegraph/conc/pool"
	"gopkg.in/yaml.v3"

	"esther/internal/models"
)

// DefaultConcurrency bounds the number of item requests in flight.
const DefaultConcurrency = 4

type Source interface {
	Lists(ctx context.Context, userID int64) ([]models.List, error)
	Items(ctx context.Context, userID int64, slug string) ([]models.Item, error)
}

type List struct {
	models.List `yaml:",inline"`
	Items       []models.Item `json:"items" yaml:"items"`
}

// Collect fetches every list of userID and then the items of each list
// concurrently. The first failure cancels the remaining requests.
func Collect(ctx context.Context, src Source, userID int64, concurrency int) ([]List, error) {
	lists, err := src.Lists(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("fetch lists: %w", err)
	}
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	p := pool.NewWithResults[List]().
		WithContext(ctx).
		WithCancelOnError().
		WithMaxGoroutines(concurrency)
	for _, l := range lists {
		l := l
		p.Go(func(ctx context.Context) (List, error) {
			items, err := src.Items(ctx, userID, l.Slug)
			if err != nil {
				return List{}, fmt.Errorf("fetch items of %q: %w", l.Slug, err)
			}
			return List{List: l, Items: items}, nil
		})
	}
	out, err := p.Wait()
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Write encodes lists as "json" (default) or "yaml".
func Write(w io.Writer, lists []List, format string) error {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(lists)
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(lists); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown export format %q", format)
	}
}
