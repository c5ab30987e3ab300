// Package refgraph closes the outbound references of a batch: dangling
// targets are dropped and inverse edges are added to in-batch targets.
package refgraph

import (
	"context"
	"fmt"
	"sort"

	"github.com/DeafMist/ecolex-harvester/internal/models"
	"github.com/DeafMist/ecolex-harvester/internal/processing"
)

// Index answers which keys already exist in the search index.
type Index interface {
	ExistingKeys(ctx context.Context, t models.DocType, field string, values []string) (map[string]bool, error)
}

type keySpace struct {
	t     models.DocType
	field string
}

// Close rewrites the relations of docs in place and returns them.
//
// A forward reference is kept when its target is in the batch or in the index.
// A kept reference to an in-batch target appends the inverse edge to that
// target. Indexed targets outside the batch are not modified. Every relation
// list ends deduplicated in first-seen order, and forward lists stay non-nil.
func Close(ctx context.Context, docs []*models.Document, idx Index) ([]*models.Document, error) {
	batch := map[keySpace]map[string][]*models.Document{}
	inBatch := func(ks keySpace) map[string][]*models.Document {
		if m, ok := batch[ks]; ok {
			return m
		}
		m := map[string][]*models.Document{}
		for _, d := range docs {
			if d.Type != ks.t {
				continue
			}
			if k := d.Key(ks.field); k != "" {
				m[k] = append(m[k], d)
			}
		}
		batch[ks] = m
		return m
	}

	indexed, err := lookupMissing(ctx, docs, idx, inBatch)
	if err != nil {
		return nil, err
	}

	for _, d := range docs {
		for _, rel := range d.Schema().Relations {
			refs, ok := d.Refs[rel.Name]
			if !ok || rel.Derived {
				continue
			}
			ks := keySpace{t: rel.Target, field: rel.TargetKey}
			local := inBatch(ks)
			kept := make([]string, 0, len(refs))
			for _, ref := range processing.Dedupe(refs) {
				targets, here := local[ref]
				if !here && !indexed[ks][ref] {
					continue
				}
				kept = append(kept, ref)
				if rel.Inverse == "" {
					continue
				}
				for _, target := range targets {
					inv, _ := target.Schema().Relation(rel.Inverse)
					target.AddRef(rel.Inverse, d.Key(inv.TargetKey))
				}
			}
			d.Refs[rel.Name] = kept
		}
	}

	for _, d := range docs {
		for name, refs := range d.Refs {
			d.Refs[name] = dedupe(refs)
		}
	}
	return docs, nil
}

// lookupMissing asks the index, once per key space, about every forward
// target that is not in the batch.
func lookupMissing(ctx context.Context, docs []*models.Document, idx Index,
	inBatch func(keySpace) map[string][]*models.Document,
) (map[keySpace]map[string]bool, error) {
	missing := map[keySpace]map[string]struct{}{}
	for _, d := range docs {
		for _, rel := range d.Schema().Relations {
			if rel.Derived {
				continue
			}
			ks := keySpace{t: rel.Target, field: rel.TargetKey}
			local := inBatch(ks)
			for _, ref := range d.Refs[rel.Name] {
				if _, ok := local[ref]; ok || ref == "" {
					continue
				}
				if missing[ks] == nil {
					missing[ks] = map[string]struct{}{}
				}
				missing[ks][ref] = struct{}{}
			}
		}
	}

	out := make(map[keySpace]map[string]bool, len(missing))
	if idx == nil {
		return out, nil
	}
	for ks, set := range missing {
		values := make([]string, 0, len(set))
		for v := range set {
			values = append(values, v)
		}
		sort.Strings(values)
		found, err := idx.ExistingKeys(ctx, ks.t, ks.field, values)
		if err != nil {
			return nil, fmt.Errorf("resolve %s references: %w", ks.t, err)
		}
		out[ks] = found
	}
	return out, nil
}

func dedupe(refs []string) []string {
	out := processing.Dedupe(refs)
	if out == nil {
		return []string{}
	}
	return out
}
