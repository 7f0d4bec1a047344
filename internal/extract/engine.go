// Package extract turns a JSON document into vocabulary records under a
// rule set: declared list paths fan out into one record per item, base
// rules are hoisted into every record and weights settle field conflicts.
package extract

import (
	"strconv"

	"vocabetl/internal/domain"
	"vocabetl/internal/jsontree"
	"vocabetl/internal/rules"
)

// DefaultMaxDepth bounds recursive descent into the document.
const DefaultMaxDepth = 40

// Engine extracts records from documents. The zero value is ready to use.
type Engine struct {
	// MaxDepth stops descent below this depth. Zero means DefaultMaxDepth.
	MaxDepth int
}

// New returns an engine with DefaultMaxDepth.
func New() *Engine {
	return &Engine{MaxDepth: DefaultMaxDepth}
}

func (e *Engine) maxDepth() int {
	if e == nil || e.MaxDepth <= 0 {
		return DefaultMaxDepth
	}
	return e.MaxDepth
}

// Extract returns the records produced from doc for word, in document order.
//
// It never fails: missing paths yield no candidates and descent below the
// depth bound is skipped. A document that matches no list declaration is
// resolved once as a single branch when rs has any mapping.
func (e *Engine) Extract(doc *jsontree.Node, word string, rs rules.RuleSet) []domain.Record {
	r := &run{
		maxDepth: e.maxDepth(),
		word:     word,
		idx:      newRuleIndex(rs),
		base:     candidates{},
	}

	r.collectBase(doc, rules.RootPath, 0)
	r.walk(doc, rules.RootPath, candidates{}, 0)

	if r.terminals == 0 && len(rs.Mappings) > 0 {
		leaf := candidates{}
		r.harvest(doc, rules.RootPath, &leaf, 0)
		r.emit(leaf)
	}
	return r.records
}

type run struct {
	maxDepth int
	word     string
	idx      ruleIndex

	base      candidates
	terminals int
	records   []domain.Record
}

// collectBase records every node matching a base rule, ignoring fan-out.
func (r *run) collectBase(node *jsontree.Node, path string, depth int) {
	if depth > r.maxDepth || node == nil {
		return
	}
	r.base = r.base.with(node, r.idx.base[rules.NormalizePath(path)])
	node.Children(func(key string, child *jsontree.Node) {
		r.collectBase(child, rules.JoinPath(path, key), depth+1)
	})
}

func (r *run) walk(node *jsontree.Node, path string, ctx candidates, depth int) {
	if depth > r.maxDepth || node == nil {
		return
	}

	norm := rules.NormalizePath(path)
	atRules := r.idx.branch[norm]

	if r.idx.isList(norm) && node.IsPresent() {
		if node.Kind != jsontree.Array {
			r.item(node, path, ctx.with(node, atRules), norm, depth)
			return
		}
		for i, it := range node.Items {
			if depth+1 > r.maxDepth {
				return
			}
			r.item(it, rules.JoinPath(path, strconv.Itoa(i)), ctx.with(it, atRules), norm, depth+1)
		}
		return
	}

	ctx = ctx.with(node, atRules)
	node.Children(func(key string, child *jsontree.Node) {
		r.walk(child, rules.JoinPath(path, key), ctx, depth+1)
	})
}

// item handles one element of a declared list. ctx already holds the
// candidates for the item itself.
func (r *run) item(it *jsontree.Node, path string, ctx candidates, listPath string, depth int) {
	if r.idx.deeper[listPath] {
		it.Children(func(key string, child *jsontree.Node) {
			r.walk(child, rules.JoinPath(path, key), ctx, depth+1)
		})
		return
	}

	leaf := ctx
	it.Children(func(key string, child *jsontree.Node) {
		r.harvest(child, rules.JoinPath(path, key), &leaf, depth+1)
	})
	r.terminals++
	r.emit(leaf)
}

// harvest adds every branch candidate in node's subtree to *ctx.
func (r *run) harvest(node *jsontree.Node, path string, ctx *candidates, depth int) {
	if depth > r.maxDepth || node == nil {
		return
	}
	*ctx = ctx.with(node, r.idx.branch[rules.NormalizePath(path)])
	node.Children(func(key string, child *jsontree.Node) {
		r.harvest(child, rules.JoinPath(path, key), ctx, depth+1)
	})
}

func (r *run) emit(leaf candidates) {
	if rec, ok := resolve(r.word, leaf, r.base); ok {
		r.records = append(r.records, rec)
	}
}
