package extract

import (
	"vocabetl/internal/domain"
	"vocabetl/internal/jsontree"
	"vocabetl/internal/rules"
)

// candidate is an unsanitized contender for one field.
type candidate struct {
	node   *jsontree.Node
	weight int
}

// candidates maps a field to its contenders in arrival order.
//
// Values are treated as copy-on-write: with returns a new map and never
// appends into a slice another branch may still reference.
type candidates map[domain.FieldID][]candidate

// with returns a copy of c extended by node for every rule in rs.
// It returns c itself when rs is empty.
func (c candidates) with(node *jsontree.Node, rs []rules.MappingRule) candidates {
	if len(rs) == 0 {
		return c
	}

	out := make(candidates, len(c)+len(rs))
	for f, cs := range c {
		out[f] = cs
	}
	for _, m := range rs {
		prev := out[m.Field]
		out[m.Field] = append(prev[:len(prev):len(prev)], candidate{node: node, weight: m.Weight})
	}
	return out
}

// ruleIndex groups a rule set by normalized path for the walk.
type ruleIndex struct {
	branch map[string][]rules.MappingRule
	base   map[string][]rules.MappingRule
	lists  map[string]struct{}
	// deeper holds list paths that have another list path strictly below.
	deeper map[string]bool
}

func newRuleIndex(rs rules.RuleSet) ruleIndex {
	idx := ruleIndex{
		branch: make(map[string][]rules.MappingRule),
		base:   make(map[string][]rules.MappingRule),
		lists:  make(map[string]struct{}, len(rs.Lists)),
		deeper: make(map[string]bool, len(rs.Lists)),
	}

	for _, m := range rs.Mappings {
		if m.Field == domain.FieldText {
			continue
		}
		p := rules.NormalizePath(m.Path)
		if m.IsBase {
			idx.base[p] = append(idx.base[p], m)
		} else {
			idx.branch[p] = append(idx.branch[p], m)
		}
	}
	for _, l := range rs.Lists {
		idx.lists[rules.NormalizePath(l.Path)] = struct{}{}
	}
	for p := range idx.lists {
		for q := range idx.lists {
			if rules.IsStrictDescendant(q, p) {
				idx.deeper[p] = true
				break
			}
		}
	}
	return idx
}

func (idx ruleIndex) isList(path string) bool {
	_, ok := idx.lists[path]
	return ok
}
