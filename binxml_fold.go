// SPDX-License-Identifier: MIT

package evtxgo

import "fmt"

// foldSubstitutions walks a compiled IR forest and resolves every irSubst
// slot against arr, the substitution array currently in scope. Elements
// and their attribute/child structure pass through rebuilt (not mutated in
// place, so a cached CompiledTemplate is safe to fold concurrently by
// multiple workers against different per-record arrays).
func foldSubstitutions(nodes []irNode, arr []substitutionEntry, chunkData []byte, templates map[int64]TemplateDefinition, cache *TemplateCache) ([]irNode, error) {
	out := make([]irNode, 0, len(nodes))
	for _, n := range nodes {
		switch v := n.(type) {
		case *irElement:
			var attrs []irAttr
			for _, a := range v.Attrs {
				val, omit, err := foldValueNode(a.Value, arr, chunkData, templates, cache)
				if err != nil {
					return nil, err
				}
				if omit {
					continue
				}
				attrs = append(attrs, irAttr{Name: a.Name, Value: val})
			}
			children, err := foldSubstitutions(v.Children, arr, chunkData, templates, cache)
			if err != nil {
				return nil, err
			}
			out = append(out, &irElement{Name: v.Name, Attrs: attrs, Children: children})
		case irSubst:
			val, omit, err := foldValueNode(v, arr, chunkData, templates, cache)
			if err != nil {
				return nil, err
			}
			if omit {
				continue
			}
			out = append(out, val)
		default:
			out = append(out, n)
		}
	}
	return out, nil
}

// foldValueNode resolves a single substitution slot. omit is true only for
// an optional substitution whose index is absent, whose array entry is
// the null sentinel, or whose value fails to decode, per spec §4.5's
// optional-substitution-omission rule; a normal substitution that is absent
// or null renders as empty text instead of disappearing, and one that
// fails to decode returns the error.
func foldValueNode(n irNode, arr []substitutionEntry, chunkData []byte, templates map[int64]TemplateDefinition, cache *TemplateCache) (irNode, bool, error) {
	subst, ok := n.(irSubst)
	if !ok {
		return n, false, nil
	}

	if int(subst.Index) >= len(arr) {
		if subst.Optional {
			return nil, true, nil
		}
		return irText{Text: ""}, false, nil
	}
	entry := arr[subst.Index]

	if entry.Type == vtNull && len(entry.Payload) == 0 {
		if subst.Optional {
			return nil, true, nil
		}
		return irText{Text: ""}, false, nil
	}

	if entry.Type&vtTypeMask == vtBinXml && entry.Type&vtArrayFlag == 0 {
		inner, err := compileFragment(entry.Payload, chunkData, templates, cache)
		if err != nil {
			if subst.Optional {
				return nil, true, nil
			}
			return nil, false, fmt.Errorf("%w: nested binxml fragment at substitution %d", err, subst.Index)
		}
		resolved, err := foldSubstitutions(inner, nil, chunkData, templates, cache)
		if err != nil {
			return nil, false, err
		}
		return &irGroup{Children: resolved}, false, nil
	}

	res, err := renderValue(entry.Type, entry.Payload)
	if err != nil {
		if subst.Optional {
			return nil, true, nil
		}
		return nil, false, err
	}
	return &irValue{Result: res}, false, nil
}
