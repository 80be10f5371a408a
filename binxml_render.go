// SPDX-License-Identifier: MIT

package evtxgo

import (
	"fmt"
	"strings"
)

// renderRecord resolves a record's top-level template instance, binds its
// substitution array, and emits the final document in the requested
// format. chunkData and templates give name and cross-reference
// resolution; cache is the shared per-parse compiled-template cache.
func renderRecord(format Format, recordBody []byte, chunkData []byte, templates map[int64]TemplateDefinition, cache *TemplateCache) ([]byte, error) {
	r := newBinxmlReader(recordBody)

	head, err := r.peekBytes(4)
	if err != nil || head[0]&tokKindMask != tokFragmentHeader {
		return nil, fmt.Errorf("evtxgo: record body missing fragment header")
	}
	if err := r.advance(4); err != nil {
		return nil, err
	}

	tag, err := r.readByte()
	if err != nil {
		return nil, err
	}
	if tag&tokKindMask != tokTemplateInstance {
		return nil, fmt.Errorf("evtxgo: record body does not open with a template instance")
	}

	compiled, arr, err := resolveTemplateInstance(r, chunkData, templates, cache)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTemplateResolutionFailed, err)
	}

	resolved, err := foldSubstitutions(compiled.Roots, arr, chunkData, templates, cache)
	if err != nil {
		return nil, err
	}

	if format == FormatJSON {
		return renderJSON(resolved)
	}
	s, err := renderXML(resolved)
	if err != nil {
		return nil, err
	}
	return []byte(s), nil
}

// flattenGroups inlines every *irGroup's children in place, recursively,
// so downstream content-shape decisions (is this element's content a bare
// string, an array, or a list of child elements) see a uniform sibling
// list regardless of whether some of it arrived via a nested BinXml
// fragment substitution.
func flattenGroups(nodes []irNode) []irNode {
	out := make([]irNode, 0, len(nodes))
	for _, n := range nodes {
		if g, ok := n.(*irGroup); ok {
			out = append(out, flattenGroups(g.Children)...)
			continue
		}
		out = append(out, n)
	}
	return out
}

// ---- XML emission ----

func renderXML(roots []irNode) (string, error) {
	var sb strings.Builder
	if err := renderXMLNodes(roots, 0, &sb); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func renderXMLNodes(nodes []irNode, depth int, sb *strings.Builder) error {
	for _, n := range nodes {
		switch v := n.(type) {
		case *irElement:
			if arr, ok := soleArrayChild(v); ok {
				for _, item := range arr.Items {
					xmlOpenTag(v, depth, sb)
					sb.WriteString(escapeXMLText(item.Text))
					sb.WriteString("</" + v.Name + ">")
				}
				continue
			}
			if err := renderXMLElement(v, depth, sb); err != nil {
				return err
			}
		case irText:
			sb.WriteString(escapeXMLText(v.Text))
		case irCData:
			sb.WriteString("<![CDATA[")
			sb.WriteString(v.Text)
			sb.WriteString("]]>")
		case irEntityRef:
			sb.WriteString("&" + v.Name + ";")
		case irPI:
			sb.WriteString("<?" + v.Target + " " + v.Data + "?>")
		case *irValue:
			writeXMLValueContent(v.Result, sb)
		case *irGroup:
			if err := renderXMLNodes(v.Children, depth, sb); err != nil {
				return err
			}
		default:
			return fmt.Errorf("evtxgo: unrenderable ir node %T", n)
		}
	}
	return nil
}

// soleArrayChild reports whether el's only content is a single array
// substitution, the case spec §4.6 repeats the enclosing element for
// (e.g. repeated <Data> elements) rather than rendering one element whose
// content is an array.
func soleArrayChild(el *irElement) (valueResult, bool) {
	if len(el.Children) != 1 {
		return valueResult{}, false
	}
	v, ok := el.Children[0].(*irValue)
	if !ok || !v.Result.Array {
		return valueResult{}, false
	}
	return v.Result, true
}

func renderXMLElement(el *irElement, depth int, sb *strings.Builder) error {
	xmlOpenTag(el, depth, sb)
	if err := renderXMLNodes(el.Children, depth+1, sb); err != nil {
		return err
	}
	sb.WriteString("</" + el.Name + ">")
	return nil
}

func xmlOpenTag(el *irElement, depth int, sb *strings.Builder) {
	sb.WriteString("<" + el.Name)
	for _, a := range el.Attrs {
		if depth > 0 && isXMLNSAttr(a.Name) {
			continue
		}
		sb.WriteString(" " + a.Name + `="`)
		sb.WriteString(escapeXMLAttr(attrValueText(a.Value)))
		sb.WriteString(`"`)
	}
	sb.WriteString(">")
}

func isXMLNSAttr(name string) bool {
	return name == "xmlns" || strings.HasPrefix(name, "xmlns:")
}

func attrValueText(v irNode) string {
	switch t := v.(type) {
	case irText:
		return t.Text
	case *irValue:
		if t.Result.Array {
			parts := make([]string, len(t.Result.Items))
			for i, it := range t.Result.Items {
				parts[i] = it.Text
			}
			return strings.Join(parts, ",")
		}
		if len(t.Result.Items) > 0 {
			return t.Result.Items[0].Text
		}
	}
	return ""
}

func writeXMLValueContent(res valueResult, sb *strings.Builder) {
	if res.Array {
		for i, it := range res.Items {
			if i > 0 {
				sb.WriteString(",")
			}
			sb.WriteString(escapeXMLText(it.Text))
		}
		return
	}
	if len(res.Items) > 0 {
		sb.WriteString(escapeXMLText(res.Items[0].Text))
	}
}

// ---- JSON emission ----

func renderJSON(roots []irNode) ([]byte, error) {
	flat := flattenGroups(roots)
	var rootEl *irElement
	for _, n := range flat {
		if el, ok := n.(*irElement); ok {
			rootEl = el
			break
		}
	}
	if rootEl == nil {
		return nil, fmt.Errorf("evtxgo: no root element to render as JSON")
	}
	obj, err := jsonBuildElement(rootEl, 0)
	if err != nil {
		return nil, err
	}
	w := &jsonWriter{}
	obj.writeTo(w)
	return w.Bytes(), nil
}

func jsonBuildElement(el *irElement, depth int) (*orderedJSONObject, error) {
	obj := newJSONObject()
	obj.set("#name", el.Name)

	if len(el.Attrs) > 0 {
		attrsObj := newJSONObject()
		any := false
		for _, a := range el.Attrs {
			if depth > 0 && isXMLNSAttr(a.Name) {
				continue
			}
			attrsObj.set(a.Name, attrValueText(a.Value))
			any = true
		}
		if any {
			obj.set("#attrs", attrsObj)
		}
	}

	content, has, err := jsonBuildContent(el.Children, depth+1)
	if err != nil {
		return nil, err
	}
	if has {
		obj.set("#content", content)
	}
	return obj, nil
}

// jsonBuildContent decides an element's #content shape: omitted when
// empty, a bare JSON array when the sole content is an array substitution,
// a single concatenated string when every child is text-like, or a JSON
// array of child representations once any real element child is present
// (spec §4.4's "#content holds either a string or an array of children").
func jsonBuildContent(nodes []irNode, depth int) (any, bool, error) {
	flat := flattenGroups(nodes)
	if len(flat) == 0 {
		return nil, false, nil
	}

	hasElement := false
	for _, n := range flat {
		if _, ok := n.(*irElement); ok {
			hasElement = true
			break
		}
	}

	if !hasElement {
		if len(flat) == 1 {
			if v, ok := flat[0].(*irValue); ok && v.Result.Array {
				arr := make([]any, 0, len(v.Result.Items))
				for _, it := range v.Result.Items {
					arr = append(arr, jsonAnyForItem(it))
				}
				return arr, true, nil
			}
		}
		var sb strings.Builder
		for _, n := range flat {
			switch v := n.(type) {
			case irText:
				sb.WriteString(v.Text)
			case irCData:
				sb.WriteString(v.Text)
			case irEntityRef:
				sb.WriteString("&" + v.Name + ";")
			case irPI:
				sb.WriteString("<?" + v.Target + " " + v.Data + "?>")
			case *irValue:
				if v.Result.Array {
					for i, it := range v.Result.Items {
						if i > 0 {
							sb.WriteString(",")
						}
						sb.WriteString(it.Text)
					}
				} else if len(v.Result.Items) > 0 {
					sb.WriteString(v.Result.Items[0].Text)
				}
			}
		}
		return sb.String(), true, nil
	}

	arr := make([]any, 0, len(flat))
	for _, n := range flat {
		switch v := n.(type) {
		case *irElement:
			obj, err := jsonBuildElement(v, depth)
			if err != nil {
				return nil, false, err
			}
			arr = append(arr, obj)
		case irText:
			arr = append(arr, textWrapper(v.Text))
		case irCData:
			arr = append(arr, textWrapper(v.Text))
		case irEntityRef:
			arr = append(arr, textWrapper("&"+v.Name+";"))
		case irPI:
			arr = append(arr, textWrapper("<?"+v.Target+" "+v.Data+"?>"))
		case *irValue:
			if v.Result.Array {
				for _, it := range v.Result.Items {
					arr = append(arr, textWrapperItem(it))
				}
			} else if len(v.Result.Items) > 0 {
				arr = append(arr, textWrapperItem(v.Result.Items[0]))
			}
		}
	}
	return arr, true, nil
}

func textWrapper(s string) *orderedJSONObject {
	return newJSONObject().set("#name", "#text").set("#content", s)
}

func textWrapperItem(it valueItem) *orderedJSONObject {
	return newJSONObject().set("#name", "#text").set("#content", jsonAnyForItem(it))
}

func jsonAnyForItem(it valueItem) any {
	switch it.JSONKind {
	case jsonRaw:
		return jsonLiteral(it.JSONRaw)
	case jsonNode:
		return it.JSONNode
	default:
		return it.Text
	}
}
