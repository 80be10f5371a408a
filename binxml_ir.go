// SPDX-License-Identifier: MIT

package evtxgo

import "fmt"

// irNode is any node of a compiled template's intermediate tree (spec
// §4.5). Concrete kinds: *irElement, irText, irCData, irEntityRef, irPI,
// irSubst (slot, present only before folding), *irValue and *irGroup
// (produced by folding; since a nested template instance is folded at
// compile time, a compiled tree can already contain them).
type irNode interface{}

// irElement is an open/close element pair with its attributes and children
// in document order.
type irElement struct {
	Name     string
	Attrs    []irAttr
	Children []irNode
}

// irAttr is one attribute; Value is irText (literal) or irSubst (slot)
// before folding, irText or *irValue after.
type irAttr struct {
	Name  string
	Value irNode
}

// irText is literal, already-decoded text content.
type irText struct{ Text string }

// irCData is a CDATA section's literal text.
type irCData struct{ Text string }

// irEntityRef is a named entity reference, e.g. &amp;.
type irEntityRef struct{ Name string }

// irPI is a processing instruction.
type irPI struct {
	Target string
	Data   string
}

// irSubst is an unresolved substitution slot, referencing an index into
// whatever substitution array is current at fold time (spec §4.5/§4.6).
type irSubst struct {
	Index        uint16
	Optional     bool
	ExpectedType byte
}

// irValue wraps a resolved substitution's rendered value. It survives
// folding so the final emitters can special-case array values (element
// repetition in XML, JSON array in JSON) based on where it sits in the
// tree.
type irValue struct{ Result valueResult }

// irGroup splices a fully-resolved nested fragment (from a BinXml-fragment
// typed substitution value) inline without its own element wrapper.
type irGroup struct{ Children []irNode }

// compiler turns a single BinXml body into an IR tree. It holds chunk-wide
// context needed to resolve name references and nested template
// instances: those offsets are always chunk-absolute, never relative to
// the body being walked (spec §9's "substitution offsets are absolute,
// not span-relative" applies equally to name and template references).
type compiler struct {
	chunkData []byte
	templates map[int64]TemplateDefinition
	cache     *TemplateCache
	names     map[int64]string
}

func newCompiler(chunkData []byte, templates map[int64]TemplateDefinition, cache *TemplateCache) *compiler {
	return &compiler{chunkData: chunkData, templates: templates, cache: cache, names: make(map[int64]string)}
}

// compileFragment compiles a BinXml body (a template definition's body, or
// a record's own top-level body) into an ordered IR forest. A leading
// fragment-header token, if present, is consumed and discarded.
func compileFragment(body []byte, chunkData []byte, templates map[int64]TemplateDefinition, cache *TemplateCache) ([]irNode, error) {
	c := newCompiler(chunkData, templates, cache)
	return c.compile(body)
}

func (c *compiler) compile(body []byte) ([]irNode, error) {
	r := newBinxmlReader(body)
	if !r.atEnd() {
		if b, err := r.peekBytes(1); err == nil && b[0]&tokKindMask == tokFragmentHeader {
			if err := r.advance(4); err != nil {
				return nil, err
			}
		}
	}
	return c.parseContent(r)
}

func (c *compiler) resolveName(offset int64) (string, error) {
	if name, ok := c.names[offset]; ok {
		return name, nil
	}
	entry, err := resolveName(c.chunkData, offset)
	if err != nil {
		return "", err
	}
	c.names[offset] = entry.Name
	return entry.Name, nil
}

// parseContent reads a sibling sequence until end-of-stream or a
// close-element token, which it consumes and treats as the terminator of
// the current scope (the caller, if any, already knows whose children
// these are).
func (c *compiler) parseContent(r *binxmlReader) ([]irNode, error) {
	var nodes []irNode
	for {
		if r.atEnd() {
			return nodes, nil
		}
		tag, err := r.readByte()
		if err != nil {
			return nodes, nil
		}
		kind := tag & tokKindMask
		switch kind {
		case tokEOF:
			return nodes, nil
		case tokCloseElem:
			return nodes, nil
		case tokFragmentHeader:
			if err := r.advance(3); err != nil {
				return nil, err
			}
		case tokOpenStartElem:
			el, err := c.parseElement(r, tag)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, el)
		case tokValueText:
			txt, err := c.readInlineValueNode(r)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, txt)
		case tokCDataSection:
			txt, err := c.readInlineValueNode(r)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, irCData{Text: txt.Text})
		case tokEntityRef:
			nameOff, err := r.readU32()
			if err != nil {
				return nil, err
			}
			name, err := c.resolveName(int64(nameOff))
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, irEntityRef{Name: name})
		case tokPITarget:
			nameOff, err := r.readU32()
			if err != nil {
				return nil, err
			}
			target, err := c.resolveName(int64(nameOff))
			if err != nil {
				return nil, err
			}
			// the matching PIData token is expected to follow immediately.
			dataTag, err := r.readByte()
			if err != nil {
				return nil, err
			}
			if dataTag&tokKindMask != tokPIData {
				return nil, fmt.Errorf("evtxgo: processing instruction target without data token")
			}
			data, err := c.readInlineValueNode(r)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, irPI{Target: target, Data: data.Text})
		case tokTemplateInstance:
			folded, err := c.compileNestedInstance(r)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, folded...)
		case tokNormalSubst, tokOptionalSubst:
			subst, err := c.readSubst(r, kind == tokOptionalSubst)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, subst)
		default:
			return nil, fmt.Errorf("evtxgo: unrecognized binxml token 0x%02x", tag)
		}
	}
}

func (c *compiler) readSubst(r *binxmlReader, optional bool) (irSubst, error) {
	idx, err := r.readU16()
	if err != nil {
		return irSubst{}, err
	}
	typ, err := r.readByte()
	if err != nil {
		return irSubst{}, err
	}
	return irSubst{Index: idx, Optional: optional, ExpectedType: typ}, nil
}

// parseElement reads an open-start-element's header, its attribute list
// (when present), and recurses for its children, consuming its own
// close-empty or close-element terminator before returning.
func (c *compiler) parseElement(r *binxmlReader, tag byte) (*irElement, error) {
	hasAttrs := tag&tokMoreFlag != 0

	if _, err := r.readU16(); err != nil { // dependency identifier, unused at render time
		return nil, err
	}
	if _, err := r.readU32(); err != nil { // element data size, informational only
		return nil, err
	}
	nameOff, err := r.readU32()
	if err != nil {
		return nil, err
	}
	name, err := c.resolveName(int64(nameOff))
	if err != nil {
		return nil, err
	}

	el := &irElement{Name: name}

	if hasAttrs {
		if _, err := r.readU32(); err != nil { // attribute list byte length, unused
			return nil, err
		}
		for {
			t, err := r.readByte()
			if err != nil {
				return nil, err
			}
			switch t & tokKindMask {
			case tokAttribute:
				attr, err := c.parseAttribute(r)
				if err != nil {
					return nil, err
				}
				el.Attrs = append(el.Attrs, attr)
			case tokCloseStartElem:
				children, err := c.parseContent(r)
				if err != nil {
					return nil, err
				}
				el.Children = children
				return el, nil
			case tokCloseEmptyElem:
				return el, nil
			default:
				return nil, fmt.Errorf("evtxgo: unexpected token 0x%02x in attribute list", t)
			}
		}
	}

	t, err := r.readByte()
	if err != nil {
		return nil, err
	}
	switch t & tokKindMask {
	case tokCloseStartElem:
		children, err := c.parseContent(r)
		if err != nil {
			return nil, err
		}
		el.Children = children
	case tokCloseEmptyElem:
		// no children
	default:
		return nil, fmt.Errorf("evtxgo: expected close-start or close-empty, got 0x%02x", t)
	}
	return el, nil
}

func (c *compiler) parseAttribute(r *binxmlReader) (irAttr, error) {
	nameOff, err := r.readU32()
	if err != nil {
		return irAttr{}, err
	}
	name, err := c.resolveName(int64(nameOff))
	if err != nil {
		return irAttr{}, err
	}
	t, err := r.readByte()
	if err != nil {
		return irAttr{}, err
	}
	var val irNode
	switch t & tokKindMask {
	case tokValueText:
		val, err = c.readInlineValueNode(r)
	case tokNormalSubst:
		val, err = c.readSubst(r, false)
	case tokOptionalSubst:
		val, err = c.readSubst(r, true)
	default:
		return irAttr{}, fmt.Errorf("evtxgo: unexpected token 0x%02x for attribute value", t)
	}
	if err != nil {
		return irAttr{}, err
	}
	return irAttr{Name: name, Value: val}, nil
}

// readInlineValueNode reads the generic { type, length, body } shape that
// literal value-text, CDATA, and processing-instruction-data tokens carry
// inline in the template body (spec §4.4). Template-literal content is
// always textual in practice; a non-string type falls back through
// renderScalar for a best-effort string form.
func (c *compiler) readInlineValueNode(r *binxmlReader) (irText, error) {
	vtype, err := r.readByte()
	if err != nil {
		return irText{}, err
	}
	switch vtype {
	case vtStringUTF16:
		units, err := r.readU16()
		if err != nil {
			return irText{}, err
		}
		payload, err := r.readBytes(int(units) * 2)
		if err != nil {
			return irText{}, err
		}
		return irText{Text: decodeUTF16LE(payload)}, nil
	case vtStringASCII:
		length, err := r.readU16()
		if err != nil {
			return irText{}, err
		}
		payload, err := r.readBytes(int(length))
		if err != nil {
			return irText{}, err
		}
		return irText{Text: string(payload)}, nil
	default:
		length, err := r.readU16()
		if err != nil {
			return irText{}, err
		}
		payload, err := r.readBytes(int(length))
		if err != nil {
			return irText{}, err
		}
		item, err := renderScalar(vtype, payload)
		if err != nil {
			return irText{}, err
		}
		return irText{Text: item.Text}, nil
	}
}

// compileNestedInstance handles a template-instance token encountered
// while walking a template body (rather than as a record's own top-level
// wrapper). Its substitution array is embedded directly in the chunk
// bytes alongside it, so unlike a record's top-level instance it is fully
// record-invariant: it is resolved once, here, at compile time, and
// spliced into the surrounding IR as literal nodes.
func (c *compiler) compileNestedInstance(r *binxmlReader) ([]irNode, error) {
	compiled, arr, err := resolveTemplateInstance(r, c.chunkData, c.templates, c.cache)
	if err != nil {
		return nil, err
	}
	return foldSubstitutions(compiled.Roots, arr, c.chunkData, c.templates, c.cache)
}

// resolveTemplateInstance reads a template-instance body (flag, definition
// offset, unused next-pointer, GUID, data size) immediately after its
// leading 0x0C tag has been consumed, resolves the definition by offset in
// the current chunk's dictionary or inline in the stream, compiles it
// (cache permitting), and reads the instance's own trailing substitution
// array. Shared by nested-instance folding and a record's own top-level
// body, which have an identical wire shape (spec §4.3/§4.5).
func resolveTemplateInstance(r *binxmlReader, chunkData []byte, templates map[int64]TemplateDefinition, cache *TemplateCache) (*CompiledTemplate, []substitutionEntry, error) {
	if _, err := r.readByte(); err != nil { // flag
		return nil, nil, err
	}
	defOffset, err := r.readU32()
	if err != nil {
		return nil, nil, err
	}
	if _, err := r.readU32(); err != nil { // next-ptr, unused at render time
		return nil, nil, err
	}
	guidBytes, err := r.readBytes(guidSize)
	if err != nil {
		return nil, nil, err
	}
	guid, err := parseGUID(guidBytes)
	if err != nil {
		return nil, nil, err
	}
	dataSize, err := r.readU32()
	if err != nil {
		return nil, nil, err
	}

	var body []byte
	if def, ok := templates[int64(defOffset)]; ok {
		body = def.Body
	} else if cached, ok := cache.get(guid); ok && !cached.failed {
		// known to another chunk already; its body isn't needed again
		// since compilation is cached by GUID, but the instance's own
		// trailing substitution array still has to be consumed below.
		arr, err := parseSubstitutionArray(r)
		if err != nil {
			return nil, nil, err
		}
		return cached, arr, nil
	} else {
		inline, err := r.peekBytes(int(dataSize))
		if err != nil || len(inline) == 0 || inline[0] != fragmentHeaderToken {
			return nil, nil, fmt.Errorf("%w: at offset %d", ErrTemplateResolutionFailed, defOffset)
		}
		body = inline
		if err := r.advance(int(dataSize)); err != nil {
			return nil, nil, err
		}
	}

	arr, err := parseSubstitutionArray(r)
	if err != nil {
		return nil, nil, err
	}

	compiled, err := cache.getOrCompile(guid, func() (*CompiledTemplate, error) {
		roots, err := compileFragment(body, chunkData, templates, cache)
		if err != nil {
			return nil, err
		}
		return &CompiledTemplate{GUID: guid, Roots: roots}, nil
	})
	if err != nil {
		return nil, nil, err
	}
	return compiled, arr, nil
}

// substitutionEntry is one decoded slot of a substitution array: the raw
// declared type and the payload bytes that follow its descriptor, read
// sequentially off the wire (spec §4.6).
type substitutionEntry struct {
	Type    uint8
	Payload []byte
}

// parseSubstitutionArray reads a 4-byte count, that many 4-byte
// descriptors ({size u16, type u8, pad u8}), and then the concatenated
// payloads in order. Because payloads are consumed sequentially as the
// descriptors are walked, there is no separate offset arithmetic to get
// wrong; this is the "read forward through the stream" reading of spec
// §9's absolute-offset note.
func parseSubstitutionArray(r *binxmlReader) ([]substitutionEntry, error) {
	count, err := r.readU32()
	if err != nil {
		return nil, err
	}
	sizes := make([]uint16, count)
	types := make([]uint8, count)
	for i := uint32(0); i < count; i++ {
		size, err := r.readU16()
		if err != nil {
			return nil, err
		}
		typ, err := r.readByte()
		if err != nil {
			return nil, err
		}
		if _, err := r.readByte(); err != nil { // padding
			return nil, err
		}
		sizes[i] = size
		types[i] = typ
	}
	entries := make([]substitutionEntry, count)
	for i := uint32(0); i < count; i++ {
		payload, err := r.readBytes(int(sizes[i]))
		if err != nil {
			return nil, err
		}
		entries[i] = substitutionEntry{Type: types[i], Payload: payload}
	}
	return entries, nil
}
