// SPDX-License-Identifier: MIT

// Package evtxgo decodes Windows Event Log (EVTX) files: a binary, chunked
// container of events encoded in Binary XML (BinXml) using per-chunk
// template definitions. It renders each record as an XML string or a UTF-8
// JSON byte sequence, and is built to survive the three common classes of
// real-world corruption (bad magic, bad checksum, truncated or zero-filled
// records) while parsing multi-gigabyte logs with bounded memory overhead.
//
// The entry point is Parse. Callers own reading the file into memory;
// writing EVTX files, streaming parse, and provider-resource template
// extraction (WEVT/PE) are out of scope and live behind the TemplateCache
// boundary instead.
package evtxgo
