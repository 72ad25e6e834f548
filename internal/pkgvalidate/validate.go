// Package pkgvalidate validates an EDL package directory and extracts the
// ordered flash plan the orchestrator drives. It walks the package
// through an afero.Fs rather than raw os calls, routing every package and
// scratch-file access through one utility layer instead of direct
// filesystem calls — the same abstraction lets save_to_xml/write_from_xml
// exercise a MemMapFs in tests without touching the real filesystem.
package pkgvalidate

import (
	"encoding/xml"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/spf13/afero"
)

// skipLabels names program entries whose empty filename is expected and
// not an error: either genuinely absent on this target, or (for "super")
// built later by the super-image step rather than shipped as a file.
var skipLabels = map[string]struct{}{
	"super":          {},
	"ocdt":           {},
	"persist":        {},
	"secdata":        {},
	"oplusdycnvbk":   {},
	"oplusstanvbk_a": {},
}

// RawProgramEntry is one non-skipped <program> entry, carrying a
// single-entry <data> document so the orchestrator can hand it straight
// to firehose.Engine without re-reading the source rawprogram file.
type RawProgramEntry struct {
	Label      string
	Filename   string
	SourceDir  string
	Document   []byte
}

// Package is the validated EDL package.
type Package struct {
	Root             string
	SuperDefPath     string
	RawProgramFiles  []string
	PatchFiles       []string
	RawPrograms      []RawProgramEntry
	IsMissSuperImage bool
	IsMissFile       bool
}

// Error classifies a validator failure: meta-missing, super-def-missing,
// rawprogram-missing, patch-missing, asset-missing(label), or
// json-parse-failed.
type Error struct {
	Category string
	Detail   string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("pkgvalidate: %s", e.Category)
	}
	return fmt.Sprintf("pkgvalidate: %s: %s", e.Category, e.Detail)
}

func fail(category, detail string) error {
	return &Error{Category: category, Detail: detail}
}

// Validate runs the package checks against root over fs, fail-closed.
// isProtectLUN5 narrows the rawprogram/patch index range to 0..4 instead
// of 0..5.
func Validate(fs afero.Fs, root string, isProtectLUN5 bool) (*Package, error) {
	pkg := &Package{Root: root}

	metaDir := filepath.Join(root, "META")
	if ok, err := afero.DirExists(fs, metaDir); err != nil {
		return nil, fail("meta-missing", err.Error())
	} else if !ok {
		return nil, fail("meta-missing", metaDir)
	}

	superDefs, err := afero.Glob(fs, filepath.Join(metaDir, "super_def.*.json"))
	if err != nil {
		return nil, fail("super-def-missing", err.Error())
	}
	if len(superDefs) == 0 {
		return nil, fail("super-def-missing", metaDir)
	}
	sort.Strings(superDefs)
	pkg.SuperDefPath = superDefs[len(superDefs)-1]

	imagesDir := filepath.Join(root, "IMAGES")
	if ok, err := afero.DirExists(fs, imagesDir); err != nil {
		return nil, fail("rawprogram-missing", err.Error())
	} else if !ok {
		return nil, fail("rawprogram-missing", imagesDir)
	}

	maxLUN := 5
	if isProtectLUN5 {
		maxLUN = 4
	}

	for n := 0; n <= maxLUN; n++ {
		rpPath := filepath.Join(imagesDir, fmt.Sprintf("rawprogram%d.xml", n))
		if ok, _ := afero.Exists(fs, rpPath); ok {
			pkg.RawProgramFiles = append(pkg.RawProgramFiles, rpPath)
		}
		patchPath := filepath.Join(imagesDir, fmt.Sprintf("patch%d.xml", n))
		if ok, _ := afero.Exists(fs, patchPath); ok {
			pkg.PatchFiles = append(pkg.PatchFiles, patchPath)
		}
	}

	if len(pkg.RawProgramFiles) == 0 {
		return nil, fail("rawprogram-missing", imagesDir)
	}

	for _, rpPath := range pkg.RawProgramFiles {
		entries, err := parseRawProgramFile(fs, rpPath)
		if err != nil {
			return nil, fail("json-parse-failed", rpPath+": "+err.Error())
		}

		for _, e := range entries {
			if e.filename() != "" {
				doc, err := buildSingleEntryDoc(e.attrs)
				if err != nil {
					return nil, fail("json-parse-failed", rpPath+": "+err.Error())
				}
				pkg.RawPrograms = append(pkg.RawPrograms, RawProgramEntry{
					Label:     e.label(),
					Filename:  e.filename(),
					SourceDir: imagesDir,
					Document:  doc,
				})
				continue
			}

			label := e.label()
			if label == "super" {
				pkg.IsMissSuperImage = true
				doc, err := buildSingleEntryDoc(e.attrs)
				if err != nil {
					return nil, fail("json-parse-failed", rpPath+": "+err.Error())
				}
				pkg.RawPrograms = append(pkg.RawPrograms, RawProgramEntry{
					Label:     label,
					SourceDir: imagesDir,
					Document:  doc,
				})
				continue
			}
			if _, skip := skipLabels[label]; skip {
				continue
			}

			pkg.IsMissFile = true
			return nil, fail("asset-missing", label)
		}
	}

	if len(pkg.PatchFiles) == 0 {
		return nil, fail("patch-missing", imagesDir)
	}

	return pkg, nil
}

// ParseRawProgramFile reads a single rawprogram*.xml file outside of full
// package validation (used by the write_from_xml command, which targets
// one file directly rather than a whole META/IMAGES layout). Entries with
// no filename attribute are returned as-is; callers decide whether an
// empty filename is skippable.
func ParseRawProgramFile(fs afero.Fs, path string) ([]RawProgramEntry, error) {
	elements, err := parseRawProgramFile(fs, path)
	if err != nil {
		return nil, fail("json-parse-failed", path+": "+err.Error())
	}

	sourceDir := filepath.Dir(path)
	entries := make([]RawProgramEntry, 0, len(elements))
	for _, e := range elements {
		doc, err := buildSingleEntryDoc(e.attrs)
		if err != nil {
			return nil, fail("json-parse-failed", path+": "+err.Error())
		}
		entries = append(entries, RawProgramEntry{
			Label:     e.label(),
			Filename:  e.filename(),
			SourceDir: sourceDir,
			Document:  doc,
		})
	}
	return entries, nil
}

// programElement is one <program> start tag's attributes, order
// preserved so buildSingleEntryDoc can re-emit them in source order
// rather than re-ordering fields the device may be sensitive to.
type programElement struct {
	attrs []xml.Attr
}

func (p programElement) attr(name string) string {
	for _, a := range p.attrs {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

func (p programElement) label() string    { return p.attr("label") }
func (p programElement) filename() string { return p.attr("filename") }

// parseRawProgramFile walks a rawprogram*.xml document and returns each
// <program> child's attributes in source order (original_source/
// xml_file_util.rs's Program record, read generically since every
// attribute is string-typed on the wire).
func parseRawProgramFile(fs afero.Fs, path string) ([]programElement, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := xml.NewDecoder(f)
	// Vendor-generated rawprogram files routinely carry bare '&' characters
	// in filename attributes; non-strict mode passes them through verbatim.
	dec.Strict = false
	var entries []programElement
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "program" {
			continue
		}
		attrs := make([]xml.Attr, len(start.Attr))
		copy(attrs, start.Attr)
		entries = append(entries, programElement{attrs: attrs})
	}
	return entries, nil
}

// buildSingleEntryDoc re-wraps one <program> element's attributes in a
// standalone single-entry <data> document, preserving attribute order.
// Values are XML-escaped on output, so a bare '&' read from the source
// file is written as "&amp;".
func buildSingleEntryDoc(attrs []xml.Attr) ([]byte, error) {
	el := xml.StartElement{Name: xml.Name{Local: "program"}, Attr: attrs}

	var buf []byte
	buf = append(buf, []byte(`<?xml version="1.0" encoding="UTF-8" ?><data>`)...)

	enc := &attrWriter{}
	if err := enc.writeElement(el); err != nil {
		return nil, err
	}
	buf = append(buf, enc.out...)
	buf = append(buf, []byte(`</data>`)...)
	return buf, nil
}

// attrWriter renders a self-closing start element with its attributes in
// order, XML-escaping values the way encoding/xml's own Encoder would.
type attrWriter struct {
	out []byte
}

func (w *attrWriter) writeElement(el xml.StartElement) error {
	w.out = append(w.out, '<')
	w.out = append(w.out, el.Name.Local...)
	for _, a := range el.Attr {
		w.out = append(w.out, ' ')
		w.out = append(w.out, a.Name.Local...)
		w.out = append(w.out, '=', '"')
		w.out = append(w.out, escapeAttr(a.Value)...)
		w.out = append(w.out, '"')
	}
	w.out = append(w.out, '/', '>')
	return nil
}

func escapeAttr(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '&':
			out = append(out, []byte("&amp;")...)
		case '"':
			out = append(out, []byte("&quot;")...)
		case '<':
			out = append(out, []byte("&lt;")...)
		case '>':
			out = append(out, []byte("&gt;")...)
		default:
			out = append(out, c)
		}
	}
	return string(out)
}
