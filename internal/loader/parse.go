package loader

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strconv"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"
)

// Source is one definition file.
type Source struct {
	Path string
	Data []byte
}

// Supported source extensions.
var sourceExts = map[string]bool{".yaml": true, ".yml": true, ".cue": true}

// IsSourceFile reports whether path has a supported extension.
func IsSourceFile(path string) bool {
	return sourceExts[filepath.Ext(path)]
}

// ParseSource decodes a source into a Document according to its extension.
// Syntax and schema errors are returned as *LoadError with ErrCodeParseFailed.
func ParseSource(src Source) (*Document, error) {
	switch filepath.Ext(src.Path) {
	case ".yaml", ".yml":
		return parseYAML(src)
	case ".cue":
		return parseCUE(src)
	default:
		return nil, &LoadError{
			Source:  src.Path,
			Code:    ErrCodeParseFailed,
			Message: "unsupported file type",
			Token:   filepath.Ext(src.Path),
		}
	}
}

// yamlLine extracts "line N" from yaml.v3 error messages.
var yamlLine = regexp.MustCompile(`line (\d+)`)

func parseYAML(src Source) (*Document, error) {
	var doc Document
	dec := yaml.NewDecoder(bytes.NewReader(src.Data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return &doc, nil // empty file
		}
		le := &LoadError{Source: src.Path, Code: ErrCodeParseFailed, Message: err.Error()}
		if m := yamlLine.FindStringSubmatch(err.Error()); m != nil {
			le.Line, _ = strconv.Atoi(m[1])
		}
		return nil, le
	}

	var root yaml.Node
	if err := yaml.Unmarshal(src.Data, &root); err == nil {
		annotateLines(&root, &doc)
	}
	return &doc, nil
}

// annotateLines copies the line of each rules[i] and flows[i] entry from
// the node tree into doc.
func annotateLines(root *yaml.Node, doc *Document) {
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return
	}
	top := root.Content[0]
	if top.Kind != yaml.MappingNode {
		return
	}
	for i := 0; i+1 < len(top.Content); i += 2 {
		key, seq := top.Content[i], top.Content[i+1]
		if seq.Kind != yaml.SequenceNode {
			continue
		}
		switch key.Value {
		case "rules":
			for j, item := range seq.Content {
				if j < len(doc.Rules) {
					doc.Rules[j].Line = item.Line
				}
			}
		case "flows":
			for j, item := range seq.Content {
				if j < len(doc.Flows) {
					doc.Flows[j].Line = item.Line
				}
			}
		}
	}
}

// parseCUE evaluates the file with CUE, so sources may use CUE's
// constraints and references, then decodes the concrete result.
func parseCUE(src Source) (*Document, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(src.Data, cue.Filename(src.Path))
	if err := v.Err(); err != nil {
		return nil, cueLoadError(src.Path, err)
	}
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, cueLoadError(src.Path, err)
	}

	data, err := v.MarshalJSON()
	if err != nil {
		return nil, cueLoadError(src.Path, err)
	}

	var doc Document
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return nil, &LoadError{Source: src.Path, Code: ErrCodeParseFailed, Message: err.Error()}
	}
	return &doc, nil
}

// cueLoadError extracts the first positioned error from a CUE error list.
func cueLoadError(path string, err error) *LoadError {
	le := &LoadError{Source: path, Code: ErrCodeParseFailed, Message: err.Error()}
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return le
	}
	first := errs[0]
	le.Message = fmt.Sprint(first)
	if positions := cueerrors.Positions(first); len(positions) > 0 && positions[0].IsValid() {
		le.Line = positions[0].Line()
	}
	return le
}
