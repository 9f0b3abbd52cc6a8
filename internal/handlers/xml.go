/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package handlers

import (
	"bytes"
	"encoding/xml"
	"io"
	"strings"

	"github.com/sajhalabs/sajha/internal/errs"
)

// decodeXMLBody converts an XML document into a generic nested map.
// Repeated sibling elements collapse into a list; attributes are
// prefixed with "@"; character data of leaf elements becomes the value.
func decodeXMLBody(body []byte) (map[string]any, error) {
	dec := xml.NewDecoder(bytes.NewReader(body))

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil, errs.New(errs.KindUpstreamFailure, "upstream body has no XML root element")
		}
		if err != nil {
			return nil, errs.Wrap(errs.KindUpstreamFailure, "upstream body is not valid XML", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		value, err := decodeXMLElement(dec, start)
		if err != nil {
			return nil, errs.Wrap(errs.KindUpstreamFailure, "upstream body is not valid XML", err)
		}
		return map[string]any{start.Name.Local: value}, nil
	}
}

// decodeXMLElement consumes one element subtree and returns its value.
func decodeXMLElement(dec *xml.Decoder, start xml.StartElement) (any, error) {
	children := map[string]any{}
	for _, attr := range start.Attr {
		children["@"+attr.Name.Local] = attr.Value
	}
	var text strings.Builder

	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			value, err := decodeXMLElement(dec, t)
			if err != nil {
				return nil, err
			}
			appendXMLChild(children, t.Name.Local, value)
		case xml.CharData:
			text.Write(t)
		case xml.EndElement:
			content := strings.TrimSpace(text.String())
			if len(children) == 0 {
				return content, nil
			}
			if content != "" {
				children["#text"] = content
			}
			return children, nil
		}
	}
}

// appendXMLChild adds a child value, collapsing repeated names to a list.
func appendXMLChild(m map[string]any, name string, value any) {
	existing, ok := m[name]
	if !ok {
		m[name] = value
		return
	}
	if list, ok := existing.([]any); ok {
		m[name] = append(list, value)
		return
	}
	m[name] = []any{existing, value}
}
