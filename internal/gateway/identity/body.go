// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package identity

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/url"
	"strconv"
	"strings"

	"github.com/ealvarez/poormans-ratelimit/internal/gateway/rules"
)

const maxMultipartPartBytes = 1 << 20 // 1 MiB, generous relative to the 1 MiB whole-body cap

func extractBodyField(contentType rules.BodyContentType, path string, body []byte, requestContentType string) (string, error) {
	switch contentType {
	case rules.BodyJSON:
		return extractJSONField(body, path)
	case rules.BodyForm:
		return extractFormField(body, path)
	case rules.BodyXML:
		return extractXMLField(body, path)
	case rules.BodyMultipart:
		return extractMultipartField(body, path, requestContentType)
	default:
		return "", fmt.Errorf("unsupported body content type %q", contentType)
	}
}

// extractJSONField descends a dot-separated path through a JSON object,
// coercing the terminal value to a string. Compound terminal values
// (objects/arrays) are re-serialized as JSON text.
func extractJSONField(body []byte, path string) (string, error) {
	var v interface{}
	if err := json.Unmarshal(body, &v); err != nil {
		return "", fmt.Errorf("parse json body: %w", err)
	}
	cur := v
	for _, seg := range strings.Split(path, ".") {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return "", fmt.Errorf("path segment %q: not an object", seg)
		}
		next, ok := m[seg]
		if !ok {
			return "", fmt.Errorf("path segment %q: not found", seg)
		}
		cur = next
	}
	return stringifyJSONValue(cur), nil
}

func stringifyJSONValue(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case nil:
		return ""
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

func extractFormField(body []byte, name string) (string, error) {
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return "", fmt.Errorf("parse form body: %w", err)
	}
	return values.Get(name), nil
}

// extractXMLField walks a dot-separated element path. DOCTYPE and other
// <!...> directives are rejected outright (processing instructions such
// as the <?xml?> prolog are accepted): Go's encoding/xml never fetches
// external entities, but a DOCTYPE in the input is itself disallowed per
// the XXE-defense requirement, not merely inert.
func extractXMLField(body []byte, path string) (string, error) {
	want := strings.Split(path, ".")
	dec := xml.NewDecoder(bytes.NewReader(body))
	var stack []string
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse xml body: %w", err)
		}
		switch t := tok.(type) {
		case xml.Directive:
			return "", fmt.Errorf("xml DOCTYPE/directives are not allowed")
		case xml.StartElement:
			name := t.Name.Local
			stack = append(stack, name)
			if pathMatches(stack, want) {
				var val string
				if err := dec.DecodeElement(&val, &t); err != nil {
					return "", fmt.Errorf("decode xml field %q: %w", path, err)
				}
				return val, nil
			}
		case xml.EndElement:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}
	return "", fmt.Errorf("xml field %q not found", path)
}

func pathMatches(stack, want []string) bool {
	if len(stack) != len(want) {
		return false
	}
	for i := range want {
		if stack[i] != want[i] {
			return false
		}
	}
	return true
}

func extractMultipartField(body []byte, fieldName, requestContentType string) (string, error) {
	_, params, err := mime.ParseMediaType(requestContentType)
	if err != nil {
		return "", fmt.Errorf("parse multipart content-type: %w", err)
	}
	boundary := params["boundary"]
	if boundary == "" {
		return "", fmt.Errorf("multipart content-type missing boundary")
	}
	mr := multipart.NewReader(bytes.NewReader(body), boundary)
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read multipart body: %w", err)
		}
		if part.FormName() == fieldName {
			b, err := io.ReadAll(io.LimitReader(part, maxMultipartPartBytes))
			if err != nil {
				return "", fmt.Errorf("read multipart field %q: %w", fieldName, err)
			}
			return string(b), nil
		}
	}
	return "", fmt.Errorf("multipart field %q not found", fieldName)
}
