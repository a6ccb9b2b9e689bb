package internal

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Messages of the 400 responses produced while parsing a body.
const (
	msgInvalidContentType = `Invalid "Content-Type".`
	msgInvalidJSON        = "Invalid JSON data."
)

// readBody reads at most limit bytes. exceeded reports a larger body; the
// excess is discarded unread.
func readBody(r io.Reader, limit int64) (data []byte, exceeded bool, err error) {
	if r == nil || r == http.NoBody {
		return nil, false, nil
	}
	data, err = io.ReadAll(io.LimitReader(r, limit+1))
	if int64(len(data)) > limit {
		return nil, true, nil
	}
	return data, false, err
}

// parseBody turns data into the request body for route. A zero status means
// success; otherwise it is the status of the failure and problem its message.
func parseBody(req *Request, route *Route, data []byte) (body any, status int, problem error) {
	if len(data) == 0 {
		return nil, 0, nil
	}

	kind := req.bodyKind()
	switch {
	case route.Has(FlagXML):
		if kind != bodyXML {
			return nil, http.StatusBadRequest, errors.New(msgInvalidContentType)
		}
		doc, err := parseXML(bytes.TrimSpace(data))
		if err != nil {
			return nil, http.StatusInternalServerError, err
		}
		return doc, 0, nil

	case route.Has(FlagRaw):
		if route.Has(FlagBinary) {
			return data, 0, nil
		}
		return string(data), 0, nil

	case kind == bodyNone:
		return nil, http.StatusBadRequest, errors.New(msgInvalidContentType)

	case kind == bodyJSON:
		var v any
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, http.StatusBadRequest, errors.New(msgInvalidJSON)
		}
		return v, 0, nil
	}

	values, _ := url.ParseQuery(string(data))
	return values, 0, nil
}

// parseXML flattens a document into dotted element paths. Attributes are
// stored under "path[name]". Repeated elements keep the last value.
func parseXML(data []byte) (map[string]string, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	out := make(map[string]string)
	var stack []string

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			stack = append(stack, strings.ToLower(t.Name.Local))
			key := strings.Join(stack, ".")
			for _, a := range t.Attr {
				out[key+"["+strings.ToLower(a.Name.Local)+"]"] = a.Value
			}
		case xml.EndElement:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		case xml.CharData:
			if text := strings.TrimSpace(string(t)); text != "" && len(stack) > 0 {
				out[strings.Join(stack, ".")] = text
			}
		}
	}
	if len(stack) != 0 {
		return nil, errors.New("xml: unexpected end of document")
	}
	return out, nil
}

// bodyJSONBytes returns a JSON encoding of a parsed body for Bind.
func bodyJSONBytes(body any) ([]byte, error) {
	if values, ok := body.(url.Values); ok {
		flat := make(map[string]any, len(values))
		for k, v := range values {
			if len(v) == 1 {
				flat[k] = v[0]
			} else {
				flat[k] = v
			}
		}
		body = flat
	}
	return json.Marshal(body)
}
