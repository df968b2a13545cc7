package api

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// MaxBodyBytes caps every request body.
const MaxBodyBytes = 1 << 20

//go:embed schemas/*.json
var schemaFS embed.FS

const schemaBase = "https://gpt-prover.local/schemas/"

var (
	schemaMu    sync.Mutex
	schemaCache = map[string]*jsonschema.Schema{}
)

// RequestSchema returns the compiled schema named name (file schemas/<name>.json).
func RequestSchema(name string) (*jsonschema.Schema, error) {
	schemaMu.Lock()
	defer schemaMu.Unlock()
	if s, ok := schemaCache[name]; ok {
		return s, nil
	}

	raw, err := schemaFS.ReadFile("schemas/" + name + ".json")
	if err != nil {
		return nil, fmt.Errorf("unknown request schema %q: %w", name, err)
	}
	url := schemaBase + name + ".json"
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("request schema %q load failed: %w", name, err)
	}
	s, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("request schema %q compile failed: %w", name, err)
	}
	schemaCache[name] = s
	return s, nil
}

// DecodeJSON reads at most MaxBodyBytes of r's body, validates it against the
// named request schema and decodes it into dst. Client mistakes come back as a
// *ProblemDetail with status 400 or 413.
func DecodeJSON(w http.ResponseWriter, r *http.Request, schemaName string, dst interface{}) error {
	schema, err := RequestSchema(schemaName)
	if err != nil {
		return err
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return NewProblem(http.StatusRequestEntityTooLarge, CodeInvalidRequest,
				fmt.Sprintf("request body exceeds %d bytes", MaxBodyBytes))
		}
		return NewProblem(http.StatusBadRequest, CodeInvalidRequest, "unreadable request body")
	}

	var doc interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return NewProblem(http.StatusBadRequest, CodeInvalidRequest, "request body is not valid JSON")
	}
	if err := schema.Validate(doc); err != nil {
		return NewProblem(http.StatusBadRequest, CodeInvalidRequest, err.Error())
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return NewProblem(http.StatusBadRequest, CodeInvalidRequest, err.Error())
	}
	return nil
}
