// Package payloadschema validates harvested post payloads before they
// enter the post store.
package payloadschema

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed post.schema.json
var postSchemaJSON string

// PostPayload is one harvested message as delivered by the ingestion
// collaborator.
type PostPayload struct {
	PayloadVersion string  `json:"payload_version"`
	GroupID        int64   `json:"group_id"`
	MessageID      int64   `json:"message_id"`
	GroupTitle     string  `json:"group_title,omitempty"`
	Text           string  `json:"text"`
	Sender         *string `json:"sender,omitempty"`
	PostedAt       string  `json:"posted_at"`
	HasPhoto       bool    `json:"has_photo,omitempty"`
	PhotoURL       *string `json:"photo_url,omitempty"`
}

// PostedAtTime parses the payload timestamp.
func (p *PostPayload) PostedAtTime() (time.Time, error) {
	ts, err := time.Parse(time.RFC3339, strings.TrimSpace(p.PostedAt))
	if err != nil {
		return time.Time{}, fmt.Errorf("posted_at must be RFC3339: %w", err)
	}
	return ts.UTC(), nil
}

var (
	compileOnce       sync.Once
	compiledSchema    *jsonschema.Schema
	compiledSchemaErr error
)

// ValidatePostPayload decodes and validates one payload against the v1
// schema plus the semantic rules the schema cannot express.
func ValidatePostPayload(payload json.RawMessage) (*PostPayload, error) {
	value, err := decodeStrictJSON(payload)
	if err != nil {
		return nil, fmt.Errorf("decode payload JSON: %w", err)
	}

	schema, err := loadSchema()
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}
	if err := schema.Validate(value); err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	normalized, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("normalize payload JSON: %w", err)
	}

	var post PostPayload
	if err := json.Unmarshal(normalized, &post); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}

	if err := validateSemantics(&post); err != nil {
		return nil, err
	}
	return &post, nil
}

func loadSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		compiler.AssertFormat = true

		if err := compiler.AddResource("post.schema.json", strings.NewReader(postSchemaJSON)); err != nil {
			compiledSchemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}

		schema, err := compiler.Compile("post.schema.json")
		if err != nil {
			compiledSchemaErr = fmt.Errorf("compile schema: %w", err)
			return
		}
		compiledSchema = schema
	})

	if compiledSchemaErr != nil {
		return nil, compiledSchemaErr
	}
	if compiledSchema == nil {
		return nil, fmt.Errorf("schema not initialized")
	}
	return compiledSchema, nil
}

func decodeStrictJSON(raw []byte) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("payload is empty")
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("payload contains trailing content")
	}
	return value, nil
}

func validateSemantics(post *PostPayload) error {
	if post == nil {
		return fmt.Errorf("payload is nil")
	}
	if strings.TrimSpace(post.PayloadVersion) != "v1" {
		return fmt.Errorf("payload_version must be v1")
	}
	if post.GroupID == 0 {
		return fmt.Errorf("group_id must not be zero")
	}
	if post.MessageID == 0 {
		return fmt.Errorf("message_id must not be zero")
	}
	if strings.TrimSpace(post.Text) == "" {
		return fmt.Errorf("text must not be empty")
	}
	if _, err := post.PostedAtTime(); err != nil {
		return err
	}
	if post.PhotoURL != nil {
		trimmed := strings.TrimSpace(*post.PhotoURL)
		if trimmed == "" {
			return fmt.Errorf("photo_url must not be empty")
		}
		if _, err := url.ParseRequestURI(trimmed); err != nil {
			return fmt.Errorf("photo_url is not a valid URI: %w", err)
		}
	}
	return nil
}
