package events

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/goccy/go-json"

	"github.com/openmined/syftbus/internal/utils"
	"github.com/openmined/syftbus/internal/version"
)

// SchemaFileName is published at the app's rpc root so callers can discover
// endpoint shapes.
const SchemaFileName = "rpc.schema.json"

// SchemaField describes one value in an endpoint's request or response tree.
type SchemaField struct {
	Name   string        `json:"name,omitempty"`
	Kind   string        `json:"kind"`
	Fields []SchemaField `json:"fields,omitempty"`
}

// EndpointSchema pairs an endpoint with its message shapes.
type EndpointSchema struct {
	Request  *SchemaField `json:"request,omitempty"`
	Response *SchemaField `json:"response,omitempty"`
}

type schemaDoc struct {
	App       string                     `json:"app"`
	Version   string                     `json:"version"`
	Endpoints map[string]*EndpointSchema `json:"endpoints"`
}

// RegisterSchema records the request and response models of an endpoint.
// Pass nil for a side that carries no structured payload. Models are plain
// values, e.g. RegisterSchema("ping", PingRequest{}, PingResponse{}).
func (e *Events) RegisterSchema(endpoint string, request, response any) error {
	endpoint = cleanEndpoint(endpoint)

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.handlers[endpoint]; !ok {
		return fmt.Errorf("events: schema for unregistered endpoint %q", endpoint)
	}

	schema := &EndpointSchema{}
	if request != nil {
		f := schemaOf(reflect.TypeOf(request))
		schema.Request = &f
	}
	if response != nil {
		f := schemaOf(reflect.TypeOf(response))
		schema.Response = &f
	}
	e.schemas[endpoint] = schema
	return nil
}

// PublishSchema writes rpc.schema.json describing every registered endpoint.
func (e *Events) PublishSchema() error {
	e.mu.RLock()
	doc := schemaDoc{
		App:       e.AppName,
		Version:   version.Version,
		Endpoints: make(map[string]*EndpointSchema, len(e.handlers)),
	}
	for endpoint := range e.handlers {
		if schema, ok := e.schemas[endpoint]; ok {
			doc.Endpoints[endpoint] = schema
		} else {
			doc.Endpoints[endpoint] = &EndpointSchema{}
		}
	}
	e.mu.RUnlock()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("events: encode schema: %w", err)
	}

	schemaPath := filepath.Join(e.rpcRoot, SchemaFileName)
	if err := utils.WriteFileAtomic(schemaPath, data, 0o644); err != nil {
		return fmt.Errorf("events: write schema: %w", err)
	}
	e.log.Info("schema published", "path", schemaPath)
	return nil
}

// schemaOf flattens a Go type into a {kind, name, fields} tree.
func schemaOf(t reflect.Type) SchemaField {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	switch t.Kind() {
	case reflect.String:
		return SchemaField{Kind: "string"}
	case reflect.Bool:
		return SchemaField{Kind: "bool"}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return SchemaField{Kind: "int"}
	case reflect.Float32, reflect.Float64:
		return SchemaField{Kind: "float"}
	case reflect.Slice, reflect.Array:
		if t.Elem().Kind() == reflect.Uint8 {
			return SchemaField{Kind: "bytes"}
		}
		elem := schemaOf(t.Elem())
		return SchemaField{Kind: "list", Fields: []SchemaField{elem}}
	case reflect.Map:
		elem := schemaOf(t.Elem())
		return SchemaField{Kind: "map", Fields: []SchemaField{elem}}
	case reflect.Struct:
		field := SchemaField{Kind: "object", Name: t.Name()}
		for i := 0; i < t.NumField(); i++ {
			sf := t.Field(i)
			if !sf.IsExported() {
				continue
			}
			name := sf.Name
			if tag, ok := sf.Tag.Lookup("json"); ok {
				tagName, _, _ := strings.Cut(tag, ",")
				if tagName == "-" {
					continue
				}
				if tagName != "" {
					name = tagName
				}
			}
			child := schemaOf(sf.Type)
			child.Name = name
			field.Fields = append(field.Fields, child)
		}
		return field
	default:
		return SchemaField{Kind: "any"}
	}
}
