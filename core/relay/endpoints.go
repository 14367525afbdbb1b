package relay

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// TimeoutClass names the latency profile of an operation so the timeout
// table can be keyed by operation name with sensible grouping in docs.
type TimeoutClass string

const (
	ClassGenerate TimeoutClass = "generate"
	ClassMetadata TimeoutClass = "metadata"
	ClassHelper   TimeoutClass = "helper"
)

// EndpointSpec is the static descriptor of one supported operation.
type EndpointSpec struct {
	Operation string
	Method    string
	Path      string
	Class     TimeoutClass
	// Strict endpoints reject unknown payload fields; non-strict endpoints
	// (the options passthrough) forward them untouched.
	Strict bool
	// Local operations are executed in-process and skip the readiness wait.
	Local bool
	// Schema is nil for operations that carry no payload.
	Schema *jsonschema.Schema
}

// The registry is populated once at init and only read afterwards; there is
// deliberately no API to mutate it at runtime.
var registry map[string]EndpointSpec

func init() {
	specs := []EndpointSpec{
		{Operation: "txt2img", Method: http.MethodPost, Path: "/sdapi/v1/txt2img", Class: ClassGenerate, Strict: true, Schema: mustCompile("txt2img.json", true)},
		{Operation: "img2img", Method: http.MethodPost, Path: "/sdapi/v1/img2img", Class: ClassGenerate, Strict: true, Schema: mustCompile("img2img.json", true)},
		{Operation: "interrogate", Method: http.MethodPost, Path: "/sdapi/v1/interrogate", Class: ClassGenerate, Strict: true, Schema: mustCompile("interrogate.json", true)},
		{Operation: "sd-models", Method: http.MethodGet, Path: "/sdapi/v1/sd-models", Class: ClassMetadata},
		{Operation: "samplers", Method: http.MethodGet, Path: "/sdapi/v1/samplers", Class: ClassMetadata},
		{Operation: "schedulers", Method: http.MethodGet, Path: "/sdapi/v1/schedulers", Class: ClassMetadata},
		{Operation: "sd-vae", Method: http.MethodGet, Path: "/sdapi/v1/sd-vae", Class: ClassMetadata},
		{Operation: "refresh-checkpoints", Method: http.MethodPost, Path: "/sdapi/v1/refresh-checkpoints", Class: ClassMetadata},
		{Operation: "get-options", Method: http.MethodGet, Path: "/sdapi/v1/options", Class: ClassMetadata},
		{Operation: "set-options", Method: http.MethodPost, Path: "/sdapi/v1/options", Class: ClassMetadata, Schema: mustCompile("options.json", false)},
		{Operation: "download", Class: ClassHelper, Strict: true, Local: true, Schema: mustCompile("download.json", true)},
		{Operation: "sync", Class: ClassHelper, Strict: true, Local: true, Schema: mustCompile("sync.json", true)},
	}
	registry = make(map[string]EndpointSpec, len(specs))
	for _, spec := range specs {
		registry[spec.Operation] = spec
	}
}

// Lookup resolves an operation name to its EndpointSpec.
func Lookup(operation string) (EndpointSpec, error) {
	spec, ok := registry[operation]
	if !ok {
		return EndpointSpec{}, fmt.Errorf("%w: %q", ErrUnknownOperation, operation)
	}
	return spec, nil
}

// Operations returns the sorted list of supported operation names.
func Operations() []string {
	out := make([]string, 0, len(registry))
	for op := range registry {
		out = append(out, op)
	}
	sort.Strings(out)
	return out
}

func mustCompile(file string, strict bool) *jsonschema.Schema {
	data, err := schemaFS.ReadFile("schemas/" + file)
	if err != nil {
		panic(fmt.Sprintf("relay: read schema %s: %v", file, err))
	}
	if strict {
		data, err = withAdditionalPropertiesDenied(data)
		if err != nil {
			panic(fmt.Sprintf("relay: strict schema %s: %v", file, err))
		}
	}
	compiler := jsonschema.NewCompiler()
	resourceID := "inmemory://" + file
	if err := compiler.AddResource(resourceID, bytes.NewReader(data)); err != nil {
		panic(fmt.Sprintf("relay: add schema %s: %v", file, err))
	}
	schema, err := compiler.Compile(resourceID)
	if err != nil {
		panic(fmt.Sprintf("relay: compile schema %s: %v", file, err))
	}
	return schema
}

func withAdditionalPropertiesDenied(data []byte) ([]byte, error) {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	doc["additionalProperties"] = false
	return json.Marshal(doc)
}
