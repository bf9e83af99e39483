package guardrails

import (
	"encoding/json"

	invopop "github.com/invopop/jsonschema"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Stage outputs. Every stage must come back as exactly this JSON shape;
// extra keys, missing keys, or empty required strings abort the whole path.

type goalStage struct {
	Goal string `json:"goal" jsonschema:"minLength=1"`
}

type optionsStage struct {
	Entities []string `json:"entities"`
	Options  []string `json:"options"`
}

type constraintsStage struct {
	Constraints []string `json:"constraints"`
}

type decisionStage struct {
	Decision string `json:"decision" jsonschema:"minLength=1"`
	Response string `json:"response" jsonschema:"minLength=1"`
}

var (
	goalSchema        = mustStageSchema("goal", &goalStage{})
	optionsSchema     = mustStageSchema("options", &optionsStage{})
	constraintsSchema = mustStageSchema("constraints", &constraintsStage{})
	decisionSchema    = mustStageSchema("decision", &decisionStage{})
)

// mustStageSchema reflects a stage struct into a JSON Schema and compiles
// it. Both steps are deterministic over fixed structs, so failure is a
// programming error.
func mustStageSchema(name string, v any) *jsonschema.Schema {
	r := &invopop.Reflector{DoNotReference: true}
	doc, err := json.Marshal(r.Reflect(v))
	if err != nil {
		panic(err)
	}
	schema, err := jsonschema.CompileString(name+".schema.json", string(doc))
	if err != nil {
		panic(err)
	}
	return schema
}
