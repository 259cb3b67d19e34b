package toolspec

import (
	"encoding/json"
	"testing"
)

func TestDecodePayload_JSONObject(t *testing.T) {
	args, err := DecodePayload(`{"path":"a.txt","lines":5}`)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if args["path"] != "a.txt" {
		t.Errorf("path = %v", args["path"])
	}
	if args["lines"] != float64(5) {
		t.Errorf("lines = %v (%T)", args["lines"], args["lines"])
	}
}

func TestDecodePayload_KeyValuePairs(t *testing.T) {
	args, err := DecodePayload(`path=a.txt, count=3, dry_run=true`)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if args["path"] != "a.txt" {
		t.Errorf("path = %v", args["path"])
	}
	if args["count"] != float64(3) {
		t.Errorf("count = %v (%T)", args["count"], args["count"])
	}
	if args["dry_run"] != true {
		t.Errorf("dry_run = %v", args["dry_run"])
	}
}

func TestDecodePayload_QuotedValueWithComma(t *testing.T) {
	args, err := DecodePayload(`msg="hello, world", n=1`)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if args["msg"] != "hello, world" {
		t.Errorf("msg = %v", args["msg"])
	}
	if args["n"] != float64(1) {
		t.Errorf("n = %v", args["n"])
	}
}

func TestDecodePayload_NestedJSONValue(t *testing.T) {
	args, err := DecodePayload(`opts={"a":1,"b":2}, name=x`)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if args["opts"] != `{"a":1,"b":2}` {
		t.Errorf("opts = %v", args["opts"])
	}
}

func TestDecodePayload_Empty(t *testing.T) {
	args, err := DecodePayload("")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(args) != 0 {
		t.Errorf("args = %v, want empty", args)
	}
}

func TestDecodePayload_MalformedPairRejected(t *testing.T) {
	if _, err := DecodePayload("just words"); err == nil {
		t.Fatal("expected error for pair without '='")
	}
}

const writeSchema = `{
  "type": "object",
  "properties": {
    "path":  {"type": "string"},
    "lines": {"type": "integer"},
    "force": {"type": "boolean"}
  },
  "required": ["path"]
}`

func writeRegistry() *Registry {
	r := NewRegistry()
	r.Register(Spec{Name: "write", Schema: json.RawMessage(writeSchema)})
	return r
}

func TestValidate_WellFormedPayload(t *testing.T) {
	r := writeRegistry()
	args, err := r.Validate("write", `{"path":"a.txt","lines":3}`)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if args["path"] != "a.txt" {
		t.Errorf("path = %v", args["path"])
	}
}

func TestValidate_CoercesQuotedNumber(t *testing.T) {
	r := writeRegistry()
	args, err := r.Validate("write", `{"path":"a.txt","lines":"7"}`)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if args["lines"] != int64(7) {
		t.Errorf("lines = %v (%T), want int64(7)", args["lines"], args["lines"])
	}
}

func TestValidate_CoercesStringifiedBool(t *testing.T) {
	r := writeRegistry()
	args, err := r.Validate("write", `{"path":"a.txt","force":"true"}`)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if args["force"] != true {
		t.Errorf("force = %v", args["force"])
	}
}

func TestValidate_MissingRequiredFieldFails(t *testing.T) {
	r := writeRegistry()
	if _, err := r.Validate("write", `{"lines":3}`); err == nil {
		t.Fatal("expected validation error for missing path")
	}
}

func TestValidate_UnknownToolPassesDecodeOnly(t *testing.T) {
	r := NewRegistry()
	args, err := r.Validate("mystery", `a=1`)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if args["a"] != float64(1) {
		t.Errorf("a = %v", args["a"])
	}
}

func TestValidate_BrokenSchemaFailsOpen(t *testing.T) {
	r := NewRegistry()
	r.Register(Spec{Name: "odd", Schema: json.RawMessage(`{not json`)})
	if _, err := r.Validate("odd", `{"x":1}`); err != nil {
		t.Fatalf("broken schema should fail open, got %v", err)
	}
}
