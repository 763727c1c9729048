package llms

import "testing"

func TestNewToolReflectsSchemaAndExecutes(t *testing.T) {
	tool := NewTool("set_volume", "Adjust playback volume",
		func(parameters struct {
			Level int `json:"level"`
		}) (string, error) {
			if parameters.Level != 7 {
				t.Fatalf("expected level 7, got %d", parameters.Level)
			}
			return "ok", nil
		})

	if tool.Name != "set_volume" {
		t.Fatalf("unexpected name %q", tool.Name)
	}
	if tool.Parameters == nil {
		t.Fatal("expected a reflected schema")
	}
	if _, ok := tool.Parameters.Properties.Get("level"); !ok {
		t.Fatal("expected schema to describe the level parameter")
	}

	resp, err := tool.Execute(`{"level": 7}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp != "ok" {
		t.Fatalf("unexpected response %q", resp)
	}
}

func TestToolExecuteRejectsBadArguments(t *testing.T) {
	tool := NewTool("noop", "does nothing",
		func(struct{}) (string, error) { return "", nil })

	if _, err := tool.Execute("{not json"); err == nil {
		t.Fatal("expected unmarshal error")
	}
}

func TestToolWithoutHandler(t *testing.T) {
	var tool Tool
	if _, err := tool.Execute("{}"); err == nil {
		t.Fatal("expected error for missing handler")
	}
}
