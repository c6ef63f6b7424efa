package loader

import (
	"errors"
	"strings"
	"testing"
	"testing/fstest"
)

func TestTOMLLoader_Load(t *testing.T) {
	memfs := fstest.MapFS{
		"sensorbus.toml": {Data: []byte(`
[bus]
buffer_capacity = 64
idle_timeout = "2s"

[log]
level = "debug"
`)},
	}

	l := NewTOMLLoaderWithFS(FSAdapter{FS: memfs}, "sensorbus.toml")
	config, err := l.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	bus, ok := config["bus"].(map[string]any)
	if !ok {
		t.Fatal("bus section not found")
	}
	if bus["buffer_capacity"] != int64(64) {
		t.Errorf("buffer_capacity = %v (%T), want 64", bus["buffer_capacity"], bus["buffer_capacity"])
	}
	if bus["idle_timeout"] != "2s" {
		t.Errorf("idle_timeout = %v, want 2s", bus["idle_timeout"])
	}

	log, ok := config["log"].(map[string]any)
	if !ok || log["level"] != "debug" {
		t.Errorf("log.level = %v, want debug", log["level"])
	}
}

func TestTOMLLoader_LoadNonExistent(t *testing.T) {
	l := NewTOMLLoaderWithFS(FSAdapter{FS: fstest.MapFS{}}, "missing.toml")

	config, err := l.Load()
	if err != nil {
		t.Errorf("Load should not error for missing file: %v", err)
	}
	if config != nil {
		t.Error("config should be nil for missing file")
	}

	config, err = NewTOMLLoader("").Load()
	if err != nil || config != nil {
		t.Errorf("empty path: got %v, %v; want nil, nil", config, err)
	}
}

func TestTOMLLoader_LoadInvalid(t *testing.T) {
	memfs := fstest.MapFS{
		"bad.toml": {Data: []byte("[bus]\nbuffer_capacity = = 3\n")},
	}

	_, err := NewTOMLLoaderWithFS(FSAdapter{FS: memfs}, "bad.toml").Load()
	if err == nil {
		t.Fatal("expected parse error")
	}

	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("expected *ParseError, got %T", err)
	}
	if perr.Path != "bad.toml" {
		t.Errorf("Path = %q, want bad.toml", perr.Path)
	}
	if perr.Line != 2 {
		t.Errorf("Line = %d, want 2", perr.Line)
	}
	if !strings.Contains(perr.Error(), "line 2") {
		t.Errorf("error should mention the line: %s", perr.Error())
	}
}

func TestTOMLLoader_LoadFromReader(t *testing.T) {
	l := NewTOMLLoader("")
	config, err := l.LoadFromReader(strings.NewReader("[bus]\nmax_workers = 4\n"))
	if err != nil {
		t.Fatalf("LoadFromReader failed: %v", err)
	}

	bus := config["bus"].(map[string]any)
	if bus["max_workers"] != int64(4) {
		t.Errorf("max_workers = %v, want 4", bus["max_workers"])
	}
}

func TestParseError_Error(t *testing.T) {
	tests := []struct {
		err  ParseError
		want string
	}{
		{ParseError{Path: "a.toml", Line: 3, Column: 7, Message: "bad"}, "parse error in a.toml at line 3, column 7: bad"},
		{ParseError{Path: "a.toml", Line: 3, Message: "bad"}, "parse error in a.toml at line 3: bad"},
		{ParseError{Path: "a.toml", Message: "bad"}, "parse error in a.toml: bad"},
	}

	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}
}

func TestDeepMerge(t *testing.T) {
	dst := map[string]any{
		"bus": map[string]any{
			"buffer_capacity": int64(1024),
			"max_workers":     int64(100),
		},
		"log": map[string]any{"level": "info"},
	}
	src := map[string]any{
		"bus": map[string]any{"max_workers": int64(8)},
		"log": "replaced",
	}

	merged := DeepMerge(dst, src)

	bus := merged["bus"].(map[string]any)
	if bus["buffer_capacity"] != int64(1024) {
		t.Errorf("buffer_capacity = %v, want 1024 (kept)", bus["buffer_capacity"])
	}
	if bus["max_workers"] != int64(8) {
		t.Errorf("max_workers = %v, want 8 (overridden)", bus["max_workers"])
	}
	if merged["log"] != "replaced" {
		t.Errorf("log = %v, want replaced", merged["log"])
	}

	if got := DeepMerge(nil, nil); got == nil || len(got) != 0 {
		t.Errorf("DeepMerge(nil, nil) = %v, want empty map", got)
	}
}
