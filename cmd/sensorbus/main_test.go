package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// execute runs the root command and returns stdout and stderr.
func execute(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	t.Setenv("SENSORBUS_CONFIG", "")

	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)

	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func lines(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

func TestSimulate(t *testing.T) {
	stdout, _, err := execute(t, "", "simulate", "--sensors", "3", "--count", "50", "--workers", "2", "--log-level", "error")
	require.NoError(t, err)

	var status []string
	var readings int64
	workers := 0
	var summary gjson.Result
	for _, l := range lines(stdout) {
		require.True(t, gjson.Valid(l), l)
		r := gjson.Parse(l)
		switch {
		case r.Get("state").Exists():
			assert.Equal(t, "events.StatusEvent", r.Get("type").String())
			assert.Equal(t, "status."+r.Get("sourceID").String(), r.Get("topic").String())
			status = append(status, r.Get("sourceID").String()+":"+r.Get("state").String())
		case r.Get("worker").Exists():
			workers++
			readings += r.Get("readings").Int()
		case r.Get("sensors").Exists():
			summary = r
		default:
			t.Fatalf("unexpected line %s", l)
		}
	}

	sort.Strings(status)
	assert.Equal(t, []string{
		"sensor-1:started", "sensor-1:stopped",
		"sensor-2:started", "sensor-2:stopped",
		"sensor-3:started", "sensor-3:stopped",
	}, status)
	assert.Equal(t, 2, workers)
	assert.Equal(t, int64(150), readings)

	require.True(t, summary.Exists(), "summary line")
	assert.Equal(t, int64(3), summary.Get("sensors").Int())
	assert.Equal(t, int64(150), summary.Get("published").Int())
	assert.Equal(t, int64(0), summary.Get("dropped").Int())
}

func TestSimulate_StatusOrderPerSensor(t *testing.T) {
	stdout, _, err := execute(t, "", "simulate", "--sensors", "2", "--count", "5", "--workers", "1", "--log-level", "error")
	require.NoError(t, err)

	seen := map[string][]string{}
	for _, l := range lines(stdout) {
		if state := gjson.Get(l, "state"); state.Exists() {
			src := gjson.Get(l, "sourceID").String()
			seen[src] = append(seen[src], state.String())
		}
	}
	for _, src := range []string{"sensor-1", "sensor-2"} {
		assert.Equal(t, []string{"started", "stopped"}, seen[src], src)
	}
}

func TestSimulate_Filter(t *testing.T) {
	// Values cycle from 18 in steps of 0.5; 12 of every 16 are at least 20.
	stdout, _, err := execute(t, "",
		"simulate", "--sensors", "2", "--count", "16", "--workers", "3",
		"--filter", "event.value >= 20", "--log-level", "error")
	require.NoError(t, err)

	var readings int64
	for _, l := range lines(stdout) {
		readings += gjson.Get(l, "readings").Int()
	}
	assert.Equal(t, int64(24), readings)
}

func TestSimulate_InvalidArgs(t *testing.T) {
	_, _, err := execute(t, "", "simulate", "--workers", "0")
	assert.Error(t, err)

	_, _, err = execute(t, "", "simulate", "--filter", "sourceID ==")
	assert.Error(t, err)

	_, _, err = execute(t, "", "simulate", "--watch")
	assert.ErrorContains(t, err, "--config")
}

const replayInput = `{"timestamp":1,"sourceID":"thermo-1","topic":"plant","value":21.5}
{"timestamp":2,"sourceID":"thermo-2","topic":"plant","value":9}
not json
{"timestamp":3,"sourceID":"gauge-1","value":12}

{"timestamp":4,"sourceID":"thermo-1","topic":"plant","value":30}
`

func TestReplay(t *testing.T) {
	stdout, stderr, err := execute(t, replayInput, "replay", "--log-level", "info")
	require.NoError(t, err)

	out := lines(stdout)
	require.Len(t, out, 4)

	byTopic := map[string][]int64{}
	for _, l := range out {
		byTopic[gjson.Get(l, "topic").String()] = append(byTopic[gjson.Get(l, "topic").String()], gjson.Get(l, "timestamp").Int())
		assert.False(t, gjson.Get(l, "type").Exists(), "records carry no type key")
	}
	assert.Equal(t, []int64{1, 2, 4}, byTopic["plant"], "publish order within a topic")
	assert.Equal(t, []int64{3}, byTopic["gauge-1"], "topic defaults to sourceID")

	assert.Contains(t, stderr, "Skipping malformed record")
	assert.Contains(t, stderr, "Replay complete")
}

func TestReplay_Filter(t *testing.T) {
	stdout, _, err := execute(t, replayInput, "replay", "--filter", "event.value > 10", "--log-level", "error")
	require.NoError(t, err)

	var got []int64
	for _, l := range lines(stdout) {
		got = append(got, gjson.Get(l, "timestamp").Int())
	}
	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
	assert.Equal(t, []int64{1, 3, 4}, got)
}

func TestReplay_Strict(t *testing.T) {
	_, _, err := execute(t, replayInput, "replay", "--strict", "--log-level", "error")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 3")
}

func TestReplay_InputFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{"sourceID":"a","timestamp":9}`+"\n"), 0o644))

	stdout, _, err := execute(t, "", "replay", "--input", path, "--log-level", "error")
	require.NoError(t, err)
	assert.JSONEq(t, `{"timestamp":9,"sourceID":"a","topic":"a"}`, strings.TrimSpace(stdout))

	_, _, err = execute(t, "", "replay", "--input", filepath.Join(t.TempDir(), "missing.jsonl"))
	assert.Error(t, err)
}

func TestConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sensorbus.toml")
	require.NoError(t, os.WriteFile(path, []byte("[bus]\nbuffer_capacity = 8\n\n[log]\nlevel = \"warn\"\n"), 0o644))

	stdout, _, err := execute(t, "", "--config", path, "simulate", "--sensors", "1", "--count", "20", "--workers", "1")
	require.NoError(t, err)
	assert.Contains(t, stdout, `"published":20`)

	_, _, err = execute(t, "", "--log-level", "loud", "simulate")
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("[bus]\nmax_workers = -1\n"), 0o644))
	_, _, err = execute(t, "", "--config", path, "simulate")
	assert.ErrorContains(t, err, "load config")
}
