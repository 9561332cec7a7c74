package pprint

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1 "github.com/f9-o/berth/api/v1"
)

func TestSinkJSONLines(t *testing.T) {
	var buf bytes.Buffer
	s := NewSink(&buf, true)
	s.Stdout("deploy web")
	s.Preview(v1.PreviewEvent{Cmd: "docker pull r/ns/web", Host: "10.0.0.2", User: "ubuntu"})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var ev sinkEvent
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &ev))
	assert.Equal(t, "preview", ev.Stream)
	assert.Equal(t, "docker pull r/ns/web", ev.Cmd)
	assert.Equal(t, "ubuntu", ev.User)
}

func TestSinkText(t *testing.T) {
	var buf bytes.Buffer
	s := NewSink(&buf, false)
	s.Preview(v1.PreviewEvent{Cmd: "docker kill abc", Host: "localhost"})
	assert.Contains(t, buf.String(), "docker kill abc")
	assert.Contains(t, buf.String(), "localhost")
}

func TestTableString(t *testing.T) {
	tbl := NewTable("TAG", "ACTION")
	tbl.AddRow("repo:abc:100", "purge")
	out := tbl.String()
	assert.Contains(t, out, "repo:abc:100")
	assert.Equal(t, 1, tbl.Len())
	assert.Equal(t, 3, len(strings.Split(out, "\n")))
}
