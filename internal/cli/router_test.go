package cli

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/alecthomas/kong"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type recorder struct {
	ran []string
}

type tagArgs struct {
	File  string   `arg:"" help:"File to tag."`
	Label string   `help:"Label to apply."`
	Count int      `default:"3" help:"Repetitions."`
	Note  string   `default:"" help:"Optional note."`
	Ext   []string `help:"Extensions."`
	Force bool     `help:"Overwrite."`
}

func (a *tagArgs) Run(_ context.Context, r *recorder) error {
	r.ran = append(r.ran, "tag:"+a.File+":"+a.Label)
	return nil
}

type listArgs struct {
	Dir string `arg:"" optional:"" default:"{books}"`
}

func (a *listArgs) Run(_ context.Context, r *recorder) error {
	r.ran = append(r.ran, "ls:"+a.Dir)
	return nil
}

type failArgs struct{}

var errFail = errors.New("fail")

func (a *failArgs) Run(context.Context, *recorder) error { return errFail }

type globals struct {
	Verbose int `short:"v" type:"counter"`
}

type fixture struct {
	router *Router[*recorder]
	tag    *tagArgs
	list   *listArgs
	stderr *bytes.Buffer
	g      *globals
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	f := fixture{tag: &tagArgs{}, list: &listArgs{}, stderr: &bytes.Buffer{}, g: &globals{}}
	r, err := New("paperdrop", "test", f.g, []Command[*recorder]{
		{Name: "tag", Help: "Tag a file.", Args: f.tag},
		{Name: "ls", Help: "List.", Args: f.list},
		{Name: "fail", Help: "Always fails.", Args: &failArgs{}},
	}, kong.Writers(io.Discard, f.stderr), kong.Exit(func(int) {}))
	require.NoError(t, err)
	f.router = r
	return f
}

func TestParse_DefaultsAndRequired(t *testing.T) {
	f := newFixture(t)

	inv, err := f.router.Parse([]string{"tag", "a.pdf", "--label", "x"})
	require.NoError(t, err)
	assert.Equal(t, "tag", inv.Name)
	assert.NotEmpty(t, inv.ID)
	assert.Equal(t, "a.pdf", f.tag.File)
	assert.Equal(t, "x", f.tag.Label)
	assert.Equal(t, 3, f.tag.Count)
	assert.Equal(t, "", f.tag.Note)
	assert.Empty(t, f.tag.Ext)
	assert.False(t, f.tag.Force)
}

func TestParse_OptionalPositionalDefault(t *testing.T) {
	f := newFixture(t)

	_, err := f.router.Parse([]string{"ls"})
	require.NoError(t, err)
	assert.Equal(t, "{books}", f.list.Dir)
}

func TestParse_SliceAccumulates(t *testing.T) {
	f := newFixture(t)

	_, err := f.router.Parse([]string{"tag", "a.pdf", "--label=x", "--ext", "pdf", "--ext", "epub,djvu"})
	require.NoError(t, err)
	assert.Equal(t, []string{"pdf", "epub", "djvu"}, f.tag.Ext)
}

func TestParse_GlobalCounter(t *testing.T) {
	f := newFixture(t)

	_, err := f.router.Parse([]string{"-vv", "ls", "/x"})
	require.NoError(t, err)
	assert.Equal(t, 2, f.g.Verbose)
	assert.Equal(t, "/x", f.list.Dir)
}

func TestParse_UsageErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"unknown command", []string{"frobnicate"}},
		{"no command", nil},
		{"missing positional", []string{"tag", "--label", "x"}},
		{"missing flag without default", []string{"tag", "a.pdf"}},
		{"bad coercion", []string{"tag", "a.pdf", "--label", "x", "--count", "many"}},
		{"unknown flag", []string{"ls", "--colour"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			inv, err := f.router.Parse(tt.args)
			assert.Nil(t, inv)
			var usage *UsageError
			require.ErrorAs(t, err, &usage)
			assert.True(t, strings.Contains(f.stderr.String(), "Usage:"), f.stderr.String())
		})
	}
}

func TestNew_RejectsBadTables(t *testing.T) {
	_, err := New[*recorder]("x", "", nil, []Command[*recorder]{
		{Name: "ls", Args: &listArgs{}},
		{Name: "ls", Args: &listArgs{}},
	})
	assert.Error(t, err)

	_, err = New[*recorder]("x", "", nil, []Command[*recorder]{{Name: "ls"}})
	assert.Error(t, err)
}

func TestInvocation_RunLogsMarkers(t *testing.T) {
	f := newFixture(t)
	core, logs := observer.New(zapcore.DebugLevel)
	rec := &recorder{}

	inv, err := f.router.Parse([]string{"tag", "b.pdf", "--label", "y"})
	require.NoError(t, err)
	require.NoError(t, inv.Run(context.Background(), rec, zap.New(core)))
	assert.Equal(t, []string{"tag:b.pdf:y"}, rec.ran)

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "command started", entries[0].Message)
	assert.Equal(t, "command finished", entries[1].Message)
	for _, e := range entries {
		fields := e.ContextMap()
		assert.Equal(t, "tag", fields["command"])
		assert.Equal(t, inv.ID, fields["invocation"])
	}
	assert.Contains(t, entries[0].ContextMap(), "args")
}

func TestInvocation_RunReturnsHandlerError(t *testing.T) {
	f := newFixture(t)
	inv, err := f.router.Parse([]string{"fail"})
	require.NoError(t, err)

	err = inv.Run(context.Background(), &recorder{}, zap.NewNop())
	assert.ErrorIs(t, err, errFail)
}
