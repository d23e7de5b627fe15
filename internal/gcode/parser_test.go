// internal/gcode/parser_test.go
package gcode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tamzrod/gcode-dispatcher/internal/channel"
)

func TestParse_MoveWithComment(t *testing.T) {
	c, err := Parse("G1 X10.5 Y-3 ; move", channel.USB)
	require.NoError(t, err)

	assert.Equal(t, GCode, c.Type)
	require.NotNil(t, c.Major)
	assert.Equal(t, 1, *c.Major)
	assert.Nil(t, c.Minor)

	require.Len(t, c.Parameters, 2)
	assert.Equal(t, byte('X'), c.Parameters[0].Letter)
	x, err := c.Parameters[0].Float()
	require.NoError(t, err)
	assert.Equal(t, 10.5, x)

	assert.Equal(t, byte('Y'), c.Parameters[1].Letter)
	y, err := c.Parameters[1].Int()
	require.NoError(t, err)
	assert.Equal(t, -3, y)

	require.NotNil(t, c.Comment)
	assert.Equal(t, " move", *c.Comment)
}

func TestParse_MinorNumber(t *testing.T) {
	c, err := Parse("M569.2 P0", channel.HTTP)
	require.NoError(t, err)
	require.NotNil(t, c.Major)
	require.NotNil(t, c.Minor)
	assert.Equal(t, 569, *c.Major)
	assert.Equal(t, 2, *c.Minor)
	assert.Equal(t, "M569.2", c.ShortForm())
}

func TestParse_QuotedEscapes(t *testing.T) {
	c, err := Parse(`M117 "Hello ""world"""`, channel.USB)
	require.NoError(t, err)
	require.NotNil(t, c.Major)
	assert.Equal(t, 117, *c.Major)

	p := c.UnnamedParameter()
	require.NotNil(t, p)
	assert.Equal(t, `Hello "world"`, p.Raw)
	assert.True(t, p.IsString)
}

func TestParse_QuotedLetterParameter(t *testing.T) {
	c, err := Parse(`M28 P"my file.g"`, channel.Telnet)
	require.NoError(t, err)

	p := c.Parameter('P')
	require.NotNil(t, p)
	assert.Equal(t, "my file.g", p.Raw)
	assert.True(t, p.IsString)
}

func TestParse_ParenComment(t *testing.T) {
	c, err := Parse("G4 (dwell a bit) S2", channel.File)
	require.NoError(t, err)
	require.NotNil(t, c.Comment)
	assert.Equal(t, "dwell a bit", *c.Comment)

	p := c.Parameter('S')
	require.NotNil(t, p)
	v, err := p.Int()
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestParse_ExpressionParameter(t *testing.T) {
	c, err := Parse("M26 S{job.filePosition + 1}", channel.USB)
	require.NoError(t, err)

	p := c.Parameter('S')
	require.NotNil(t, p)
	assert.Equal(t, "{job.filePosition + 1}", p.Raw)
	assert.False(t, p.IsString)
}

func TestParse_CommentOnly(t *testing.T) {
	c, err := Parse("; homing sequence", channel.File)
	require.NoError(t, err)
	assert.Equal(t, Comment, c.Type)
	require.NotNil(t, c.Comment)
	assert.Equal(t, " homing sequence", *c.Comment)
}

func TestParse_EmptyLine(t *testing.T) {
	c, err := Parse("   ", channel.File)
	require.NoError(t, err)
	assert.Equal(t, Comment, c.Type)
	assert.Nil(t, c.Comment)
}

func TestParse_Keywords(t *testing.T) {
	c, err := Parse(`echo "hello"`, channel.File)
	require.NoError(t, err)
	assert.Equal(t, KeywordCode, c.Type)
	assert.Equal(t, KeywordEcho, c.Keyword)
	assert.Equal(t, `"hello"`, c.KeywordArgument)

	c, err = Parse("while iterations < 3", channel.File)
	require.NoError(t, err)
	assert.Equal(t, KeywordWhile, c.Keyword)
	assert.Equal(t, "iterations < 3", c.KeywordArgument)

	c, err = Parse("abort", channel.File)
	require.NoError(t, err)
	assert.Equal(t, KeywordAbort, c.Keyword)
	assert.Empty(t, c.KeywordArgument)
}

func TestParse_Rejections(t *testing.T) {
	cases := []struct {
		name string
		src  string
	}{
		{"unterminated quote", `M117 "oops`},
		{"unterminated paren", "G4 (never closed"},
		{"non-integer major", "G1X5"},
		{"garbage major", "Gfoo"},
		{"missing major", "M"},
		{"non-integer minor", "G1.x P1"},
		{"bad start", "X10 Y20"},
		{"unterminated brace", "M26 S{job.filePosition"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(tc.src, channel.USB)
			require.Error(t, err)
			var perr *ParseError
			assert.ErrorAs(t, err, &perr)
		})
	}
}

func TestParse_RenderRoundTrip(t *testing.T) {
	sources := []string{
		"G1 X10.5 Y-3 ; move",
		`M117 "Hello ""world"""`,
		"M569.2 P0 S1",
		"T3",
		"; plain comment",
		`M28 P"capture.g"`,
	}
	for _, src := range sources {
		t.Run(src, func(t *testing.T) {
			first, err := Parse(src, channel.USB)
			require.NoError(t, err)

			second, err := Parse(first.String(), channel.USB)
			require.NoError(t, err)

			assert.Equal(t, first.Type, second.Type)
			assert.Equal(t, first.Major, second.Major)
			assert.Equal(t, first.Minor, second.Minor)
			assert.Equal(t, first.Parameters, second.Parameters)
			assert.Equal(t, first.Comment, second.Comment)
		})
	}
}

func TestParameter_TypedAccess(t *testing.T) {
	c, err := Parse("M92 E420.5 X80:81:82 S1", channel.USB)
	require.NoError(t, err)

	f, err := c.Parameter('E').Float()
	require.NoError(t, err)
	assert.Equal(t, 420.5, f)

	vec, err := c.Parameter('X').IntSlice()
	require.NoError(t, err)
	assert.Equal(t, []int{80, 81, 82}, vec)

	b, err := c.Parameter('S').Bool()
	require.NoError(t, err)
	assert.True(t, b)

	_, err = c.Parameter('E').Int()
	require.Error(t, err)
	var perr *ParseError
	assert.ErrorAs(t, err, &perr)
}
