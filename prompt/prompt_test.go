package prompt

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestString(t *testing.T) {
	var out bytes.Buffer
	p := New(strings.NewReader("  alice \n"), &out)

	got, err := p.String("Username: ")
	require.NoError(t, err)
	assert.Equal(t, "alice", got)
	assert.Equal(t, "Username: ", out.String())
}

func TestStringWithoutTrailingNewline(t *testing.T) {
	p := New(strings.NewReader("bob"), &bytes.Buffer{})

	got, err := p.String("Username: ")
	require.NoError(t, err)
	assert.Equal(t, "bob", got)

	_, err = p.String("Again: ")
	assert.ErrorIs(t, err, ErrNoInput)
}

func TestSecretFallsBackWhenNotTerminal(t *testing.T) {
	p := New(strings.NewReader("hunter2\n"), &bytes.Buffer{})

	got, err := p.Secret("Password: ")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", got)
}

func TestYesNo(t *testing.T) {
	testCases := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"n\n", false},
		{"maybe\nno\n", false},
	}

	for _, tc := range testCases {
		t.Run(strings.TrimSpace(tc.input), func(t *testing.T) {
			p := New(strings.NewReader(tc.input), &bytes.Buffer{})
			got, err := p.YesNo("Continue?")
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestInt(t *testing.T) {
	var out bytes.Buffer
	p := New(strings.NewReader("abc\n12\n4\n"), &out)

	got, err := p.Int("Workers", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 4, got)
	assert.Equal(t, 2, strings.Count(out.String(), "Please enter a number between 1 and 10."))
}

func TestIntNoInput(t *testing.T) {
	p := New(strings.NewReader(""), &bytes.Buffer{})
	_, err := p.Int("Workers", 1, 10)
	assert.ErrorIs(t, err, ErrNoInput)
}
