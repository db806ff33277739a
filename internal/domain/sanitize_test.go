package domain

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeContent(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"trims surrounding whitespace", "  hello  ", "hello"},
		{"collapses horizontal runs", "hello\t\t  world", "hello world"},
		{"collapses 3+ newlines to 2", "a\n\n\n\n\nb", "a\n\nb"},
		{"keeps double newlines", "a\n\nb", "a\n\nb"},
		{"normalizes CRLF", "a\r\n\r\n\r\nb", "a\n\nb"},
		{"whitespace only becomes empty", " \t \n ", ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, SanitizeContent(tc.in))
		})
	}
}

func TestValidateContent(t *testing.T) {
	assert.NoError(t, ValidateContent("hello", 10))

	err := ValidateContent("", 10)
	assert.Error(t, err)
	var ge *GatewayError
	assert.True(t, errors.As(err, &ge))
	assert.Equal(t, CodeInvalidContent, ge.Code)

	// Length is counted in runes, and the limit is inclusive.
	assert.NoError(t, ValidateContent(strings.Repeat("é", 10), 10))
	err = ValidateContent(strings.Repeat("a", 10001), 10000)
	assert.Error(t, err)
	assert.True(t, errors.As(err, &ge))
	assert.Equal(t, CodeInvalidContent, ge.Code)
}
