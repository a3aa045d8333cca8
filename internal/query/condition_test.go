package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompare_String_QuotesOnlyWhatTheLexerWouldSplit(t *testing.T) {
	tests := []struct {
		value string
		want  string
	}{
		{"e-mail", "fulltext:e-mail"},
		{"c++", "fulltext:c++"},
		{"a!b", "fulltext:a!b"},
		{"-draft", `fulltext:"-draft"`},
		{"+must", `fulltext:"+must"`},
		{"!bang", `fulltext:"!bang"`},
		{"&&x", `fulltext:"&&x"`},
		{"two words", `fulltext:"two words"`},
		{"a:b", `fulltext:"a:b"`},
		{`back\slash`, `fulltext:"back\\slash"`},
		{"OR", `fulltext:"OR"`},
		{"", `fulltext:""`},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			c := &Compare{Field: "fulltext", Value: tt.value, Op: OpMatch}
			assert.Equal(t, tt.want, c.String())
		})
	}
}

func TestCompare_String_RoundTripsThroughParse(t *testing.T) {
	for _, v := range []string{"e-mail", "-draft", "a:b", "two words"} {
		t.Run(v, func(t *testing.T) {
			c := &Compare{Field: "fulltext", Value: v, Op: OpMatch}

			parsed, err := Parse(c.String(), ft, Or)

			assert.NoError(t, err)
			if cmp, ok := parsed.(*Compare); assert.True(t, ok) {
				assert.Equal(t, v, cmp.Value)
			}
		})
	}
}
