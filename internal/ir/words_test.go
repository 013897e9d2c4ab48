package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeWord(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"CREATE", "create"},
		{"Acme,", "acme"},
		{"acme-corp", "acmecorp"},
		{"--", ""},
		{"Straße", "strasse"},
		{"café", "café"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeWord(tt.in))
		})
	}
}

func TestTokenizeKeepsRawForm(t *testing.T) {
	words := Tokenize("  Create 5 repos for Acme-Corp!  ")

	assert.Equal(t, []Word{
		{Raw: "Create", Norm: "create"},
		{Raw: "5", Norm: "5"},
		{Raw: "repos", Norm: "repos"},
		{Raw: "for", Norm: "for"},
		{Raw: "Acme-Corp", Norm: "acmecorp"},
	}, words)
}

func TestTokenizeDropsPunctuationOnlyWords(t *testing.T) {
	assert.Equal(t, "deploy now", Normalize("deploy -- now"))
	assert.Empty(t, Tokenize("?!"))
}

func TestJoinRaw(t *testing.T) {
	assert.Equal(t, "New York", JoinRaw(Tokenize("New, York")))
}
