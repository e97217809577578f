package types

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Survival Mabar", "mc-survival-mabar"},
		{"  Creative   World ", "mc-creative-world"},
		{"lobby", "mc-lobby"},
		{"mc-already", "mc-already"},
		{"Tab\tSeparated", "mc-tab-separated"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, CanonicalName(tt.in))
		})
	}
}

func TestCanonicalNameIsStable(t *testing.T) {
	first := CanonicalName("Survival Mabar")
	assert.Equal(t, first, CanonicalName(first))
	assert.Equal(t, "survival-mabar", DisplayName(first))
}

func TestParseAction(t *testing.T) {
	for _, s := range []string{"start", "STOP", "restart", "delete"} {
		_, ok := ParseAction(s)
		assert.True(t, ok, s)
	}
	_, ok := ParseAction("pause")
	assert.False(t, ok)
}

func TestErrorTaxonomy(t *testing.T) {
	assert.True(t, errors.Is(ErrPathTraversal, ErrArchive))
	assert.True(t, errors.Is(ErrWorldNotFound, ErrArchive))
	assert.True(t, IsAuthError(ErrSessionSuperseded))
	assert.False(t, IsAuthError(ErrNotFound))
	assert.True(t, errors.Is(Validationf("port %q", "x"), ErrValidation))
}
