package storage

import (
	"strings"
	"testing"

	"github.com/allyourbase/seedcache/internal/testutil"
)

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		objName string
		wantErr bool
	}{
		{"backup file", "test_3f2a", false},
		{"refs snapshot", "test_3f2a.refs.json", false},
		{"empty", "", true},
		{"dot dot", "..", true},
		{"nested", "a/b", true},
		{"backslash", `a\b`, true},
		{"too long", strings.Repeat("x", 513), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.objName)
			if tt.wantErr {
				testutil.ErrorIs(t, err, ErrInvalidName)
			} else {
				testutil.NoError(t, err)
			}
		})
	}
}

func TestObjectKey(t *testing.T) {
	testutil.Equal(t, objectKey("", "test_ab"), "test_ab")
	testutil.Equal(t, objectKey("seedcache", "test_ab"), "seedcache/test_ab")
}
