package chaty

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRender_KeyValuePairs(t *testing.T) {
	tests := []struct {
		name string
		msg  string
		args []any
		want string
	}{
		{"message only", "email verified", nil, "email verified\n"},
		{"pairs", "email verified", []any{"user_id", "u1", "attempt", 2}, "email verified user_id=u1 attempt=2\n"},
		{"odd trailing arg", "dropped", []any{"user_id", "u1", "extra"}, "dropped user_id=u1 extra\n"},
		{"percent is literal", "queue 100% full", []any{"size", 8}, "queue 100% full size=8\n"},
		{"keeps newline", "done\n", nil, "done\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, render(tt.msg, tt.args...))
		})
	}
}

func TestNormalizeLogger(t *testing.T) {
	assert.Equal(t, defLogger{}, normalizeLogger(nil))

	var custom Logger = nopLogger{}
	assert.Equal(t, custom, normalizeLogger(custom))
}
