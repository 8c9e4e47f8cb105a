package domain

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestValidProgramID(t *testing.T) {
	cases := []struct {
		name string
		id   string
		want bool
	}{
		{name: "valid uuid", id: uuid.NewString(), want: true},
		{name: "empty", id: "", want: false},
		{name: "sentinel literal", id: SentinelProgramID, want: false},
		{name: "garbage", id: "not-a-uuid", want: false},
		{name: "numeric", id: "12345", want: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, ValidProgramID(tc.id))
		})
	}
}
