package db

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLikePrefix(t *testing.T) {
	tests := []struct {
		prefix string
		want   string
	}{
		{prefix: "aggregates/camps/", want: "aggregates/camps/%"},
		{prefix: "events/Pass 4*/", want: "events/Pass 4*/%"},
		{prefix: "a_b/100%/", want: `a\_b/100\%/%`},
		{prefix: `x\y/`, want: `x\\y/%`},
	}

	for _, tt := range tests {
		t.Run(tt.prefix, func(t *testing.T) {
			require.Equal(t, tt.want, likePrefix(tt.prefix))
		})
	}
}

func TestAdvisoryLockKey(t *testing.T) {
	a := advisoryLockKey("aggregates/camps/Fire/Pass 7")
	require.Equal(t, a, advisoryLockKey("aggregates/camps/Fire/Pass 7"))
	require.NotEqual(t, a, advisoryLockKey("aggregates/camps/Fire/Pass 8"))
}
