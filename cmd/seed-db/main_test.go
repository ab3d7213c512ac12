package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDemoCoupons(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	seen := map[string]bool{}

	for _, p := range demoCoupons(now) {
		t.Run(p.Code, func(t *testing.T) {
			require.NoError(t, p.Validate())
			assert.False(t, seen[p.Code], "duplicate code")
			seen[p.Code] = true
			assert.True(t, p.ValidFrom.Before(now))
			assert.True(t, p.ValidUntil.After(now))
		})
	}
	assert.True(t, seen["SUMMER10"])
}
