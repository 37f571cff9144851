package forward

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSelect(t *testing.T) {
	src := http.Header{}
	src.Set("Authorization", "Bearer abc")
	src.Add("X-Tenant", "a")
	src.Add("X-Tenant", "b")
	src.Set("Cookie", "secret")

	got := Select(src, []string{"authorization", "x-tenant", "x-missing"})
	require.Equal(t, http.Header{
		"Authorization": {"Bearer abc"},
		"X-Tenant":      {"a", "b"},
	}, got)
	require.Nil(t, Select(src, nil))
}

func TestContextApply(t *testing.T) {
	ctx := context.Background()
	require.Nil(t, FromContext(ctx))
	require.Equal(t, ctx, NewContext(ctx, nil))

	ctx = NewContext(ctx, http.Header{"Authorization": {"Bearer abc"}})
	out := http.Header{}
	out.Set("Authorization", "old")
	out.Set("Content-Type", "application/json")
	Apply(ctx, out)
	require.Equal(t, "Bearer abc", out.Get("Authorization"))
	require.Equal(t, "application/json", out.Get("Content-Type"))
}
