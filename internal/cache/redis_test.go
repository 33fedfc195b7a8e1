package cache

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOptions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		addr     string
		wantAddr string
		wantDB   int
		wantErr  bool
	}{
		{name: "bare", addr: "localhost:6379", wantAddr: "localhost:6379"},
		{name: "url", addr: "redis://:secret@cache:6380/2", wantAddr: "cache:6380", wantDB: 2},
		{name: "bad url", addr: "redis://cache:6379/notadb", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, err := ParseOptions(tt.addr)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantAddr, opts.Addr)
			assert.Equal(t, tt.wantDB, opts.DB)
		})
	}
}

func TestNewClient(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := NewClient(mr.Addr())
	require.NotNil(t, client)
	defer func() { _ = client.Close() }()

	require.NoError(t, client.Set(context.Background(), "k", "v", 0).Err())
	got, err := mr.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)
}

func TestNewClient_Unreachable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()

	assert.Nil(t, NewClient(addr))
}
