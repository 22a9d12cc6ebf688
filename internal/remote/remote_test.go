package remote

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/skysync/internal/common"
	"github.com/dmitrijs2005/skysync/internal/fingerprint"
)

func TestInMemoryReadRange(t *testing.T) {
	b := NewInMemoryBackend()
	b.Put("f", []byte("0123456789"), time.Now())
	ctx := context.Background()

	read := func(offset, length int64) string {
		t.Helper()
		rc, err := b.ReadRange(ctx, "f", offset, length)
		require.NoError(t, err)
		defer rc.Close()
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		return string(data)
	}

	assert.Equal(t, "0123", read(0, 4))
	assert.Equal(t, "456", read(4, 3))
	assert.Equal(t, "56789", read(5, -1))
	assert.Equal(t, "89", read(8, 100), "range past the end is clamped")

	_, err := b.ReadRange(ctx, "missing", 0, 1)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestInMemoryUploadAssemblesChunksInOrder(t *testing.T) {
	b := NewInMemoryBackend()
	ctx := context.Background()

	up, err := b.CreateUpload(ctx, "f", 6, nil)
	require.NoError(t, err)

	// Chunks land out of order; Complete must still assemble by index.
	require.NoError(t, up.UploadChunk(ctx, 1, 3, bytes.NewReader([]byte("def")), 3))
	require.NoError(t, up.UploadChunk(ctx, 0, 0, bytes.NewReader([]byte("abc")), 3))
	require.NoError(t, up.Complete(ctx))

	got, ok := b.Get("f")
	require.True(t, ok)
	assert.Equal(t, []byte("abcdef"), got)
}

func TestInMemoryResumeUpload(t *testing.T) {
	b := NewInMemoryBackend()
	ctx := context.Background()

	up, err := b.CreateUpload(ctx, "f", 3, nil)
	require.NoError(t, err)
	require.NoError(t, up.UploadChunk(ctx, 0, 0, bytes.NewReader([]byte("xyz")), 3))

	resumed, err := b.ResumeUpload(ctx, "f", up.ID())
	require.NoError(t, err)
	require.NoError(t, resumed.Complete(ctx))

	got, ok := b.Get("f")
	require.True(t, ok)
	assert.Equal(t, []byte("xyz"), got)

	_, err = b.ResumeUpload(ctx, "f", "no-such-session")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestInMemoryRegister(t *testing.T) {
	b := NewInMemoryBackend()
	ctx := context.Background()
	data := []byte("dedup me")
	b.Put("original", data, time.Now())

	fp, err := fingerprint.Compute(bytes.NewReader(data), "f")
	require.NoError(t, err)

	require.NoError(t, b.Register(ctx, fp, "copy"))
	got, ok := b.Get("copy")
	require.True(t, ok)
	assert.Equal(t, data, got)

	unknown := &fingerprint.Fingerprint{ContentMD5: "ffffffffffffffffffffffffffffffff"}
	err = b.Register(ctx, unknown, "copy2")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestMapS3Error(t *testing.T) {
	tests := []struct {
		name string
		code string
		want error
	}{
		{"no such key", "NoSuchKey", common.ErrNotFound},
		{"not found", "NotFound", common.ErrNotFound},
		{"dead multipart session", "NoSuchUpload", common.ErrNotFound},
		{"access denied", "AccessDenied", common.ErrPermissionDenied},
		{"quota", "QuotaExceeded", common.ErrQuotaExceeded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			apiErr := &smithy.GenericAPIError{Code: tt.code, Message: tt.name}
			got := mapS3Error(apiErr, "some/key")
			assert.ErrorIs(t, got, tt.want)
			assert.Contains(t, got.Error(), "some/key")
		})
	}

	// Anything unrecognized passes through wrapped, still inspectable.
	plain := errors.New("connection reset")
	got := mapS3Error(plain, "k")
	assert.ErrorIs(t, got, plain)
}
