package errdefs

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassification(t *testing.T) {
	cause := errors.New("boom")

	cfg := Config("barcode file", cause)
	require.True(t, IsConfig(cfg))
	require.False(t, IsRecord(cfg))
	require.ErrorIs(t, cfg, cause)

	rec := Record("read1", "extract", cause)
	require.True(t, IsRecord(rec))
	require.False(t, IsIO(rec))
	require.Equal(t, `record "read1" (extract): boom`, rec.Error())

	ioe := IO("write", "/tmp/out.fq", io.ErrShortWrite)
	require.True(t, IsIO(ioe))
	require.ErrorIs(t, ioe, io.ErrShortWrite)
	require.Equal(t, "write /tmp/out.fq: short write", ioe.Error())
}

func TestWrapKeepsInnermostClass(t *testing.T) {
	inner := Record("r", "reencode", errors.New("bad byte"))
	// Rewrapping a record error keeps its stage and read id.
	require.Same(t, inner, Record("other", "dispatch", inner))

	require.NoError(t, Config("x", nil))
	require.NoError(t, Record("r", "s", nil))
	require.NoError(t, IO("read", "p", nil))
}

func TestConfigf(t *testing.T) {
	err := Configf("max mismatches must be >= 0, got %d", -1)
	require.True(t, IsConfig(err))
	require.Equal(t, "config: max mismatches must be >= 0, got -1", err.Error())
}
