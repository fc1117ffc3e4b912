package types

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSourceKeyRoundTrip(t *testing.T) {
	key := SourceKey(12, 34)
	f, b := DecodeSourceKey(key)
	assert.Equal(t, FileID(12), f)
	assert.Equal(t, uint32(34), b)

	f, b, err := DecodeSourceKeyBytes(EncodeSourceKey(key))
	require.NoError(t, err)
	assert.Equal(t, FileID(12), f)
	assert.Equal(t, uint32(34), b)

	_, _, err = DecodeSourceKeyBytes([]byte{1})
	assert.Error(t, err)
}

func TestSourceKeyContiguity(t *testing.T) {
	// All sources for one file id must sort together, ordered by build
	// root, and before any source of a larger file id.
	keys := [][]byte{
		EncodeSourceKey(SourceKey(1, 0)),
		EncodeSourceKey(SourceKey(1, 5)),
		EncodeSourceKey(SourceKey(1, 0xffffffff)),
		EncodeSourceKey(SourceKey(2, 0)),
	}
	for i := 0; i < len(keys)-1; i++ {
		assert.Negative(t, bytes.Compare(keys[i], keys[i+1]))
	}
}

func TestSourceCompareArguments(t *testing.T) {
	a := Source{FileID: 1, Arguments: []string{"-I/x", "-DFOO"}}
	b := Source{FileID: 1, Arguments: []string{"-I/x", "-DFOO"}}
	c := Source{FileID: 1, Arguments: []string{"-I/x"}}
	d := Source{FileID: 1, Arguments: []string{"-I/y", "-DFOO"}}

	assert.True(t, a.CompareArguments(b))
	assert.False(t, a.CompareArguments(c))
	assert.False(t, a.CompareArguments(d))
}

func TestSourceFlags(t *testing.T) {
	s := Source{FileID: 1}
	assert.False(t, s.IsActive())
	s.Flags |= SourceActive
	assert.True(t, s.IsActive())
}

func TestSourceValidate(t *testing.T) {
	assert.ErrorIs(t, Source{}.Validate(), ErrNullFileID)
	assert.NoError(t, Source{FileID: 1}.Validate())
}
