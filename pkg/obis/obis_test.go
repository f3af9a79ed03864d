package obis_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p1decoder/p1core/pkg/obis"
)

func TestParse(t *testing.T) {
	t.Parallel()

	c, err := obis.Parse("1-2:3.4.5")
	require.NoError(t, err)
	assert.Equal(t, obis.Code{Media: 1, Channel: 2, Physical: 3, Type: 4, Processing: 5, History: 0xFF}, c)

	c, err = obis.Parse("*-2:3.*.5")
	require.NoError(t, err)
	assert.Equal(t, obis.Code{Media: obis.Wildcard, Channel: 2, Physical: 3, Type: obis.Wildcard, Processing: 5, History: 0xFF}, c)

	_, err = obis.Parse("1000-1000:1000.1000.1000")
	assert.Error(t, err)
}

func TestParseFromBuffer(t *testing.T) {
	t.Parallel()

	c, err := obis.ParseFromBuffer([]byte{1, 0, 1, 8, 1, 255})
	require.NoError(t, err)
	assert.Equal(t, obis.Code{Media: 1, Channel: 0, Physical: 1, Type: 8, Processing: 1, History: 255}, c)

	_, err = obis.ParseFromBuffer([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestEqualWildcard(t *testing.T) {
	t.Parallel()

	a, err := obis.Parse("1-2:3.4.5")
	require.NoError(t, err)
	b, err := obis.Parse("1-2:3.4.*")
	require.NoError(t, err)
	assert.True(t, a.Equal(b))

	c, err := obis.Parse("5-4:3.2.1")
	require.NoError(t, err)
	assert.False(t, a.Equal(c))
}

func TestEqualNonHistory255IsNotWildcard(t *testing.T) {
	t.Parallel()

	a, err := obis.ParseFromBuffer([]byte{1, 255, 1, 8, 1, 0xFF})
	require.NoError(t, err)
	b, err := obis.ParseFromBuffer([]byte{1, 2, 1, 8, 1, 0xFF})
	require.NoError(t, err)
	assert.False(t, a.Equal(b), "Channel=255 must not act as a wildcard")

	same, err := obis.ParseFromBuffer([]byte{1, 255, 1, 8, 1, 0xFF})
	require.NoError(t, err)
	assert.True(t, a.Equal(same))

	// History stays don't-care at 0xFF regardless of the other side's value.
	withHistory, err := obis.ParseFromBuffer([]byte{1, 255, 1, 8, 1, 3})
	require.NoError(t, err)
	assert.True(t, a.Equal(withHistory))
}
