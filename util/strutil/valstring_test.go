package strutil

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type trackName string

func TestVtos(t *testing.T) {
	got, err := Vtos("plain")
	require.NoError(t, err)
	assert.Equal(t, "plain", got)

	got, err = Vtos(trackName("named"))
	require.NoError(t, err)
	assert.Equal(t, "named", got)

	got, err = Vtos(uint8(96))
	require.NoError(t, err)
	assert.Equal(t, "96", got)

	got, err = Vtos(-12)
	require.NoError(t, err)
	assert.Equal(t, "-12", got)

	got, err = Vtos(true)
	require.NoError(t, err)
	assert.Equal(t, "true", got)

	n := 7
	got, err = Vtos(&n)
	require.NoError(t, err)
	assert.Equal(t, "7", got)

	_, err = Vtos(struct{}{})
	assert.Error(t, err)
}

func TestStovReturnsExactType(t *testing.T) {
	v, err := Stov("abc", reflect.TypeOf(trackName("")))
	require.NoError(t, err)
	assert.Equal(t, trackName("abc"), v)

	v, err = Stov("96", reflect.TypeOf(uint8(0)))
	require.NoError(t, err)
	assert.Equal(t, uint8(96), v)

	v, err = Stov("48000", reflect.TypeOf(uint32(0)))
	require.NoError(t, err)
	assert.Equal(t, uint32(48000), v)

	v, err = Stov("-5", reflect.TypeOf(int16(0)))
	require.NoError(t, err)
	assert.Equal(t, int16(-5), v)

	v, err = Stov("true", reflect.TypeOf(false))
	require.NoError(t, err)
	assert.Equal(t, true, v)
}

func TestStovRejectsOverflowAndGarbage(t *testing.T) {
	_, err := Stov("300", reflect.TypeOf(uint8(0)))
	assert.Error(t, err, "300 does not fit 8 bits")

	_, err = Stov("-1", reflect.TypeOf(uint32(0)))
	assert.Error(t, err)

	_, err = Stov("abc", reflect.TypeOf(0))
	assert.Error(t, err)

	_, err = Stov("1", reflect.TypeOf([]int{}))
	assert.Error(t, err)
}
