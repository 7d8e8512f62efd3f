package sandbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sensorDriver = `
var driver = {
  encodeReadTemp: function(params) {
    return [0x01, 0x00, 0x00];
  },
  decodeReadTemp: function(params) {
    var raw = params[2];
    return {temperatureC: raw};
  },
  throws: function(params) {
    throw new Error("boom");
  }
};
`

func TestSandbox_LoadAndCall(t *testing.T) {
	s := New()
	require.NoError(t, s.Load(sensorDriver))

	out, err := s.Call("driver.decodeReadTemp", `[1,2,24]`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"temperatureC":24}`, out)
}

func TestSandbox_Encode_Decode(t *testing.T) {
	s := New()
	require.NoError(t, s.Load(sensorDriver))

	frame, err := s.Encode("driver.encodeReadTemp", `{}`)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x00, 0x00}, frame)

	result, err := s.Decode("driver.decodeReadTemp", []byte{0x00, 0x80, 21})
	require.NoError(t, err)
	assert.JSONEq(t, `{"temperatureC":21}`, result)
}

func TestSandbox_Call_NotFound(t *testing.T) {
	s := New()
	require.NoError(t, s.Load(sensorDriver))

	_, err := s.Call("driver.missing", `{}`)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSandbox_Call_NoDriverLoaded(t *testing.T) {
	s := New()
	_, err := s.Call("driver.decodeReadTemp", `{}`)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSandbox_Call_RuntimeError(t *testing.T) {
	s := New()
	require.NoError(t, s.Load(sensorDriver))

	_, err := s.Call("driver.throws", `{}`)
	assert.ErrorIs(t, err, ErrRuntime)
	assert.Contains(t, err.Error(), "boom")
}

func TestSandbox_Load_BadSyntaxLeavesPreviousDriverIntact(t *testing.T) {
	s := New()
	require.NoError(t, s.Load(sensorDriver))

	err := s.Load("this is not valid javascript {{{")
	assert.ErrorIs(t, err, ErrLoad)

	out, err := s.Call("driver.decodeReadTemp", `[0,0,5]`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"temperatureC":5}`, out)
}

func TestFenced_IsolatesDriverStatePerID(t *testing.T) {
	f := NewFenced()
	require.NoError(t, f.Load(1, sensorDriver))

	_, err := f.Call(2, "driver.decodeReadTemp", `[0,0,1]`)
	assert.ErrorIs(t, err, ErrNotFound)

	out, err := f.Call(1, "driver.decodeReadTemp", `[0,0,1]`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"temperatureC":1}`, out)
}

func TestFenced_Drop(t *testing.T) {
	f := NewFenced()
	require.NoError(t, f.Load(1, sensorDriver))
	require.NoError(t, f.Drop(1))
	assert.Error(t, f.Drop(1))
}
