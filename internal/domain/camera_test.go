package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOperationIsWrite(t *testing.T) {
	writes := []Operation{OpCapture, OpSetZoom, OpSetFocus, OpSetSetting, OpStartLiveView}
	reads := []Operation{OpConnect, OpListImages, OpDownloadImage, OpGetSettings, OpGetSetting, OpLiveView}
	for _, op := range writes {
		assert.True(t, op.IsWrite(), "%s should be a write", op)
	}
	for _, op := range reads {
		assert.False(t, op.IsWrite(), "%s should be a read", op)
	}
}

func TestNewCameraEndpointDefaults(t *testing.T) {
	ep, err := NewCameraEndpoint("192.168.1.2", 0)
	require.NoError(t, err)
	assert.Equal(t, 8080, ep.Port)
	assert.Equal(t, "http://192.168.1.2:8080", ep.BaseURL())
	assert.Equal(t, "http://192.168.1.2:8080/ccapi", ep.String())
}

func TestNewCameraEndpointValidation(t *testing.T) {
	_, err := NewCameraEndpoint("", 8080)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = NewCameraEndpoint("camera.local", 70000)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestCameraEndpointIPv6(t *testing.T) {
	ep, err := NewCameraEndpoint("fe80::1", 8080)
	require.NoError(t, err)
	assert.Equal(t, "http://[fe80::1]:8080", ep.BaseURL())
}

func TestRangeContains(t *testing.T) {
	r := Range{Min: 0, Max: 100, Step: 1}
	assert.True(t, r.Contains(0))
	assert.True(t, r.Contains(100))
	assert.False(t, r.Contains(-1))
	assert.False(t, r.Contains(101))

	stepped := Range{Min: 0, Max: 10, Step: 5}
	assert.True(t, stepped.Contains(5))
	assert.False(t, stepped.Contains(3))
}
