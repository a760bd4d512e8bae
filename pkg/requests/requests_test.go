package requests

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnitRequestEncoding(t *testing.T) {
	r := UnitRequest(true, RequestCodeGetCur, FeatureUnitVolumeControl, 2, 0x0A, 0)
	assert.Equal(t, RequestType(0xA1), r.RequestType)
	assert.Equal(t, uint16(0x0202), r.Value)
	assert.Equal(t, uint16(0x0A00), r.Index)
	assert.Equal(t, uint8(2), r.Selector())
	assert.Equal(t, uint8(2), r.Channel())
	assert.Equal(t, uint8(0x0A), r.UnitID())

	set := UnitRequest(false, RequestCodeSetCur, FeatureUnitMuteControl, 0, 3, 1)
	assert.Equal(t, RequestType(0x21), set.RequestType)
	assert.Equal(t, uint16(0x0301), set.Index)
	assert.False(t, set.RequestType.IsGet())
}

func TestEndpointRequestEncoding(t *testing.T) {
	r := EndpointRequest(false, RequestCodeSetCur, EndpointSamplingFreqControl, 0x01)
	assert.Equal(t, RequestType(0x22), r.RequestType)
	assert.Equal(t, RecipientEndpoint, r.RequestType.Recipient())
	assert.Equal(t, uint16(0x0100), r.Value)
	assert.Equal(t, uint16(0x0001), r.Index)
}

func TestRangePayload(t *testing.T) {
	buf := []byte{
		0x02, 0x00,
		0x44, 0xAC, 0x00, 0x00, 0x44, 0xAC, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x80, 0xBB, 0x00, 0x00, 0x00, 0x77, 0x01, 0x00, 0x80, 0xBB, 0x00, 0x00,
	}
	ranges, err := UnmarshalRange(buf, 4)
	require.NoError(t, err)
	require.Len(t, ranges, 2)
	assert.Equal(t, SubRange{Min: 44100, Max: 44100}, ranges[0])
	assert.Equal(t, SubRange{Min: 48000, Max: 96000, Res: 48000}, ranges[1])
	assert.Equal(t, buf, MarshalRange(ranges, 4))

	_, err = UnmarshalRange(buf[:10], 4)
	assert.Error(t, err)
}

func TestStatusMessages(t *testing.T) {
	m, err := UnmarshalStatusUAC1([]byte{0x80, 0x05})
	require.NoError(t, err)
	assert.True(t, m.Pending)
	assert.Equal(t, StatusOriginControlInterface, m.Origin)
	assert.Equal(t, uint8(5), m.Originator)
	assert.Equal(t, []byte{0x80, 0x05}, MarshalStatusUAC1(m))

	m, err = UnmarshalStatusUAC2([]byte{0x00, 0x01, 0x00, 0x01, 0x00, 0x05})
	require.NoError(t, err)
	assert.Equal(t, uint8(5), m.Originator)
	assert.Equal(t, FeatureUnitMuteControl, m.Selector)
	assert.Equal(t, uint8(0), m.Channel)
	assert.Equal(t, RequestCodeCur, m.Attribute)

	_, err = UnmarshalStatusUAC2([]byte{0x00})
	assert.Error(t, err)
}
