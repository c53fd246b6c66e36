package crc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCcittSingle(t *testing.T) {
	crc := CRC16(0)
	crc.Single(10)
	assert.EqualValues(t, 0xA14A, crc)
}

func TestChecksumKnownVector(t *testing.T) {
	assert.EqualValues(t, 0x31C3, Checksum([]byte("123456789")))
}

func TestBlockMatchesSingle(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03, 0x04, 0x05}
	var viaSingle CRC16
	for _, b := range data {
		viaSingle.Single(b)
	}
	var viaBlock CRC16
	viaBlock.Block(data)
	assert.Equal(t, viaSingle, viaBlock)
}

func TestChecksumEmpty(t *testing.T) {
	assert.EqualValues(t, 0, Checksum(nil))
}
