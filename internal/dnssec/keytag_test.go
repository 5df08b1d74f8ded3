package dnssec

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKeyTag_RFC4034AppendixB5Vector(t *testing.T) {
	pub, err := hex.DecodeString(
		"030101a80020a95566ba42e886bb804cda84e47ef56dbd7aec612615552cec906d3e9b72dc4f90d3fc09b8e9d0ff2ae8ee5ed8cd61d7622c39ee2d76a2153bc0ac8b9e254125c46e0a224507fb358d7f6b5d7a42f75e60b9748e7c0747e2447f4bd7d10ca24bb1498de34a504406bbeb3b041fe48d0ad2b1de5adadb87d0c8824e7cc4dc3e5b7f0b3e8ac72c3d3d8aa7251abcaad82ad5ececed8cd83825d19ffd95e93bca729fdd88901b20fc598fb6a0779ddfa95e3e42ca9d0a7739d3c4ad3a7a5a30b3c60a73a6f09fdb812746e0d69edfba06754465f2e1dd5e3802e6d05bd6148e38fd8ca1632b71f6559fe9b6e18d73c5a750e3e2f2f205972e7b28ae04ddae5e27915a08d217db5ce090c119d23f79fb",
	)
	require.NoError(t, err)

	tag := KeyTag(0x0101, 3, uint8(RSASHA1), pub)
	require.EqualValues(t, 55495, tag)
}

func TestKeyTag_RSAMD5SpecialCase(t *testing.T) {
	tag := KeyTag(0x0101, 3, uint8(RSAMD5), []byte{0x12, 0x34, 0x56, 0x78})
	require.EqualValues(t, 0x5678, tag)
}
