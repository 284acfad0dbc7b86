package network

import (
	"crypto/sha256"
	"fmt"

	"lukechampine.com/blake3"

	"github.com/siohaza/tapserv/internal/protocol"
	"github.com/siohaza/tapserv/pkg/config"
)

// Digest computes the per-chunk checksum carried in the datagram header.
type Digest func(payload []byte) [protocol.ChecksumSize]byte

func DigestFor(name string) (Digest, error) {
	switch name {
	case "", config.ChecksumSHA256:
		return sha256.Sum256, nil
	case config.ChecksumBLAKE3:
		return blake3.Sum256, nil
	default:
		return nil, fmt.Errorf("unknown checksum algorithm %q", name)
	}
}
