package artefact

import (
	"crypto/sha256"
	"encoding/hex"

	"golang.org/x/text/unicode/norm"
)

// Domain prefixes keep keys and checksums from colliding with each other.
const (
	DomainKey      = "converge/key/v1"
	DomainChecksum = "converge/checksum/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Key derives the stable identity of an artefact from its type
// discriminator and its location in the declaration tree. Extra parts
// distinguish several artefacts declared in one file.
func Key(typ, location string, parts ...string) string {
	data := make([]byte, 0, len(typ)+len(location)+1)
	data = append(data, typ...)
	data = append(data, 0x00)
	data = append(data, norm.NFC.String(location)...)
	for _, p := range parts {
		data = append(data, 0x00)
		data = append(data, norm.NFC.String(p)...)
	}
	return hashWithDomain(DomainKey, data)
}

// Checksum hashes the canonical form of a JSON declaration.
// Reformatting a declaration or reordering its keys keeps the checksum.
func Checksum(content []byte) (string, error) {
	canonical, err := Canonicalize(content)
	if err != nil {
		return "", err
	}
	return hashWithDomain(DomainChecksum, canonical), nil
}
