// Package loader identifies a programmer image before it's handed to
// Sahara: the SoC marketing name burned into the blob and the root CAs it
// was signed against. crypto/x509 and crypto/sha512 are used directly
// since no third-party certificate-parsing library fits this narrowly
// scoped scan better than the standard library's own X.509 support.
package loader

import (
	"crypto/sha512"
	"crypto/x509"
	"encoding/hex"
	"fmt"
)

// socMarketingNames maps the QCOM tag's SoC code to its public marketing
// name (original_source/edl_loader_util.rs's hardcoded table).
var socMarketingNames = map[string]string{
	"SM4250": "Snapdragon 460",
	"SM4350": "Snapdragon 480",
	"SM6375": "Snapdragon 695",
	"SM7475": "Snapdragon 7+ Gen 2",
	"SM7675": "Snapdragon 7+ Gen 3",
	"SM8350": "Snapdragon 888",
	"SM8450": "Snapdragon 8 Gen 1",
	"SM8475": "Snapdragon 8+ Gen 1",
	"SM8550": "Snapdragon 8 Gen 2",
	"SM8650": "Snapdragon 8 Gen 3",
	"SM8750": "Snapdragon 8 Elite",
}

var qcomTag = []byte("QCOM\x00")

// Identify scans a programmer image for the `QCOM\0<code>\0` tag and
// returns "<code> (<marketing name>)", or "<code> (Unknown)" if the code
// isn't in socMarketingNames. It returns "" if no tag is found.
func Identify(data []byte) string {
	idx := indexOf(data, qcomTag)
	if idx < 0 {
		return ""
	}

	start := idx + len(qcomTag)
	end := start
	for end < len(data) && data[end] != 0x00 {
		end++
	}
	if end <= start {
		return ""
	}

	code := sanitizeASCII(data[start:end])
	if name, ok := socMarketingNames[code]; ok {
		return fmt.Sprintf("%s (%s)", code, name)
	}
	return fmt.Sprintf("%s (Unknown)", code)
}

func sanitizeASCII(b []byte) string {
	out := make([]byte, len(b))
	for i, c := range b {
		if (c >= '!' && c <= '~') || c == ' ' {
			out[i] = c
		} else {
			out[i] = '.'
		}
	}
	return string(out)
}

func indexOf(haystack, needle []byte) int {
	if len(needle) == 0 || len(needle) > len(haystack) {
		return -1
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		match := true
		for j := range needle {
			if haystack[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

// RootCAHashes scans a programmer image for embedded X.509 DER
// certificates and returns the SHA-384 hex digest of each self-signed
// root CA found (basicConstraints CA=true and issuer == subject), per
// original_source/edl_loader_util.rs's parser_key_hash.
func RootCAHashes(data []byte) map[string]struct{} {
	hashes := make(map[string]struct{})
	i := 0
	for i+6 <= len(data) {
		if !(data[i] == 0x30 && data[i+1] == 0x82 && data[i+4] == 0x30 && data[i+5] == 0x82) {
			i++
			continue
		}

		lenHigh := int(data[i+2])
		lenLow := int(data[i+3])
		totalLen := 4 + (lenHigh<<8 | lenLow)

		end := i + totalLen
		if end > len(data) {
			end = len(data)
		}
		der := data[i:end]

		if cert, err := x509.ParseCertificate(der); err == nil && isRootCA(cert) {
			sum := sha512.Sum384(der)
			hashes[hex.EncodeToString(sum[:])] = struct{}{}
		}

		i += totalLen
	}
	return hashes
}

func isRootCA(cert *x509.Certificate) bool {
	return cert.IsCA && cert.Issuer.String() == cert.Subject.String()
}
