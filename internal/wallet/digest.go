package wallet

import (
	"crypto/md5"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

// answerDigest builds the Authorization header answering an HTTP digest
// challenge (RFC 7616, MD5 with qop=auth, which is what monero-wallet-rpc
// issues).
func answerDigest(challenge, username, password, method, uri string) (string, error) {
	if !strings.HasPrefix(challenge, "Digest ") {
		return "", fmt.Errorf("unsupported auth challenge: %q", challenge)
	}
	fields := parseChallenge(strings.TrimPrefix(challenge, "Digest "))

	realm := fields["realm"]
	nonce := fields["nonce"]
	qop := fields["qop"]
	if nonce == "" {
		return "", fmt.Errorf("digest challenge missing nonce")
	}

	cnonceRaw := make([]byte, 8)
	if _, err := rand.Read(cnonceRaw); err != nil {
		return "", err
	}
	cnonce := hex.EncodeToString(cnonceRaw)
	nc := "00000001"

	ha1 := md5hex(username + ":" + realm + ":" + password)
	ha2 := md5hex(method + ":" + uri)

	var response string
	if strings.Contains(qop, "auth") {
		response = md5hex(strings.Join([]string{ha1, nonce, nc, cnonce, "auth", ha2}, ":"))
	} else {
		response = md5hex(ha1 + ":" + nonce + ":" + ha2)
	}

	var b strings.Builder
	fmt.Fprintf(&b, `Digest username=%q, realm=%q, nonce=%q, uri=%q, response=%q`,
		username, realm, nonce, uri, response)
	if strings.Contains(qop, "auth") {
		fmt.Fprintf(&b, `, qop=auth, nc=%s, cnonce=%q`, nc, cnonce)
	}
	if opaque, ok := fields["opaque"]; ok {
		fmt.Fprintf(&b, `, opaque=%q`, opaque)
	}
	if alg, ok := fields["algorithm"]; ok {
		fmt.Fprintf(&b, `, algorithm=%s`, alg)
	}
	return b.String(), nil
}

// parseChallenge splits the comma-separated key=value fields of a digest
// challenge, unquoting values.
func parseChallenge(s string) map[string]string {
	fields := make(map[string]string)
	for _, part := range splitChallenge(s) {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		fields[strings.ToLower(k)] = strings.Trim(v, `"`)
	}
	return fields
}

// splitChallenge splits on commas outside quoted strings.
func splitChallenge(s string) []string {
	var parts []string
	var cur strings.Builder
	quoted := false
	for _, r := range s {
		switch {
		case r == '"':
			quoted = !quoted
			cur.WriteRune(r)
		case r == ',' && !quoted:
			parts = append(parts, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	if cur.Len() > 0 {
		parts = append(parts, cur.String())
	}
	return parts
}

func md5hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
