package smarttyre

import (
	"crypto/md5"
	"encoding/hex"
	"sort"
	"strings"
)

// Sign generates the request signature required by the SmartTyre API: the MD5
// hex digest of header pairs (key order lexicographic), the raw body, query
// parameters (keys and values lexicographic), path segments (lexicographic),
// and finally the sign key. The digest is invariant under permutation of the
// input maps.
func Sign(headers map[string]string, body string, params map[string][]string, paths []string, signKey string) string {
	var b strings.Builder

	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(headers[k])
		b.WriteByte('&')
	}

	if body != "" {
		b.WriteString(body)
		b.WriteByte('&')
	}

	if len(params) > 0 {
		pkeys := make([]string, 0, len(params))
		for k := range params {
			pkeys = append(pkeys, k)
		}
		sort.Strings(pkeys)
		for _, k := range pkeys {
			values := append([]string(nil), params[k]...)
			sort.Strings(values)
			b.WriteString(k)
			b.WriteByte('=')
			b.WriteString(strings.Join(values, ","))
			b.WriteByte('&')
		}
	}

	if len(paths) > 0 {
		sorted := append([]string(nil), paths...)
		sort.Strings(sorted)
		b.WriteString(strings.Join(sorted, ","))
		b.WriteByte('&')
	}

	b.WriteString(signKey)

	sum := md5.Sum([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
