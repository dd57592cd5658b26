package ingest

import "strings"

// NormalizeCPF keeps only the ASCII digits of a CPF, so "123.456.789-09"
// becomes "12345678909". Input without digits yields "".
func NormalizeCPF(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for i := 0; i < len(raw); i++ {
		if c := raw[i]; c >= '0' && c <= '9' {
			b.WriteByte(c)
		}
	}
	return b.String()
}
