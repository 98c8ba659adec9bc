package graph

import "strings"

// luceneSpecial are the characters Neo4j's fulltext (Lucene) query parser
// treats as operators. Escaping them lets search input be matched as a
// literal phrase instead of being parsed as a query expression.
const luceneSpecial = `+-&|!(){}[]^"~*?:\/`

// escapeLucene backslash-escapes every Lucene special character in s.
func escapeLucene(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if strings.ContainsRune(luceneSpecial, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
