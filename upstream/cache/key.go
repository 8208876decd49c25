package cache

import (
	"fmt"
	"strings"
)

// Separator separa namespace, endpoint e parâmetros na chave.
const Separator = ":"

// BuildKey monta a chave "namespace:endpoint:p1:p2...".
//
// A ordem dos parâmetros importa. Quem quiser chaves iguais para parâmetros em
// ordem diferente deve normalizar a ordem antes de chamar.
func BuildKey(namespace, endpoint string, params ...any) string {
	var b strings.Builder
	b.WriteString(namespace)
	b.WriteString(Separator)
	b.WriteString(endpoint)
	for _, p := range params {
		b.WriteString(Separator)
		b.WriteString(fmt.Sprint(p))
	}
	return b.String()
}
