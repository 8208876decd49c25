// Package application contém os casos de uso do controle de admissão
// e do limite de concorrência.
//
// Ele depende apenas do pacote domain e não conhece net/http.
// Ex.: Service.Decide(key) retorna uma Decision (allow/deny + remaining + retry-after).
package application
