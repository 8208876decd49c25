// Package gateway monta as rotas HTTP do gateway de mercado: leitura de dados de
// mercado pelo cache com coalescência, invalidação administrativa, proxy para o
// backend da aplicação e controle de admissão por grupo de rotas.
//
// Os handlers são finos: montam a chave, chamam o cache ou o limitador e
// traduzem o resultado em status HTTP.
package gateway
