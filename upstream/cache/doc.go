// Package cache guarda respostas de provedores externos lentos ou com limite de taxa,
// por tempo limitado, e agrupa chamadas concorrentes para a mesma chave.
//
// Fluxo de Fetch(key, ttl, producer):
//
//  1. Entrada válida (now < expiresAt) => devolve o valor, sem chamar o producer.
//  2. Já existe produção em andamento para a chave => espera por ela e devolve o
//     mesmo valor ou o mesmo erro.
//  3. Senão, chama o producer uma única vez. Sucesso vira entrada com
//     expiresAt = now + ttl; erro volta para todos que esperavam e não é guardado.
//
// O cache não impõe timeout ao producer: quem precisa de prazo coloca o prazo
// dentro do producer (ex.: context.WithTimeout) e devolve o erro.
//
// As entradas ficam em shards escolhidos por hash da chave, cada um com seu lock,
// que só é segurado durante o acesso ao mapa. O producer roda sem lock nenhum,
// então chaves diferentes nunca esperam umas pelas outras.
package cache
