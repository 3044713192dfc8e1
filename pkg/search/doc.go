// Package search provides scoped full-text search over documents.
//
// # Overview
//
// Queries run against the generated search_vector column with
// plainto_tsquery and are ranked with ts_rank_cd. When the parsed query is
// empty, for example a query made only of stop-words, the engine falls back
// to trigram similarity and substring matching on the document and file
// names. The choice is made inside SQL so that a search and its count always
// agree.
//
// # Scope
//
// Every query is restricted to documents visible through the caller's
// service scope, using the same predicate as the scoped document listing.
// An empty scope or a query shorter than MinQueryLength returns no results
// without touching the database.
//
// # Query Syntax
//
// Simple search:
//
//	/api/documents/search?q=задвижка
//
// Facets:
//
//	/api/documents/search?q=отчет&category_id=3&tags=pump,valve
//	/api/documents/search?q=отчет&date_from=2024-01-01&date_to=2024-03-31
//
// Count only:
//
//	/api/documents/search/count?q=отчет
//
// # Sanitization
//
// Punctuation that has meaning to tsquery or LIKE is stripped before the
// query reaches the database (see Sanitize), and whitespace is collapsed.
package search
