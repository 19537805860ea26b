// Package acme defines the RFC 8555 protocol-level value types shared by the
// acme-love client: the directory document, order/authorization/challenge
// resources, RFC 7807 problem documents, and the typed error hierarchy the
// rest of the client raises errors as.
//
// Nothing in this package performs network I/O; that belongs to
// github.com/thebitrock/acme-love/acme/client and its collaborators.
package acme
