// Package pii implements pattern-based PII detection and redaction.
//
// Five categories are detected: SSNs, credit card numbers (Luhn-validated),
// email addresses, US phone numbers, and IPv4 addresses. The configured
// action decides whether matches are redacted in place, block the request,
// or are only recorded for audit.
package pii
