// Package sanitizer normalizes free-text input before validation and storage.
//
// All functions are idempotent: applying them more than once yields the same
// result. Invalid input is never an error here; validation happens afterwards.
//
// Normalization includes:
//   - Titles and names: collapse whitespace, trim leading/trailing spaces
//   - Emails: trim and lowercase
//   - Notes: trim, collapse runs of blank lines, strip control characters
//   - Slices: remove duplicates and empty values after normalization
package sanitizer
