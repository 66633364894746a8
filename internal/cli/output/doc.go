// Package output renders hamesh-cli results.
//
//   - formatter.go: Format names and the Formatter factory
//   - table.go: column tables for list-like results
//   - json.go, yaml.go: structured encodings
//
// Commands that know the shape of their result build a Table; the
// table formatter prints anything else as YAML.
package output
